package gateway

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/go-cluster-gateway/internal/errors"
	"github.com/jrsteele09/go-cluster-gateway/tenants"
	"github.com/jrsteele09/go-cluster-gateway/token"
	"github.com/jrsteele09/go-cluster-gateway/transcode"
	"github.com/rs/zerolog"
)

// hopHeaders apply to a single connection and are never forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Inbound headers the gateway sets itself or must not pass on. Accept-Encoding
// is left to the transport, which then decompresses the reply before relay.
var strippedRequestHeaders = []string{
	"Cookie",
	"Authorization",
	"Host",
	"Content-Length",
	"Accept-Encoding",
	tenants.ClusterHeader,
	"X-Forwarded-For",
	"X-Forwarded-Host",
	"X-Forwarded-Proto",
}

// call is the upstream request derived from one inbound request. It is built
// once and re-sent unchanged (apart from the credential) on the retry.
type call struct {
	module      string
	class       RouteClass
	target      *url.URL
	method      string
	body        []byte
	contentType string
	cluster     string
	noRefresh   bool
}

// newCall validates and buffers the inbound request. The body is read up to
// maxBody bytes and transcoded to snake_case when it is JSON.
func (g *Gateway) newCall(r *http.Request, module, rest string, class RouteClass) (*call, error) {
	logger := zerolog.Ctx(r.Context())

	for _, seg := range strings.Split(rest, "/") {
		if seg == ".." || seg == "." {
			return nil, apperrors.New(apperrors.KindInvalidRequest, "invalid path", nil)
		}
	}

	body, err := readBody(r, g.maxBodyBytes)
	if err != nil {
		return nil, err
	}

	contentType := r.Header.Get("Content-Type")
	if isJSON(contentType) && identityEncoded(r.Header) && len(body) > 0 {
		transcoded, collisions, err := transcode.JSON(body, transcode.ToUpstream)
		if err != nil {
			logger.Debug().Err(err).Msg("request body is not valid JSON, forwarding unchanged")
		} else {
			g.logCollisions(r.Context(), module, "request body", collisions)
			body = transcoded
		}
	}

	query, collisions := transcode.Query(r.URL.Query(), transcode.ToUpstream)
	g.logCollisions(r.Context(), module, "query", collisions)

	cluster := tenants.FromContext(r.Context()).Slug
	if cluster != "" {
		query.Set(tenants.ClusterQueryParam, cluster)
	} else {
		query.Del(tenants.ClusterQueryParam)
	}

	target := g.apiBase.JoinPath(module, rest)
	target.RawQuery = query.Encode()

	return &call{
		module:      module,
		class:       class,
		target:      target,
		method:      r.Method,
		body:        body,
		contentType: contentType,
		cluster:     cluster,
	}, nil
}

func readBody(r *http.Request, maxBytes int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	if r.ContentLength > maxBytes {
		return nil, apperrors.New(apperrors.KindBodyTooLarge, "request body too large", nil)
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, apperrors.New(apperrors.KindInvalidRequest, "failed to read request body", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, apperrors.New(apperrors.KindBodyTooLarge, "request body too large", nil)
	}
	return body, nil
}

// newUpstreamRequest builds the outgoing request for one attempt.
func (g *Gateway) newUpstreamRequest(ctx context.Context, in *http.Request, c *call, accessToken string) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if len(c.body) > 0 {
		body = bytes.NewReader(c.body)
	}
	req, err := http.NewRequestWithContext(ctx, c.method, c.target.String(), body)
	if err != nil {
		return nil, apperrors.New(apperrors.KindInternal, "failed to build upstream request", err)
	}

	copyHeader(req.Header, in.Header)
	for _, h := range strippedRequestHeaders {
		req.Header.Del(h)
	}

	if c.contentType == "" || isJSON(c.contentType) {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if c.cluster != "" {
		req.Header.Set(tenants.ClusterHeader, c.cluster)
	}
	if accessToken != "" {
		token.Credential(accessToken).SetAuthHeader(req)
	}

	if ip, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		req.Header.Set("X-Forwarded-For", ip)
	}
	req.Header.Set("X-Forwarded-Host", in.Host)
	req.Header.Set("X-Forwarded-Proto", scheme(in))

	return req, nil
}

// attempt performs one upstream call and buffers its response.
func (g *Gateway) attempt(ctx context.Context, in *http.Request, c *call, accessToken string, n int) (*Response, error) {
	logger := zerolog.Ctx(ctx)

	attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := g.newUpstreamRequest(attemptCtx, in, c, accessToken)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Error().Err(err).Str("module", c.module).Int("attempt", n).Msg("upstream request failed")
		return nil, apperrors.FromTransport("upstream request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, g.maxResponseBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.FromTransport("upstream response read failed", err)
	}
	if int64(len(body)) > g.maxResponseBytes {
		return nil, apperrors.New(apperrors.KindUpstreamUnreachable, "upstream response too large", nil)
	}

	elapsed := time.Since(start)
	g.recorder.RecordForward(c.module, resp.StatusCode, n, elapsed)
	logger.Debug().
		Str("module", c.module).
		Str("upstream", c.target.Path).
		Int("attempt", n).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("upstream response")

	return g.relay(ctx, c, resp, body), nil
}

// relay converts an upstream response into the client-facing response. JSON
// bodies, error bodies included, are transcoded to camelCase.
func (g *Gateway) relay(ctx context.Context, c *call, resp *http.Response, body []byte) *Response {
	out := &Response{Status: resp.StatusCode, Header: make(http.Header)}
	copyHeader(out.Header, resp.Header)
	if c.method != http.MethodHead {
		out.Header.Del("Content-Length")
	}

	if isJSON(resp.Header.Get("Content-Type")) && identityEncoded(resp.Header) && len(body) > 0 {
		transcoded, collisions, err := transcode.JSON(body, transcode.ToClient)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("module", c.module).Msg("upstream JSON body could not be transcoded")
		} else {
			g.logCollisions(ctx, c.module, "response body", collisions)
			body = transcoded
		}
	}
	out.Body = body
	return out
}

func (g *Gateway) logCollisions(ctx context.Context, module, where string, collisions []transcode.Collision) {
	if len(collisions) == 0 {
		return
	}
	g.recorder.RecordKeyCollisions(len(collisions))
	for _, col := range collisions {
		zerolog.Ctx(ctx).Warn().
			Err(apperrors.ErrAmbiguousKeyCollision).
			Str("module", module).
			Str("in", where).
			Str("target", col.Target).
			Strs("keys", col.Keys).
			Msg("keys left untransformed")
	}
}

// copyHeader copies src into dst without hop-by-hop headers.
func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		dst[k] = append([]string(nil), vs...)
	}
	for _, f := range src.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = textproto.TrimString(name); name != "" {
				dst.Del(name)
			}
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// identityEncoded reports whether a body carries no Content-Encoding, so its
// bytes can be read as JSON.
func identityEncoded(h http.Header) bool {
	ce := strings.TrimSpace(h.Get("Content-Encoding"))
	return ce == "" || strings.EqualFold(ce, "identity")
}

func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}

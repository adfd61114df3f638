package gateway_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-cluster-gateway/gateway"
	"github.com/jrsteele09/go-cluster-gateway/metrics"
	"github.com/jrsteele09/go-cluster-gateway/sessions"
	"github.com/jrsteele09/go-cluster-gateway/tenants"
	"github.com/jrsteele09/go-cluster-gateway/token/refresh"
	"github.com/stretchr/testify/require"
)

const (
	testCluster   = "acme"
	oldAccess     = "at-old"
	newAccess     = "at-new"
	refreshValue  = "rt-1"
	rotatedCookie = "refresh_token=rt-2; Path=/; HttpOnly; Secure; SameSite=Strict"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   string
}

// upstream is a fake backend that records the order of forward and refresh calls.
type upstream struct {
	srv *httptest.Server

	mu       sync.Mutex
	calls    []string
	forwards []recordedRequest

	forward http.HandlerFunc
	refresh http.HandlerFunc
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{
		forward: reply(http.StatusOK, `{}`),
		refresh: reply(http.StatusUnauthorized, `{"detail":"invalid refresh token"}`),
	}
	u.srv = httptest.NewServer(http.HandlerFunc(u.serve))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))

	u.mu.Lock()
	if r.URL.Path == refresh.Path {
		u.calls = append(u.calls, "refresh")
		u.mu.Unlock()
		u.refresh(w, r)
		return
	}
	u.calls = append(u.calls, "forward")
	u.forwards = append(u.forwards, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   string(body),
	})
	u.mu.Unlock()
	u.forward(w, r)
}

func (u *upstream) sequence() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.calls...)
}

func (u *upstream) forwarded(i int) recordedRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.forwards[i]
}

func reply(status int, body string, setCookies ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, sc := range setCookies {
			w.Header().Add("Set-Cookie", sc)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

// inSequence answers the n-th call with the n-th handler, repeating the last one.
func inSequence(handlers ...http.HandlerFunc) http.HandlerFunc {
	var n atomic.Int32
	return func(w http.ResponseWriter, r *http.Request) {
		i := int(n.Add(1)) - 1
		if i >= len(handlers) {
			i = len(handlers) - 1
		}
		handlers[i](w, r)
	}
}

// byToken answers depending on the bearer token presented.
func byToken(handlers map[string]http.HandlerFunc, fallback http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h, ok := handlers[r.Header.Get("Authorization")]; ok {
			h(w, r)
			return
		}
		fallback(w, r)
	}
}

func newGateway(t *testing.T, u *upstream, opts ...gateway.Option) *gateway.Gateway {
	t.Helper()
	cookies := sessions.NewCookieManager(true)
	coordinator := refresh.NewCoordinator(u.srv.URL, cookies)
	g, err := gateway.New(u.srv.URL, cookies, coordinator, opts...)
	require.NoError(t, err)
	return g
}

func inbound(method, target, body string, cookies ...*http.Cookie) *http.Request {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	r := httptest.NewRequest(method, target, rdr)
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		r.AddCookie(c)
	}
	return r.WithContext(tenants.WithContext(r.Context(), tenants.Context{Slug: testCluster}))
}

func accessCookie(v string) *http.Cookie {
	return &http.Cookie{Name: sessions.AccessTokenCookie, Value: v}
}

func refreshCookie() *http.Cookie {
	return &http.Cookie{Name: sessions.RefreshTokenCookie, Value: refreshValue}
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body["message"])
	return body["error"]
}

func TestGateway_NoCredentials(t *testing.T) {
	u := newUpstream(t)
	g := newGateway(t, u)
	rec := httptest.NewRecorder()

	g.Handle(rec, inbound(http.MethodGet, "/api/core/units", ""), "core", "units")

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "noCredentials", errorKind(t, rec))
	require.Empty(t, u.sequence())
}

func TestGateway_RefreshTokenOnly(t *testing.T) {
	t.Run("fails fast by default", func(t *testing.T) {
		u := newUpstream(t)
		g := newGateway(t, u)
		rec := httptest.NewRecorder()

		g.Handle(rec, inbound(http.MethodGet, "/api/core/units", "", refreshCookie()), "core", "units")

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "unauthorized", errorKind(t, rec))
		require.Empty(t, u.sequence())
	})

	t.Run("refreshes first when enabled", func(t *testing.T) {
		u := newUpstream(t)
		u.refresh = reply(http.StatusOK, `{"access_token":"at-new"}`, rotatedCookie)
		g := newGateway(t, u, gateway.WithRefreshWithoutAccessToken(true))
		rec := httptest.NewRecorder()

		g.Handle(rec, inbound(http.MethodGet, "/api/core/units", "", refreshCookie()), "core", "units")

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, []string{"refresh", "forward"}, u.sequence())
		require.Equal(t, "Bearer "+newAccess, u.forwarded(0).Header.Get("Authorization"))
	})
}

func TestGateway_ForwardsAuthorizedRequest(t *testing.T) {
	u := newUpstream(t)
	u.forward = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "yes")
		w.Header().Add("Set-Cookie", "upstream_session=s1; Path=/")
		reply(http.StatusCreated, `{"unit_id":7,"unit_tags":[{"tag_name":"north"}]}`)(w, r)
	}
	g := newGateway(t, u)
	r := inbound(http.MethodPost, "/api/core/units?pageSize=10", `{"unitName":"A1","floorPlan":{"roomCount":3}}`, accessCookie(oldAccess))
	r.Header.Set("Authorization", "Bearer spoofed")
	r.Header.Set("X-Cluster-Slug", "other")
	r.Header.Set("Connection", "keep-alive")
	r.Header.Set("Accept-Language", "en-GB")
	rec := httptest.NewRecorder()

	g.Handle(rec, r, "core", "units")

	require.Equal(t, http.StatusCreated, rec.Code)
	require.JSONEq(t, `{"unitId":7,"unitTags":[{"tagName":"north"}]}`, rec.Body.String())
	require.Equal(t, "yes", rec.Header().Get("X-Upstream"))
	require.Equal(t, []string{"upstream_session=s1; Path=/"}, rec.Header().Values("Set-Cookie"))
	require.Equal(t, []string{"forward"}, u.sequence())

	sent := u.forwarded(0)
	require.Equal(t, http.MethodPost, sent.Method)
	require.Equal(t, "/core/units", sent.Path)
	require.Equal(t, "10", sent.Query.Get("page_size"))
	require.Equal(t, testCluster, sent.Query.Get("cluster_slug"))
	require.JSONEq(t, `{"unit_name":"A1","floor_plan":{"room_count":3}}`, sent.Body)
	require.Equal(t, "Bearer "+oldAccess, sent.Header.Get("Authorization"))
	require.Equal(t, testCluster, sent.Header.Get(tenants.ClusterHeader))
	require.Equal(t, "application/json", sent.Header.Get("Content-Type"))
	require.Equal(t, "en-GB", sent.Header.Get("Accept-Language"))
	require.Empty(t, sent.Header.Get("Cookie"))
	require.NotEqual(t, "keep-alive", sent.Header.Get("Connection"))
}

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestGateway_ContentEncoding(t *testing.T) {
	t.Run("compressed reply is decoded and transcoded", func(t *testing.T) {
		u := newUpstream(t)
		u.forward = func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
				reply(http.StatusOK, `{"first_name":"Ada"}`)(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Content-Encoding", "gzip")
			_, _ = w.Write(gzipped(t, `{"first_name":"Ada"}`))
		}
		g := newGateway(t, u)
		r := inbound(http.MethodGet, "/api/core/people", "", accessCookie(oldAccess))
		r.Header.Set("Accept-Encoding", "gzip, deflate, br")
		rec := httptest.NewRecorder()

		g.Handle(rec, r, "core", "people")

		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"firstName":"Ada"}`, rec.Body.String())
		require.Empty(t, rec.Header().Get("Content-Encoding"))
		require.Equal(t, "gzip", u.forwarded(0).Header.Get("Accept-Encoding"))
	})

	t.Run("compressed request body is forwarded untouched", func(t *testing.T) {
		u := newUpstream(t)
		g := newGateway(t, u)
		body := gzipped(t, `{"unitName":"A1"}`)
		r := inbound(http.MethodPost, "/api/core/units", string(body), accessCookie(oldAccess))
		r.Header.Set("Content-Encoding", "gzip")
		rec := httptest.NewRecorder()

		g.Handle(rec, r, "core", "units")

		require.Equal(t, http.StatusOK, rec.Code)
		sent := u.forwarded(0)
		require.Equal(t, string(body), sent.Body)
		require.Equal(t, "gzip", sent.Header.Get("Content-Encoding"))
	})
}

func TestGateway_HeadKeepsUpstreamContentLength(t *testing.T) {
	u := newUpstream(t)
	u.forward = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", "42")
		w.WriteHeader(http.StatusOK)
	}
	g := newGateway(t, u)
	r := inbound(http.MethodHead, "/api/core/units", "", accessCookie(oldAccess))
	rec := httptest.NewRecorder()

	g.Handle(rec, r, "core", "units")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "42", rec.Header().Get("Content-Length"))
	require.Zero(t, rec.Body.Len())
	require.Equal(t, http.MethodHead, u.forwarded(0).Method)
}

func TestGateway_RefreshAndRetry(t *testing.T) {
	u := newUpstream(t)
	u.forward = byToken(map[string]http.HandlerFunc{
		"Bearer " + newAccess: reply(http.StatusOK, `{"unit_count":2}`),
	}, reply(http.StatusUnauthorized, `{"detail":"token expired"}`))
	u.refresh = reply(http.StatusOK, `{"access_token":"at-new"}`, rotatedCookie)
	g := newGateway(t, u)
	rec := httptest.NewRecorder()

	g.Handle(rec, inbound(http.MethodPut, "/api/core/units", `{"unitName":"B2"}`, accessCookie(oldAccess), refreshCookie()), "core", "units")

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"unitCount":2}`, rec.Body.String())
	require.Equal(t, []string{"forward", "refresh", "forward"}, u.sequence())

	first, retried := u.forwarded(0), u.forwarded(1)
	require.Equal(t, "Bearer "+oldAccess, first.Header.Get("Authorization"))
	require.Equal(t, "Bearer "+newAccess, retried.Header.Get("Authorization"))
	require.Equal(t, first.Body, retried.Body)
	require.JSONEq(t, `{"unit_name":"B2"}`, retried.Body)

	setCookies := rec.Header().Values("Set-Cookie")
	require.Contains(t, setCookies, rotatedCookie)
	var accessSet bool
	for _, sc := range setCookies {
		if strings.HasPrefix(sc, "access_token="+newAccess) {
			accessSet = true
			require.Contains(t, sc, "Max-Age=900")
			require.Contains(t, sc, "HttpOnly")
			require.Contains(t, sc, "Secure")
			require.Contains(t, sc, "SameSite=Strict")
		}
	}
	require.True(t, accessSet)
}

func TestGateway_RefreshRejected(t *testing.T) {
	u := newUpstream(t)
	u.forward = reply(http.StatusUnauthorized, `{"detail":"token expired"}`)
	g := newGateway(t, u)
	rec := httptest.NewRecorder()

	g.Handle(rec, inbound(http.MethodGet, "/api/accounts/invoices", "", accessCookie(oldAccess), refreshCookie()), "accounts", "invoices")

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "sessionExpired", errorKind(t, rec))
	require.Equal(t, []string{"forward", "refresh"}, u.sequence())
	require.Empty(t, rec.Header().Values("Set-Cookie"))
}

func TestGateway_NoRefreshTokenEndsSession(t *testing.T) {
	u := newUpstream(t)
	u.forward = reply(http.StatusUnauthorized, `{}`)
	g := newGateway(t, u)
	rec := httptest.NewRecorder()

	g.Handle(rec, inbound(http.MethodGet, "/api/core/units", "", accessCookie(oldAccess)), "core", "units")

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "sessionExpired", errorKind(t, rec))
	require.Equal(t, []string{"forward"}, u.sequence())
}

func TestGateway_RetriedResponseIsFinal(t *testing.T) {
	u := newUpstream(t)
	u.forward = reply(http.StatusUnauthorized, `{"error_code":"still_unauthorized"}`)
	u.refresh = reply(http.StatusOK, `{"access_token":"at-new"}`, rotatedCookie)
	g := newGateway(t, u)
	rec := httptest.NewRecorder()

	g.Handle(rec, inbound(http.MethodGet, "/api/core/units", "", accessCookie(oldAccess), refreshCookie()), "core", "units")

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.JSONEq(t, `{"errorCode":"still_unauthorized"}`, rec.Body.String())
	require.Equal(t, []string{"forward", "refresh", "forward"}, u.sequence())
	require.Contains(t, rec.Header().Values("Set-Cookie"), rotatedCookie)
}

func TestGateway_AuthOptional(t *testing.T) {
	t.Run("no credentials", func(t *testing.T) {
		u := newUpstream(t)
		u.forward = reply(http.StatusOK, `{"site_name":"Acme"}`)
		g := newGateway(t, u)
		rec := httptest.NewRecorder()

		g.Handle(rec, inbound(http.MethodGet, "/api/public/site", ""), "public", "site")

		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"siteName":"Acme"}`, rec.Body.String())
		require.Equal(t, []string{"forward"}, u.sequence())
		require.Empty(t, u.forwarded(0).Header.Get("Authorization"))
	})

	t.Run("401 without refresh token is relayed", func(t *testing.T) {
		u := newUpstream(t)
		u.forward = reply(http.StatusUnauthorized, `{"detail":"login required"}`)
		g := newGateway(t, u)
		rec := httptest.NewRecorder()

		g.Handle(rec, inbound(http.MethodGet, "/api/public/site", "", accessCookie(oldAccess)), "public", "site")

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.JSONEq(t, `{"detail":"login required"}`, rec.Body.String())
		require.Equal(t, []string{"forward"}, u.sequence())
	})

	t.Run("401 with refresh token retries once", func(t *testing.T) {
		u := newUpstream(t)
		u.forward = inSequence(
			reply(http.StatusUnauthorized, `{}`),
			reply(http.StatusOK, `{"site_name":"Acme"}`),
		)
		u.refresh = reply(http.StatusOK, `{"access_token":"at-new"}`, rotatedCookie)
		g := newGateway(t, u)
		rec := httptest.NewRecorder()

		g.Handle(rec, inbound(http.MethodGet, "/api/public/site", "", refreshCookie()), "public", "site")

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, []string{"forward", "refresh", "forward"}, u.sequence())
		require.Empty(t, u.forwarded(0).Header.Get("Authorization"))
		require.Equal(t, "Bearer "+newAccess, u.forwarded(1).Header.Get("Authorization"))
	})
}

func TestGateway_PreemptiveRefreshOfExpiredJWT(t *testing.T) {
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	u := newUpstream(t)
	u.refresh = reply(http.StatusOK, `{"access_token":"at-new"}`, rotatedCookie)
	g := newGateway(t, u)
	rec := httptest.NewRecorder()

	g.Handle(rec, inbound(http.MethodGet, "/api/core/units", "", accessCookie(expired), refreshCookie()), "core", "units")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"refresh", "forward"}, u.sequence())
	require.Equal(t, "Bearer "+newAccess, u.forwarded(0).Header.Get("Authorization"))
}

func TestGateway_UpstreamFailures(t *testing.T) {
	t.Run("unreachable", func(t *testing.T) {
		u := newUpstream(t)
		g := newGateway(t, u)
		u.srv.Close()
		rec := httptest.NewRecorder()

		g.Handle(rec, inbound(http.MethodGet, "/api/core/units", "", accessCookie(oldAccess)), "core", "units")

		require.Equal(t, http.StatusBadGateway, rec.Code)
		require.Equal(t, "upstreamUnreachable", errorKind(t, rec))
	})

	t.Run("timeout", func(t *testing.T) {
		u := newUpstream(t)
		u.forward = func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}
		g := newGateway(t, u, gateway.WithTimeout(50*time.Millisecond))
		rec := httptest.NewRecorder()

		g.Handle(rec, inbound(http.MethodGet, "/api/core/units", "", accessCookie(oldAccess)), "core", "units")

		require.Equal(t, http.StatusGatewayTimeout, rec.Code)
		require.Equal(t, "upstreamTimeout", errorKind(t, rec))
	})

	t.Run("non-2xx is relayed with transcoded body", func(t *testing.T) {
		u := newUpstream(t)
		u.forward = reply(http.StatusUnprocessableEntity, `{"field_errors":{"first_name":["required"]}}`)
		g := newGateway(t, u)
		rec := httptest.NewRecorder()

		g.Handle(rec, inbound(http.MethodPost, "/api/accounts/tenants", `{"firstName":""}`, accessCookie(oldAccess)), "accounts", "tenants")

		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		require.JSONEq(t, `{"fieldErrors":{"firstName":["required"]}}`, rec.Body.String())
		require.Equal(t, []string{"forward"}, u.sequence())
	})

	t.Run("forbidden is relayed", func(t *testing.T) {
		u := newUpstream(t)
		u.forward = reply(http.StatusForbidden, `{"detail":"not allowed"}`)
		g := newGateway(t, u)
		rec := httptest.NewRecorder()

		g.Handle(rec, inbound(http.MethodGet, "/api/core/units", "", accessCookie(oldAccess), refreshCookie()), "core", "units")

		require.Equal(t, http.StatusForbidden, rec.Code)
		require.Equal(t, []string{"forward"}, u.sequence())
	})
}

func TestGateway_RequestValidation(t *testing.T) {
	t.Run("unknown module", func(t *testing.T) {
		u := newUpstream(t)
		g := newGateway(t, u)
		rec := httptest.NewRecorder()

		g.Handle(rec, inbound(http.MethodGet, "/api/admin/users", "", accessCookie(oldAccess)), "admin", "users")

		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Equal(t, "notFound", errorKind(t, rec))
		require.Empty(t, u.sequence())
	})

	t.Run("body too large", func(t *testing.T) {
		u := newUpstream(t)
		g := newGateway(t, u, gateway.WithMaxBodyBytes(16))
		rec := httptest.NewRecorder()

		g.Handle(rec, inbound(http.MethodPost, "/api/core/units", `{"unitName":"far too long for the limit"}`, accessCookie(oldAccess)), "core", "units")

		require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		require.Equal(t, "bodyTooLarge", errorKind(t, rec))
		require.Empty(t, u.sequence())
	})

	t.Run("path traversal", func(t *testing.T) {
		u := newUpstream(t)
		g := newGateway(t, u)
		rec := httptest.NewRecorder()

		g.Handle(rec, inbound(http.MethodGet, "/api/public/x", "", accessCookie(oldAccess)), "public", "../accounts/invoices")

		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Empty(t, u.sequence())
	})

	t.Run("non-JSON body passes through", func(t *testing.T) {
		u := newUpstream(t)
		g := newGateway(t, u)
		r := inbound(http.MethodPost, "/api/core/notes", "", accessCookie(oldAccess))
		r.Body = io.NopCloser(strings.NewReader("first_line,secondLine"))
		r.ContentLength = int64(len("first_line,secondLine"))
		r.Header.Set("Content-Type", "text/csv")
		rec := httptest.NewRecorder()

		g.Handle(rec, r, "core", "notes")

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "first_line,secondLine", u.forwarded(0).Body)
		require.Equal(t, "text/csv", u.forwarded(0).Header.Get("Content-Type"))
	})
}

func TestGateway_NoTenant(t *testing.T) {
	u := newUpstream(t)
	g := newGateway(t, u)
	r := httptest.NewRequest(http.MethodGet, "/api/core/units?cluster_slug=spoofed", nil)
	r.AddCookie(accessCookie(oldAccess))
	r.Header.Set(tenants.ClusterHeader, "spoofed")
	rec := httptest.NewRecorder()

	g.Handle(rec, r, "core", "units")

	require.Equal(t, http.StatusOK, rec.Code)
	sent := u.forwarded(0)
	require.Empty(t, sent.Header.Get(tenants.ClusterHeader))
	require.Empty(t, sent.Query.Get("cluster_slug"))
}

func TestGateway_CancelledRequestWritesNothing(t *testing.T) {
	u := newUpstream(t)
	u.forward = reply(http.StatusUnauthorized, `{}`)
	ctx, cancel := context.WithCancel(context.Background())
	u.refresh = func(w http.ResponseWriter, r *http.Request) {
		cancel()
		reply(http.StatusOK, `{"access_token":"at-new"}`, rotatedCookie)(w, r)
	}
	g := newGateway(t, u)
	r := inbound(http.MethodGet, "/api/core/units", "", accessCookie(oldAccess), refreshCookie())
	r = r.WithContext(tenants.WithContext(ctx, tenants.Context{Slug: testCluster}))
	rec := httptest.NewRecorder()

	g.Handle(rec, r, "core", "units")

	require.False(t, rec.Flushed)
	require.Empty(t, rec.Header().Values("Set-Cookie"))
	require.Zero(t, rec.Body.Len())
}

func TestGateway_ConcurrentRefreshesShareOneCall(t *testing.T) {
	const clients = 5
	var rejected atomic.Int32

	u := newUpstream(t)
	u.forward = byToken(map[string]http.HandlerFunc{
		"Bearer " + newAccess: reply(http.StatusOK, `{}`),
	}, func(w http.ResponseWriter, r *http.Request) {
		rejected.Add(1)
		reply(http.StatusUnauthorized, `{}`)(w, r)
	})
	u.refresh = func(w http.ResponseWriter, r *http.Request) {
		deadline := time.Now().Add(2 * time.Second)
		for rejected.Load() < clients && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		time.Sleep(50 * time.Millisecond)
		reply(http.StatusOK, `{"access_token":"at-new"}`, rotatedCookie)(w, r)
	}
	g := newGateway(t, u)

	var wg sync.WaitGroup
	codes := make([]int, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := httptest.NewRecorder()
			g.Handle(rec, inbound(http.MethodGet, "/api/core/units", "", accessCookie(oldAccess), refreshCookie()), "core", "units")
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	var refreshes int
	for _, call := range u.sequence() {
		if call == "refresh" {
			refreshes++
		}
	}
	require.Equal(t, 1, refreshes)
	for _, code := range codes {
		require.Equal(t, http.StatusOK, code)
	}
}

type recordingRecorder struct {
	metrics.Nop
	mu       sync.Mutex
	attempts []int
	errors   []string
}

func (r *recordingRecorder) RecordForward(_ string, _ int, attempt int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt)
}

func (r *recordingRecorder) RecordForwardError(_ string, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, kind)
}

func TestGateway_Metrics(t *testing.T) {
	u := newUpstream(t)
	u.forward = inSequence(reply(http.StatusUnauthorized, `{}`), reply(http.StatusOK, `{}`))
	u.refresh = reply(http.StatusOK, `{"access_token":"at-new"}`)
	rec := &recordingRecorder{}
	g := newGateway(t, u, gateway.WithRecorder(rec))

	g.Handle(httptest.NewRecorder(), inbound(http.MethodGet, "/api/core/units", "", accessCookie(oldAccess), refreshCookie()), "core", "units")
	g.Handle(httptest.NewRecorder(), inbound(http.MethodGet, "/api/core/units", ""), "core", "units")

	require.Equal(t, []int{1, 2}, rec.attempts)
	require.Equal(t, []string{"noCredentials"}, rec.errors)
}

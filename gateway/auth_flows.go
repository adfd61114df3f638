package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/go-cluster-gateway/transcode"
	"github.com/rs/zerolog"
)

// Upstream endpoints behind the gateway's own auth routes.
const (
	authModule     = "auth"
	signInPath     = "signin"
	signOutPath    = "signout"
	accessTokenKey = "accessToken"
)

// SignIn forwards a sign-in to the upstream. When the upstream answers 2xx with
// an access token in its body, the token is moved into the access_token cookie
// and removed from the body so it never reaches client script.
func (g *Gateway) SignIn(w http.ResponseWriter, r *http.Request) {
	c, err := g.newCall(r, authModule, signInPath, AuthOptional)
	if err != nil {
		g.fail(r, authModule, err, nil).Write(w, r)
		return
	}
	c.noRefresh = true

	resp := g.exchange(r, c)
	if resp.Status >= 200 && resp.Status < 300 && isJSON(resp.Header.Get("Content-Type")) {
		g.captureAccessToken(r, resp)
	}
	resp.Write(w, r)
}

func (g *Gateway) captureAccessToken(r *http.Request, resp *Response) {
	var body map[string]any
	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return
	}
	accessToken, ok := body[accessTokenKey].(string)
	if !ok || accessToken == "" {
		return
	}
	delete(body, accessTokenKey)

	stripped, err := transcode.Marshal(body)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to re-encode sign-in response")
		return
	}
	g.cookies.SetAccessToken(resp.Header, accessToken, g.accessTTL)
	resp.Body = stripped
}

// Logout tells the upstream the session is over and always clears both
// session cookies, whatever the upstream answers.
func (g *Gateway) Logout(w http.ResponseWriter, r *http.Request) {
	resp := g.signOut(r)
	g.cookies.Clear(resp.Header)
	resp.Write(w, r)
}

func (g *Gateway) signOut(r *http.Request) *Response {
	logger := zerolog.Ctx(r.Context())

	c, err := g.newCall(r, authModule, signOutPath, AuthOptional)
	if err != nil {
		logger.Warn().Err(err).Msg("upstream sign-out skipped")
		return &Response{Status: http.StatusNoContent, Header: make(http.Header)}
	}
	c.noRefresh = true

	resp := g.exchange(r, c)
	if resp.Status < 200 || resp.Status >= 300 {
		logger.Info().Int("status", resp.Status).Msg("upstream sign-out did not succeed, clearing cookies anyway")
		out := &Response{Status: http.StatusNoContent, Header: make(http.Header)}
		out.addSetCookies(resp.Header)
		return out
	}
	return resp
}

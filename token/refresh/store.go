package refresh

import (
	"context"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/jrsteele09/go-cluster-gateway/sessions"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/oauth2"
)

// Result is the outcome of a successful refresh: the new access token and the
// Set-Cookie headers the upstream returned with it (usually a rotated
// refresh_token), kept verbatim and in order.
type Result struct {
	Token      *oauth2.Token `json:"token"`
	SetCookies []string      `json:"set_cookies,omitempty"`
}

// AccessToken returns the new access token value.
func (r *Result) AccessToken() string {
	if r == nil || r.Token == nil {
		return ""
	}
	return r.Token.AccessToken
}

// Apply writes the result onto response headers: the upstream Set-Cookie
// headers first, then the gateway's own access_token cookie.
func (r *Result) Apply(h http.Header, cookies *sessions.CookieManager, ttl time.Duration) {
	for _, sc := range r.SetCookies {
		h.Add("Set-Cookie", sc)
	}
	cookies.SetAccessToken(h, r.AccessToken(), ttl)
}

// Store shares refresh results between gateway replicas for a short time so
// that a refresh token is exchanged once even when concurrent requests for the
// same session land on different processes.
type Store interface {
	// Get returns the stored result for key, or nil when there is none.
	Get(ctx context.Context, key string) (*Result, error)
	Put(ctx context.Context, key string, result *Result, ttl time.Duration) error
}

// NopStore never stores anything.
type NopStore struct{}

var _ Store = NopStore{}

func (NopStore) Get(context.Context, string) (*Result, error) { return nil, nil }

func (NopStore) Put(context.Context, string, *Result, time.Duration) error { return nil }

// Key derives the coalescing key for a refresh token within a cluster. The raw
// token never appears in keys, logs or external stores.
func Key(refreshToken, cluster string) string {
	sum := blake2b.Sum256([]byte(cluster + "\x00" + refreshToken))
	return hex.EncodeToString(sum[:])
}

package sessions

import (
	"net/http"
	"time"
)

const (
	// AccessTokenCookie holds the short-lived bearer token. Only the gateway writes it.
	AccessTokenCookie = "access_token"
	// RefreshTokenCookie holds the long-lived refresh token. The upstream rotates it
	// with its own Set-Cookie headers; the gateway only reads it (and clears it on logout).
	RefreshTokenCookie = "refresh_token"

	// DefaultAccessTokenTTL matches the upstream access-token lifetime
	DefaultAccessTokenTTL = 15 * time.Minute
)

// Session is the credential pair carried by the browser's cookies. It is read
// fresh for every request and never kept in server memory.
type Session struct {
	AccessToken  string
	RefreshToken string
}

// CanAuthenticate reports whether the session holds any credential at all.
// A session without either token must not trigger a refresh.
func (s Session) CanAuthenticate() bool {
	return s.AccessToken != "" || s.RefreshToken != ""
}

// CanRefresh reports whether a refresh token is available.
func (s Session) CanRefresh() bool {
	return s.RefreshToken != ""
}

// CookieManager reads and writes the session cookies.
type CookieManager struct {
	secure bool
}

// NewCookieManager creates a manager. secure should only be false for plain
// http development setups.
func NewCookieManager(secure bool) *CookieManager {
	return &CookieManager{secure: secure}
}

// Read returns the session carried by the request cookies.
func (m *CookieManager) Read(r *http.Request) Session {
	access, _ := m.AccessToken(r)
	refresh, _ := m.RefreshToken(r)
	return Session{AccessToken: access, RefreshToken: refresh}
}

// AccessToken returns the access token cookie value, if present and non-empty.
func (m *CookieManager) AccessToken(r *http.Request) (string, bool) {
	return cookieValue(r, AccessTokenCookie)
}

// RefreshToken returns the refresh token cookie value, if present and non-empty.
func (m *CookieManager) RefreshToken(r *http.Request) (string, bool) {
	return cookieValue(r, RefreshTokenCookie)
}

// AccessTokenCookie builds the access token cookie: httpOnly, secure,
// SameSite=Strict, expiring after ttl.
func (m *CookieManager) AccessTokenCookie(token string, ttl time.Duration) *http.Cookie {
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	return &http.Cookie{
		Name:     AccessTokenCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(ttl.Seconds()),
	}
}

// SetAccessToken adds the access token cookie to the response headers h. Headers
// of a response that has already been written are not affected.
func (m *CookieManager) SetAccessToken(h http.Header, token string, ttl time.Duration) {
	h.Add("Set-Cookie", m.AccessTokenCookie(token, ttl).String())
}

// Clear expires both session cookies. Used by the explicit logout flow only;
// a failed refresh leaves the cookies for the client to deal with.
func (m *CookieManager) Clear(h http.Header) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		c := &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			Secure:   m.secure,
			SameSite: http.SameSiteStrictMode,
			MaxAge:   -1,
		}
		h.Add("Set-Cookie", c.String())
	}
}

func cookieValue(r *http.Request, name string) (string, bool) {
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

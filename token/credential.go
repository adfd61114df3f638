package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Expiry returns the exp claim of an access token that happens to be a JWT.
// The signature is not verified: the gateway only uses the claim to skip an
// upstream call that is bound to fail. Opaque tokens return false.
func Expiry(accessToken string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Credential wraps an access token as an oauth2 bearer token. The expiry is
// taken from the token itself when it is a JWT and left zero (never expires
// locally) otherwise.
func Credential(accessToken string) *oauth2.Token {
	tok := &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}
	if exp, ok := Expiry(accessToken); ok {
		tok.Expiry = exp
	}
	return tok
}

// IsExpired reports whether accessToken is known to be expired. Opaque tokens
// are never known to be expired; only the upstream can reject them.
func IsExpired(accessToken string) bool {
	return accessToken != "" && !Credential(accessToken).Valid()
}

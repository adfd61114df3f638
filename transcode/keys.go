package transcode

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Mode selects the direction of a transform.
type Mode int

const (
	// ToUpstream converts camelCase client keys to snake_case.
	ToUpstream Mode = iota
	// ToClient converts snake_case upstream keys to camelCase.
	ToClient
)

func (m Mode) String() string {
	switch m {
	case ToUpstream:
		return "toUpstream"
	case ToClient:
		return "toClient"
	default:
		return "unknown"
	}
}

// Key converts a single key in the given direction.
func Key(key string, mode Mode) string {
	if mode == ToClient {
		return SnakeToCamel(key)
	}
	return CamelToSnake(key)
}

// CamelToSnake converts "accountId" to "account_id". Every upper-case letter
// becomes an underscore followed by its lower-case form, so "userID" becomes
// "user_i_d" and converts back to "userID" unchanged.
func CamelToSnake(s string) string {
	if !strings.ContainsFunc(s, unicode.IsUpper) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		if unicode.IsUpper(r) {
			b.WriteByte('_')
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SnakeToCamel converts "account_id" to "accountId". An underscore is removed
// only when followed by a lower-case letter, which is upper-cased; any other
// underscore is kept.
func SnakeToCamel(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == '_' && i+size < len(s) {
			next, nextSize := utf8.DecodeRuneInString(s[i+size:])
			if unicode.IsLower(next) {
				b.WriteRune(unicode.ToUpper(next))
				i += size + nextSize
				continue
			}
		}
		b.WriteRune(r)
		i += size
	}
	return b.String()
}

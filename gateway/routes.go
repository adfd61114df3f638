package gateway

import "sort"

// RouteClass decides what the gateway does when a request carries no access token.
type RouteClass int

const (
	// RequiresAuth routes fail fast without an access token.
	RequiresAuth RouteClass = iota
	// AuthOptional routes are forwarded without credentials when none are
	// present, and still refresh and retry once on a 401 when a refresh token exists.
	AuthOptional
)

func (c RouteClass) String() string {
	switch c {
	case RequiresAuth:
		return "requires-auth"
	case AuthOptional:
		return "auth-optional"
	default:
		return "unknown"
	}
}

// Routes maps the first path segment of a public route to its class. Each module
// is forwarded to {apiBase}/{module}/...
type Routes map[string]RouteClass

// DefaultRoutes is the public route surface.
var DefaultRoutes = Routes{
	"accounts": RequiresAuth,
	"core":     RequiresAuth,
	"auth":     AuthOptional,
	"public":   AuthOptional,
}

// Lookup returns the class of module.
func (r Routes) Lookup(module string) (RouteClass, bool) {
	class, ok := r[module]
	return class, ok
}

// Modules returns the module names in sorted order.
func (r Routes) Modules() []string {
	modules := make([]string, 0, len(r))
	for m := range r {
		modules = append(modules, m)
	}
	sort.Strings(modules)
	return modules
}

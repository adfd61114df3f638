package tenants

import "context"

// Context is the tenant a single request belongs to. It is derived per request
// from the host and never stored server side. An empty Slug means the request
// targets the main (system) domain.
type Context struct {
	Slug string `json:"slug"`
}

// HasTenant reports whether a cluster was resolved for the request.
func (c Context) HasTenant() bool {
	return c.Slug != ""
}

type contextKey struct{}

// WithContext returns a copy of ctx carrying the tenant context.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext returns the tenant context stored on ctx, or the empty
// (no tenant) context when none was stored.
func FromContext(ctx context.Context) Context {
	tc, _ := ctx.Value(contextKey{}).(Context)
	return tc
}

package server

// Route path constants
const (
	// Gateway helper routes
	RouteTenant  = "/api/tenant"
	RouteSignIn  = "/api/auth/signin"
	RouteSignOut = "/api/auth/logout"

	// Forwarded routes: /api/{module}/{rest...} -> {apiBase}/{module}/{rest...}
	RouteModule     = "/api/{module}"
	RouteModuleRest = "/api/{module}/*"

	// Operational routes
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"
)

// URL parameters used by the forwarded routes.
const (
	paramModule = "module"
	paramRest   = "*"
)

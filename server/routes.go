package server

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
	if s.metrics != nil {
		s.RegisterRouteHandler("GET "+RouteMetrics, s.metrics)
	}

	s.RegisterRouteHandler("GET "+RouteTenant, ChainMiddleware(s.TenantHandler(), s.APIMiddleware()...))

	// Session routes handled by the gateway itself
	s.RegisterRouteHandler("POST "+RouteSignIn, ChainMiddleware(s.SignInHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteSignOut, ChainMiddleware(s.SignOutHandler(), s.APIMiddleware()...))

	// Everything else under /api is forwarded upstream
	s.RegisterRouteHandler("* "+RouteModule, ChainMiddleware(s.ForwardHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("* "+RouteModuleRest, ChainMiddleware(s.ForwardHandler(), s.APIMiddleware()...))
}

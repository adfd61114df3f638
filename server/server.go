package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/go-cluster-gateway/gateway"
	"github.com/jrsteele09/go-cluster-gateway/internal/config"
	"github.com/jrsteele09/go-cluster-gateway/tenants"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type Server struct {
	env      string // Environment (e.g., "DEV", "PROD")
	router   chi.Router
	routes   []string
	config   config.Config
	gateway  *gateway.Gateway
	resolver *tenants.Resolver
	limiter  *RateLimiter
	metrics  http.Handler
}

// New wires the HTTP surface around gw. metricsHandler serves /metrics and may be nil.
func New(config config.Config, gw *gateway.Gateway, metricsHandler http.Handler) *Server {
	s := &Server{
		env:      config.GetEnv(),
		router:   chi.NewRouter(),
		config:   config,
		gateway:  gw,
		resolver: tenants.NewResolver(config.GetMainDomain(), config.GetReservedLabels()),
		metrics:  metricsHandler,
	}
	if config.GetEnableRateLimiting() {
		s.limiter = NewRateLimiter(rate.Limit(config.GetRateLimitRPS()), config.GetRateLimitBurst())
	}

	s.router.Use(
		s.RequestIDMiddleware,
		s.TenantMiddleware,
		s.LoggingMiddleware,
		s.RecoverMiddleware,
		s.FrameSecurityMiddleware,
		s.CorsMiddleware,
	)
	s.router.NotFound(s.NotFoundHandler())

	s.initRoutes()
	s.logRoutes()

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases background resources.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// RegisterRouteHandler registers handler for a "METHOD /path" pattern. A method
// of "*" matches every method.
func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	method, path, ok := strings.Cut(pattern, " ")
	if !ok {
		s.router.Handle(pattern, handler)
		return
	}
	if method == "*" {
		s.router.Handle(path, handler)
		return
	}
	s.router.Method(method, path, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.RegisterRouteHandler(pattern, http.HandlerFunc(handler))
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
	log.Info().Strs("modules", s.gateway.Routes().Modules()).Msg("forwarding modules")
}

func logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	log.Printf("[%-19s] %s", displayMethod, path)
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}

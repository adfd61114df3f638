package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/go-cluster-gateway/gateway"
	apperrors "github.com/jrsteele09/go-cluster-gateway/internal/errors"
	"github.com/jrsteele09/go-cluster-gateway/tenants"
	"github.com/rs/zerolog"
)

// tenantResponse reports the resolved cluster. Slug is null on the main domain.
type tenantResponse struct {
	Slug *string `json:"slug"`
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// TenantHandler tells the client which cluster its host resolved to.
func (s *Server) TenantHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp tenantResponse
		if tc := tenants.FromContext(r.Context()); tc.HasTenant() {
			resp.Slug = &tc.Slug
		}
		writeJSON(w, r, http.StatusOK, resp)
	}
}

func (s *Server) SignInHandler() http.HandlerFunc {
	return s.gateway.SignIn
}

func (s *Server) SignOutHandler() http.HandlerFunc {
	return s.gateway.Logout
}

// ForwardHandler forwards /api/{module}/{rest} upstream.
func (s *Server) ForwardHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.gateway.Handle(w, r, chi.URLParam(r, paramModule), chi.URLParam(r, paramRest))
	}
}

func (s *Server) NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gateway.WriteError(w, r, apperrors.New(apperrors.KindRouteNotFound, "no such route", nil))
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(r.Context()).Err(err).Msg("failed to encode response")
	}
}

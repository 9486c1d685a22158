// Package httpapi exposes the lifecycle engine over HTTP/JSON. The engine
// itself mandates no wire format; everything in this package is boundary
// concern only.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/credential_layer/internal/httputil"
	"github.com/R3E-Network/credential_layer/internal/logging"
	"github.com/R3E-Network/credential_layer/internal/metrics"
	"github.com/R3E-Network/credential_layer/internal/middleware"
	auditsvc "github.com/R3E-Network/credential_layer/internal/services/audit"
	"github.com/R3E-Network/credential_layer/internal/services/credentials"
	"github.com/R3E-Network/credential_layer/internal/services/permissions"
)

// Server bundles the handlers and their dependencies.
type Server struct {
	credentials *credentials.Service
	permissions *permissions.Service
	audit       *auditsvc.Recorder
	logger      *logging.Logger
	health      func(context.Context) error
}

// New creates the API server.
func New(creds *credentials.Service, perms *permissions.Service, audit *auditsvc.Recorder, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewDefault("httpapi")
	}
	return &Server{credentials: creds, permissions: perms, audit: audit, logger: logger}
}

// SetHealthCheck installs the backend reachability probe /health runs.
func (s *Server) SetHealthCheck(fn func(context.Context) error) { s.health = fn }

// Router builds the route table with the full middleware chain.
func (s *Server) Router(auth *middleware.Auth) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Logging(s.logger))
	r.Use(middleware.Metrics())
	r.Use(auth.Handler)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/credentials", s.handleCreateCredential).Methods(http.MethodPost)
	api.HandleFunc("/credentials", s.handleListCredentials).Methods(http.MethodGet)
	api.HandleFunc("/credentials/{id}/context", s.handleGetContext).Methods(http.MethodGet)
	api.HandleFunc("/credentials/{id}/reveal", s.handleReveal).Methods(http.MethodPost)
	api.HandleFunc("/credentials/{id}", s.handleUpdateCredential).Methods(http.MethodPatch)
	api.HandleFunc("/credentials/{id}", s.handleDeleteCredential).Methods(http.MethodDelete)

	api.HandleFunc("/permissions", s.handleCreateGrant).Methods(http.MethodPost)
	api.HandleFunc("/permissions", s.handleListGrants).Methods(http.MethodGet)
	api.HandleFunc("/permissions/{id}", s.handleDeleteGrant).Methods(http.MethodDelete)

	api.HandleFunc("/audit", s.handleListAudit).Methods(http.MethodGet)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			s.logger.WithError(err).Warn("health check failed")
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
			})
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

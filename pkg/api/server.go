// Package api exposes the gatekeeping HTTP surface: login, refresh,
// logout, identity introspection, health, and metrics. Everything else in
// the back office mounts behind the middleware this package wires.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/staykeeper/gatehouse/pkg/audit"
	"github.com/staykeeper/gatehouse/pkg/auth"
	"github.com/staykeeper/gatehouse/pkg/middleware"
	"github.com/staykeeper/gatehouse/pkg/observability"
	"github.com/staykeeper/gatehouse/pkg/rbac"
	"github.com/staykeeper/gatehouse/pkg/throttle"
	"github.com/staykeeper/gatehouse/pkg/token"
)

// Server is the gatekeeping API server.
type Server struct {
	router *mux.Router

	store    auth.CredentialStore
	tokens   *token.Service
	resolver *rbac.Resolver

	authn          *middleware.Authenticator
	authz          *middleware.Authorizer
	throttler      *middleware.Throttler
	throttleEngine *throttle.Engine

	sink     audit.Sink
	logger   *observability.Logger
	metrics  *observability.Metrics
	registry *prometheus.Registry

	secureCookies     bool
	trustForwardedFor bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithSecureCookies marks issued cookies Secure. Off only for local
// development over plain HTTP.
func WithSecureCookies(secure bool) ServerOption {
	return func(s *Server) { s.secureCookies = secure }
}

// WithTrustForwardedFor honors X-Forwarded-For from a fronting proxy.
func WithTrustForwardedFor(trust bool) ServerOption {
	return func(s *Server) { s.trustForwardedFor = trust }
}

// WithProgressiveDelay slows repeated login failures.
func WithProgressiveDelay(delay *throttle.ProgressiveDelay) ServerOption {
	return func(s *Server) {
		s.throttler = middleware.NewThrottler(s.throttleEngine, delay, s.metrics)
	}
}

// NewServer wires the middleware chain and routes.
func NewServer(
	store auth.CredentialStore,
	tokens *token.Service,
	resolver *rbac.Resolver,
	engine *throttle.Engine,
	sink audit.Sink,
	logger *observability.Logger,
	metrics *observability.Metrics,
	registry *prometheus.Registry,
	opts ...ServerOption,
) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		store:         store,
		tokens:        tokens,
		resolver:      resolver,
		sink:          sink,
		logger:        logger,
		metrics:       metrics,
		registry:      registry,
		secureCookies: true,
	}
	s.authn = middleware.NewAuthenticator(tokens)
	s.authz = middleware.NewAuthorizer(resolver, metrics)
	s.throttleEngine = engine
	s.throttler = middleware.NewThrottler(engine, nil, metrics)

	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.AuditHook(s.sink, s.logger, s.trustForwardedFor))
	s.router.Use(s.throttler.Limit(throttle.PolicyGlobal))

	// Credential lifecycle
	s.router.Handle("/v1/auth/login",
		s.throttler.Limit(throttle.PolicyLogin)(http.HandlerFunc(s.login))).Methods("POST")
	s.router.HandleFunc("/v1/auth/refresh", s.refresh).Methods("POST")
	s.router.Handle("/v1/auth/logout", s.authn.Require(http.HandlerFunc(s.logout))).Methods("POST")
	s.router.Handle("/v1/auth/me", s.authn.Require(http.HandlerFunc(s.me))).Methods("GET")

	// Operational endpoints
	s.router.HandleFunc("/healthz", s.healthz).Methods("GET")
	if s.metrics != nil && s.registry != nil {
		s.router.Handle("/metrics", s.metrics.Handler(s.registry)).Methods("GET")
	}
}

// Protect wraps an arbitrary back-office handler with authentication and a
// permission requirement, letting services mount their routes behind the
// gate.
func (s *Server) Protect(handler http.Handler, mode rbac.Mode, permissions ...string) http.Handler {
	return s.authn.Require(s.authz.RequirePermissions(mode, permissions...)(handler))
}

// ProtectAuthority wraps a handler with authentication and a minimum
// authority rank.
func (s *Server) ProtectAuthority(handler http.Handler, floorRole string) http.Handler {
	return s.authn.Require(s.authz.RequireAuthority(floorRole)(handler))
}

// Router exposes the underlying router so embedding services can add
// routes.
func (s *Server) Router() *mux.Router { return s.router }

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

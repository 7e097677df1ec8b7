package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/campus/pkg/auth"
	"github.com/platinummonkey/campus/pkg/httputil"
	"github.com/platinummonkey/campus/pkg/middleware"
	"github.com/platinummonkey/campus/pkg/observability"
	"github.com/platinummonkey/campus/pkg/rbac"
)

// ServiceName names the auth service's server spans
const ServiceName = "campus-auth"

// Server represents the auth service HTTP API
type Server struct {
	router       *mux.Router
	handler      http.Handler
	authHandlers *AuthHandlers
	health       *observability.HealthChecker
	metrics      *observability.Metrics
}

// ServerConfig holds the dependencies of a Server
type ServerConfig struct {
	Service      *auth.Service
	Logger       *observability.Logger
	Metrics      *observability.Metrics
	Health       *observability.HealthChecker
	LoginLimiter middleware.Limiter         // nil disables login rate limiting
	ClientIPs    *httputil.ClientIPResolver // trusted proxies; nil trusts none
	CORSOrigins  []string
	MaxBodyBytes int64

	// TracerProvider records server spans; nil uses the global provider
	TracerProvider trace.TracerProvider
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	s := &Server{
		router:  mux.NewRouter(),
		health:  cfg.Health,
		metrics: cfg.Metrics,
	}

	authn := middleware.NewAuthMiddleware(cfg.Service.Tokens(), false,
		middleware.WithLogger(logger), middleware.WithMetrics(cfg.Metrics))
	optionalAuthn := middleware.NewAuthMiddleware(cfg.Service.Tokens(), true,
		middleware.WithLogger(logger), middleware.WithMetrics(cfg.Metrics))

	var loginLimit func(http.Handler) http.Handler
	if cfg.LoginLimiter != nil {
		loginLimit = middleware.NewRateLimitMiddleware(cfg.LoginLimiter, logger, cfg.Metrics).Handler
	}

	s.authHandlers = NewAuthHandlers(AuthHandlersConfig{
		Service:      cfg.Service,
		Authn:        authn,
		OptionalAuth: optionalAuthn,
		Gate:         rbac.NewGate(logger, cfg.Metrics),
		LoginLimit:   loginLimit,
	})

	s.setupRoutes()

	var otelOpts []otelhttp.Option
	if cfg.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}

	s.handler = httputil.Chain(
		otelhttp.NewMiddleware(ServiceName, otelOpts...),
		httputil.RequestIDMiddleware,
		httputil.ClientIPMiddleware(cfg.ClientIPs),
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.CORSMiddleware(cfg.CORSOrigins),
		httputil.MaxBytesMiddleware(cfg.MaxBodyBytes),
	)(s.router)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	}

	if s.health != nil {
		s.router.HandleFunc("/healthz", s.health.Liveness).Methods("GET")
		s.router.HandleFunc("/readyz", s.health.Readiness).Methods("GET")
	}

	s.RegisterRoutes(s.authHandlers)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "not found")
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}

// Package gateway is the public entry point of the campus platform. It
// authenticates callers, enforces per-route role and permission rules, pins
// requests to the caller's school and forwards them to downstream services.
package gateway

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/campus/pkg/httputil"
	"github.com/platinummonkey/campus/pkg/middleware"
	"github.com/platinummonkey/campus/pkg/observability"
	"github.com/platinummonkey/campus/pkg/rbac"
)

// Config holds the dependencies of a Gateway
type Config struct {
	Upstreams     map[string]string
	Tokens        middleware.TokenVerifier
	Remote        middleware.RemoteValidator // optional advisory check
	RemoteTimeout time.Duration
	HTTPClient    *http.Client
	ClientIPs     *httputil.ClientIPResolver // trusted proxies; nil trusts none
	Health        *observability.HealthChecker
	Logger        *observability.Logger
	Metrics       *observability.Metrics
	CORSOrigins   []string
	MaxBodyBytes  int64

	// TracerProvider records server spans; nil uses the global provider
	TracerProvider trace.TracerProvider
}

// ServiceName names the gateway's server spans
const ServiceName = "campus-gateway"

// Gateway routes requests through the authentication gate and the RBAC gate
// to the forwarder. The route table can be swapped while serving.
type Gateway struct {
	authn     *middleware.AuthMiddleware
	gate      *rbac.Gate
	forwarder *Forwarder
	health    *observability.HealthChecker
	logger    *observability.Logger
	metrics   *observability.Metrics

	router  atomic.Pointer[mux.Router]
	mu      sync.Mutex // serializes Load
	routes  []Route
	handler http.Handler
}

// New creates a gateway serving routes
func New(cfg Config, routes []Route) (*Gateway, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	forwarder, err := NewForwarder(cfg.Upstreams, cfg.HTTPClient, cfg.ClientIPs, logger, cfg.Metrics)
	if err != nil {
		return nil, err
	}

	opts := []middleware.AuthOption{middleware.WithLogger(logger), middleware.WithMetrics(cfg.Metrics)}
	if cfg.Remote != nil {
		opts = append(opts, middleware.WithRemoteValidator(cfg.Remote, cfg.RemoteTimeout))
	}

	g := &Gateway{
		authn:     middleware.NewAuthMiddleware(cfg.Tokens, false, opts...),
		gate:      rbac.NewGate(logger, cfg.Metrics),
		forwarder: forwarder,
		health:    cfg.Health,
		logger:    logger,
		metrics:   cfg.Metrics,
	}
	if err := g.Load(routes); err != nil {
		return nil, err
	}

	var otelOpts []otelhttp.Option
	if cfg.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}

	g.handler = httputil.Chain(
		otelhttp.NewMiddleware(ServiceName, otelOpts...),
		httputil.RequestIDMiddleware,
		httputil.ClientIPMiddleware(cfg.ClientIPs),
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.CORSMiddleware(cfg.CORSOrigins),
		httputil.MaxBytesMiddleware(cfg.MaxBodyBytes),
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.router.Load().ServeHTTP(w, r)
	}))
	return g, nil
}

// Load replaces the route table. On error the current table stays in place.
func (g *Gateway) Load(routes []Route) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	router, err := g.buildRouter(routes)
	if err != nil {
		return err
	}
	g.router.Store(router)
	g.routes = append([]Route(nil), routes...)
	g.logger.WithField("routes", len(routes)).Info("Gateway route table loaded")
	return nil
}

// Routes returns a copy of the active route table
func (g *Gateway) Routes() []Route {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Route(nil), g.routes...)
}

func (g *Gateway) buildRouter(routes []Route) (*mux.Router, error) {
	router := mux.NewRouter()
	if g.metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(g.metrics))
	}

	if g.health != nil {
		router.HandleFunc("/healthz", g.health.Liveness).Methods("GET")
		router.HandleFunc("/readyz", g.health.Readiness).Methods("GET")
	}

	for _, route := range routes {
		if !g.forwarder.Has(route.Service) {
			return nil, fmt.Errorf("route %s: no URL configured for service %q", route, route.Service)
		}

		handler := g.forwarder.Handler(route)
		if !route.Public {
			handler = g.authn.Handler(g.gate.Require(route.Requirement)(handler))
		}
		router.Handle(route.Path, handler).Methods(route.Method)
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return router, nil
}

// ServeHTTP implements http.Handler
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.handler.ServeHTTP(w, r)
}

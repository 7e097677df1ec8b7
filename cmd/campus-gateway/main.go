package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/campus/pkg/auth"
	"github.com/platinummonkey/campus/pkg/authclient"
	"github.com/platinummonkey/campus/pkg/config"
	"github.com/platinummonkey/campus/pkg/gateway"
	"github.com/platinummonkey/campus/pkg/httputil"
	"github.com/platinummonkey/campus/pkg/observability"
)

const serviceName = "campus-gateway"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", serviceName)

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    serviceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	tokens, err := auth.NewTokenManager(cfg.JWT.Secret, auth.WithIssuer(cfg.JWT.Issuer))
	if err != nil {
		return err
	}

	routes, err := gateway.LoadRoutes(cfg.Gateway.RouteFile)
	if err != nil {
		return err
	}

	health := observability.NewHealthChecker(nil, nil, metrics, cfg.Observability.OTelServiceVersion)

	clientIPs, err := httputil.NewClientIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	gwConfig := gateway.Config{
		Upstreams: cfg.Gateway.Upstreams,
		Tokens:    tokens,
		HTTPClient: &http.Client{
			Timeout:   cfg.Gateway.UpstreamTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Health:       health,
		Logger:       logger,
		Metrics:      metrics,
		CORSOrigins:  cfg.Server.CORSOrigins,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		ClientIPs:    clientIPs,
	}
	if cfg.Gateway.RemoteValidation {
		// The gateway only validates tokens, so the user lookup cache stays off.
		gwConfig.Remote = authclient.New(cfg.Gateway.AuthURL,
			authclient.WithMetrics(metrics),
			authclient.WithUserCache(0, 0))
		gwConfig.RemoteTimeout = cfg.Gateway.RemoteValidateTimeout
	}

	gw, err := gateway.New(gwConfig, routes)
	if err != nil {
		return err
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if cfg.Gateway.RouteFile != "" {
		go func() {
			defer observability.RecoverPanic(logger, "route watcher")
			if err := gw.Watch(watchCtx, cfg.Gateway.RouteFile); err != nil {
				logger.WithError(err).Error("Route file watcher stopped")
			}
		}()
	}

	gatewayServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Gateway.Port,
		Handler:      gw,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Gateway.HealthPort,
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, gatewayServer, healthServer)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		stopWatch()
		return nil
	})
	shutdown.RegisterShutdownFunc(otelProviders.Shutdown)

	logger.WithField("routes", len(routes)).Info("Starting campus gateway")
	return shutdown.Run(ctx)
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/campus/pkg/api"
	"github.com/platinummonkey/campus/pkg/auth"
	"github.com/platinummonkey/campus/pkg/config"
	"github.com/platinummonkey/campus/pkg/httputil"
	"github.com/platinummonkey/campus/pkg/middleware"
	"github.com/platinummonkey/campus/pkg/observability"
	"github.com/platinummonkey/campus/pkg/rbac"
	"github.com/platinummonkey/campus/pkg/storage"
)

const (
	serviceName = "campus-auth"

	healthCheckSchedule    = "@every 1m"
	limiterCleanupSchedule = "@every 5m"
)

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

	clientIPs, err := httputil.NewClientIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	db, err := storage.OpenDatabase(ctx, storage.DatabaseConfig{
		Driver:          cfg.Database.Driver,
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return err
	}
	logger.WithField("driver", cfg.Database.Driver).Info("Database connection established")

	if cfg.Database.AutoMigrate {
		if err := rbac.RunMigrations(ctx, db, logger); err != nil {
			db.Close()
			return err
		}
	}

	roleStore := rbac.NewStore(db)
	if _, err := rbac.InitializeBuiltInRoles(ctx, roleStore, logger); err != nil {
		db.Close()
		return err
	}

	tokens, err := auth.NewTokenManager(cfg.JWT.Secret,
		auth.WithIssuer(cfg.JWT.Issuer),
		auth.WithTTLs(cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL))
	if err != nil {
		db.Close()
		return err
	}

	service := auth.NewService(auth.ServiceConfig{
		Store:      auth.NewSQLStore(db),
		Resolver:   rbac.NewResolver(roleStore),
		Tokens:     tokens,
		Audit:      auth.NewAuditLogger(logger, metrics),
		Logger:     logger,
		BcryptCost: cfg.JWT.BcryptCost,
	})

	if cfg.Seed.AdminEmail != "" {
		created, err := service.EnsureSuperAdmin(ctx, cfg.Seed.AdminEmail, cfg.Seed.AdminPassword)
		if err != nil {
			db.Close()
			return fmt.Errorf("failed to seed super admin: %w", err)
		}
		if created {
			logger.WithField("email", cfg.Seed.AdminEmail).Info("Bootstrap super admin created")
		}
	}

	limiterConfig := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Redis.LoginLimit,
		WindowDuration:    cfg.Redis.LoginLimitWindow,
	}
	redisClient, loginLimiter, memoryLimiter := newLoginLimiter(ctx, cfg.Redis.URL, limiterConfig, logger)

	health := observability.NewHealthChecker(db, redisClient, metrics, cfg.Observability.OTelServiceVersion)

	server := api.NewServer(api.ServerConfig{
		Service:      service,
		Logger:       logger,
		Metrics:      metrics,
		Health:       health,
		LoginLimiter: loginLimiter,
		CORSOrigins:  cfg.Server.CORSOrigins,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		ClientIPs:    clientIPs,
	})

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
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
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	scheduler := scheduleMaintenance(health, memoryLimiter, logger)
	scheduler.Start()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		<-scheduler.Stop().Done()
		return nil
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error { return db.Close() })
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return redisClient.Close() })
	}
	shutdown.RegisterShutdownFunc(otelProviders.Shutdown)

	logger.Info("Starting campus auth service")
	return shutdown.Run(ctx)
}

// newLoginLimiter prefers the shared Redis limiter and falls back to a
// per-process one when Redis is not configured or unreachable. The returned
// in-memory limiter is nil when Redis is used.
func newLoginLimiter(ctx context.Context, redisURL string, cfg *middleware.RateLimitConfig, logger *observability.Logger) (*redis.Client, middleware.Limiter, *middleware.RateLimiter) {
	if redisURL != "" {
		client, err := storage.NewRedisClient(ctx, redisURL)
		if err == nil {
			logger.Info("Login rate limiter backed by Redis")
			return client, middleware.NewDistributedRateLimiter(client, cfg, ""), nil
		}
		logger.WithError(err).Warn("Redis unavailable, using in-memory login rate limiter")
	}
	limiter := middleware.NewRateLimiter(cfg)
	return nil, limiter, limiter
}

// scheduleMaintenance registers the periodic jobs of the auth service
func scheduleMaintenance(health *observability.HealthChecker, limiter *middleware.RateLimiter, logger *observability.Logger) *cron.Cron {
	c := cron.New()

	// Readiness probe refreshes the pool gauges as a side effect
	if _, err := c.AddFunc(healthCheckSchedule, func() {
		defer observability.RecoverPanic(logger, "scheduled health check")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if status := health.Check(ctx); status.Status != observability.StatusHealthy {
			logger.WithField("status", status.Status).Warn("Dependency health check not healthy")
		}
	}); err != nil {
		logger.WithError(err).Error("Failed to schedule health check")
	}

	if limiter != nil {
		if _, err := c.AddFunc(limiterCleanupSchedule, limiter.Cleanup); err != nil {
			logger.WithError(err).Error("Failed to schedule rate limiter cleanup")
		}
	}

	return c
}

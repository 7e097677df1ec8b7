package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ShutdownFunc releases a resource during shutdown
type ShutdownFunc func(context.Context) error

// ShutdownManager runs a set of HTTP servers until the parent context is
// cancelled, then drains them and releases registered resources.
type ShutdownManager struct {
	logger  *Logger
	servers []*http.Server
	funcs   []ShutdownFunc
	timeout time.Duration
	mu      sync.Mutex
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger *Logger, timeout time.Duration, servers ...*http.Server) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:  logger,
		servers: servers,
		timeout: timeout,
	}
}

// RegisterShutdownFunc registers fn to run after every server has stopped
func (sm *ShutdownManager) RegisterShutdownFunc(fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.funcs = append(sm.funcs, fn)
}

// Run serves every server until ctx is done or one of them fails, then
// shuts all of them down. Registered funcs run in reverse registration order.
func (sm *ShutdownManager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, srv := range sm.servers {
		srv := srv
		g.Go(func() error {
			sm.logger.WithField("addr", srv.Addr).Info("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		sm.logger.Info("Starting graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), sm.timeout)
		defer cancel()

		var errs []error
		for _, srv := range sm.servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				sm.logger.WithError(err).WithField("addr", srv.Addr).Error("HTTP server shutdown error")
				errs = append(errs, err)
			}
		}

		sm.mu.Lock()
		funcs := append([]ShutdownFunc(nil), sm.funcs...)
		sm.mu.Unlock()

		for i := len(funcs) - 1; i >= 0; i-- {
			if err := funcs[i](shutdownCtx); err != nil {
				sm.logger.WithError(err).Errorf("Shutdown function %d failed", i)
				errs = append(errs, err)
			}
		}

		if len(errs) > 0 {
			return fmt.Errorf("shutdown completed with %d errors: %w", len(errs), errors.Join(errs...))
		}
		sm.logger.Info("Graceful shutdown complete")
		return nil
	})

	return g.Wait()
}

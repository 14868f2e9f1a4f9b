// Package server provides application lifecycle management: ordered startup
// of long-running components and graceful shutdown on signal or first
// failure.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Service is a long-running component driven by a context: Run blocks until
// the context is cancelled or the service fails.
type Service interface {
	Run(ctx context.Context) error
}

// ServiceFunc adapts a plain function into the Service interface.
type ServiceFunc func(ctx context.Context) error

// Run calls the underlying function.
func (f ServiceFunc) Run(ctx context.Context) error { return f(ctx) }

// Lifecycle manages a set of services. All services share one derived
// context; the first failure, a termination signal, or parent cancellation
// stops them all.
type Lifecycle struct {
	logger   *zap.Logger
	services []namedService
	mu       sync.Mutex
}

type namedService struct {
	name    string
	service Service
}

// NewLifecycle creates a new Lifecycle manager.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		logger: logger,
	}
}

// Add registers a named service. Services start in the order they are added.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = append(l.services, namedService{name: name, service: svc})
}

// Run starts all services and blocks until a termination signal (SIGINT or
// SIGTERM), a service failure, or parent-context cancellation. It then
// cancels the shared context and waits for every service to return.
//
// Postcondition: All services have returned when this method returns; the
// first service error, if any, is returned.
func (l *Lifecycle) Run(ctx context.Context) error {
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(l.services))
	var wg sync.WaitGroup
	for _, ns := range l.services {
		ns := ns
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.logger.Info("starting service",
				zap.String("service", ns.name),
			)
			svcStart := time.Now()
			if err := ns.service.Run(ctx); err != nil && ctx.Err() == nil {
				l.logger.Error("service failed",
					zap.String("service", ns.name),
					zap.Error(err),
					zap.Duration("uptime", time.Since(svcStart)),
				)
				errCh <- fmt.Errorf("service %s: %w", ns.name, err)
				cancel()
			}
		}()
	}

	l.logger.Info("all services started",
		zap.Int("count", len(l.services)),
		zap.Duration("startup", time.Since(start)),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		l.logger.Info("received signal, shutting down",
			zap.String("signal", sig.String()),
		)
	case runErr = <-errCh:
		l.logger.Error("service error, shutting down",
			zap.Error(runErr),
		)
	case <-ctx.Done():
		l.logger.Info("context cancelled, shutting down")
	}

	shutdownStart := time.Now()
	cancel()
	wg.Wait()

	l.logger.Info("shutdown complete",
		zap.Duration("shutdown_elapsed", time.Since(shutdownStart)),
		zap.Duration("total_uptime", time.Since(start)),
	)
	return runErr
}

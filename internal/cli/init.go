// Package cli provides common initialization shared by cmd/azukari and
// cmd/azukari-worker.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"azukari/internal/backend"
	"azukari/internal/cache"
	"azukari/internal/config"
	"azukari/internal/ledger"
	"azukari/internal/log"
	"azukari/internal/services"
)

// SetupLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and
// installs it as the slog default. Invalid values fall back to info/text;
// Validate reports them.
func SetupLogger(cfg *config.Config, component string) *log.Logger {
	lc := log.DefaultConfig()
	lc.Component = component
	if cfg != nil {
		if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
			lc.Level = level
		}
		lc.Format = cfg.LogFormat
	}
	// CLI output goes to stdout; keep logs on stderr.
	lc.Output = os.Stderr
	logger := log.New(lc)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadConfig loads the environment configuration and validates it with
// validate (cfg.Validate when nil).
func LoadConfig(validate func(*config.Config) error) (*config.Config, error) {
	cfg := config.Load()
	if validate == nil {
		validate = (*config.Config).Validate
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// App is everything a command needs to talk to the ledger.
type App struct {
	Config  *config.Config
	Logger  *log.Logger
	Backend *backend.BackendResult
	Ledger  *services.LedgerService
	Caches  *cache.Manager
}

// OpenApp creates the backend and the ledger service described by cfg.
func OpenApp(ctx context.Context, cfg *config.Config, logger *log.Logger, requireAMQP bool) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	mode, err := ledger.ParseMode(cfg.BalanceMode)
	if err != nil {
		return nil, err
	}

	bc, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	bc.RequireAMQP = requireAMQP
	res, err := backend.NewFactory(logger).CreateBackend(ctx, bc)
	if err != nil {
		return nil, err
	}

	balances := cache.NewLRUCache[int64](cfg.BalanceCacheSize, cfg.BalanceCacheTTL)
	caches := cache.NewManager()
	caches.Register(balances)

	svc := services.NewLedgerService(res.Store, services.Options{
		Publisher:         res.Publisher,
		Location:          loc,
		Mode:              mode,
		VerifyCheckpoints: cfg.VerifyCheckpoints,
		Cache:             balances,
		Concurrency:       cfg.AggregateConcurrency,
		Logger:            logger.WithComponent(log.ComponentLedger),
	})

	return &App{Config: cfg, Logger: logger, Backend: res, Ledger: svc, Caches: caches}, nil
}

func (a *App) Close() error {
	a.Caches.Stop()
	if a.Backend.Cleanup == nil {
		return nil
	}
	if err := a.Backend.Cleanup(); err != nil {
		return fmt.Errorf("close backend: %w", err)
	}
	return nil
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM. The
// returned channel is closed once cleanup has run or timeout elapsed.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func()) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		cancel()

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup()
			}
			close(finished)
		}()

		select {
		case <-finished:
			logger.Info("Shutdown complete")
		case <-time.After(timeout):
			logger.Warn("Shutdown timeout reached")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}

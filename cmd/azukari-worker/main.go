// Command azukari-worker closes months and keeps month-end checkpoints in
// step with past corrections announced on the broker.
package main

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"azukari/internal/cli"
	"azukari/internal/config"
	"azukari/internal/log"
	"azukari/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadConfig((*config.Config).ValidateWorker)
	if err != nil {
		cli.SetupLogger(nil, log.ComponentWorker).Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg, log.ComponentWorker)
	logger.Info("Starting azukari-worker", log.FieldOperation, log.OpStartup, "backend", cfg.DataBackend)

	app, err := cli.OpenApp(context.Background(), cfg, logger, true)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err)
		os.Exit(1)
	}
	app.Caches.StartCleanup(cfg.BalanceCacheTTL)

	w := worker.NewCheckpointWorker(app.Backend.Store, app.Ledger.Location(), cfg.AggregateConcurrency, logger)

	var wg sync.WaitGroup
	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		wg.Wait()
		if err := app.Close(); err != nil {
			logger.Error("Cleanup failed", log.FieldOperation, log.OpShutdown, log.FieldError, err)
		}
	})

	wg.Add(2)
	go func() {
		defer wg.Done()
		w.Run(ctx, cfg.CloseInterval)
	}()
	go func() {
		defer wg.Done()
		err := app.Backend.AMQP.ConsumeLedgerEvents(ctx, w.HandleEvent)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Event consumption stopped", log.FieldError, err)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped")
}

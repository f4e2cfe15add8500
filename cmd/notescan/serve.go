package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/notescan/notescan/internal/config"
	"github.com/notescan/notescan/internal/dictionary"
	"github.com/notescan/notescan/internal/extract"
	"github.com/notescan/notescan/internal/jobs"
	"github.com/notescan/notescan/internal/progress"
	"github.com/notescan/notescan/internal/recovery"
	"github.com/notescan/notescan/internal/server"
	"github.com/notescan/notescan/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP pipeline server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := telemetry.Init(ctx, cfg.Telemetry, "notescan", Version); err != nil {
			return err
		}
		defer func() {
			shctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			telemetry.Shutdown(shctx)
		}()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		bus := progress.NewBus(store, logger)
		defer bus.Close()

		loader := dictionary.NewLoader(store, cfg.Storage.SeedPath, logger)
		manager := jobs.NewManager(jobsConfig(cfg), store, bus, loader, nil, logger)
		manager.Start()

		ops := recovery.NewOps(store, logger)
		srv := server.New(cfg.Server, store, manager, bus, ops, logger)

		if cfgPath != "" {
			if err := config.Watch(cfgPath, func(next *config.Config) {
				manager.UpdateConfig(jobsConfig(next))
				logger.Info("config reloaded; job tunables apply to new jobs, restart for server and storage settings",
					zap.String("path", cfgPath))
				cfg = next
			}); err != nil {
				logger.Warn("config watch unavailable", zap.Error(err))
			}
		}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()

		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		}

		shctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shctx); err != nil {
			logger.Warn("http shutdown incomplete", zap.Error(err))
		}
		if err := manager.Shutdown(shctx); err != nil {
			logger.Warn("job manager shutdown incomplete", zap.Error(err))
		}
		return nil
	},
}

// jobsConfig maps the file config onto the manager's runtime config.
func jobsConfig(c *config.Config) jobs.Config {
	return jobs.Config{
		MaxConcurrentJobs: c.Jobs.MaxConcurrentJobs,
		MaxRetries:        c.Jobs.MaxExtractionRetries,
		SaveBatchSize:     c.Jobs.SaveBatchSize,
		BatchTimeout:      c.Jobs.BatchTimeout(),
		CleanupAge:        c.Jobs.CleanupAge(),
		Extract:           extractConfig(c),
	}
}

func extractConfig(c *config.Config) extract.Config {
	return extract.Config{
		TargetChunkSize:   c.Extract.TargetChunkSize,
		Concurrency:       c.Extract.ConcurrencyBase,
		Boost:             c.Extract.ConcurrencyBoost,
		ChunkTimeout:      c.Extract.ChunkTimeout(),
		JobTimeout:        c.Extract.JobTimeout(),
		MemorySoftLimitMB: c.Extract.MemorySoftLimitMB,
	}
}

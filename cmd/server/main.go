package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/chxfer/internal/clickhouse"
	"github.com/JonMunkholm/chxfer/internal/config"
	"github.com/JonMunkholm/chxfer/internal/core"
	"github.com/JonMunkholm/chxfer/internal/history"
	"github.com/JonMunkholm/chxfer/internal/logging"
	"github.com/JonMunkholm/chxfer/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	log.Info("configuration loaded",
		"port", cfg.Server.Port,
		"pool_expiration", cfg.Pool.Expiration,
		"transfer_max_concurrent", cfg.Transfer.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"history_enabled", cfg.History.Enabled(),
	)

	pool := core.NewPool(clickhouse.NewDialer(cfg.Pool.DialTimeout), core.PoolOptions{
		Expiration:    cfg.Pool.Expiration,
		SweepInterval: cfg.Pool.SweepInterval,
		Logger:        log,
	})
	streams := core.NewStreamRegistry(core.RegistryOptions{
		TTL:    cfg.Streams.TTL,
		Logger: log,
	})
	limiter := core.NewTransferLimiter(cfg.Transfer.MaxConcurrent, cfg.Transfer.MaxWait)

	opts := core.Options{
		ChunkSize:       cfg.Transfer.ChunkSize,
		TransferTimeout: cfg.Transfer.Timeout,
		Limiter:         limiter,
		Logger:          log,
	}
	serverOpts := web.Options{Logger: log}

	// Transfer history is optional
	var historyPool *pgxpool.Pool
	if cfg.History.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		store, hp, err := history.Open(ctx, cfg.History.DatabaseURL, cfg.History.MaxConns)
		if err == nil {
			err = store.EnsureSchema(ctx)
		}
		cancel()
		if err != nil {
			log.Error("failed to open transfer history", "error", err)
			os.Exit(1)
		}
		historyPool = hp
		opts.Recorder = store
		serverOpts.History = store
		log.Info("transfer history enabled")
	}

	service := core.NewService(pool, streams, opts)
	server := web.NewServer(service, cfg, serverOpts)

	// Expired uploads are also dropped lazily on Store; the sweep covers
	// idle periods.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go sweepStreams(jobCtx, streams, time.Minute)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info("shutting down...", "timeout", cfg.Server.ShutdownTimeout)
		cancelJobs()

		// Hard bound: a close that hangs must not keep the process alive.
		hardStop := time.AfterFunc(cfg.Server.ShutdownTimeout, func() {
			log.Error("shutdown timed out, exiting")
			os.Exit(1)
		})
		defer hardStop.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active transfers to complete (with timeout)
		if status := limiter.Status(); status.Active > 0 {
			log.Info("waiting for transfers to complete", "active", status.Active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				log.Warn("transfers did not complete in time", "error", err)
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", "error", err)
		}
		if err := service.Close(shutdownCtx); err != nil {
			log.Error("failed to close store connections", "error", err)
		}
		if historyPool != nil {
			historyPool.Close()
		}
		log.Info("shutdown complete")
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	<-done
}

func sweepStreams(ctx context.Context, streams *core.StreamRegistry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			streams.Sweep()
		}
	}
}

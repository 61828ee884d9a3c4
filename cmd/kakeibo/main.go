package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"kakeibo/internal/cache"
	"kakeibo/internal/cli"
	apphttp "kakeibo/internal/http"
	applog "kakeibo/internal/log"
	"kakeibo/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	rt, err := cli.NewRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize runtime", "error", err)
		os.Exit(1)
	}

	// Load eagerly so the first request does not pay for the download. A
	// failure here is retried lazily by the next request.
	if err := rt.Manager.Open(ctx); err != nil {
		logger.Warn("Initial ledger load failed, will retry on first request", "error", err)
	}

	srv := apphttp.NewServer(":"+cfg.Port, rt.Ledger, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting kakeibo server",
			applog.FieldOperation, applog.OpStartup,
			"port", cfg.Port,
			"backend", cfg.SnapshotBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if err := rt.Manager.Flush(shutdownCtx); err != nil {
			logger.Error("Failed to flush unsaved ledger changes",
				applog.FieldOperation, applog.OpFlush,
				"error", err)
		}
		return nil
	})

	if events := rt.Backend.Events; events != nil {
		reloader := worker.NewReloadWorker(rt.Manager, rt.Backend.Store, cfg.InstanceID)
		workerLog := logger.WithComponent(applog.ComponentWorker)
		g.Go(func() error {
			workerLog.Info("Starting reload worker",
				"exchange", cfg.AMQPExchange,
				"instance_id", events.Origin())
			err := events.ConsumeSnapshotEvents(gctx, reloader.HandleSnapshotEvent)
			if errors.Is(err, context.Canceled) {
				workerLog.Info("Reload worker stopped")
				return nil
			}
			return err
		})
	} else {
		logger.WithComponent(applog.ComponentAMQP).
			Info("Snapshot events disabled, instances will not reload each other")
	}

	janitor := cache.NewJanitor(cfg.StatsCacheTTL, rt.StatsCache)
	logger.WithComponent(applog.ComponentCache).Info("Stats cache ready",
		"max_entries", cfg.StatsCacheSize,
		"ttl", cfg.StatsCacheTTL)
	g.Go(func() error { return janitor.Run(gctx) })

	err = g.Wait()
	if cerr := rt.Close(); cerr != nil {
		logger.Error("Failed to release runtime", "error", cerr)
	}
	if err != nil {
		logger.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
	m := srv.Metrics()
	logger.Info("Server stopped gracefully",
		"total_requests", m.TotalRequests,
		"server_errors", m.ServerErrors)
}

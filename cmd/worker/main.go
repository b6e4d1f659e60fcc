// Package main provides the worker entry point. The worker consumes compile
// and verify jobs from the queue, runs the toolchain, publishes results to
// the record store, and reaps expired records.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/zksmith/contract-worker/internal/adapter/awsconf"
	blobs3 "github.com/zksmith/contract-worker/internal/adapter/blob/s3"
	"github.com/zksmith/contract-worker/internal/adapter/observability"
	queuesqs "github.com/zksmith/contract-worker/internal/adapter/queue/sqs"
	repodynamo "github.com/zksmith/contract-worker/internal/adapter/repo/dynamo"
	"github.com/zksmith/contract-worker/internal/app"
	"github.com/zksmith/contract-worker/internal/config"
	"github.com/zksmith/contract-worker/internal/service/purgatory"
	"github.com/zksmith/contract-worker/internal/toolchain"
	"github.com/zksmith/contract-worker/internal/usecase"
	"github.com/zksmith/contract-worker/internal/workspace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	slog.Info("starting worker",
		slog.String("env", cfg.AppEnv),
		slog.Int("workers", cfg.WorkerCount))

	awsCfg, err := awsconf.Load(ctx, cfg)
	if err != nil {
		slog.Error("aws config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	queue := queuesqs.New(awsCfg, cfg, logger)
	defer queue.Close()
	records := repodynamo.New(awsCfg, cfg, logger)
	defer records.Close()
	blobs := blobs3.New(awsCfg, cfg, logger)
	defer blobs.Close()

	wsManager, err := workspace.NewManager(cfg.WorkspaceRoot)
	if err != nil {
		slog.Error("workspace root init failed", slog.Any("error", err))
		os.Exit(1)
	}
	tc := toolchain.New(wsManager, toolchain.ExecRunner{}, logger)

	purg, err := purgatory.New(ctx, records, blobs, purgatory.Config{
		Retention:     cfg.RetentionInterval,
		SweepInterval: cfg.SweepInterval,
		Logger:        logger,
	})
	if err != nil {
		slog.Error("purgatory bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer purg.Stop()

	processor := usecase.New(queue, records, blobs, tc, purg, cfg.PresignTTL, logger)
	engine := app.NewEngine(queue, processor, logger)

	opsServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.OpsPort),
		Handler: app.BuildOpsRouter(app.ReadinessChecks{
			Queue:   queue,
			Records: records,
			Blobs:   blobs,
		}),
	}
	go func() {
		slog.Info("ops server listening", slog.Int("port", cfg.OpsPort))
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops server error", slog.Any("error", err))
		}
	}()

	engine.Start(ctx, cfg.WorkerCount)

	<-ctx.Done()
	slog.Info("signal received, shutting down")

	// The listener stops on ctx cancellation; workers finish in-flight jobs.
	engine.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("ops server shutdown failed", slog.Any("error", err))
	}
	slog.Info("worker stopped")
}

// Package main provides the purge CLI: a one-shot retention sweep over the
// record store and artifact prefixes, for operators cleaning up outside the
// worker's background reaper.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/zksmith/contract-worker/internal/adapter/awsconf"
	blobs3 "github.com/zksmith/contract-worker/internal/adapter/blob/s3"
	"github.com/zksmith/contract-worker/internal/adapter/observability"
	repodynamo "github.com/zksmith/contract-worker/internal/adapter/repo/dynamo"
	"github.com/zksmith/contract-worker/internal/config"
	"github.com/zksmith/contract-worker/internal/service/purgatory"
)

func main() {
	retention := flag.Duration("retention", 0, "override retention interval (default from RETENTION_INTERVAL)")
	dryRun := flag.Bool("dry-run", false, "list what would be reaped without deleting")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	if *retention <= 0 {
		*retention = cfg.RetentionInterval
	}
	cutoff := time.Now().Add(-*retention)

	ctx := context.Background()
	awsCfg, err := awsconf.Load(ctx, cfg)
	if err != nil {
		slog.Error("aws config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	records := repodynamo.New(awsCfg, cfg, logger)
	defer records.Close()
	blobs := blobs3.New(awsCfg, cfg, logger)
	defer blobs.Close()

	deleted, err := purgatory.SweepStoreBefore(ctx, records, blobs, cutoff, *dryRun, logger)
	if err != nil {
		slog.Error("sweep failed", slog.Int("deleted", deleted), slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("sweep complete",
		slog.Int("deleted", deleted),
		slog.Time("cutoff", cutoff),
		slog.Bool("dry_run", *dryRun))
}

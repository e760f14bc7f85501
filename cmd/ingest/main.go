// Command ingest loads exported health-event documents from S3 into the
// DynamoDB table. Run it after the collector drops a new export batch.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaplin/healthboard/internal/config"
	"github.com/chaplin/healthboard/internal/ingest"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	bucket := flag.String("bucket", "", "Source bucket (overrides config)")
	prefix := flag.String("prefix", "", "Object prefix (overrides config)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("loading config", "error", err)
		os.Exit(1)
	}
	if *bucket != "" {
		cfg.Ingest.Bucket = *bucket
	}
	if *prefix != "" {
		cfg.Ingest.Prefix = *prefix
	}
	if cfg.Ingest.Bucket == "" {
		logger.Error("no source bucket configured; set ingest.bucket or pass -bucket")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loader, err := ingest.New(ctx, ingest.Config{
		Bucket:        cfg.Ingest.Bucket,
		Prefix:        cfg.Ingest.Prefix,
		Table:         cfg.DynamoDB.Table,
		Region:        cfg.DynamoDB.Region,
		AssumeRoleARN: cfg.DynamoDB.AssumeRoleARN,
		ExternalID:    cfg.DynamoDB.ExternalID,
		Endpoint:      cfg.DynamoDB.Endpoint,
	}, logger)
	if err != nil {
		logger.Error("initializing loader", "error", err)
		os.Exit(1)
	}

	stats, err := loader.Run(ctx)
	if err != nil {
		logger.Error("ingest failed", "error", err)
		os.Exit(1)
	}
	logger.Info("done", "objects", stats.Objects, "events", stats.Events, "skipped", stats.Skipped)
}

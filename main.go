package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/clock"

	"github.com/jorgepascosoto/collection-archiver/internal/backup"
	"github.com/jorgepascosoto/collection-archiver/internal/compress"
	"github.com/jorgepascosoto/collection-archiver/internal/config"
	"github.com/jorgepascosoto/collection-archiver/internal/encrypt"
	"github.com/jorgepascosoto/collection-archiver/internal/notify"
	"github.com/jorgepascosoto/collection-archiver/internal/pipeline"
	"github.com/jorgepascosoto/collection-archiver/internal/purge"
	"github.com/jorgepascosoto/collection-archiver/internal/schedule"
	"github.com/jorgepascosoto/collection-archiver/internal/storage"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("Exiting", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	orchestrator, err := newOrchestrator(cfg, logger)
	if err != nil {
		return err
	}
	notifier := notify.NewWebhookNotifier(cfg.WebhookURL)

	job := func(ctx context.Context) *pipeline.Outcome {
		outcome := orchestrator.RunOnce(ctx, cfg)
		report(ctx, cfg, logger, notifier, outcome)
		return outcome
	}

	if cfg.RunOnce {
		outcome := job(ctx)
		if outcome.Kind == pipeline.OutcomeFailed {
			return fmt.Errorf("run %s failed while %s: %w", outcome.RunID, outcome.FailedStage, outcome.Err)
		}
		return nil
	}

	logger.Info("Starting daily scheduler",
		"database", cfg.DatabaseName,
		"collection", cfg.CollectionName,
		"hour", cfg.HourToRunAt,
	)
	daily := &schedule.Daily{
		Hour:   cfg.HourToRunAt,
		Clock:  clock.WallClock,
		Logger: logger,
	}
	err = daily.Run(ctx, func(ctx context.Context) {
		job(ctx)
	})
	if stderrors.Is(err, context.Canceled) {
		logger.Info("Scheduler stopped")
		return nil
	}
	return err
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newOrchestrator(cfg *config.BackupConfig, logger *slog.Logger) (*pipeline.Orchestrator, error) {
	var opts []storage.Option
	if cfg.HasEncryption() {
		encryptor, err := encrypt.NewAESEncryptor(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		opts = append(opts, storage.WithEncryptor(encryptor))
	}

	return pipeline.NewOrchestrator(pipeline.Components{
		Exporter: backup.NewMongoDumpExporter(cfg.DumpBinary, logger),
		Archiver: compress.NewTarGzArchiver(compress.NewGzipCompressorLevel(cfg.CompressionLevel)),
		Uploader: storage.NewS3Uploader(logger, opts...),
		Purger:   purge.NewMongoPurger(logger),
		Cleaner:  pipeline.NewLocalCleaner(),
		Clock:    clock.WallClock,
		Logger:   logger,
	})
}

// report publishes the outcome. Failures here are logged and never affect
// the run or the scheduler.
func report(ctx context.Context, cfg *config.BackupConfig, logger *slog.Logger, notifier *notify.WebhookNotifier, outcome *pipeline.Outcome) {
	summary := notify.NewRunSummary(cfg.DatabaseName, cfg.CollectionName, outcome)

	if err := notify.WriteGitHubSummary(summary); err != nil {
		logger.Warn("Failed to write GitHub summary", "error", err)
	}
	outputs := [][2]string{
		{"status", summary.Status},
		{"archive_key", summary.ArchiveKey},
		{"run_id", summary.RunID},
	}
	for _, kv := range outputs {
		if err := notify.SetGitHubOutput(kv[0], kv[1]); err != nil {
			logger.Warn("Failed to set GitHub output", "name", kv[0], "error", err)
		}
	}

	if cfg.WebhookURL == "" || !summary.ShouldNotify(cfg.NotifyOnSuccess, cfg.NotifyOnFailure) {
		return
	}
	if err := notifier.Notify(context.WithoutCancel(ctx), summary); err != nil {
		logger.Warn("Webhook notification failed", "run_id", summary.RunID, "error", err)
	}
}

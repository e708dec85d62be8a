package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"memories-downloader/internal/config"
	"memories-downloader/internal/orchestrator"
	"memories-downloader/pkg/models"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

type runFlags struct {
	exportPath  string
	outputRoot  string
	concurrency int
	retries     int
	timeout     time.Duration
	delay       time.Duration
	dupPolicy   string
	dryRun      bool
	verifyOnly  bool
	retryFailed bool
	purge       bool
}

func newRootCommand() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "memories-downloader",
		Short: "Download and compose a memories export into finalized local media",
		Long: "memories-downloader reads a memories export listing, downloads every item, " +
			"composes overlay payloads into finalized media files, embeds capture metadata, " +
			"removes duplicates and verifies the result. Interrupted runs resume where they left off.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.exportPath, "export", "e", "", "path to the export listing (JSON or HTML)")
	cmd.Flags().StringVarP(&flags.outputRoot, "output", "o", "", "output root directory")
	cmd.Flags().IntVarP(&flags.concurrency, "concurrency", "c", 0, "concurrent download workers")
	cmd.Flags().IntVar(&flags.retries, "retries", 0, "maximum attempts per item")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "per-attempt timeout")
	cmd.Flags().DurationVar(&flags.delay, "delay", -1, "delay between completed downloads")
	cmd.Flags().StringVar(&flags.dupPolicy, "dup-policy", "", "duplicate handling: move, delete or none")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "parse and plan without downloading")
	cmd.Flags().BoolVar(&flags.verifyOnly, "verify-only", false, "verify existing outputs without downloading")
	cmd.Flags().BoolVar(&flags.retryFailed, "retry-failed", false, "retry only previously failed items")
	cmd.Flags().BoolVar(&flags.purge, "purge", false, "delete raw downloads after successful finalization")

	return cmd
}

func run(cmd *cobra.Command, flags *runFlags) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	setupLogging(cfg.LogLevel)

	if flags.exportPath != "" {
		cfg.ExportPath = flags.exportPath
	}
	if flags.outputRoot != "" {
		cfg.OutputRoot = flags.outputRoot
	}
	if cfg.ExportPath == "" {
		return fmt.Errorf("no export listing given: set --export or EXPORT_PATH")
	}

	opts := buildOptions(cfg, flags)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// First signal asks the run to stop cleanly; state is saved as items
	// reach terminal outcomes, so a resumed run picks up where this one ends.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("Starting Memories Downloader", "export", cfg.ExportPath, "output", cfg.OutputRoot)

	summary, err := orchestrator.New(cfg).Run(ctx, opts)
	if err != nil {
		return err
	}

	if summary.Failed > 0 {
		slog.Warn("Run finished with failures", "failed", summary.Failed, "report", summary.ReportPath)
	}
	return nil
}

// buildOptions starts from the configured defaults and applies explicit flags
func buildOptions(cfg *config.Config, flags *runFlags) models.RunOptions {
	opts := cfg.RunOptions()

	if flags.concurrency > 0 {
		opts.Concurrency = flags.concurrency
	}
	if flags.retries > 0 {
		opts.MaxAttempts = flags.retries
	}
	if flags.timeout > 0 {
		opts.AttemptTimeout = flags.timeout
	}
	if flags.delay >= 0 {
		opts.ThrottleDelay = flags.delay
	}
	if flags.dupPolicy != "" {
		opts.DuplicatePolicy = models.DuplicatePolicy(flags.dupPolicy)
	}
	opts.DryRun = flags.dryRun
	opts.VerifyOnly = flags.verifyOnly
	opts.RetryFailedOnly = flags.retryFailed
	opts.PurgeDownloads = flags.purge

	return opts
}

// setupLogging configures structured logging based on the log level
func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
}

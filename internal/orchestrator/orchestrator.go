// Package orchestrator sequences the pipeline stages for one run: parse,
// resume, fetch, compose, embed metadata, dedup, verify, report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"memories-downloader/internal/cleanup"
	"memories-downloader/internal/composer"
	"memories-downloader/internal/config"
	"memories-downloader/internal/dedup"
	"memories-downloader/internal/export"
	"memories-downloader/internal/fetcher"
	"memories-downloader/internal/journal"
	"memories-downloader/internal/metadata"
	"memories-downloader/internal/pause"
	"memories-downloader/internal/progress"
	"memories-downloader/internal/report"
	"memories-downloader/internal/state"
	"memories-downloader/internal/verify"
	"memories-downloader/pkg/models"
)

// ErrRunActive is returned when a run is requested while another is in flight
var ErrRunActive = errors.New("a run is already active")

// lockFileName guards the output root against concurrent processes
const lockFileName = ".run.lock"

// Orchestrator owns the pipeline for one output root. It is safe to share:
// concurrent Run calls beyond the first fail fast with ErrRunActive.
type Orchestrator struct {
	cfg     *config.Config
	gate    *pause.Gate
	events  *progress.Broadcaster
	writer  metadata.Writer
	logger  *slog.Logger
	running atomic.Bool
}

// New creates an orchestrator for the configured output root
func New(cfg *config.Config) *Orchestrator {
	events := progress.NewBroadcaster()
	events.Register(progress.NewLogObserver())

	return &Orchestrator{
		cfg:    cfg,
		gate:   pause.NewGate(),
		events: events,
		writer: metadata.NewExifToolWriter(cfg.ExifToolBin),
		logger: slog.Default(),
	}
}

// Gate exposes the pause gate so callers can pause and resume a running
// pipeline.
func (o *Orchestrator) Gate() *pause.Gate { return o.gate }

// Observers exposes the event broadcaster for additional observers
func (o *Orchestrator) Observers() *progress.Broadcaster { return o.events }

// SetMetadataWriter replaces the metadata writer. Used by tests and by
// callers that embed metadata through something other than exiftool.
func (o *Orchestrator) SetMetadataWriter(writer metadata.Writer) {
	if writer != nil {
		o.writer = writer
	}
}

// Run executes one full pipeline pass and returns the run summary.
// Per-item failures never abort the run; only environmental errors (export
// unreadable, output root unusable, second concurrent run) do.
func (o *Orchestrator) Run(ctx context.Context, opts models.RunOptions) (models.RunSummary, error) {
	if !o.running.CompareAndSwap(false, true) {
		return models.RunSummary{}, ErrRunActive
	}
	defer o.running.Store(false)
	defer o.gate.Reset()

	if err := os.MkdirAll(o.cfg.OutputRoot, 0o755); err != nil {
		return models.RunSummary{}, fmt.Errorf("failed to create output root: %w", err)
	}

	lock := flock.New(filepath.Join(o.cfg.OutputRoot, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return models.RunSummary{}, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !locked {
		return models.RunSummary{}, ErrRunActive
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil {
			o.logger.Warn("Failed to release run lock", "error", unlockErr)
		}
	}()

	startedAt := time.Now()
	runID := uuid.NewString()
	o.logger.Info("Run starting", "run_id", runID, "export", o.cfg.ExportPath)

	items, err := export.ParseFile(o.cfg.ExportPath)
	if err != nil {
		return models.RunSummary{}, fmt.Errorf("failed to parse export: %w", err)
	}

	store := state.NewStore(o.cfg.OutputRoot)
	store.Load()
	o.restore(store, items, opts)

	if opts.DryRun {
		summary := models.Summarize(runID, items, startedAt, time.Now())
		o.events.RunSummary(summary)
		o.logger.Info("Dry run, no work performed", "run_id", runID, "items", summary.Total)
		return summary, nil
	}

	jrnl, err := journal.Open(filepath.Join(o.cfg.OutputRoot, journal.FileName))
	if err != nil {
		// The journal is advisory; a run proceeds without it
		o.logger.Warn("Failed to open investigation journal", "error", err)
		jrnl = nil
	}
	if jrnl != nil {
		defer jrnl.Close()
	}

	if opts.VerifyOnly {
		o.adoptExistingOutputs(items)
	} else {
		engine := fetcher.New(o.gate, store, jrnl, o.events, o.cfg.DownloadsPath(), opts)
		engine.FetchAll(ctx, items)

		comp := composer.New(o.gate, store, jrnl, o.events, o.cfg.MediaPath(), o.cfg.FailuresPath())
		comp.SetBinaries(o.cfg.FFmpegBin, o.cfg.FFprobeBin)
		comp.ComposeAll(ctx, items)

		metadata.NewStage(o.gate, store, o.events, o.writer).EmbedAll(ctx, items)

		dedup.New(o.gate, store, o.events, o.cfg.DuplicatesPath(), opts.DuplicatePolicy).DedupAll(items)
	}

	verify.New(o.gate, store, o.events, o.cfg.FFprobeBin).VerifyAll(ctx, items)

	summary := models.Summarize(runID, items, startedAt, time.Now())

	reporter := report.New(o.cfg.OutputRoot)
	if reportPath, reportErr := reporter.WriteSummary(summary, opts, items); reportErr != nil {
		o.logger.Warn("Failed to write run report", "error", reportErr)
	} else {
		summary.ReportPath = reportPath
		if _, bundleErr := reporter.WriteDiagnosticsBundle(runID,
			filepath.Join(o.cfg.OutputRoot, state.FileName),
			filepath.Join(o.cfg.OutputRoot, journal.FileName),
		); bundleErr != nil {
			o.logger.Warn("Failed to write diagnostics bundle", "error", bundleErr)
		}
	}

	if opts.PurgeDownloads && !opts.VerifyOnly {
		svc := cleanup.NewService(o.cfg.DownloadsPath())
		if purgeErr := svc.PurgeDownloads(items); purgeErr != nil {
			o.logger.Warn("Purge finished with errors", "error", purgeErr)
		}
		if pruneErr := svc.PruneEmptyDirectories(); pruneErr != nil {
			o.logger.Warn("Failed to prune empty directories", "error", pruneErr)
		}
	}

	if saveErr := store.Save(); saveErr != nil {
		o.logger.Warn("Failed to save state", "error", saveErr)
	}

	o.events.RunSummary(summary)
	fmt.Fprintln(os.Stdout, report.RenderTable(summary, items))
	return summary, nil
}

// restore merges persisted progress into freshly parsed items and applies the
// run-mode filters. Failed items from an earlier run are re-admitted with a
// fresh attempt budget; in retry-only mode everything else is skipped.
func (o *Orchestrator) restore(store *state.Store, items []*models.Item, opts models.RunOptions) {
	for _, item := range items {
		if record := store.Get(item.Index); record != nil {
			record.ApplyTo(item)
		}

		wasFailed := item.Status == models.StatusFailed
		if wasFailed {
			item.Status = models.StatusPending
			item.FailureStage = ""
			item.Attempts = 0
		}

		if opts.RetryFailedOnly && !wasFailed {
			item.Status = models.StatusSkipped
		}
	}
}

// adoptExistingOutputs fills in final paths from the media directory for a
// verify-only pass over a previously completed run.
func (o *Orchestrator) adoptExistingOutputs(items []*models.Item) {
	for _, item := range items {
		if item.FinalPath != "" || item.Status == models.StatusSkipped {
			continue
		}
		matches, err := filepath.Glob(filepath.Join(o.cfg.MediaPath(), item.CanonicalName()+".*"))
		if err != nil || len(matches) == 0 {
			continue
		}
		item.FinalPath = matches[0]
	}
}

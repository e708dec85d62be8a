// Package fetcher implements the concurrent fetch stage: bounded-concurrency
// downloads with retry, exponential backoff, per-attempt timeouts and
// incremental state persistence so interruption never loses completed work.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"memories-downloader/internal/journal"
	"memories-downloader/internal/mediatype"
	"memories-downloader/internal/pause"
	"memories-downloader/internal/progress"
	"memories-downloader/internal/state"
	"memories-downloader/pkg/models"
)

// ErrUnresolvedMethod indicates an item without a method hint could not be
// fetched by either resolution strategy
var ErrUnresolvedMethod = errors.New("unable to resolve download method")

const (
	// routingHeader is sent on every direct request
	routingHeaderName  = "X-Client"
	routingHeaderValue = "memories-downloader"

	// backoffBase doubles per attempt up to backoffCeiling
	backoffBase    = time.Second
	backoffCeiling = 32 * time.Second
)

// Engine downloads item payloads into the downloads area
type Engine struct {
	client      *http.Client
	resolver    *Resolver
	gate        *pause.Gate
	store       *state.Store
	journal     *journal.Journal
	events      *progress.Broadcaster
	logger      *slog.Logger
	downloadDir string
	opts        models.RunOptions
}

// New creates a fetch engine. The journal may be nil; telemetry is optional.
func New(gate *pause.Gate, store *state.Store, jrnl *journal.Journal, events *progress.Broadcaster, downloadDir string, opts models.RunOptions) *Engine {
	return &Engine{
		// Per-attempt deadlines come from the context, not the client
		client:      &http.Client{},
		resolver:    NewResolver(),
		gate:        gate,
		store:       store,
		journal:     jrnl,
		events:      events,
		logger:      slog.Default(),
		downloadDir: downloadDir,
		opts:        opts,
	}
}

// FetchAll drives every item through the fetch stage using a bounded worker
// pool. Item failures are isolated: a failed item never stops the others.
func (e *Engine) FetchAll(ctx context.Context, items []*models.Item) {
	e.events.PhaseStarted("download", len(items))

	listener := e.gate.Subscribe(func(paused bool) {
		if paused {
			e.logger.Info("Fetch dispatch paused")
		} else {
			e.logger.Info("Fetch dispatch resumed")
		}
	})
	defer e.gate.Unsubscribe(listener)

	width := e.opts.Concurrency
	if width < 1 {
		width = 1
	}

	work := make(chan *models.Item)
	var wg sync.WaitGroup
	for i := 0; i < width; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				e.fetchItem(ctx, item)
			}
		}()
	}

	for _, item := range items {
		if item.Status == models.StatusSkipped || item.Status == models.StatusFailed {
			continue
		}
		select {
		case work <- item:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(work)
	wg.Wait()

	succeeded, failed := 0, 0
	for _, item := range items {
		switch item.Status {
		case models.StatusFailed:
			failed++
		case models.StatusDownloaded, models.StatusProcessed, models.StatusMetadata, models.StatusDeduped:
			succeeded++
		}
	}
	e.events.StageStats("download", succeeded, failed)
}

// fetchItem retrieves one item with retry and backoff. Each attempt is
// hard-bounded by the configured timeout; the pause gate is consulted before
// the item and again before every retry.
func (e *Engine) fetchItem(ctx context.Context, item *models.Item) {
	if e.alreadyDownloaded(item) {
		e.logger.Debug("Skipping already-downloaded item", "index", item.Index, "path", item.DownloadedPath)
		return
	}

	e.gate.Wait()

	for {
		item.Attempts++
		item.Status = models.StatusDownloading
		e.events.ItemStatusChanged(item.Index, item.Status)

		err := e.fetchOnce(ctx, item)
		if err == nil {
			item.Status = models.StatusDownloaded
			e.events.ItemStatusChanged(item.Index, item.Status)
			e.persistDurable(item)
			e.throttle(ctx)
			return
		}

		item.RecordError(err)
		e.logger.Warn("Fetch attempt failed",
			"index", item.Index,
			"attempt", item.Attempts,
			"error", err)
		e.persist(item)

		if item.Attempts >= e.opts.MaxAttempts || ctx.Err() != nil {
			item.Fail(models.StageDownload, nil)
			e.events.ItemStatusChanged(item.Index, item.Status)
			e.persistDurable(item)
			e.logger.Error("Fetch failed after all attempts", "index", item.Index, "attempts", item.Attempts)
			return
		}

		select {
		case <-ctx.Done():
			item.Fail(models.StageDownload, ctx.Err())
			e.events.ItemStatusChanged(item.Index, item.Status)
			e.persistDurable(item)
			return
		case <-time.After(Backoff(item.Attempts)):
		}
		e.gate.Wait()
	}
}

// Backoff returns the delay before the attempt following `attempts` failed
// tries: doubling per attempt, capped at the ceiling.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := backoffBase << uint(attempts-1)
	if delay > backoffCeiling || delay <= 0 {
		return backoffCeiling
	}
	return delay
}

// alreadyDownloaded reports whether persisted state satisfies the item
// without a network call: the prior run downloaded it and the file is still
// on disk.
func (e *Engine) alreadyDownloaded(item *models.Item) bool {
	if item.DownloadedPath == "" {
		return false
	}
	switch item.Status {
	case models.StatusDownloaded, models.StatusProcessed, models.StatusMetadata, models.StatusDeduped:
	default:
		return false
	}
	_, err := os.Stat(item.DownloadedPath)
	return err == nil
}

func (e *Engine) fetchOnce(ctx context.Context, item *models.Item) error {
	attemptCtx, cancel := context.WithTimeout(ctx, e.opts.AttemptTimeout)
	defer cancel()

	switch item.MethodHint {
	case models.MethodGet:
		return e.download(attemptCtx, item.DownloadURL, item)
	case models.MethodPost:
		target, err := e.resolver.Resolve(attemptCtx, item.DownloadURL)
		if err != nil {
			return err
		}
		return e.download(attemptCtx, target, item)
	default:
		// No hint: direct first, then the indirect exchange once
		directErr := e.download(attemptCtx, item.DownloadURL, item)
		if directErr == nil {
			return nil
		}
		target, indirectErr := e.resolver.Resolve(attemptCtx, item.DownloadURL)
		if indirectErr == nil {
			if indirectErr = e.download(attemptCtx, target, item); indirectErr == nil {
				return nil
			}
		}
		return fmt.Errorf("%w: direct: %v; indirect: %v", ErrUnresolvedMethod, directErr, indirectErr)
	}
}

// download streams the payload to a temp file, sniffs the true type and
// finalizes it under the canonical timestamp-and-type-encoded name.
func (e *Engine) download(ctx context.Context, url string, item *models.Item) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(routingHeaderName, routingHeaderValue)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to start download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	if e.journal != nil {
		if err := e.journal.RecordHost(req.URL.Hostname()); err != nil {
			e.logger.Debug("Failed to record host", "error", err)
		}
		if err := e.journal.RecordContentType(resp.Header.Get("Content-Type")); err != nil {
			e.logger.Debug("Failed to record content type", "error", err)
		}
	}

	if err := os.MkdirAll(e.downloadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	// Unique temp name prevents conflicts between concurrent workers
	tempPath := filepath.Join(e.downloadDir, fmt.Sprintf("item_%05d.tmp", item.Index))
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to stream payload: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// The advertised content type is advisory; magic bytes decide
	sniffed, err := mediatype.DetectFile(tempPath)
	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to sniff payload type: %w", err)
	}
	item.IsArchivePayload = mediatype.IsContainer(sniffed)

	ext := mediatype.InferExtension(
		resp.Header.Get("Content-Disposition"),
		resp.Header.Get("Content-Type"),
		sniffed,
		item.MediaType,
	)
	if item.IsArchivePayload {
		ext = ".zip"
		if sniffed.Is("application/x-rar-compressed") || sniffed.Is("application/vnd.rar") {
			ext = ".rar"
		}
	}

	finalPath := filepath.Join(e.downloadDir, item.CanonicalName()+ext)
	if err := os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("failed to finalize download: %w", err)
	}

	item.DownloadedPath = finalPath
	return nil
}

func (e *Engine) persist(item *models.Item) {
	e.store.Upsert(models.RecordFromItem(item))
}

// persistDurable flushes the table to disk at terminal attempt outcomes so a
// crash between items never loses completed work
func (e *Engine) persistDurable(item *models.Item) {
	e.persist(item)
	if err := e.store.Save(); err != nil {
		e.logger.Warn("Failed to save state incrementally", "index", item.Index, "error", err)
	}
}

func (e *Engine) throttle(ctx context.Context) {
	if e.opts.ThrottleDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(e.opts.ThrottleDelay):
	}
}

// Package progress is the telemetry boundary between the engine and any
// observers driving a UI. The engine emits discrete events and makes no
// assumption that anyone is listening: it functions fully headless.
package progress

import (
	"log/slog"
	"sync"

	"memories-downloader/pkg/models"
)

// Observer receives discrete engine events
type Observer interface {
	PhaseStarted(phase string, total int)
	ItemStatusChanged(index int, status models.ItemStatus)
	StageStats(phase string, succeeded, failed int)
	Warning(index int, message string)
	RunSummary(summary models.RunSummary)
}

// Broadcaster fans engine events out to all registered observers
type Broadcaster struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewBroadcaster creates an empty broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Register adds an observer. Observers are never removed during a run.
func (b *Broadcaster) Register(obs Observer) {
	if obs == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, obs)
}

// PhaseStarted announces a pipeline stage beginning work on total items
func (b *Broadcaster) PhaseStarted(phase string, total int) {
	b.each(func(obs Observer) { obs.PhaseStarted(phase, total) })
}

// ItemStatusChanged announces a per-item status transition
func (b *Broadcaster) ItemStatusChanged(index int, status models.ItemStatus) {
	b.each(func(obs Observer) { obs.ItemStatusChanged(index, status) })
}

// StageStats announces aggregate stage statistics
func (b *Broadcaster) StageStats(phase string, succeeded, failed int) {
	b.each(func(obs Observer) { obs.StageStats(phase, succeeded, failed) })
}

// Warning announces a non-fatal per-item warning
func (b *Broadcaster) Warning(index int, message string) {
	b.each(func(obs Observer) { obs.Warning(index, message) })
}

// RunSummary announces the final run summary
func (b *Broadcaster) RunSummary(summary models.RunSummary) {
	b.each(func(obs Observer) { obs.RunSummary(summary) })
}

func (b *Broadcaster) each(fn func(Observer)) {
	b.mu.RLock()
	observers := make([]Observer, len(b.observers))
	copy(observers, b.observers)
	b.mu.RUnlock()

	for _, obs := range observers {
		fn(obs)
	}
}

// LogObserver mirrors engine events into structured logs
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates an observer writing to the default logger
func NewLogObserver() *LogObserver {
	return &LogObserver{logger: slog.Default()}
}

func (o *LogObserver) PhaseStarted(phase string, total int) {
	o.logger.Info("Phase started", "phase", phase, "items", total)
}

func (o *LogObserver) ItemStatusChanged(index int, status models.ItemStatus) {
	o.logger.Debug("Item status changed", "index", index, "status", status)
}

func (o *LogObserver) StageStats(phase string, succeeded, failed int) {
	o.logger.Info("Stage completed", "phase", phase, "succeeded", succeeded, "failed", failed)
}

func (o *LogObserver) Warning(index int, message string) {
	o.logger.Warn("Item warning", "index", index, "message", message)
}

func (o *LogObserver) RunSummary(summary models.RunSummary) {
	o.logger.Info("Run completed",
		"total", summary.Total,
		"downloaded", summary.Downloaded,
		"processed", summary.Processed,
		"deduped", summary.Deduped,
		"failed", summary.Failed,
		"reattempts", summary.Reattempts,
		"duration", summary.Duration)
}

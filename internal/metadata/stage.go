package metadata

import (
	"context"
	"log/slog"

	"memories-downloader/internal/pause"
	"memories-downloader/internal/progress"
	"memories-downloader/internal/state"
	"memories-downloader/pkg/models"
)

// Stage applies a metadata writer to every finalized item
type Stage struct {
	gate   *pause.Gate
	store  *state.Store
	events *progress.Broadcaster
	writer Writer
	logger *slog.Logger
}

// NewStage creates the metadata embedding stage
func NewStage(gate *pause.Gate, store *state.Store, events *progress.Broadcaster, writer Writer) *Stage {
	return &Stage{
		gate:   gate,
		store:  store,
		events: events,
		writer: writer,
		logger: slog.Default(),
	}
}

// EmbedAll embeds metadata into every composed item. A failure marks the item
// failed at the metadata stage without disturbing the other items.
func (s *Stage) EmbedAll(ctx context.Context, items []*models.Item) {
	s.events.PhaseStarted("metadata", len(items))

	succeeded, failed := 0, 0
	for _, item := range items {
		if item.Status != models.StatusProcessed || item.FinalPath == "" {
			continue
		}

		s.gate.Wait()

		if err := s.writer.Write(ctx, item); err != nil {
			item.Fail(models.StageMetadata, err)
			s.events.ItemStatusChanged(item.Index, item.Status)
			s.store.Upsert(models.RecordFromItem(item))
			s.logger.Error("Metadata embedding failed", "index", item.Index, "error", err)
			failed++
			continue
		}

		item.Status = models.StatusMetadata
		s.events.ItemStatusChanged(item.Index, item.Status)
		s.store.Upsert(models.RecordFromItem(item))
		succeeded++
	}

	s.events.StageStats("metadata", succeeded, failed)
}

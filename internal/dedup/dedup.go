// Package dedup ensures exactly one output instance per logically-distinct
// memory: a cheap semantic-key pass on the source URL, then a content-hash
// pass over the finalized bytes.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"memories-downloader/internal/pause"
	"memories-downloader/internal/progress"
	"memories-downloader/internal/state"
	"memories-downloader/pkg/models"
)

// Deduplicator runs the two-stage duplicate resolution pass
type Deduplicator struct {
	gate          *pause.Gate
	store         *state.Store
	events        *progress.Broadcaster
	logger        *slog.Logger
	quarantineDir string
	policy        models.DuplicatePolicy
}

// New creates a deduplicator applying the configured duplicate policy
func New(gate *pause.Gate, store *state.Store, events *progress.Broadcaster, quarantineDir string, policy models.DuplicatePolicy) *Deduplicator {
	return &Deduplicator{
		gate:          gate,
		store:         store,
		events:        events,
		logger:        slog.Default(),
		quarantineDir: quarantineDir,
		policy:        policy,
	}
}

// DedupAll resolves duplicates item-by-item in stable index order. The first
// occurrence of a URL or content hash is canonical; later occurrences are
// duplicates and handled per policy.
func (d *Deduplicator) DedupAll(items []*models.Item) {
	d.events.PhaseStarted("dedup", len(items))

	ordered := append([]*models.Item(nil), items...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	seenURLs := make(map[string]bool)
	seenHashes := make(map[string]bool)
	duplicates := 0

	for _, item := range ordered {
		// Terminal covers deduped: a restored duplicate from an earlier run
		// must not be re-resolved against a file that may already be gone
		if item.FinalPath == "" || item.Terminal() {
			continue
		}

		d.gate.Wait()

		// Stage 1: semantic key
		if item.DownloadURL != "" && seenURLs[item.DownloadURL] {
			d.markDuplicate(item)
			duplicates++
			continue
		}
		seenURLs[item.DownloadURL] = true

		// Stage 2: content hash
		hash, err := HashFile(item.FinalPath)
		if err != nil {
			d.logger.Warn("Failed to hash finalized file", "index", item.Index, "error", err)
			continue
		}
		if seenHashes[hash] {
			d.markDuplicate(item)
			duplicates++
			continue
		}
		seenHashes[hash] = true

		item.ContentHash = hash
		d.store.Upsert(models.RecordFromItem(item))
	}

	d.events.StageStats("dedup", len(ordered)-duplicates, 0)
}

func (d *Deduplicator) markDuplicate(item *models.Item) {
	item.Status = models.StatusDeduped
	d.events.ItemStatusChanged(item.Index, item.Status)

	switch d.policy {
	case models.DuplicateMove:
		if err := os.MkdirAll(d.quarantineDir, 0o755); err != nil {
			d.logger.Warn("Failed to create quarantine directory", "error", err)
			break
		}
		dest := filepath.Join(d.quarantineDir, filepath.Base(item.FinalPath))
		if err := os.Rename(item.FinalPath, dest); err != nil {
			d.logger.Warn("Failed to quarantine duplicate", "index", item.Index, "error", err)
			break
		}
		item.FinalPath = dest
	case models.DuplicateDelete:
		if err := os.Remove(item.FinalPath); err != nil {
			d.logger.Warn("Failed to delete duplicate", "index", item.Index, "error", err)
		}
	case models.DuplicateNone:
		// status update only
	}

	d.store.Upsert(models.RecordFromItem(item))
	d.logger.Info("Duplicate resolved", "index", item.Index, "policy", d.policy)
}

// HashFile computes the streaming content hash of a file
func HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

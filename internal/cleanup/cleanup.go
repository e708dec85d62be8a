// Package cleanup removes raw download artifacts once their items have been
// finalized, keeping the downloads directory from growing without bound.
package cleanup

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"memories-downloader/pkg/models"
)

// Service purges raw downloads for finalized items
type Service struct {
	logger      *slog.Logger
	downloadDir string
}

// NewService creates a cleanup service scoped to downloadDir
func NewService(downloadDir string) *Service {
	return &Service{
		logger:      slog.Default(),
		downloadDir: downloadDir,
	}
}

// PurgeDownloads deletes the raw downloaded file of every item that reached a
// finalized output. Items still mid-pipeline or failed keep their raw file so
// a later run can resume from it.
func (s *Service) PurgeDownloads(items []*models.Item) error {
	s.logger.Info("Purging raw downloads", "dir", s.downloadDir)

	var deleted int
	var errors []string

	for _, item := range items {
		if item.DownloadedPath == "" || !purgeable(item) {
			continue
		}
		if !s.isPathSafe(item.DownloadedPath) {
			s.logger.Warn("Skipping file outside download directory", "file", item.DownloadedPath)
			continue
		}

		if err := os.Remove(item.DownloadedPath); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			s.logger.Warn("Failed to delete raw download", "file", item.DownloadedPath, "error", err)
			errors = append(errors, fmt.Sprintf("%s: %s", item.DownloadedPath, err.Error()))
			continue
		}

		deleted++
		s.logger.Debug("Deleted raw download", "index", item.Index, "file", item.DownloadedPath)
	}

	s.logger.Info("Purge completed", "deleted", deleted, "errors", len(errors))

	if len(errors) > 0 {
		return fmt.Errorf("purge completed with %d errors: %v", len(errors), errors)
	}
	return nil
}

// purgeable reports whether the item's raw download is safe to delete: its
// output exists under a finalized path, or it was quarantined/removed as a
// duplicate of one that does.
func purgeable(item *models.Item) bool {
	switch item.Status {
	case models.StatusMetadata, models.StatusDeduped:
		return true
	default:
		return false
	}
}

// PruneEmptyDirectories removes empty directories left behind under the
// download directory after a purge.
func (s *Service) PruneEmptyDirectories() error {
	// Collect depth-first so nested empty directories collapse upward
	var dirs []string
	err := filepath.Walk(s.downloadDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path != s.downloadDir && info.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to walk download directory: %w", err)
	}

	for i := len(dirs) - 1; i >= 0; i-- {
		if s.isDirectoryEmpty(dirs[i]) {
			if removeErr := os.Remove(dirs[i]); removeErr != nil {
				s.logger.Warn("Failed to remove empty directory", "directory", dirs[i], "error", removeErr)
			}
		}
	}
	return nil
}

// isPathSafe requires the file to live strictly inside the download directory
func (s *Service) isPathSafe(filePath string) bool {
	absFilePath, err := filepath.Abs(filePath)
	if err != nil {
		return false
	}
	absBasePath, err := filepath.Abs(s.downloadDir)
	if err != nil {
		return false
	}
	return strings.HasPrefix(absFilePath, absBasePath+string(os.PathSeparator)) && absFilePath != absBasePath
}

func (s *Service) isDirectoryEmpty(dirPath string) bool {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return false
	}
	return len(entries) == 0
}

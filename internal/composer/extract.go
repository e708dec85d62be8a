package composer

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nwaples/rardecode"
)

// extract unpacks a container payload into destDir, flattening any internal
// directory structure. Returns the extracted file paths in archive order.
func (c *Composer) extract(archivePath, destDir string) ([]string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create extraction directory: %w", err)
	}

	switch strings.ToLower(filepath.Ext(archivePath)) {
	case ".zip":
		return c.extractZip(archivePath, destDir)
	case ".rar":
		return c.extractRar(archivePath, destDir)
	default:
		return nil, fmt.Errorf("unsupported container format: %s", filepath.Ext(archivePath))
	}
}

func (c *Composer) extractZip(archivePath, destDir string) ([]string, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open container: %w", err)
	}
	defer reader.Close()

	var extracted []string
	for _, file := range reader.File {
		if file.FileInfo().IsDir() {
			continue
		}

		filename := filepath.Base(file.Name)
		// Guard against directory traversal in entry names
		if strings.Contains(filename, "..") || strings.ContainsRune(filename, os.PathSeparator) {
			c.logger.Warn("Skipping container entry with unsafe name", "entry", file.Name)
			continue
		}

		fullPath := filepath.Join(destDir, filename)
		entry, err := file.Open()
		if err != nil {
			c.logger.Warn("Failed to open container entry", "entry", file.Name, "error", err)
			continue
		}
		if err := writeExtracted(entry, fullPath, file.FileInfo().Mode()); err != nil {
			entry.Close()
			c.logger.Warn("Failed to extract container entry", "entry", file.Name, "error", err)
			continue
		}
		entry.Close()
		extracted = append(extracted, fullPath)
	}

	return extracted, nil
}

func (c *Composer) extractRar(archivePath, destDir string) ([]string, error) {
	reader, err := rardecode.OpenReader(archivePath, "")
	if err != nil {
		return nil, fmt.Errorf("failed to open container: %w", err)
	}
	defer reader.Close()

	var extracted []string
	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return extracted, fmt.Errorf("failed to read container entry: %w", err)
		}
		if header.IsDir {
			continue
		}

		filename := filepath.Base(header.Name)
		if strings.Contains(filename, "..") || strings.ContainsRune(filename, os.PathSeparator) {
			c.logger.Warn("Skipping container entry with unsafe name", "entry", header.Name)
			continue
		}

		fullPath := filepath.Join(destDir, filename)
		if err := writeExtracted(reader, fullPath, header.Mode()); err != nil {
			c.logger.Warn("Failed to extract container entry", "entry", header.Name, "error", err)
			continue
		}
		extracted = append(extracted, fullPath)
	}

	return extracted, nil
}

func writeExtracted(src io.Reader, destPath string, mode os.FileMode) error {
	writer, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create extracted file: %w", err)
	}
	defer writer.Close()

	if _, err := io.Copy(writer, src); err != nil {
		return fmt.Errorf("failed to copy extracted contents: %w", err)
	}
	return nil
}

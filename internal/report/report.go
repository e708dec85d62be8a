// Package report renders the end-of-run artifacts: a JSON summary document,
// a flat CSV listing and a diagnostics bundle suitable for attaching to a
// support request.
package report

import (
	"archive/zip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"memories-downloader/pkg/models"
)

// Reporter writes run reports into a single directory
type Reporter struct {
	dir    string
	logger *slog.Logger
}

// New creates a reporter writing into dir
func New(dir string) *Reporter {
	return &Reporter{dir: dir, logger: slog.Default()}
}

// Document is the persisted JSON report shape
type Document struct {
	RunID       string            `json:"run_id"`
	GeneratedAt time.Time         `json:"generated_at"`
	Options     models.RunOptions `json:"options"`
	Summary     models.RunSummary `json:"summary"`
	Items       []ItemRow         `json:"items"`
}

// ItemRow is the per-item report entry
type ItemRow struct {
	Index        int      `json:"index"`
	CapturedAt   string   `json:"captured_at"`
	MediaType    string   `json:"media_type"`
	Status       string   `json:"status"`
	FailureStage string   `json:"failure_stage,omitempty"`
	Attempts     int      `json:"attempts"`
	FinalPath    string   `json:"final_path,omitempty"`
	ContentHash  string   `json:"content_hash,omitempty"`
	SizeBytes    int64    `json:"size_bytes,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// WriteSummary writes the JSON report and the CSV listing. It returns the
// path of the JSON report.
func (r *Reporter) WriteSummary(summary models.RunSummary, opts models.RunOptions, items []*models.Item) (string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	doc := Document{
		RunID:       summary.RunID,
		GeneratedAt: time.Now().UTC(),
		Options:     opts,
		Summary:     summary,
		Items:       buildRows(items),
	}

	jsonPath := filepath.Join(r.dir, reportName(summary.RunID, "json"))
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	csvPath := filepath.Join(r.dir, reportName(summary.RunID, "csv"))
	if err := writeCSV(csvPath, doc.Items); err != nil {
		return "", err
	}

	r.logger.Info("Report written", "path", jsonPath)
	return jsonPath, nil
}

func buildRows(items []*models.Item) []ItemRow {
	rows := make([]ItemRow, 0, len(items))
	for _, item := range items {
		row := ItemRow{
			Index:        item.Index,
			CapturedAt:   item.CapturedAt.UTC().Format(time.RFC3339),
			MediaType:    string(item.MediaType),
			Status:       string(item.Status),
			FailureStage: string(item.FailureStage),
			Attempts:     item.Attempts,
			FinalPath:    item.FinalPath,
			ContentHash:  item.ContentHash,
			Errors:       item.Errors,
		}
		if item.FinalPath != "" {
			if info, err := os.Stat(item.FinalPath); err == nil {
				row.SizeBytes = info.Size()
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func writeCSV(path string, rows []ItemRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV report: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{"index", "captured_at", "media_type", "status", "failure_stage", "attempts", "final_path", "content_hash", "size_bytes", "errors"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			strconv.Itoa(row.Index),
			row.CapturedAt,
			row.MediaType,
			row.Status,
			row.FailureStage,
			strconv.Itoa(row.Attempts),
			row.FinalPath,
			row.ContentHash,
			strconv.FormatInt(row.SizeBytes, 10),
			strings.Join(row.Errors, "; "),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// RenderTable renders a human-readable summary table for the log
func RenderTable(summary models.RunSummary, items []*models.Item) string {
	var totalBytes int64
	for _, item := range items {
		if item.FinalPath == "" {
			continue
		}
		if info, err := os.Stat(item.FinalPath); err == nil {
			totalBytes += info.Size()
		}
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Total items", summary.Total},
		{"Downloaded", summary.Downloaded},
		{"Processed", summary.Processed},
		{"Metadata written", summary.MetadataWritten},
		{"Deduplicated", summary.Deduped},
		{"Failed", summary.Failed},
		{"Skipped", summary.Skipped},
		{"Reattempts", summary.Reattempts},
		{"Output size", humanize.Bytes(uint64(totalBytes))},
		{"Duration", summary.Duration.Round(time.Millisecond).String()},
	})
	for stage, count := range summary.FailuresByStage {
		t.AppendRow(table.Row{"Failures: " + string(stage), count})
	}
	return t.Render()
}

// WriteDiagnosticsBundle zips the run's report files together with any of the
// extra paths that exist (state file, journal database, log file). Missing
// extras are skipped silently: the bundle is best-effort.
func (r *Reporter) WriteDiagnosticsBundle(runID string, extraPaths ...string) (string, error) {
	bundlePath := filepath.Join(r.dir, fmt.Sprintf("diagnostics-%s.zip", runID))
	file, err := os.Create(bundlePath)
	if err != nil {
		return "", fmt.Errorf("failed to create diagnostics bundle: %w", err)
	}
	defer file.Close()

	zw := zip.NewWriter(file)

	candidates := append([]string{
		filepath.Join(r.dir, reportName(runID, "json")),
		filepath.Join(r.dir, reportName(runID, "csv")),
	}, extraPaths...)

	for _, path := range candidates {
		if path == "" {
			continue
		}
		if err := addToBundle(zw, path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
	}

	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize diagnostics bundle: %w", err)
	}
	r.logger.Info("Diagnostics bundle written", "path", bundlePath)
	return bundlePath, nil
}

func addToBundle(zw *zip.Writer, path string) error {
	source, err := os.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()

	entry, err := zw.Create(filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to add %s to bundle: %w", filepath.Base(path), err)
	}
	if _, err := io.Copy(entry, source); err != nil {
		return fmt.Errorf("failed to copy %s into bundle: %w", filepath.Base(path), err)
	}
	return nil
}

func reportName(runID, ext string) string {
	return fmt.Sprintf("report-%s.%s", runID, ext)
}

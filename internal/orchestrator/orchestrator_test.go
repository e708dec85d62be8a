package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/require"

	"memories-downloader/internal/config"
	"memories-downloader/internal/metadata"
	"memories-downloader/internal/state"
	"memories-downloader/pkg/models"
)

type fakeWriter struct{ calls int }

func (f *fakeWriter) Write(ctx context.Context, item *models.Item) error {
	f.calls++
	return nil
}

func testConfig(t *testing.T, exportPath string) *config.Config {
	t.Helper()
	return &config.Config{
		OutputRoot:      filepath.Join(t.TempDir(), "out"),
		ExportPath:      exportPath,
		LogLevel:        "info",
		DownloadsDir:    "downloads",
		MediaDir:        "media",
		DuplicatesDir:   "duplicates",
		FailuresDir:     "failures",
		FFmpegBin:       "ffmpeg",
		FFprobeBin:      "ffprobe",
		ExifToolBin:     "exiftool",
		Concurrency:     2,
		MaxAttempts:     2,
		DuplicatePolicy: "move",
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func writeHTMLExport(t *testing.T, urls ...string) string {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("<html><body>\n")
	for _, url := range urls {
		fmt.Fprintf(&buf, "<a href=%q>image</a>\n", url)
	}
	buf.WriteString("</body></html>\n")

	path := filepath.Join(t.TempDir(), "memories_history.html")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func writeJSONExport(t *testing.T, entries int) string {
	t.Helper()
	export := map[string]any{"Saved Media": []map[string]string{}}
	media := make([]map[string]string, 0, entries)
	for i := 0; i < entries; i++ {
		media = append(media, map[string]string{
			"Date":          fmt.Sprintf("2021-06-15 09:30:%02d UTC", i),
			"Media Type":    "Image",
			"Download Link": fmt.Sprintf("https://export.example.com/item/%d?sig=x", i),
		})
	}
	export["Saved Media"] = media

	data, err := json.Marshal(export)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "memories_history.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestRun_EndToEnd(t *testing.T) {
	payload := pngBytes(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	cfg := testConfig(t, writeHTMLExport(t, server.URL+"/a.png"))
	orch := New(cfg)
	writer := &fakeWriter{}
	orch.SetMetadataWriter(writer)

	summary, err := orch.Run(context.Background(), models.DefaultRunOptions())
	require.NoError(t, err)

	require.Equal(t, 1, summary.Total)
	require.Equal(t, 1, summary.Downloaded)
	require.Equal(t, 1, summary.Processed)
	require.Equal(t, 1, summary.MetadataWritten)
	require.Zero(t, summary.Failed)
	require.Equal(t, 1, writer.calls)

	require.NotEmpty(t, summary.ReportPath)
	require.FileExists(t, summary.ReportPath)
	require.FileExists(t, filepath.Join(cfg.OutputRoot, state.FileName))

	// Exactly one finalized file landed in the media directory
	entries, err := os.ReadDir(cfg.MediaPath())
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRun_SecondProcessIsRejected(t *testing.T) {
	cfg := testConfig(t, writeJSONExport(t, 1))
	require.NoError(t, os.MkdirAll(cfg.OutputRoot, 0o755))

	other := flock.New(filepath.Join(cfg.OutputRoot, lockFileName))
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer func() { _ = other.Unlock() }()

	_, err = New(cfg).Run(context.Background(), models.DefaultRunOptions())
	require.ErrorIs(t, err, ErrRunActive)
}

func TestRun_DryRunPerformsNoWork(t *testing.T) {
	cfg := testConfig(t, writeJSONExport(t, 3))

	opts := models.DefaultRunOptions()
	opts.DryRun = true
	summary, err := New(cfg).Run(context.Background(), opts)
	require.NoError(t, err)

	require.Equal(t, 3, summary.Total)
	require.Zero(t, summary.Downloaded)
	require.NoFileExists(t, filepath.Join(cfg.OutputRoot, state.FileName))
	require.NoDirExists(t, cfg.DownloadsPath())
}

func TestRun_RetryOnlySkipsNonFailed(t *testing.T) {
	cfg := testConfig(t, writeJSONExport(t, 3))

	// Seed persisted progress: item 0 finalized, item 1 failed, item 2 untouched
	store := state.NewStore(cfg.OutputRoot)
	store.Upsert(&models.PersistedRecord{Index: 0, Status: models.StatusMetadata, FinalPath: "/out/a.jpg"})
	store.Upsert(&models.PersistedRecord{Index: 1, Status: models.StatusFailed, FailureStage: models.StageDownload, Attempts: 3})
	require.NoError(t, store.Save())

	opts := models.DefaultRunOptions()
	opts.RetryFailedOnly = true
	opts.DryRun = true
	summary, err := New(cfg).Run(context.Background(), opts)
	require.NoError(t, err)

	// Finalized and never-attempted items are skipped; the failed one is
	// re-admitted as pending with a fresh attempt budget.
	require.Equal(t, 2, summary.Skipped)
	require.Zero(t, summary.Failed)
	require.Zero(t, summary.Reattempts)
}

func TestRun_VerifyOnlyAdoptsExistingOutputs(t *testing.T) {
	cfg := testConfig(t, writeJSONExport(t, 1))

	// A prior run left a finalized file named by the canonical stem
	require.NoError(t, os.MkdirAll(cfg.MediaPath(), 0o755))
	final := filepath.Join(cfg.MediaPath(), "20210615_093000_image_00000.png")
	require.NoError(t, os.WriteFile(final, pngBytes(t), 0o644))

	opts := models.DefaultRunOptions()
	opts.VerifyOnly = true
	summary, err := New(cfg).Run(context.Background(), opts)
	require.NoError(t, err)
	require.Zero(t, summary.Failed)

	// Verification recorded the content hash durably
	reloaded := state.NewStore(cfg.OutputRoot)
	reloaded.Load()
	record := reloaded.Get(0)
	require.NotNil(t, record)
	require.NotEmpty(t, record.ContentHash)
}

func TestRun_UnreadableExportFailsFast(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "missing.json"))

	_, err := New(cfg).Run(context.Background(), models.DefaultRunOptions())
	require.Error(t, err)
}

var _ metadata.Writer = (*fakeWriter)(nil)

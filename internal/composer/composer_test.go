package composer

import (
	"archive/zip"
	"bytes"
	"context"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"memories-downloader/internal/pause"
	"memories-downloader/internal/progress"
	"memories-downloader/internal/state"
	"memories-downloader/pkg/models"
)

func encodeJPEG(t *testing.T, width, height int, fill color.Color) []byte {
	t.Helper()
	img := imaging.New(width, height, fill)
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func encodePNG(t *testing.T, width, height int, fill color.Color) []byte {
	t.Helper()
	img := imaging.New(width, height, fill)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writeZip(t *testing.T, path string, entries map[string][]byte) {
	t.Helper()
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()

	writer := zip.NewWriter(file)
	for name, data := range entries {
		entry, err := writer.Create(name)
		require.NoError(t, err)
		_, err = entry.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
}

func newComposer(t *testing.T) (*Composer, string, string) {
	t.Helper()
	root := t.TempDir()
	outputDir := filepath.Join(root, "media")
	failureDir := filepath.Join(root, "failures")
	c := New(pause.NewGate(), state.NewStore(root), nil, progress.NewBroadcaster(), outputDir, failureDir)
	return c, outputDir, failureDir
}

func imageItem(index int, downloaded string, archive bool) *models.Item {
	return &models.Item{
		Index:            index,
		Status:           models.StatusDownloaded,
		MediaType:        models.MediaImage,
		CapturedAt:       time.Date(2021, 6, 15, 9, 30, 5, 0, time.UTC),
		DownloadedPath:   downloaded,
		IsArchivePayload: archive,
	}
}

func TestComposer_PlainPayloadCopied(t *testing.T) {
	c, outputDir, _ := newComposer(t)
	dir := t.TempDir()

	downloaded := filepath.Join(dir, "raw")
	require.NoError(t, os.WriteFile(downloaded, encodeJPEG(t, 8, 8, color.White), 0o644))

	item := imageItem(0, downloaded, false)
	c.ComposeAll(context.Background(), []*models.Item{item})

	require.Equal(t, models.StatusProcessed, item.Status)
	require.Equal(t, filepath.Join(outputDir, "20210615_093005_image_00000.jpg"), item.FinalPath)
	require.FileExists(t, item.FinalPath)
}

func TestComposer_PlainPayloadCorrectsMediaType(t *testing.T) {
	c, _, _ := newComposer(t)
	dir := t.TempDir()

	// Export claimed video, payload is actually a still image
	downloaded := filepath.Join(dir, "raw")
	require.NoError(t, os.WriteFile(downloaded, encodePNG(t, 4, 4, color.White), 0o644))

	item := imageItem(1, downloaded, false)
	item.MediaType = models.MediaVideo

	c.ComposeAll(context.Background(), []*models.Item{item})

	require.Equal(t, models.StatusProcessed, item.Status)
	require.Equal(t, models.MediaImage, item.MediaType)
	require.Contains(t, filepath.Base(item.FinalPath), "_image_")
}

func TestComposer_ContainerImageWithOverlays(t *testing.T) {
	c, _, _ := newComposer(t)
	dir := t.TempDir()

	// Base 8x8 white photo, one full-size overlay, one mismatched-size
	// overlay, and one empty (invalid) overlay that must be discarded
	archivePath := filepath.Join(dir, "payload.zip")
	writeZip(t, archivePath, map[string][]byte{
		"media~base.jpg":      encodeJPEG(t, 8, 8, color.White),
		"overlay~caption.png": encodePNG(t, 8, 8, color.NRGBA{R: 255, A: 255}),
		"overlay~sticker.png": encodePNG(t, 16, 16, color.NRGBA{B: 255, A: 128}),
		"overlay~broken.png":  {},
	})

	item := imageItem(2, archivePath, true)
	c.ComposeAll(context.Background(), []*models.Item{item})

	require.Equal(t, models.StatusProcessed, item.Status)
	require.Equal(t, models.MediaImage, item.MediaType)
	require.FileExists(t, item.FinalPath)
	require.Equal(t, ".jpg", filepath.Ext(item.FinalPath))

	// Composite keeps the base dimensions
	out, err := imaging.Open(item.FinalPath)
	require.NoError(t, err)
	require.Equal(t, 8, out.Bounds().Dx())
	require.Equal(t, 8, out.Bounds().Dy())
}

func TestComposer_ContainerWithoutOverlaysIsCopied(t *testing.T) {
	c, _, _ := newComposer(t)
	dir := t.TempDir()

	baseBytes := encodeJPEG(t, 6, 6, color.White)
	archivePath := filepath.Join(dir, "payload.zip")
	writeZip(t, archivePath, map[string][]byte{"media.jpg": baseBytes})

	item := imageItem(3, archivePath, true)
	c.ComposeAll(context.Background(), []*models.Item{item})

	require.Equal(t, models.StatusProcessed, item.Status)

	// No re-encode: output bytes match the base exactly
	out, err := os.ReadFile(item.FinalPath)
	require.NoError(t, err)
	require.Equal(t, baseBytes, out)
}

func TestComposer_CorruptContainerArchivesFailure(t *testing.T) {
	c, _, failureDir := newComposer(t)
	dir := t.TempDir()

	archivePath := filepath.Join(dir, "payload.zip")
	require.NoError(t, os.WriteFile(archivePath, []byte("not actually a zip"), 0o644))

	item := imageItem(4, archivePath, true)
	c.ComposeAll(context.Background(), []*models.Item{item})

	require.Equal(t, models.StatusFailed, item.Status)
	require.Equal(t, models.StageComposition, item.FailureStage)
	require.NotEmpty(t, item.Errors)

	// The failure descriptor is preserved for forensic inspection
	require.FileExists(t, filepath.Join(failureDir, "item_00004", "failure.json"))
}

func TestComposer_SkipsItemsNotDownloaded(t *testing.T) {
	c, _, _ := newComposer(t)

	failed := &models.Item{Index: 5, Status: models.StatusFailed}
	pending := &models.Item{Index: 6, Status: models.StatusPending}
	c.ComposeAll(context.Background(), []*models.Item{failed, pending})

	require.Equal(t, models.StatusFailed, failed.Status)
	require.Equal(t, models.StatusPending, pending.Status)
}

func TestSelectBase(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, size int) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0}, size), 0o644))
		return path
	}

	video := write("clip.mp4", 100)
	photo := write("photo.jpg", 50)
	overlay := write("overlay.png", 300)

	files := []string{overlay, photo, video}

	// Extension match wins over size
	require.Equal(t, video, selectBase(files, models.MediaVideo))
	require.Equal(t, photo, selectBase(files, models.MediaImage))

	// No kind match: fall back to the largest file
	require.Equal(t, overlay, selectBase([]string{overlay, write("small.dat", 10)}, models.MediaImage))
}

func TestValidateOverlay(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "ok.png")
	require.NoError(t, os.WriteFile(valid, encodePNG(t, 2, 2, color.NRGBA{A: 255}), 0o644))
	overlay, err := validateOverlay(valid)
	require.NoError(t, err)
	require.NotNil(t, overlay.Image)

	empty := filepath.Join(dir, "empty.png")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = validateOverlay(empty)
	require.Error(t, err)

	garbage := filepath.Join(dir, "garbage.png")
	require.NoError(t, os.WriteFile(garbage, []byte("nope"), 0o644))
	_, err = validateOverlay(garbage)
	require.Error(t, err)
}

func TestEncodableImageExt(t *testing.T) {
	require.Equal(t, ".jpg", encodableImageExt("/x/base.jpeg"))
	require.Equal(t, ".png", encodableImageExt("/x/base.png"))
	require.Equal(t, ".jpg", encodableImageExt("/x/base.heic"))
}

package verify

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"memories-downloader/internal/dedup"
	"memories-downloader/internal/pause"
	"memories-downloader/internal/progress"
	"memories-downloader/internal/state"
	"memories-downloader/pkg/models"
)

func newVerifier(t *testing.T) *Verifier {
	t.Helper()
	return New(pause.NewGate(), state.NewStore(t.TempDir()), progress.NewBroadcaster(), "")
}

func pngContent(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 3, 3))))
	return buf.Bytes()
}

func writePNGFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, pngContent(t), 0o644))
	return path
}

func TestVerify_ValidImagePasses(t *testing.T) {
	v := newVerifier(t)
	path := writePNGFile(t, t.TempDir(), "a.png")

	item := &models.Item{Index: 0, Status: models.StatusMetadata, MediaType: models.MediaImage, FinalPath: path}
	v.VerifyAll(context.Background(), []*models.Item{item})

	require.Equal(t, models.StatusMetadata, item.Status)
	require.NotEmpty(t, item.ContentHash)
}

func TestVerify_MissingFileFails(t *testing.T) {
	v := newVerifier(t)

	item := &models.Item{Index: 0, Status: models.StatusMetadata, MediaType: models.MediaImage, FinalPath: "/nonexistent/a.png"}
	v.VerifyAll(context.Background(), []*models.Item{item})

	require.Equal(t, models.StatusFailed, item.Status)
	require.Equal(t, models.StageVerification, item.FailureStage)
}

func TestVerify_EmptyFileFails(t *testing.T) {
	v := newVerifier(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.png")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	item := &models.Item{Index: 0, Status: models.StatusMetadata, MediaType: models.MediaImage, FinalPath: path}
	v.VerifyAll(context.Background(), []*models.Item{item})

	require.Equal(t, models.StatusFailed, item.Status)
}

func TestVerify_KindMismatchFails(t *testing.T) {
	v := newVerifier(t)
	path := writePNGFile(t, t.TempDir(), "a.png")

	// Recorded as video, actual payload is a still image
	item := &models.Item{Index: 0, Status: models.StatusMetadata, MediaType: models.MediaVideo, FinalPath: path}
	v.VerifyAll(context.Background(), []*models.Item{item})

	require.Equal(t, models.StatusFailed, item.Status)
	require.Equal(t, models.StageVerification, item.FailureStage)
	require.Contains(t, item.Errors[0], "contradicts")
}

func TestVerify_HashDriftFails(t *testing.T) {
	v := newVerifier(t)
	path := writePNGFile(t, t.TempDir(), "a.png")

	item := &models.Item{
		Index:       0,
		Status:      models.StatusMetadata,
		MediaType:   models.MediaImage,
		FinalPath:   path,
		ContentHash: "deadbeef",
	}
	v.VerifyAll(context.Background(), []*models.Item{item})

	require.Equal(t, models.StatusFailed, item.Status)
	require.Contains(t, item.Errors[0], "drifted")
}

func TestVerify_StableHashPasses(t *testing.T) {
	v := newVerifier(t)
	path := writePNGFile(t, t.TempDir(), "a.png")

	hash, err := dedup.HashFile(path)
	require.NoError(t, err)

	item := &models.Item{
		Index:       0,
		Status:      models.StatusMetadata,
		MediaType:   models.MediaImage,
		FinalPath:   path,
		ContentHash: hash,
	}
	v.VerifyAll(context.Background(), []*models.Item{item})

	require.Equal(t, models.StatusMetadata, item.Status)
}

func TestVerify_SkipsFailedAndUnfinalized(t *testing.T) {
	v := newVerifier(t)

	failed := &models.Item{Index: 0, Status: models.StatusFailed, FailureStage: models.StageDownload}
	pending := &models.Item{Index: 1, Status: models.StatusPending}
	v.VerifyAll(context.Background(), []*models.Item{failed, pending})

	// The download failure attribution is preserved
	require.Equal(t, models.StageDownload, failed.FailureStage)
	require.Equal(t, models.StatusPending, pending.Status)
}

func TestVerify_DeletedDuplicateStaysDeduped(t *testing.T) {
	dir := t.TempDir()
	content := pngContent(t)
	canonical := filepath.Join(dir, "a.png")
	duplicate := filepath.Join(dir, "b.png")
	require.NoError(t, os.WriteFile(canonical, content, 0o644))
	require.NoError(t, os.WriteFile(duplicate, content, 0o644))

	first := &models.Item{Index: 0, Status: models.StatusMetadata, MediaType: models.MediaImage, DownloadURL: "u1", FinalPath: canonical}
	second := &models.Item{Index: 1, Status: models.StatusMetadata, MediaType: models.MediaImage, DownloadURL: "u2", FinalPath: duplicate}

	gate := pause.NewGate()
	store := state.NewStore(t.TempDir())
	events := progress.NewBroadcaster()
	dedup.New(gate, store, events, filepath.Join(dir, "duplicates"), models.DuplicateDelete).DedupAll([]*models.Item{first, second})
	require.Equal(t, models.StatusDeduped, second.Status)
	require.NoFileExists(t, duplicate)

	New(gate, store, events, "").VerifyAll(context.Background(), []*models.Item{first, second})

	// Exactly one item retains a non-deduped status; the duplicate's
	// removed file must not be re-judged as a verification failure.
	require.Equal(t, models.StatusMetadata, first.Status)
	require.Equal(t, models.StatusDeduped, second.Status)
	require.Empty(t, second.Errors)
}

func TestProbeImage_CorruptImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	require.Error(t, probeImage(path))
}

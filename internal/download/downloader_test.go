package download_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vidconv/internal/blobstore"
	"vidconv/internal/download"
	"vidconv/internal/logging"
	"vidconv/internal/queue"
)

type stubRemote struct {
	task   *queue.Task
	marked []string
}

func (s *stubRemote) Task(context.Context, string) (*queue.Task, error) {
	return s.task, nil
}

func (s *stubRemote) MarkDownloaded(_ context.Context, _ string, fileID string) error {
	s.marked = append(s.marked, fileID)
	return nil
}

// wrongETag reports a checksum that never matches.
type wrongETag struct {
	*blobstore.Local
}

func (w wrongETag) Stat(ctx context.Context, key string) (*blobstore.ObjectInfo, error) {
	info, err := w.Local.Stat(ctx, key)
	if info != nil {
		info.ETag = "00000000000000000000000000000000"
	}
	return info, err
}

const outputKey = "output/t1/f1/movie_h265.mp4"

func setup(t *testing.T, content []byte) (*blobstore.Local, *stubRemote, *download.Tracker, string) {
	t.Helper()
	blobs, err := blobstore.NewLocal(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	if err := blobs.Put(context.Background(), outputKey, bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("Put: %v", err)
	}
	remote := &stubRemote{task: &queue.Task{
		ID:     "t1",
		Status: queue.TaskPartiallyCompleted,
		Files: []queue.File{
			{TaskID: "t1", ID: "f1", Filename: "movie.mov", Status: queue.FileCompleted, OutputKey: outputKey, DownloadAvailable: true},
			{TaskID: "t1", ID: "f2", Filename: "broken.mov", Status: queue.FileFailed},
		},
	}}
	return blobs, remote, openTracker(t), filepath.Join(t.TempDir(), "out")
}

func plenty(string) (uint64, error) { return 1 << 40, nil }

func TestDownloadFetchesVerifiesAndCleansUp(t *testing.T) {
	content := bytes.Repeat([]byte("frame"), 4096)
	blobs, remote, tracker, outDir := setup(t, content)
	d := download.NewDownloader(blobs, remote, tracker, outDir, logging.NewNop(), download.WithFreeSpace(plenty))

	result, err := d.Download(context.Background(), "t1", true)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !result.Success || result.Downloaded != 1 || result.TotalFiles != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	fr := result.Files[0]
	if !fr.ChecksumVerified || fr.Resumed {
		t.Fatalf("unexpected file result: %+v", fr)
	}
	got, err := os.ReadFile(filepath.Join(outDir, "movie_h265.mp4"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatal("downloaded content differs")
	}
	if len(remote.marked) != 1 || remote.marked[0] != "f1" {
		t.Fatalf("marked = %v", remote.marked)
	}
	if info, _ := blobs.Stat(context.Background(), outputKey); info != nil {
		t.Fatal("remote output should be deleted")
	}
	if tracker.Get("t1", "f1") != nil {
		t.Fatal("progress should be cleared")
	}
}

func TestDownloadResumesFromStagingFile(t *testing.T) {
	content := []byte(strings.Repeat("0123456789", 100))
	blobs, remote, tracker, outDir := setup(t, content)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}
	tempPath := filepath.Join(outDir, ".movie_h265.mp4.tmp")
	if err := os.WriteFile(tempPath, content[:300], 0o644); err != nil {
		t.Fatal(err)
	}
	if err := tracker.Save(download.Record{TaskID: "t1", FileID: "f1", TotalBytes: int64(len(content)), DownloadedBytes: 300, TempPath: tempPath, Key: outputKey}); err != nil {
		t.Fatal(err)
	}

	var lastPercent int
	d := download.NewDownloader(blobs, remote, tracker, outDir, logging.NewNop(),
		download.WithFreeSpace(plenty),
		download.WithProgress(func(_ string, percent int, _, _ int64) { lastPercent = percent }),
	)
	result, err := d.Download(context.Background(), "t1", true)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !result.Success || !result.Files[0].Resumed {
		t.Fatalf("expected resumed success, got %+v", result)
	}
	if lastPercent != 100 {
		t.Fatalf("last percent = %d", lastPercent)
	}
	got, _ := os.ReadFile(filepath.Join(outDir, "movie_h265.mp4"))
	if !bytes.Equal(got, content) {
		t.Fatal("resumed content differs")
	}
}

func TestDownloadLogsProgressSaveFailures(t *testing.T) {
	content := []byte("payload")
	blobs, remote, tracker, outDir := setup(t, content)
	// A directory in place of the progress file makes every save fail.
	if err := os.MkdirAll(tracker.Path(), 0o755); err != nil {
		t.Fatal(err)
	}
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	d := download.NewDownloader(blobs, remote, tracker, outDir, logger, download.WithFreeSpace(plenty))

	result, err := d.Download(context.Background(), "t1", true)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !result.Success || result.Downloaded != 1 {
		t.Fatalf("download should survive progress save failures, got %+v", result)
	}
	if !strings.Contains(logs.String(), "download_progress_save_failed") {
		t.Fatalf("expected save failure to be logged, got:\n%s", logs.String())
	}
}

func TestDownloadFailsAfterRepeatedChecksumMismatch(t *testing.T) {
	blobs, remote, tracker, outDir := setup(t, []byte("payload"))
	d := download.NewDownloader(wrongETag{blobs}, remote, tracker, outDir, logging.NewNop(), download.WithFreeSpace(plenty))

	result, err := d.Download(context.Background(), "t1", true)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if result.Success || result.Failed != 1 {
		t.Fatalf("expected failure, got %+v", result)
	}
	if !strings.Contains(result.Files[0].ErrorMessage, "checksum") {
		t.Fatalf("unexpected message %q", result.Files[0].ErrorMessage)
	}
	if len(remote.marked) != 0 {
		t.Fatal("failed download must not be marked")
	}
	if info, _ := blobs.Stat(context.Background(), outputKey); info == nil {
		t.Fatal("remote output must be kept after failure")
	}
}

func TestDownloadRejectsUnfinishedTask(t *testing.T) {
	blobs, remote, tracker, outDir := setup(t, []byte("payload"))
	remote.task.Status = queue.TaskConverting
	d := download.NewDownloader(blobs, remote, tracker, outDir, logging.NewNop(), download.WithFreeSpace(plenty))

	result, err := d.Download(context.Background(), "t1", true)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if result.Success || !strings.Contains(result.ErrorMessage, "not ready") {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestDownloadSkipsAlreadyDownloadedFiles(t *testing.T) {
	blobs, remote, tracker, outDir := setup(t, []byte("payload"))
	now := time.Now()
	remote.task.Files[0].DownloadedAt = &now
	d := download.NewDownloader(blobs, remote, tracker, outDir, logging.NewNop(), download.WithFreeSpace(plenty))

	result, err := d.Download(context.Background(), "t1", true)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if result.Success || result.ErrorMessage != "no files available for download" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestDownloadChecksFreeSpace(t *testing.T) {
	blobs, remote, tracker, outDir := setup(t, []byte("payload"))
	d := download.NewDownloader(blobs, remote, tracker, outDir, logging.NewNop(),
		download.WithFreeSpace(func(string) (uint64, error) { return 2, nil }))

	result, err := d.Download(context.Background(), "t1", true)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !strings.Contains(result.ErrorMessage, "insufficient disk space") {
		t.Fatalf("unexpected result: %+v", result)
	}
}

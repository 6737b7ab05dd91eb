package download_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"vidconv/internal/download"
	"vidconv/internal/logging"
	"vidconv/internal/queue"
)

func openTracker(t *testing.T) *download.Tracker {
	t.Helper()
	tracker, err := download.OpenTracker(filepath.Join(t.TempDir(), "cache", "download_progress.json"), logging.NewNop())
	if err != nil {
		t.Fatalf("OpenTracker: %v", err)
	}
	return tracker
}

func TestTrackerPersistsAcrossReopen(t *testing.T) {
	tracker := openTracker(t)
	rec := download.Record{TaskID: "t1", FileID: "f1", TotalBytes: 100, DownloadedBytes: 40, Key: "output/t1/f1/a_h265.mp4"}
	if err := tracker.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := download.OpenTracker(tracker.Path(), logging.NewNop())
	if err != nil {
		t.Fatalf("OpenTracker: %v", err)
	}
	got := reopened.Get("t1", "f1")
	if got == nil {
		t.Fatal("expected saved record")
	}
	if got.DownloadedBytes != 40 || got.Percent() != 40 || got.LastUpdated.IsZero() {
		t.Fatalf("unexpected record: %+v", got)
	}
	if reopened.Get("t1", "missing") != nil {
		t.Fatal("expected nil for unknown file")
	}
}

func TestTrackerClearPrunesEmptyTasks(t *testing.T) {
	tracker := openTracker(t)
	_ = tracker.Save(download.Record{TaskID: "t1", FileID: "f1", TotalBytes: 10})
	_ = tracker.Save(download.Record{TaskID: "t2", FileID: "f1", TotalBytes: 10, DownloadedBytes: 10})

	if err := tracker.Clear("t1", "f1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if len(tracker.TaskRecords("t1")) != 0 {
		t.Fatal("expected t1 entry removed")
	}
	if got := tracker.ListIncomplete(); len(got) != 0 {
		t.Fatalf("expected no incomplete tasks, got %v", got)
	}
	_ = tracker.Save(download.Record{TaskID: "t3", FileID: "f1", TotalBytes: 10, DownloadedBytes: 3})
	if got := tracker.ListIncomplete(); !reflect.DeepEqual(got, []string{"t3"}) {
		t.Fatalf("ListIncomplete = %v", got)
	}
}

func TestTrackerKeepsRecordsFromOtherInstances(t *testing.T) {
	first := openTracker(t)
	second, err := download.OpenTracker(first.Path(), logging.NewNop())
	if err != nil {
		t.Fatalf("OpenTracker: %v", err)
	}
	if err := first.Save(download.Record{TaskID: "t1", FileID: "f1", TotalBytes: 10, DownloadedBytes: 4}); err != nil {
		t.Fatalf("Save t1: %v", err)
	}
	if err := second.Save(download.Record{TaskID: "t2", FileID: "f1", TotalBytes: 10, DownloadedBytes: 6}); err != nil {
		t.Fatalf("Save t2: %v", err)
	}
	if second.Get("t1", "f1") == nil {
		t.Fatal("second tracker should see the first tracker's record")
	}

	reopened, err := download.OpenTracker(first.Path(), logging.NewNop())
	if err != nil {
		t.Fatalf("OpenTracker: %v", err)
	}
	if reopened.Get("t1", "f1") == nil || reopened.Get("t2", "f1") == nil {
		t.Fatalf("records lost: t1=%v t2=%v", reopened.Get("t1", "f1") != nil, reopened.Get("t2", "f1") != nil)
	}

	if err := first.Clear("t1", "f1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got := second.ListIncomplete(); !reflect.DeepEqual(got, []string{"t2"}) {
		t.Fatalf("ListIncomplete = %v, want [t2]", got)
	}
}

func TestTrackerRejectsInconsistentByteCounts(t *testing.T) {
	tracker := openTracker(t)
	for _, rec := range []download.Record{
		{TaskID: "t1", FileID: "over", TotalBytes: 10, DownloadedBytes: 11},
		{TaskID: "t1", FileID: "negative", TotalBytes: 10, DownloadedBytes: -1},
		{TaskID: "t1", FileID: "unsized", TotalBytes: -5},
	} {
		if err := tracker.Save(rec); !errors.Is(err, download.ErrInvalidProgress) {
			t.Fatalf("Save(%s) error = %v, want ErrInvalidProgress", rec.FileID, err)
		}
	}
	if len(tracker.TaskRecords("t1")) != 0 {
		t.Fatal("rejected records must not be stored")
	}
	if err := tracker.Save(download.Record{TaskID: "t1", FileID: "full", TotalBytes: 10, DownloadedBytes: 10}); err != nil {
		t.Fatalf("Save complete record: %v", err)
	}
}

func TestTrackerIgnoresCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "download_progress.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tracker, err := download.OpenTracker(path, logging.NewNop())
	if err != nil {
		t.Fatalf("OpenTracker: %v", err)
	}
	if len(tracker.ListIncomplete()) != 0 {
		t.Fatal("expected empty tracker")
	}
}

func TestTrackerSyncWithServer(t *testing.T) {
	tracker := openTracker(t)
	for _, rec := range []download.Record{
		{TaskID: "done", FileID: "f1", TotalBytes: 10},
		{TaskID: "gone", FileID: "f1", TotalBytes: 10},
		{TaskID: "live", FileID: "available", TotalBytes: 10},
		{TaskID: "live", FileID: "withdrawn", TotalBytes: 10},
		{TaskID: "flaky", FileID: "f1", TotalBytes: 10},
	} {
		if err := tracker.Save(rec); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	downloadedAt := time.Now()
	remote := map[string]*queue.Task{
		"done": {ID: "done", Files: []queue.File{{ID: "f1", Status: queue.FileCompleted, DownloadAvailable: true, DownloadedAt: &downloadedAt}}},
		"live": {ID: "live", Files: []queue.File{
			{ID: "available", Status: queue.FileCompleted, DownloadAvailable: true},
			{ID: "withdrawn", Status: queue.FileCompleted, DownloadAvailable: false},
		}},
	}
	lookup := func(_ context.Context, taskID string) (*queue.Task, error) {
		if taskID == "flaky" {
			return nil, errors.New("connection refused")
		}
		return remote[taskID], nil
	}

	result, err := tracker.Sync(context.Background(), lookup)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	wantCleared := []download.FileRef{{TaskID: "done", FileID: "f1"}, {TaskID: "gone", FileID: "f1"}}
	if !reflect.DeepEqual(result.Cleared, wantCleared) {
		t.Fatalf("cleared = %v, want %v", result.Cleared, wantCleared)
	}
	if want := []download.FileRef{{TaskID: "live", FileID: "withdrawn"}}; !reflect.DeepEqual(result.Unavailable, want) {
		t.Fatalf("unavailable = %v, want %v", result.Unavailable, want)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected one lookup error, got %v", result.Errors)
	}
	if tracker.Get("live", "available") == nil || tracker.Get("flaky", "f1") == nil {
		t.Fatal("records with no definite answer must be kept")
	}

	again, err := tracker.Sync(context.Background(), lookup)
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if len(again.Cleared)+len(again.Unavailable) != 0 {
		t.Fatalf("second sync changed state: %+v", again)
	}
}

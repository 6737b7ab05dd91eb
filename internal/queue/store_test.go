package queue_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"vidconv/internal/quality"
	"vidconv/internal/queue"
	"vidconv/internal/services"
	"vidconv/internal/testsupport"
)

func TestCreateAndGetTask(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	task := testsupport.NewTask(t, store, "alice", "balanced+", "a.mov", "b.mov")
	if task.ID == "" {
		t.Fatal("expected task id to be assigned")
	}
	if task.ExpiresAt == nil || task.ExpiresAt.Sub(task.CreatedAt) != cfg.Retention() {
		t.Fatalf("expected expiry after retention, got %v", task.ExpiresAt)
	}

	fetched, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if fetched == nil || fetched.Status != queue.TaskPending || fetched.Preset != "balanced+" {
		t.Fatalf("unexpected task: %#v", fetched)
	}
	if len(fetched.Files) != 2 || fetched.Files[0].Filename != "a.mov" || fetched.Files[1].Position != 1 {
		t.Fatalf("unexpected files: %#v", fetched.Files)
	}
	for _, f := range fetched.Files {
		if f.Status != queue.FilePending || !f.DownloadAvailable {
			t.Fatalf("unexpected new file state: %#v", f)
		}
	}
}

func TestGetTaskMissingReturnsNil(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	task, err := store.GetTask(context.Background(), "missing")
	if err != nil || task != nil {
		t.Fatalf("expected nil, nil; got %v, %v", task, err)
	}
}

func TestGetTaskForOwnerHidesOtherOwners(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	task := testsupport.NewTask(t, store, "alice", "balanced", "a.mov")

	got, err := store.GetTaskForOwner(context.Background(), "bob", task.ID)
	if err != nil || got != nil {
		t.Fatalf("expected other owner to see nothing, got %v, %v", got, err)
	}
	got, err = store.GetTaskForOwner(context.Background(), "alice", task.ID)
	if err != nil || got == nil {
		t.Fatalf("expected owner to see task, got %v, %v", got, err)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	if _, err := store.CreateTask(ctx, &queue.Task{Preset: "balanced"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing owner, got %v", err)
	}
	if _, err := store.CreateTask(ctx, &queue.Task{OwnerID: "a", Status: queue.TaskCompleted}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for terminal status, got %v", err)
	}
	bad := &queue.Task{OwnerID: "a", Files: []queue.File{{Filename: "x.mov"}}}
	if _, err := store.CreateTask(ctx, bad); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing source key, got %v", err)
	}
}

func TestTransitionTaskIsConditional(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	task := testsupport.NewTask(t, store, "alice", "balanced", "a.mov")

	now := time.Now()
	ok, err := store.TransitionTask(ctx, task.ID, queue.TaskConverting, queue.TaskPatch{StartedAt: &now}, queue.TaskPending)
	if err != nil || !ok {
		t.Fatalf("expected pending -> converting, got %v %v", ok, err)
	}
	ok, err = store.TransitionTask(ctx, task.ID, queue.TaskVerifying, queue.TaskPatch{}, queue.TaskPending)
	if err != nil || ok {
		t.Fatalf("expected guarded transition to be skipped, got %v %v", ok, err)
	}
	ok, err = store.TransitionTask(ctx, task.ID, queue.TaskCancelled, queue.TaskPatch{CompletedAt: &now})
	if err != nil || !ok {
		t.Fatalf("expected cancel from active status, got %v %v", ok, err)
	}
	ok, err = store.TransitionTask(ctx, task.ID, queue.TaskConverting, queue.TaskPatch{})
	if err != nil || ok {
		t.Fatalf("expected terminal task to stay put, got %v %v", ok, err)
	}
	if _, err := store.TransitionTask(ctx, task.ID, queue.TaskPending, queue.TaskPatch{}, queue.TaskCancelled); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error leaving terminal status, got %v", err)
	}

	fetched, _ := store.GetTask(ctx, task.ID)
	if fetched.Status != queue.TaskCancelled || fetched.StartedAt == nil || fetched.CompletedAt == nil {
		t.Fatalf("unexpected task after transitions: %#v", fetched)
	}
}

func TestUpdateFileMaintainsInvariants(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	task := testsupport.NewTask(t, store, "alice", "balanced", "a.mov")
	fileID := task.Files[0].ID

	if err := store.UpdateFile(ctx, task.ID, fileID, queue.FilePatch{
		Status: queue.Ptr(queue.FileConverting),
		JobID:  queue.Ptr("job-1"),
	}); err != nil {
		t.Fatalf("UpdateFile converting failed: %v", err)
	}
	if err := store.UpdateFile(ctx, task.ID, fileID, queue.FilePatch{Status: queue.Ptr(queue.FileVerifying)}); err != nil {
		t.Fatalf("UpdateFile verifying failed: %v", err)
	}
	fetched, _ := store.GetTask(ctx, task.ID)
	if fetched.Files[0].JobID != "" {
		t.Fatalf("expected job id cleared outside converting, got %q", fetched.Files[0].JobID)
	}

	if err := store.UpdateFile(ctx, task.ID, fileID, queue.FilePatch{Status: queue.Ptr(queue.FileFailed)}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected failed without message to be rejected, got %v", err)
	}

	result := quality.NewResult(0.91, 1000, 400)
	if err := store.UpdateFile(ctx, task.ID, fileID, queue.FilePatch{
		Status:       queue.Ptr(queue.FileFailed),
		ErrorMessage: queue.Ptr("SSIM threshold not met"),
		Quality:      &result,
	}); err != nil {
		t.Fatalf("UpdateFile failed: %v", err)
	}
	fetched, _ = store.GetTask(ctx, task.ID)
	f := fetched.Files[0]
	if f.Status != queue.FileFailed || f.ErrorMessage == "" || f.Quality == nil || f.Quality.SSIM != 0.91 {
		t.Fatalf("unexpected failed file: %#v", f)
	}

	if err := store.UpdateFile(ctx, task.ID, fileID, queue.FilePatch{Status: queue.Ptr(queue.FilePending)}); err != nil {
		t.Fatalf("UpdateFile pending failed: %v", err)
	}
	fetched, _ = store.GetTask(ctx, task.ID)
	f = fetched.Files[0]
	if f.ErrorMessage != "" || f.Quality != nil {
		t.Fatalf("expected error and quality cleared on pending, got %#v", f)
	}

	if err := store.UpdateFile(ctx, task.ID, "nope", queue.FilePatch{RetryCount: queue.Ptr(1)}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for missing file, got %v", err)
	}
}

func TestUpdateFilePresetAttemptsRoundTrip(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	task := testsupport.NewTask(t, store, "alice", "balanced+", "a.mov")

	err := store.UpdateFile(ctx, task.ID, task.Files[0].ID, queue.FilePatch{
		PresetAttempts: []string{"balanced+", "high"},
		BestEffort:     queue.Ptr(true),
		SelectedPreset: queue.Ptr("high"),
		RetryCount:     queue.Ptr(2),
	})
	if err != nil {
		t.Fatalf("UpdateFile failed: %v", err)
	}
	fetched, _ := store.GetTask(ctx, task.ID)
	f := fetched.Files[0]
	if len(f.PresetAttempts) != 2 || f.PresetAttempts[1] != "high" || !f.BestEffort || f.SelectedPreset != "high" || f.RetryCount != 2 {
		t.Fatalf("unexpected file: %#v", f)
	}
}

func TestClaimAndNextPendingFilesFIFO(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	first := testsupport.NewTask(t, store, "alice", "balanced", "a.mov", "b.mov")
	time.Sleep(2 * time.Millisecond)
	second := testsupport.NewTask(t, store, "bob", "balanced", "c.mov")
	uploading, err := store.CreateTask(ctx, &queue.Task{
		OwnerID: "carol",
		Status:  queue.TaskUploading,
		Files:   []queue.File{{Filename: "d.mov", SourceKey: "input/d"}},
	})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	files, err := store.NextPendingFiles(ctx, 10)
	if err != nil {
		t.Fatalf("NextPendingFiles failed: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 runnable files, got %d", len(files))
	}
	if files[0].TaskID != first.ID || files[1].TaskID != first.ID || files[2].TaskID != second.ID {
		t.Fatalf("expected arrival order, got %v %v %v", files[0].TaskID, files[1].TaskID, files[2].TaskID)
	}
	for _, f := range files {
		if f.TaskID == uploading.ID {
			t.Fatal("uploading task must not be scheduled")
		}
	}

	ok, err := store.ClaimFile(ctx, first.ID, files[0].ID)
	if err != nil || !ok {
		t.Fatalf("expected claim to succeed, got %v %v", ok, err)
	}
	ok, err = store.ClaimFile(ctx, first.ID, files[0].ID)
	if err != nil || ok {
		t.Fatalf("expected second claim to fail, got %v %v", ok, err)
	}

	if _, err := store.TransitionTask(ctx, second.ID, queue.TaskCancelled, queue.TaskPatch{}); err != nil {
		t.Fatalf("cancel second: %v", err)
	}
	ok, err = store.ClaimFile(ctx, second.ID, second.Files[0].ID)
	if err != nil || ok {
		t.Fatalf("expected claim on cancelled task to fail, got %v %v", ok, err)
	}

	limited, err := store.NextPendingFiles(ctx, 1)
	if err != nil || len(limited) != 1 || limited[0].ID != files[1].ID {
		t.Fatalf("expected next file %s, got %v %v", files[1].ID, limited, err)
	}
}

func TestReclaimStaleFiles(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	task := testsupport.NewTask(t, store, "alice", "balanced+", "a.mov", "b.mov")

	for _, f := range task.Files {
		if ok, err := store.ClaimFile(ctx, task.ID, f.ID); err != nil || !ok {
			t.Fatalf("ClaimFile failed: %v %v", ok, err)
		}
	}
	if err := store.UpdateFile(ctx, task.ID, task.Files[0].ID, queue.FilePatch{
		JobID:          queue.Ptr("job-1"),
		PresetAttempts: []string{"balanced+"},
	}); err != nil {
		t.Fatalf("UpdateFile failed: %v", err)
	}

	reclaimed, err := store.ReclaimStaleFiles(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleFiles failed: %v", err)
	}
	if reclaimed != 2 {
		t.Fatalf("expected 2 reclaimed, got %d", reclaimed)
	}
	fetched, _ := store.GetTask(ctx, task.ID)
	for _, f := range fetched.Files {
		if f.Status != queue.FilePending || f.JobID != "" || len(f.PresetAttempts) != 0 {
			t.Fatalf("unexpected reclaimed file: %#v", f)
		}
	}

	for _, f := range task.Files {
		if ok, err := store.ClaimFile(ctx, task.ID, f.ID); err != nil || !ok {
			t.Fatalf("ClaimFile failed: %v %v", ok, err)
		}
	}
	reclaimed, err = store.ReclaimStaleFiles(ctx, time.Now().Add(-time.Minute))
	if err != nil || reclaimed != 0 {
		t.Fatalf("expected fresh heartbeats kept, got %d %v", reclaimed, err)
	}
}

func TestStatsAndPurgeExpired(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRetention(1))
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	done := testsupport.NewTask(t, store, "alice", "balanced", "a.mov")
	active := testsupport.NewTask(t, store, "alice", "balanced", "b.mov", "c.mov")

	if _, err := store.TransitionTask(ctx, done.ID, queue.TaskCompleted, queue.TaskPatch{}); err != nil {
		t.Fatalf("complete task: %v", err)
	}
	if ok, err := store.ClaimFile(ctx, active.ID, active.Files[0].ID); err != nil || !ok {
		t.Fatalf("claim: %v %v", ok, err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Tasks[queue.TaskCompleted] != 1 || stats.Tasks[queue.TaskPending] != 1 {
		t.Fatalf("unexpected task stats: %#v", stats.Tasks)
	}
	if stats.PendingFiles != 2 || stats.ActiveFiles != 1 {
		t.Fatalf("unexpected file stats: %#v", stats)
	}

	purged, err := store.PurgeExpired(ctx, time.Now().Add(48*time.Hour))
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected only the terminal task purged, got %d", purged)
	}
	if gone, _ := store.GetTask(ctx, done.ID); gone != nil {
		t.Fatal("expected purged task to be gone")
	}
	if kept, _ := store.GetTask(ctx, active.ID); kept == nil {
		t.Fatal("expected active task kept")
	}
}

func TestListByOwnerAndStatus(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	a := testsupport.NewTask(t, store, "alice", "balanced", "a.mov")
	testsupport.NewTask(t, store, "alice", "balanced", "b.mov")
	testsupport.NewTask(t, store, "bob", "balanced", "c.mov")
	if _, err := store.TransitionTask(ctx, a.ID, queue.TaskFailed, queue.TaskPatch{}); err != nil {
		t.Fatalf("fail task: %v", err)
	}

	mine, err := store.ListByOwner(ctx, "alice")
	if err != nil || len(mine) != 2 {
		t.Fatalf("expected 2 tasks for alice, got %d %v", len(mine), err)
	}
	for _, task := range mine {
		if len(task.Files) != 1 {
			t.Fatalf("expected files attached, got %#v", task)
		}
	}
	failed, err := store.ListByOwner(ctx, "alice", queue.TaskFailed)
	if err != nil || len(failed) != 1 || failed[0].ID != a.ID {
		t.Fatalf("unexpected filtered list: %v %v", failed, err)
	}
	pending, err := store.ListByStatus(ctx, queue.TaskPending)
	if err != nil || len(pending) != 2 {
		t.Fatalf("expected 2 pending tasks, got %d %v", len(pending), err)
	}
}

func TestOpenRejectsForeignSchemaVersion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	_ = store.Close()

	db, err := sql.Open("sqlite", cfg.DatabasePath())
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("set user_version: %v", err)
	}
	_ = db.Close()

	if _, err := queue.Open(cfg); !errors.Is(err, queue.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

package testsupport

import (
	"context"
	"testing"

	"vidconv/internal/config"
	"vidconv/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewTask creates a pending task owned by owner with one file per name.
func NewTask(t testing.TB, store *queue.Store, owner, preset string, names ...string) *queue.Task {
	t.Helper()

	task := &queue.Task{OwnerID: owner, Preset: preset}
	for i, name := range names {
		task.Files = append(task.Files, queue.File{
			ID:         "file-" + string(rune('a'+i)),
			Filename:   name,
			SourceKey:  "input/" + name,
			SourceSize: 1024,
		})
	}
	created, err := store.CreateTask(context.Background(), task)
	if err != nil {
		t.Fatalf("store.CreateTask: %v", err)
	}
	return created
}

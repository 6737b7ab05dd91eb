package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"vidconv/internal/api"
	"vidconv/internal/blobstore"
	"vidconv/internal/cancel"
	"vidconv/internal/config"
	"vidconv/internal/logging"
	"vidconv/internal/quality"
	"vidconv/internal/queue"
	"vidconv/internal/testsupport"
	"vidconv/internal/transcoder"
	"vidconv/internal/workflow"
)

type idleTranscoder struct{}

func (idleTranscoder) Submit(context.Context, transcoder.Request) (string, error) {
	return "job-1", nil
}

func (idleTranscoder) Status(context.Context, string) (transcoder.Status, error) {
	return transcoder.Status{State: transcoder.StateProgressing}, nil
}

func (idleTranscoder) Cancel(context.Context, string) error { return nil }

type fixedScorer struct{}

func (fixedScorer) Score(context.Context, string, string) (quality.Result, error) {
	return quality.NewResult(0.99, 100, 50), nil
}

func newTestDaemon(t *testing.T, opts ...testsupport.ConfigOption) (*Daemon, *config.Config, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	blobs, err := blobstore.NewLocal(cfg.Paths.StagingDir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	logger := logging.NewNop()
	tc := idleTranscoder{}
	mgr := workflow.NewManager(cfg, store, workflow.Dependencies{
		Blobs:      blobs,
		Transcoder: tc,
		Scorer:     fixedScorer{},
	}, logger)
	d, err := New(cfg, Services{
		Store:       store,
		Blobs:       blobs,
		Workflow:    mgr,
		Coordinator: cancel.NewCoordinator(store, blobs, tc, logger),
		Tasks:       api.NewTaskService(cfg, store, blobs, logger),
	}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, cfg, store
}

func serve(t *testing.T, d *Daemon, token, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	d.api.routes(token).ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHandleStatusReportsBackend(t *testing.T) {
	d, _, _ := newTestDaemon(t, testsupport.WithConcurrency(3))

	w := serve(t, d, "", http.MethodGet, "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	status := decode[api.DaemonStatus](t, w)
	if status.Running {
		t.Fatal("expected daemon not running before Start")
	}
	if status.Backend != config.BackendLocal {
		t.Fatalf("unexpected backend %q", status.Backend)
	}
	if status.Workflow.MaxConcurrency != 3 {
		t.Fatalf("expected max concurrency 3, got %d", status.Workflow.MaxConcurrency)
	}
	if len(status.Dependencies) == 0 {
		t.Fatal("expected dependency report")
	}
}

func TestHandleTasksFiltersByOwnerAndStatus(t *testing.T) {
	d, _, store := newTestDaemon(t)
	mine := testsupport.NewTask(t, store, "alice", "balanced", "a.mov")
	testsupport.NewTask(t, store, "bob", "balanced", "b.mov")

	w := serve(t, d, "", http.MethodGet, "/api/tasks?owner=alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	list := decode[api.TaskListResponse](t, w)
	if len(list.Tasks) != 1 || list.Tasks[0].ID != mine.ID {
		t.Fatalf("expected only alice's task, got %+v", list.Tasks)
	}

	w = serve(t, d, "", http.MethodGet, "/api/tasks?owner=alice&status=completed", nil)
	if list := decode[api.TaskListResponse](t, w); len(list.Tasks) != 0 {
		t.Fatalf("expected no completed tasks, got %d", len(list.Tasks))
	}

	w = serve(t, d, "", http.MethodGet, "/api/tasks?owner=alice&status=bogus", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", w.Code)
	}

	w = serve(t, d, "", http.MethodGet, "/api/tasks", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without owner, got %d", w.Code)
	}
}

func TestHandleTaskHidesOtherOwners(t *testing.T) {
	d, _, store := newTestDaemon(t)
	task := testsupport.NewTask(t, store, "alice", "high", "a.mov", "b.mov")

	w := serve(t, d, "", http.MethodGet, "/api/tasks/"+task.ID+"?owner=bob", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another owner, got %d", w.Code)
	}

	w = serve(t, d, "", http.MethodGet, "/api/tasks/"+task.ID+"?owner=alice&live=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	view := decode[api.TaskView](t, w)
	if len(view.Files) != 2 || view.Preset != "high" {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.Progress.Step != "pending" {
		t.Fatalf("expected pending step, got %q", view.Progress.Step)
	}
}

func TestHandleCancel(t *testing.T) {
	d, _, store := newTestDaemon(t)
	task := testsupport.NewTask(t, store, "alice", "balanced", "a.mov")

	w := serve(t, d, "", http.MethodPost, "/api/tasks/"+task.ID+"/cancel?owner=alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[api.CancelResponse](t, w)
	if !resp.Success || resp.PreviousStatus != string(queue.TaskPending) {
		t.Fatalf("unexpected cancel response: %+v", resp)
	}

	w = serve(t, d, "", http.MethodPost, "/api/tasks/"+task.ID+"/cancel?owner=alice", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second cancel, got %d", w.Code)
	}

	w = serve(t, d, "", http.MethodPost, "/api/tasks/missing/cancel?owner=alice", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown task, got %d", w.Code)
	}

	w = serve(t, d, "", http.MethodGet, "/api/tasks/"+task.ID+"/cancel?owner=alice", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET cancel, got %d", w.Code)
	}
}

func TestAuthMiddlewareRequiresBearerToken(t *testing.T) {
	d, _, _ := newTestDaemon(t)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer secret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			header := http.Header{}
			if tc.header != "" {
				header.Set("Authorization", tc.header)
			}
			w := serve(t, d, "secret", http.MethodGet, "/api/status", header)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

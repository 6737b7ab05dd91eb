package workflow_test

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"vidconv/internal/blobstore"
	"vidconv/internal/config"
	"vidconv/internal/logging"
	"vidconv/internal/notifications"
	"vidconv/internal/quality"
	"vidconv/internal/queue"
	"vidconv/internal/services"
	"vidconv/internal/testsupport"
	"vidconv/internal/transcoder"
	"vidconv/internal/workflow"
)

// fakeTranscoder completes every job immediately unless a failure code is
// queued for the file or hold is set.
type fakeTranscoder struct {
	mu        sync.Mutex
	failures  map[string][]int
	hold      bool
	submitted []transcoder.Request
	jobs      map[string]transcoder.Request
	cancelled []string
}

func newFakeTranscoder() *fakeTranscoder {
	return &fakeTranscoder{failures: map[string][]int{}, jobs: map[string]transcoder.Request{}}
}

func (f *fakeTranscoder) Submit(_ context.Context, req transcoder.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	id := fmt.Sprintf("job-%d", len(f.submitted))
	f.jobs[id] = req
	return id, nil
}

func (f *fakeTranscoder) Status(_ context.Context, jobID string) (transcoder.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.jobs[jobID]
	if !ok {
		return transcoder.Status{}, services.Wrap(services.ErrNotFound, "transcode", "status", jobID, nil)
	}
	if f.hold {
		return transcoder.Status{State: transcoder.StateProgressing, Percent: 40}, nil
	}
	if codes := f.failures[req.FileID]; len(codes) > 0 {
		f.failures[req.FileID] = codes[1:]
		return transcoder.Status{State: transcoder.StateError, ErrorCode: codes[0], ErrorMessage: "encoder rejected job"}, nil
	}
	return transcoder.Status{
		State:     transcoder.StateComplete,
		Percent:   100,
		OutputKey: req.OutputPrefix + req.Preset.Name + ".mp4",
	}, nil
}

func (f *fakeTranscoder) Cancel(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

func (f *fakeTranscoder) requests() []transcoder.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transcoder.Request(nil), f.submitted...)
}

func (f *fakeTranscoder) cancelledJobs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

// fakeScorer scores an output by the preset name encoded in its key.
// onScore, when set, runs before the score is returned.
type fakeScorer struct {
	scores  map[string]float64
	onScore func(convertedKey string)
}

func (s *fakeScorer) Score(_ context.Context, _, convertedKey string) (quality.Result, error) {
	if s.onScore != nil {
		s.onScore(convertedKey)
	}
	preset := strings.TrimSuffix(path.Base(convertedKey), ".mp4")
	score, ok := s.scores[preset]
	if !ok {
		score = 0.99
	}
	return quality.NewResult(score, 2000, 1000), nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) recorded() []notifications.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifications.Event(nil), n.events...)
}

type harness struct {
	cfg        *config.Config
	store      *queue.Store
	transcoder *fakeTranscoder
	scorer     *fakeScorer
	notifier   *recordingNotifier
	manager    *workflow.Manager
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Workflow.MaxRetries = 2
	cfg.Workflow.HeartbeatInterval = 1
	cfg.Workflow.HeartbeatTimeout = 60
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	blobs, err := blobstore.NewLocal(cfg.Paths.StagingDir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	h := &harness{
		cfg:        cfg,
		store:      testsupport.MustOpenStore(t, cfg),
		transcoder: newFakeTranscoder(),
		scorer:     &fakeScorer{scores: map[string]float64{}},
		notifier:   &recordingNotifier{},
	}
	h.manager = workflow.NewManager(cfg, h.store, workflow.Dependencies{
		Blobs:      blobs,
		Transcoder: h.transcoder,
		Scorer:     h.scorer,
		Notifier:   h.notifier,
	}, logging.NewNop(),
		workflow.WithPollIntervals(10*time.Millisecond, 5*time.Millisecond),
		workflow.WithRetryDelay(0),
	)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(h.manager.Stop)
}

func (h *harness) waitForTask(t *testing.T, id string, want queue.TaskStatus) *queue.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last *queue.Task
	for time.Now().Before(deadline) {
		task, err := h.store.GetTask(context.Background(), id)
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		last = task
		if task != nil && task.Status == want {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	status := queue.TaskStatus("<missing>")
	if last != nil {
		status = last.Status
	}
	t.Fatalf("task %s did not reach %s; last status %s", id, want, status)
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

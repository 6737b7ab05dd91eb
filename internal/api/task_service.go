package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"vidconv/internal/blobstore"
	"vidconv/internal/config"
	"vidconv/internal/logging"
	"vidconv/internal/progress"
	"vidconv/internal/quality"
	"vidconv/internal/queue"
	"vidconv/internal/services"
	"vidconv/internal/transcoder"
)

// TaskService exposes owner-scoped task operations.
type TaskService struct {
	cfg      *config.Config
	store    *queue.Store
	blobs    blobstore.Store
	lookup   progress.Lookup
	logger   *slog.Logger
	onSubmit func()
	now      func() time.Time
}

// TaskServiceOption configures a TaskService.
type TaskServiceOption func(*TaskService)

// WithLiveProgress enables live job percentages for detail views.
func WithLiveProgress(lookup progress.Lookup) TaskServiceOption {
	return func(s *TaskService) { s.lookup = lookup }
}

// WithSubmitHook runs fn after a task becomes pending, typically to wake
// the workflow.
func WithSubmitHook(fn func()) TaskServiceOption {
	return func(s *TaskService) { s.onSubmit = fn }
}

// NewTaskService constructs a TaskService.
func NewTaskService(cfg *config.Config, store *queue.Store, blobs blobstore.Store, logger *slog.Logger, opts ...TaskServiceOption) *TaskService {
	s := &TaskService{
		cfg:    cfg,
		store:  store,
		blobs:  blobs,
		logger: logging.NewComponentLogger(logger, "api"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LivePercent adapts a transcoder into a progress lookup. Failed queries
// report zero.
func LivePercent(tc transcoder.Transcoder) progress.Lookup {
	if tc == nil {
		return nil
	}
	return func(ctx context.Context, jobID string) int {
		status, err := tc.Status(ctx, jobID)
		if err != nil {
			return 0
		}
		if status.State == transcoder.StateComplete {
			return 100
		}
		return status.Percent
	}
}

// Submit uploads paths and queues them as one task. The task stays
// uploading until every source is stored; a failed upload fails the task
// and removes what was already stored.
func (s *TaskService) Submit(ctx context.Context, owner, preset string, paths []string) (*TaskView, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, services.Wrap(services.ErrValidation, "api", "submit", "owner is required", nil)
	}
	preset = strings.TrimSpace(preset)
	if preset == "" {
		preset = s.cfg.Quality.DefaultPreset
	}
	if !quality.Valid(preset) {
		return nil, services.Wrap(services.ErrValidation, "api", "submit",
			fmt.Sprintf("unknown preset %q (known: %s)", preset, strings.Join(quality.Names(), ", ")), nil)
	}
	if len(paths) == 0 {
		return nil, services.Wrap(services.ErrValidation, "api", "submit", "at least one file is required", nil)
	}

	taskID := uuid.NewString()
	task := &queue.Task{ID: taskID, OwnerID: owner, Preset: preset, Status: queue.TaskUploading}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "api", "submit", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "api", "submit", "source not readable", err)
		}
		if !info.Mode().IsRegular() {
			return nil, services.Wrap(services.ErrValidation, "api", "submit", abs+" is not a regular file", nil)
		}
		fileID := uuid.NewString()
		task.Files = append(task.Files, queue.File{
			ID:         fileID,
			Filename:   filepath.Base(abs),
			SourceKey:  blobstore.InputKey(taskID, fileID, abs),
			SourceSize: info.Size(),
		})
	}
	created, err := s.store.CreateTask(ctx, task)
	if err != nil {
		return nil, err
	}

	ctx = services.WithTaskID(ctx, taskID)
	logger := logging.WithContext(ctx, s.logger)
	uploaded := make([]string, 0, len(paths))
	for i, f := range created.Files {
		if err := s.upload(ctx, paths[i], f); err != nil {
			s.abortSubmit(ctx, logger, taskID, uploaded, err)
			return nil, err
		}
		uploaded = append(uploaded, f.SourceKey)
		logger.Debug("source uploaded", logging.String(logging.FieldFileID, f.ID), logging.Int64("bytes", f.SourceSize))
	}

	if _, err := s.store.TransitionTask(ctx, taskID, queue.TaskPending, queue.TaskPatch{}, queue.TaskUploading); err != nil {
		return nil, err
	}
	logger.Info("task submitted",
		logging.String(logging.FieldPreset, preset),
		logging.Int("files", len(created.Files)),
		logging.String(logging.FieldEventType, "task_submitted"),
	)
	if s.onSubmit != nil {
		s.onSubmit()
	}
	return s.Get(ctx, owner, taskID, false)
}

func (s *TaskService) upload(ctx context.Context, path string, f queue.File) error {
	src, err := os.Open(path)
	if err != nil {
		return services.Wrap(services.ErrValidation, "api", "upload", f.Filename, err)
	}
	defer src.Close()
	return s.blobs.Put(ctx, f.SourceKey, src, f.SourceSize)
}

func (s *TaskService) abortSubmit(ctx context.Context, logger *slog.Logger, taskID string, uploaded []string, cause error) {
	logging.ErrorWithContext(logger, "upload failed; task abandoned", "upload_failed",
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "check bucket permissions and network connectivity"),
	)
	now := s.now()
	msg := "upload failed: " + cause.Error()
	if _, err := s.store.TransitionTask(ctx, taskID, queue.TaskFailed, queue.TaskPatch{
		ErrorMessage: &msg,
		CompletedAt:  &now,
	}, queue.TaskUploading); err != nil {
		logger.Debug("mark task failed", logging.Error(err))
	}
	if len(uploaded) > 0 {
		if _, err := s.blobs.DeleteMany(ctx, uploaded); err != nil {
			logger.Debug("remove partial uploads", logging.Error(err))
		}
	}
}

// List returns owner's tasks newest first with stored-status progress.
func (s *TaskService) List(ctx context.Context, owner string, statuses ...queue.TaskStatus) ([]TaskView, error) {
	tasks, err := s.store.ListByOwner(ctx, owner, statuses...)
	if err != nil {
		return nil, err
	}
	views := make([]TaskView, 0, len(tasks))
	for _, task := range tasks {
		pct, step := progress.Simple(task.Files)
		views = append(views, FromTask(task, pct, step))
	}
	return views, nil
}

// Task returns the raw task, or nil when owner cannot see it.
func (s *TaskService) Task(ctx context.Context, owner, taskID string) (*queue.Task, error) {
	return s.store.GetTaskForOwner(ctx, owner, taskID)
}

// Get describes one task. With live set, converting files report their job
// percentage. Completed, available files carry a presigned download URL.
func (s *TaskService) Get(ctx context.Context, owner, taskID string, live bool) (*TaskView, error) {
	task, err := s.store.GetTaskForOwner(ctx, owner, taskID)
	if err != nil || task == nil {
		return nil, err
	}
	var lookup progress.Lookup
	if live {
		lookup = s.lookup
	}
	pct, step := progress.Calculate(ctx, task.Files, lookup)
	view := FromTask(task, pct, step)
	if eta, ok := progress.EstimateCompletion(task, s.cfg.Workflow.MaxConcurrency, s.cfg.Workflow.SecondsPerBatch); ok {
		view.EstimatedSeconds = &eta
	}
	for i, f := range task.Files {
		if !f.Downloadable() {
			continue
		}
		url, err := s.blobs.PresignDownload(ctx, f.OutputKey, s.cfg.PresignExpiry())
		if err != nil {
			logging.WarnWithContext(logging.WithContext(ctx, s.logger), "presign download failed", "presign_failed",
				logging.String(logging.FieldFileID, f.ID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "file shown without download link"),
			)
			continue
		}
		view.Files[i].DownloadURL = url
	}
	return &view, nil
}

// MarkDownloaded stamps downloaded_at and withdraws the output.
func (s *TaskService) MarkDownloaded(ctx context.Context, owner, taskID, fileID string) error {
	if _, err := s.ownedFile(ctx, owner, taskID, fileID); err != nil {
		return err
	}
	now := s.now()
	return s.store.UpdateFile(ctx, taskID, fileID, queue.FilePatch{
		DownloadedAt:      &now,
		DownloadAvailable: queue.Ptr(false),
	})
}

// MarkUnavailable withdraws an output without recording a download.
func (s *TaskService) MarkUnavailable(ctx context.Context, owner, taskID, fileID string) error {
	if _, err := s.ownedFile(ctx, owner, taskID, fileID); err != nil {
		return err
	}
	return s.store.UpdateFile(ctx, taskID, fileID, queue.FilePatch{DownloadAvailable: queue.Ptr(false)})
}

func (s *TaskService) ownedFile(ctx context.Context, owner, taskID, fileID string) (*queue.File, error) {
	task, err := s.store.GetTaskForOwner(ctx, owner, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "lookup", "task "+taskID, nil)
	}
	f := task.File(fileID)
	if f == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "lookup", "file "+fileID, nil)
	}
	return f, nil
}

// OwnerScope binds the service to one owner for callers that act on that
// owner's behalf, such as the downloader.
type OwnerScope struct {
	svc   *TaskService
	owner string
}

// ForOwner returns an owner-bound view of the service.
func (s *TaskService) ForOwner(owner string) OwnerScope {
	return OwnerScope{svc: s, owner: owner}
}

func (o OwnerScope) Task(ctx context.Context, taskID string) (*queue.Task, error) {
	return o.svc.Task(ctx, o.owner, taskID)
}

func (o OwnerScope) MarkDownloaded(ctx context.Context, taskID, fileID string) error {
	return o.svc.MarkDownloaded(ctx, o.owner, taskID, fileID)
}

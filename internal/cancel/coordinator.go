package cancel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vidconv/internal/blobstore"
	"vidconv/internal/logging"
	"vidconv/internal/queue"
	"vidconv/internal/services"
	"vidconv/internal/transcoder"
)

// Result reports what a cancellation did. Cleanup counts are independent: a
// task that never uploaded has nothing to delete and that is not an error.
type Result struct {
	Success        bool
	NotFound       bool
	PreviousStatus queue.TaskStatus
	BlobsDeleted   bool
	DeletedCount   int
	JobsCancelled  bool
	CancelledCount int
	ErrorMessage   string
	// CleanupErrors lists best-effort cleanup steps that failed.
	CleanupErrors []string
}

// Coordinator cancels tasks.
type Coordinator struct {
	store      *queue.Store
	blobs      blobstore.Store
	transcoder transcoder.Transcoder
	logger     *slog.Logger
	now        func() time.Time
}

// NewCoordinator wires a coordinator. A nil transcoder skips job cancellation.
func NewCoordinator(store *queue.Store, blobs blobstore.Store, tc transcoder.Transcoder, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:      store,
		blobs:      blobs,
		transcoder: tc,
		logger:     logging.NewComponentLogger(logger, "cancel"),
		now:        time.Now,
	}
}

// Cancel cancels owner's task. Tasks that are absent or owned by someone else
// report NotFound. Terminal tasks, including already cancelled ones, report
// Success false and are left untouched.
//
// The status changes before cleanup, and only the caller whose transition
// succeeds runs cleanup.
func (c *Coordinator) Cancel(ctx context.Context, owner, taskID string) (Result, error) {
	ctx = services.WithTaskID(ctx, taskID)
	logger := logging.WithContext(ctx, c.logger)

	task, err := c.store.GetTaskForOwner(ctx, owner, taskID)
	if err != nil {
		return Result{}, err
	}
	if task == nil {
		return Result{NotFound: true, ErrorMessage: "task not found"}, nil
	}
	result := Result{PreviousStatus: task.Status}
	if task.Status.IsTerminal() {
		result.ErrorMessage = fmt.Sprintf("cannot cancel task with status %s", task.Status)
		logger.Info("cancel rejected",
			logging.Args(logging.DecisionAttrs("cancel", "rejected", result.ErrorMessage)...)...)
		return result, nil
	}

	now := c.now()
	moved, err := c.store.TransitionTask(ctx, taskID, queue.TaskCancelled, queue.TaskPatch{
		CompletedAt:  &now,
		ErrorMessage: queue.Ptr("cancelled by user"),
	})
	if err != nil {
		return result, err
	}
	if !moved {
		current, err := c.store.GetTask(ctx, taskID)
		if err != nil {
			return result, err
		}
		if current != nil {
			result.PreviousStatus = current.Status
		}
		result.ErrorMessage = fmt.Sprintf("cannot cancel task with status %s", result.PreviousStatus)
		return result, nil
	}
	result.Success = true

	result.CancelledCount = c.cancelJobs(ctx, logger, task, &result)
	result.JobsCancelled = result.CancelledCount > 0
	result.DeletedCount = c.deleteBlobs(ctx, logger, task, &result)
	result.BlobsDeleted = result.DeletedCount > 0

	logger.Info("task cancelled",
		logging.String("previous_status", string(result.PreviousStatus)),
		logging.Int("jobs_cancelled", result.CancelledCount),
		logging.Int("blobs_deleted", result.DeletedCount),
		logging.Int("cleanup_errors", len(result.CleanupErrors)),
		logging.String(logging.FieldEventType, "task_cancelled"),
	)
	return result, nil
}

// cancelJobs stops jobs that are still submitted or progressing.
func (c *Coordinator) cancelJobs(ctx context.Context, logger *slog.Logger, task *queue.Task, result *Result) int {
	if c.transcoder == nil {
		return 0
	}
	cancelled := 0
	for _, file := range task.Files {
		if file.JobID == "" || file.Status.IsTerminal() {
			continue
		}
		status, err := c.transcoder.Status(ctx, file.JobID)
		if errors.Is(err, services.ErrNotFound) {
			continue
		}
		if err != nil {
			result.CleanupErrors = append(result.CleanupErrors, fmt.Sprintf("job %s status: %v", file.JobID, err))
			continue
		}
		if !status.State.Active() {
			continue
		}
		if err := c.transcoder.Cancel(ctx, file.JobID); err != nil {
			logging.WarnWithContext(logger, "cancel transcode job failed", "job_cancel_failed",
				logging.String(logging.FieldFileID, file.ID),
				logging.String(logging.FieldJobID, file.JobID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check transcoder permissions"),
				logging.String(logging.FieldImpact, "job keeps running and its output is removed at retention"),
			)
			result.CleanupErrors = append(result.CleanupErrors, fmt.Sprintf("job %s cancel: %v", file.JobID, err))
			continue
		}
		cancelled++
	}
	return cancelled
}

// deleteBlobs removes per-file keys and everything under the task prefixes.
func (c *Coordinator) deleteBlobs(ctx context.Context, logger *slog.Logger, task *queue.Task, result *Result) int {
	if c.blobs == nil {
		return 0
	}
	var keys []string
	for _, file := range task.Files {
		keys = append(keys, file.SourceKey, file.OutputKey)
	}
	for _, prefix := range blobstore.TaskPrefixes(task.ID) {
		listed, err := c.blobs.List(ctx, prefix)
		if err != nil {
			result.CleanupErrors = append(result.CleanupErrors, fmt.Sprintf("list %s: %v", prefix, err))
			continue
		}
		keys = append(keys, listed...)
	}
	keys = blobstore.Dedupe(keys)
	if len(keys) == 0 {
		return 0
	}
	deleted, err := c.blobs.DeleteMany(ctx, keys)
	if err != nil {
		logging.WarnWithContext(logger, "delete task objects failed", "cancel_cleanup_failed",
			logging.Int("requested", len(keys)),
			logging.Int("deleted", deleted),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check bucket permissions"),
			logging.String(logging.FieldImpact, "remaining objects are removed at retention"),
		)
		result.CleanupErrors = append(result.CleanupErrors, fmt.Sprintf("delete: %v", err))
	}
	return deleted
}

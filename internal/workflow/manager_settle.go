package workflow

import (
	"context"
	"strings"
	"time"

	"vidconv/internal/logging"
	"vidconv/internal/notifications"
	"vidconv/internal/progress"
	"vidconv/internal/quality"
	"vidconv/internal/queue"
)

var runnableStatuses = []queue.TaskStatus{queue.TaskPending, queue.TaskConverting, queue.TaskVerifying}

// completeFile records the chosen attempt and discards the others' output.
func (m *Manager) completeFile(ctx context.Context, run *fileRun, chosen *quality.Attempt, bestEffort bool) {
	if bestEffort {
		run.logger.Info("best-effort attempt selected",
			logging.Args(append(logging.DecisionAttrs("best_effort", chosen.Preset, "no attempt met the threshold"),
				logging.Float64("ssim", *chosen.Score),
				logging.Int("attempts", len(run.attempts)),
			)...)...,
		)
	}
	patch := queue.FilePatch{
		Status:            queue.Ptr(queue.FileCompleted),
		OutputKey:         queue.Ptr(chosen.OutputKey),
		Quality:           chosen.Result,
		SelectedPreset:    queue.Ptr(chosen.Preset),
		BestEffort:        queue.Ptr(bestEffort),
		PresetAttempts:    run.presets(),
		DownloadAvailable: queue.Ptr(true),
	}
	if !m.updateFile(ctx, run, patch) {
		return
	}
	m.discardOutputs(ctx, run, chosen.OutputKey)
	run.logger.Info("file completed",
		logging.String(logging.FieldPreset, chosen.Preset),
		logging.Bool("best_effort", bestEffort),
		logging.String("output_key", chosen.OutputKey),
	)
	m.finishFile(ctx, run)
}

// failFile marks the file failed. result is the gate's score when scoring ran.
func (m *Manager) failFile(ctx context.Context, run *fileRun, code int, message string, result *quality.Result) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "conversion failed"
	}
	patch := queue.FilePatch{
		Status:         queue.Ptr(queue.FileFailed),
		ErrorCode:      queue.Ptr(code),
		ErrorMessage:   queue.Ptr(message),
		Quality:        result,
		PresetAttempts: run.presets(),
	}
	if !m.updateFile(ctx, run, patch) {
		return
	}
	m.discardOutputs(ctx, run, "")
	logging.WarnWithContext(run.logger, "file failed", "file_failed",
		logging.Int("error_code", code),
		logging.String("error_message", message),
		logging.String(logging.FieldErrorHint, "inspect the source file or retry with a different preset"),
		logging.String(logging.FieldImpact, "file is not converted"),
	)
	m.finishFile(ctx, run)
}

// abandonFile terminates a file whose task was cancelled. The task is already
// terminal so no aggregation follows.
func (m *Manager) abandonFile(ctx context.Context, run *fileRun) {
	if run.jobID != "" {
		if err := m.deps.Transcoder.Cancel(ctx, run.jobID); err != nil {
			run.logger.Debug("cancel abandoned job failed", logging.Error(err))
		}
	}
	m.updateFile(ctx, run, queue.FilePatch{
		Status:         queue.Ptr(queue.FileFailed),
		ErrorMessage:   queue.Ptr("task cancelled"),
		PresetAttempts: run.presets(),
	})
	run.logger.Info("file abandoned after task cancellation", logging.String(logging.FieldEventType, "file_abandoned"))
}

// discardOutputs deletes attempt outputs other than keep.
func (m *Manager) discardOutputs(ctx context.Context, run *fileRun, keep string) {
	var keys []string
	for _, attempt := range run.attempts {
		if attempt.OutputKey != "" && attempt.OutputKey != keep {
			keys = append(keys, attempt.OutputKey)
		}
	}
	if len(keys) == 0 {
		return
	}
	if _, err := m.deps.Blobs.DeleteMany(ctx, keys); err != nil {
		logging.WarnWithContext(run.logger, "discard attempt outputs failed", "output_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "unused outputs remain until the task expires"),
		)
	}
}

// finishFile removes the source object of a terminal file and settles the task.
func (m *Manager) finishFile(ctx context.Context, run *fileRun) {
	if run.file.SourceKey != "" {
		if _, err := m.deps.Blobs.DeleteMany(ctx, []string{run.file.SourceKey}); err != nil {
			logging.WarnWithContext(run.logger, "delete source failed", "source_cleanup_failed",
				logging.String("source_key", run.file.SourceKey),
				logging.Error(err),
				logging.String(logging.FieldImpact, "source remains until the task expires"),
			)
		}
	}
	m.settleTask(ctx, run.task.ID)
}

// settleTask recomputes the task status from its files. In-flight tasks get
// their progress refreshed; once every file is terminal the aggregate status
// is written through a conditional transition so only one worker wins.
func (m *Manager) settleTask(ctx context.Context, taskID string) {
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil || task == nil || task.Status.IsTerminal() || task.Status == queue.TaskUploading {
		return
	}
	logger := logging.WithContext(ctx, m.logger)
	statuses := task.FileStatuses()
	if inFlight, ok := queue.InFlightStatus(statuses); ok {
		pct, step := progress.Simple(task.Files)
		if _, err := m.store.TransitionTask(ctx, taskID, inFlight, queue.TaskPatch{
			ProgressPercent: &pct,
			CurrentStep:     &step,
		}, runnableStatuses...); err != nil && ctx.Err() == nil {
			logger.Debug("refresh task progress failed", logging.Error(err))
		}
		return
	}

	final, err := queue.Aggregate(statuses)
	if err != nil {
		logger.Debug("aggregate task failed", logging.Error(err))
		return
	}
	now := time.Now()
	patch := queue.TaskPatch{
		ProgressPercent: queue.Ptr(progress.Completed),
		CurrentStep:     queue.Ptr(progress.StepCompleted),
		CompletedAt:     &now,
	}
	if final == queue.TaskFailed {
		patch.ErrorMessage = queue.Ptr(firstFileError(task))
	}
	moved, err := m.store.TransitionTask(ctx, taskID, final, patch, runnableStatuses...)
	if err != nil {
		m.setLastError(err)
		logging.ErrorWithContext(logger, "settle task failed", "task_settle_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
		return
	}
	if !moved {
		return
	}

	completed, failed, bestEffort := 0, 0, 0
	for _, f := range task.Files {
		switch f.Status {
		case queue.FileCompleted:
			completed++
			if f.BestEffort {
				bestEffort++
			}
		case queue.FileFailed:
			failed++
		}
	}
	logger.Info("task finished",
		logging.String("status", string(final)),
		logging.Int("completed", completed),
		logging.Int("failed", failed),
		logging.Int("best_effort", bestEffort),
		logging.String(logging.FieldEventType, "task_finished"),
	)
	event := notifications.EventTaskCompleted
	switch final {
	case queue.TaskPartiallyCompleted:
		event = notifications.EventTaskPartial
	case queue.TaskFailed:
		event = notifications.EventTaskFailed
	}
	m.notify(ctx, event, notifications.Payload{
		"taskID":     taskID,
		"completed":  completed,
		"failed":     failed,
		"bestEffort": bestEffort,
	})
}

func firstFileError(task *queue.Task) string {
	for _, f := range task.Files {
		if f.Status == queue.FileFailed && f.ErrorMessage != "" {
			return f.ErrorMessage
		}
	}
	if len(task.Files) == 0 {
		return "task has no files"
	}
	return "all files failed"
}

package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vidconv/internal/blobstore"
	"vidconv/internal/logging"
	"vidconv/internal/quality"
	"vidconv/internal/queue"
	"vidconv/internal/services"
	"vidconv/internal/transcoder"
)

// runAttempt transcodes the file with the run's current preset and scores the
// output. A returned error means the attempt produced no score.
func (m *Manager) runAttempt(ctx context.Context, run *fileRun) (quality.Attempt, error) {
	attempt := quality.Attempt{Preset: run.preset}
	run.jobID = ""
	prefix := blobstore.AttemptPrefix(run.file.TaskID, run.file.ID, len(run.attempts))

	jobID, err := m.deps.Transcoder.Submit(ctx, transcoder.Request{
		TaskID:       run.file.TaskID,
		FileID:       run.file.ID,
		SourceKey:    run.file.SourceKey,
		OutputPrefix: prefix,
		Preset:       quality.Resolve(run.preset),
	})
	if err != nil {
		return attempt, err
	}
	attempt.JobID = jobID
	run.jobID = jobID

	m.updateFile(ctx, run, queue.FilePatch{
		Status:         queue.Ptr(queue.FileConverting),
		JobID:          queue.Ptr(jobID),
		PresetAttempts: append(run.presets(), run.preset),
	})
	m.settleTask(ctx, run.task.ID)

	status, err := m.awaitJob(ctx, run, jobID)
	if err != nil {
		return attempt, err
	}
	outputKey := status.OutputKey
	if outputKey == "" {
		outputKey = prefix + blobstore.OutputName(run.file.Filename)
	}
	attempt.OutputKey = outputKey

	if m.taskCancelled(ctx, run.task.ID) {
		return attempt, errTaskCancelled
	}
	m.updateFile(ctx, run, queue.FilePatch{
		Status:    queue.Ptr(queue.FileVerifying),
		OutputKey: queue.Ptr(outputKey),
	})
	m.settleTask(ctx, run.task.ID)

	result, err := m.deps.Scorer.Score(ctx, run.file.SourceKey, outputKey)
	if err != nil {
		return attempt, err
	}
	if m.taskCancelled(ctx, run.task.ID) {
		return attempt, errTaskCancelled
	}
	attempt.Score = &result.SSIM
	attempt.Result = &result
	attempt.Success = true
	return attempt, nil
}

// awaitJob polls until the job finishes, the task is cancelled, or the job
// timeout elapses. A timed out job is cancelled and reported as a timeout.
func (m *Manager) awaitJob(ctx context.Context, run *fileRun, jobID string) (transcoder.Status, error) {
	deadline := time.Now().Add(m.jobTimeout)
	logger := run.logger.With(logging.String(logging.FieldJobID, jobID))
	for {
		status, err := m.deps.Transcoder.Status(ctx, jobID)
		switch {
		case err == nil && status.State == transcoder.StateComplete:
			logger.Info("transcode complete", logging.String("output_key", status.OutputKey))
			return status, nil
		case err == nil && status.State == transcoder.StateError:
			return status, status.Err()
		case errors.Is(err, services.ErrNotFound):
			return transcoder.Status{}, services.Wrap(services.ErrTransient, "transcode", "poll", "job disappeared", err)
		case err != nil && ctx.Err() == nil:
			logging.WarnWithContext(logger, "job status poll failed; retrying", "job_poll_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check transcoder connectivity"),
				logging.String(logging.FieldImpact, "progress reporting delayed"),
			)
		}

		if m.jobTimeout > 0 && time.Now().After(deadline) {
			if cancelErr := m.deps.Transcoder.Cancel(ctx, jobID); cancelErr != nil {
				logger.Debug("cancel timed out job failed", logging.Error(cancelErr))
			}
			return transcoder.Status{}, services.Wrap(services.ErrTimeout, "transcode", "poll",
				fmt.Sprintf("job %s exceeded %s", jobID, m.jobTimeout), nil)
		}
		if m.taskCancelled(ctx, run.task.ID) {
			return transcoder.Status{}, errTaskCancelled
		}
		if !m.sleep(ctx, m.jobPollInterval) {
			return transcoder.Status{}, ctx.Err()
		}
	}
}

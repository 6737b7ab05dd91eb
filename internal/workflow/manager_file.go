package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vidconv/internal/errclass"
	"vidconv/internal/logging"
	"vidconv/internal/quality"
	"vidconv/internal/queue"
	"vidconv/internal/services"
	"vidconv/internal/transcoder"
)

var errTaskCancelled = errors.New("task cancelled")

// fileRun is the worker-owned state of one file's escalation sequence.
type fileRun struct {
	task       *queue.Task
	file       queue.File
	preset     string
	retryCount int
	attempts   []quality.Attempt
	jobID      string
	logger     *slog.Logger
}

func (r *fileRun) presets() []string {
	return quality.Presets(r.attempts)
}

func (m *Manager) processFile(ctx context.Context, file queue.File) {
	ctx = services.WithFileID(services.WithTaskID(ctx, file.TaskID), file.ID)
	logger := logging.WithContext(ctx, m.logger)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, file.TaskID, file.ID)
	defer func() {
		stopHeartbeat()
		hbWG.Wait()
	}()

	task, err := m.store.GetTask(ctx, file.TaskID)
	if err != nil || task == nil {
		if ctx.Err() == nil {
			logging.WarnWithContext(logger, "task lookup failed; file released", "task_lookup_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database access"),
				logging.String(logging.FieldImpact, "file is reclaimed after heartbeat timeout"),
			)
		}
		return
	}
	if task.Status == queue.TaskCancelled {
		m.abandonFile(ctx, &fileRun{task: task, file: file, logger: logger})
		return
	}

	now := time.Now()
	if _, err := m.store.TransitionTask(ctx, task.ID, queue.TaskConverting, queue.TaskPatch{StartedAt: &now}, queue.TaskPending); err != nil {
		logging.WarnWithContext(logger, "mark task started failed", "task_start_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "task status lags until the next file transition"),
		)
	}

	preset := task.Preset
	if preset == "" {
		preset = m.cfg.Quality.DefaultPreset
	}
	run := &fileRun{
		task:       task,
		file:       file,
		preset:     preset,
		retryCount: file.RetryCount,
		logger:     logger.With(logging.String("filename", file.Filename)),
	}
	run.logger.Info("file processing started", logging.String(logging.FieldPreset, preset))
	m.runAttempts(ctx, run)
}

// runAttempts drives submit, poll, score, and gate until the file is terminal.
func (m *Manager) runAttempts(ctx context.Context, run *fileRun) {
	for {
		if ctx.Err() != nil {
			return
		}
		if m.taskCancelled(ctx, run.task.ID) {
			m.abandonFile(ctx, run)
			return
		}

		attempt, err := m.runAttempt(ctx, run)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errTaskCancelled) || (err != nil && m.taskCancelled(ctx, run.task.ID)) {
			m.abandonFile(ctx, run)
			return
		}
		if err != nil {
			retry, code := m.shouldRetry(err, run.retryCount)
			run.logger.Info("attempt failed",
				logging.Args(append(logging.DecisionAttrs("transient_retry", retryResult(retry), err.Error()),
					logging.Int("error_code", code),
					logging.Int("retry_count", run.retryCount),
					logging.Int("max_retries", m.maxRetries),
					logging.String(logging.FieldPreset, run.preset),
				)...)...,
			)
			if retry {
				run.retryCount++
				m.updateFile(ctx, run, queue.FilePatch{
					Status:     queue.Ptr(queue.FileConverting),
					RetryCount: queue.Ptr(run.retryCount),
				})
				if !m.sleep(ctx, m.retryDelay) {
					return
				}
				continue
			}
			attempt.Error = err.Error()
			run.attempts = append(run.attempts, attempt)
			if chosen, ok := quality.Select(run.attempts); ok {
				m.completeFile(ctx, run, chosen, true)
				return
			}
			m.failFile(ctx, run, code, failureMessage(err), nil)
			return
		}

		run.attempts = append(run.attempts, attempt)
		score := *attempt.Score
		decision := quality.Decide(attempt.Preset, score, m.threshold)
		run.logger.Info("quality gate decision",
			logging.Args(append(logging.DecisionAttrs("quality_gate", string(decision.Action), decision.Reason),
				logging.Float64("ssim", score),
				logging.Float64("threshold", m.threshold),
				logging.String(logging.FieldPreset, attempt.Preset),
				logging.String("next_preset", decision.NextPreset),
			)...)...,
		)
		switch decision.Action {
		case quality.ActionAccept:
			m.completeFile(ctx, run, &run.attempts[len(run.attempts)-1], false)
			return
		case quality.ActionRetry:
			run.preset = decision.NextPreset
			m.updateFile(ctx, run, queue.FilePatch{
				Status:         queue.Ptr(queue.FileConverting),
				PresetAttempts: run.presets(),
			})
			continue
		default:
			if quality.BestEffortAllowed(attempt.Preset, len(run.attempts)-1) {
				if chosen, ok := quality.Select(run.attempts); ok {
					m.completeFile(ctx, run, chosen, true)
					return
				}
			}
			m.failFile(ctx, run, 0, fmt.Sprintf("SSIM threshold not met: %.4f < %.4f", score, m.threshold), attempt.Result)
			return
		}
	}
}

// shouldRetry applies the retry ceiling to the classifier verdict. Job
// failures are classified by code; poll timeouts and transport failures are
// transient.
func (m *Manager) shouldRetry(err error, retryCount int) (bool, int) {
	var jobErr *transcoder.JobError
	if errors.As(err, &jobErr) {
		return errclass.ShouldRetry(jobErr.Code, retryCount, m.maxRetries), jobErr.Code
	}
	if errors.Is(err, services.ErrTransient) || errors.Is(err, services.ErrTimeout) {
		return retryCount < m.maxRetries, 0
	}
	return false, 0
}

func retryResult(retry bool) string {
	if retry {
		return "retry"
	}
	return "give_up"
}

func failureMessage(err error) string {
	var jobErr *transcoder.JobError
	if errors.As(err, &jobErr) {
		return jobErr.Error()
	}
	return err.Error()
}

func (m *Manager) taskCancelled(ctx context.Context, taskID string) bool {
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return false
	}
	return task == nil || task.Status == queue.TaskCancelled
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Manager) updateFile(ctx context.Context, run *fileRun, patch queue.FilePatch) bool {
	if err := m.store.UpdateFile(ctx, run.file.TaskID, run.file.ID, patch); err != nil {
		if ctx.Err() == nil {
			m.setLastError(err)
			logging.ErrorWithContext(run.logger, "persist file update failed", "file_update_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
		}
		return false
	}
	return true
}

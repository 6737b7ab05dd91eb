package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"vidconv/internal/services"
)

// UpdateFile applies an atomic partial update to one file.
func (s *Store) UpdateFile(ctx context.Context, taskID, fileID string, patch FilePatch) error {
	sets, args, err := filePatchClauses(patch)
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(time.Now()), taskID, fileID)
	res, err := s.execWithRetry(ctx,
		`UPDATE task_files SET `+strings.Join(sets, ", ")+` WHERE task_id = ? AND file_id = ?`,
		args...,
	)
	if err != nil {
		return services.Wrap(services.ErrStorage, "queue", "update file", fileID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return services.Wrap(services.ErrNotFound, "queue", "update file", taskID+"/"+fileID, nil)
	}
	return nil
}

func filePatchClauses(patch FilePatch) ([]string, []any, error) {
	var (
		sets []string
		args []any
	)
	add := func(clause string, value any) {
		sets = append(sets, clause)
		args = append(args, value)
	}

	if patch.Status != nil {
		status := *patch.Status
		add("status = ?", status)
		if status != FileConverting && patch.JobID == nil {
			sets = append(sets, "job_id = NULL")
		}
		if status == FileFailed {
			if patch.ErrorMessage == nil || strings.TrimSpace(*patch.ErrorMessage) == "" {
				return nil, nil, services.Wrap(services.ErrValidation, "queue", "update file", "failed file requires an error message", nil)
			}
		} else if patch.ErrorMessage == nil {
			sets = append(sets, "error_message = NULL", "error_code = NULL")
		}
		if !status.IsTerminal() && patch.Quality == nil {
			sets = append(sets, "quality_json = NULL")
		}
		if status.IsTerminal() {
			sets = append(sets, "last_heartbeat = NULL")
		}
	}
	if patch.OutputKey != nil {
		add("output_key = ?", nullableString(*patch.OutputKey))
	}
	if patch.JobID != nil {
		add("job_id = ?", nullableString(*patch.JobID))
	}
	if patch.Quality != nil {
		encoded, err := encodeQuality(patch.Quality)
		if err != nil {
			return nil, nil, fmt.Errorf("encode quality result: %w", err)
		}
		add("quality_json = ?", encoded)
	}
	if patch.ErrorCode != nil {
		add("error_code = ?", *patch.ErrorCode)
	}
	if patch.ErrorMessage != nil {
		add("error_message = ?", nullableString(*patch.ErrorMessage))
	}
	if patch.RetryCount != nil {
		add("retry_count = ?", *patch.RetryCount)
	}
	if patch.PresetAttempts != nil {
		add("preset_attempts = ?", encodeAttempts(patch.PresetAttempts))
	}
	if patch.BestEffort != nil {
		add("best_effort = ?", boolToInt(*patch.BestEffort))
	}
	if patch.SelectedPreset != nil {
		add("selected_preset = ?", nullableString(*patch.SelectedPreset))
	}
	if patch.DownloadedAt != nil {
		add("downloaded_at = ?", formatTime(*patch.DownloadedAt))
	}
	if patch.DownloadAvailable != nil {
		add("download_available = ?", boolToInt(*patch.DownloadAvailable))
	}
	return sets, args, nil
}

// ClaimFile moves a pending file to converting and stamps its heartbeat. It
// reports false when another worker already claimed it or the owning task is
// no longer active.
func (s *Store) ClaimFile(ctx context.Context, taskID, fileID string) (bool, error) {
	now := formatTime(time.Now())
	args := []any{FileConverting, now, now, taskID, fileID, FilePending, taskID}
	args = append(args, statusArgs(runnableTaskStatuses)...)
	res, err := s.execWithRetry(ctx,
		`UPDATE task_files SET status = ?, last_heartbeat = ?, updated_at = ?
         WHERE task_id = ? AND file_id = ? AND status = ?
           AND EXISTS (SELECT 1 FROM tasks WHERE id = ? AND status IN (`+makePlaceholders(len(runnableTaskStatuses))+`))`,
		args...,
	)
	if err != nil {
		return false, services.Wrap(services.ErrStorage, "queue", "claim file", fileID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// runnableTaskStatuses are the task statuses whose pending files may be picked up.
// Uploading tasks are still being assembled.
var runnableTaskStatuses = []TaskStatus{TaskPending, TaskConverting, TaskVerifying}

// NextPendingFiles returns up to limit pending files of runnable tasks in
// arrival order.
func (s *Store) NextPendingFiles(ctx context.Context, limit int) ([]File, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx = ensureContext(ctx)
	cols := make([]string, 0, 20)
	for _, col := range strings.Split(fileColumns, ", ") {
		cols = append(cols, "f."+col)
	}
	args := []any{FilePending}
	args = append(args, statusArgs(runnableTaskStatuses)...)
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+strings.Join(cols, ", ")+`
         FROM task_files f JOIN tasks t ON t.id = f.task_id
         WHERE f.status = ? AND t.status IN (`+makePlaceholders(len(runnableTaskStatuses))+`)
         ORDER BY f.enqueued_at, t.created_at, f.position
         LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "queue", "next pending files", "", err)
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *file)
	}
	return files, rows.Err()
}

// UpdateHeartbeat stamps the last heartbeat of an in-flight file.
func (s *Store) UpdateHeartbeat(ctx context.Context, taskID, fileID string) error {
	now := formatTime(time.Now())
	if _, err := s.execWithRetry(ctx,
		`UPDATE task_files SET last_heartbeat = ?, updated_at = ? WHERE task_id = ? AND file_id = ?`,
		now, now, taskID, fileID,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleFiles returns converting and verifying files whose heartbeat is
// older than cutoff back to pending so a worker can restart them. The
// escalation history is reset because the in-memory attempts died with the
// previous worker.
func (s *Store) ReclaimStaleFiles(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE task_files
         SET status = ?, job_id = NULL, quality_json = NULL, preset_attempts = '[]',
             last_heartbeat = NULL, updated_at = ?
         WHERE status IN (?, ?) AND (last_heartbeat IS NULL OR last_heartbeat < ?)
           AND task_id IN (SELECT id FROM tasks WHERE status IN (?, ?, ?))`,
		FilePending,
		formatTime(time.Now()),
		FileConverting,
		FileVerifying,
		formatTime(cutoff),
		TaskPending,
		TaskConverting,
		TaskVerifying,
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale files: %w", err)
	}
	return res.RowsAffected()
}

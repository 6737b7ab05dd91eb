package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"vidconv/internal/services"
)

// CreateTask inserts a task and its files in one transaction. Blank task and
// file identifiers are generated. The task starts pending unless it is
// created uploading; every file starts pending.
func (s *Store) CreateTask(ctx context.Context, task *Task) (*Task, error) {
	if task == nil {
		return nil, errors.New("task is nil")
	}
	ctx = ensureContext(ctx)
	if strings.TrimSpace(task.OwnerID) == "" {
		return nil, services.Wrap(services.ErrValidation, "queue", "create task", "owner id is required", nil)
	}
	switch task.Status {
	case "":
		task.Status = TaskPending
	case TaskPending, TaskUploading:
	default:
		return nil, services.Wrap(services.ErrValidation, "queue", "create task", fmt.Sprintf("cannot create task in status %q", task.Status), nil)
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	if s.retention > 0 {
		expires := now.Add(s.retention)
		task.ExpiresAt = &expires
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create task: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tasks (id, owner_id, preset, status, progress_percent, current_step, created_at, updated_at, expires_at)
         VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		task.ID,
		task.OwnerID,
		task.Preset,
		task.Status,
		"pending",
		formatTime(now),
		formatTime(now),
		nullableTime(task.ExpiresAt),
	); err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	for i := range task.Files {
		file := &task.Files[i]
		if file.ID == "" {
			file.ID = uuid.NewString()
		}
		if strings.TrimSpace(file.SourceKey) == "" {
			return nil, services.Wrap(services.ErrValidation, "queue", "create task", fmt.Sprintf("file %s has no source key", file.ID), nil)
		}
		file.TaskID = task.ID
		file.Position = i
		file.Status = FilePending
		file.DownloadAvailable = true
		file.UpdatedAt = now
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_files (task_id, file_id, position, filename, source_key, source_size, status, enqueued_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			task.ID,
			file.ID,
			file.Position,
			file.Filename,
			file.SourceKey,
			file.SourceSize,
			FilePending,
			formatTime(now),
			formatTime(now),
		); err != nil {
			return nil, fmt.Errorf("insert file %s: %w", file.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create task: %w", err)
	}
	task.CurrentStep = "pending"
	return task, nil
}

// GetTask fetches a task with its files. It returns nil when the task does not exist.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if err := s.attachFiles(ctx, []*Task{task}); err != nil {
		return nil, err
	}
	return task, nil
}

// GetTaskForOwner fetches a task only if it belongs to owner. A task owned by
// someone else reads as absent.
func (s *Store) GetTaskForOwner(ctx context.Context, owner, id string) (*Task, error) {
	task, err := s.GetTask(ctx, id)
	if err != nil || task == nil {
		return nil, err
	}
	if task.OwnerID != owner {
		return nil, nil
	}
	return task, nil
}

// ListByOwner returns the owner's tasks newest first, optionally filtered by status.
func (s *Store) ListByOwner(ctx context.Context, owner string, statuses ...TaskStatus) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE owner_id = ?`
	args := []any{owner}
	if len(statuses) > 0 {
		query += ` AND status IN (` + makePlaceholders(len(statuses)) + `)`
		args = append(args, statusArgs(statuses)...)
	}
	query += ` ORDER BY created_at DESC`
	return s.queryTasks(ctx, query, args...)
}

// ListByStatus returns tasks in any of statuses, oldest first. With no
// statuses every task is returned.
func (s *Store) ListByStatus(ctx context.Context, statuses ...TaskStatus) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		args = statusArgs(statuses)
	}
	query += ` ORDER BY created_at`
	return s.queryTasks(ctx, query, args...)
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]*Task, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if err := s.attachFiles(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *Store) attachFiles(ctx context.Context, tasks []*Task) error {
	if len(tasks) == 0 {
		return nil
	}
	byID := make(map[string]*Task, len(tasks))
	ids := make([]any, 0, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
		task.Files = nil
		ids = append(ids, task.ID)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM task_files WHERE task_id IN (`+makePlaceholders(len(ids))+`) ORDER BY task_id, position`,
		ids...,
	)
	if err != nil {
		return fmt.Errorf("load files: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return fmt.Errorf("scan file: %w", err)
		}
		if task := byID[file.TaskID]; task != nil {
			task.Files = append(task.Files, *file)
		}
	}
	return rows.Err()
}

// UpdateTask applies an atomic partial update to the advisory task fields.
func (s *Store) UpdateTask(ctx context.Context, id string, patch TaskPatch) error {
	sets, args := taskPatchClauses(patch)
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(time.Now()), id)
	res, err := s.execWithRetry(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return services.Wrap(services.ErrNotFound, "queue", "update task", id, nil)
	}
	return nil
}

// TransitionTask moves a task to status to only if its current status is one
// of from, applying patch in the same statement. With no from statuses any
// non-terminal status qualifies, so terminal tasks never change. It reports
// whether the transition happened.
func (s *Store) TransitionTask(ctx context.Context, id string, to TaskStatus, patch TaskPatch, from ...TaskStatus) (bool, error) {
	if !to.Valid() {
		return false, services.Wrap(services.ErrValidation, "queue", "transition task", fmt.Sprintf("unknown status %q", to), nil)
	}
	if len(from) == 0 {
		from = ActiveTaskStatuses
	}
	for _, status := range from {
		if status.IsTerminal() {
			return false, services.Wrap(services.ErrValidation, "queue", "transition task", fmt.Sprintf("cannot leave terminal status %q", status), nil)
		}
	}
	sets, args := taskPatchClauses(patch)
	sets = append([]string{"status = ?"}, sets...)
	args = append([]any{to}, args...)
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(time.Now()), id)
	args = append(args, statusArgs(from)...)

	query := `UPDATE tasks SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND status IN (` + makePlaceholders(len(from)) + `)`
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func taskPatchClauses(patch TaskPatch) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	if patch.ProgressPercent != nil {
		sets = append(sets, "progress_percent = ?")
		args = append(args, *patch.ProgressPercent)
	}
	if patch.CurrentStep != nil {
		sets = append(sets, "current_step = ?")
		args = append(args, nullableString(*patch.CurrentStep))
	}
	if patch.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, nullableString(*patch.ErrorMessage))
	}
	if patch.StartedAt != nil {
		sets = append(sets, "started_at = COALESCE(started_at, ?)")
		args = append(args, formatTime(*patch.StartedAt))
	}
	if patch.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, formatTime(*patch.CompletedAt))
	}
	return sets, args
}

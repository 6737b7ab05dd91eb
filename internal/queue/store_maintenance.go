package queue

import (
	"context"
	"fmt"
	"time"
)

// Stats returns task counts per status plus the number of queued and
// in-flight files.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	stats := Stats{Tasks: make(map[TaskStatus]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, err
		}
		stats.Tasks[TaskStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT
            COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN status IN (?, ?) THEN 1 ELSE 0 END), 0)
         FROM task_files`,
		FilePending, FileConverting, FileVerifying,
	)
	if err := row.Scan(&stats.PendingFiles, &stats.ActiveFiles); err != nil {
		return Stats{}, fmt.Errorf("file stats: %w", err)
	}
	return stats, nil
}

// PurgeExpired deletes terminal tasks whose retention expired before now.
// Files go with them through the foreign key cascade.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM tasks WHERE expires_at IS NOT NULL AND expires_at < ? AND status IN (?, ?, ?, ?)`,
		formatTime(now),
		TaskCompleted,
		TaskPartiallyCompleted,
		TaskFailed,
		TaskCancelled,
	)
	if err != nil {
		return 0, fmt.Errorf("purge expired tasks: %w", err)
	}
	return res.RowsAffected()
}

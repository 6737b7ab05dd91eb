package workflow

import (
	"context"
	"sort"

	"vidconv/internal/queue"
)

// StatusSummary is a point-in-time view of the worker pool.
type StatusSummary struct {
	Running        bool
	MaxConcurrency int
	LastError      string
	Active         []queue.File
	Stats          queue.Stats
}

// Status reports pool state plus queue statistics.
func (m *Manager) Status(ctx context.Context) (StatusSummary, error) {
	m.mu.RLock()
	summary := StatusSummary{
		Running:        m.running,
		MaxConcurrency: cap(m.slots),
		Active:         make([]queue.File, 0, len(m.active)),
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	for _, file := range m.active {
		summary.Active = append(summary.Active, file)
	}
	m.mu.RUnlock()

	sort.Slice(summary.Active, func(i, j int) bool {
		if summary.Active[i].TaskID != summary.Active[j].TaskID {
			return summary.Active[i].TaskID < summary.Active[j].TaskID
		}
		return summary.Active[i].Position < summary.Active[j].Position
	})

	stats, err := m.store.Stats(ctx)
	if err != nil {
		return summary, err
	}
	summary.Stats = stats
	return summary, nil
}

func (m *Manager) setLastError(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

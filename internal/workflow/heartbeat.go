package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"vidconv/internal/logging"
	"vidconv/internal/queue"
)

// HeartbeatMonitor stamps in-flight files and reclaims abandoned ones.
type HeartbeatMonitor struct {
	store             *queue.Store
	logger            *slog.Logger
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(store *queue.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:             store,
		logger:            logger,
		heartbeatInterval: interval,
		heartbeatTimeout:  timeout,
	}
}

// ReclaimStaleFiles returns converting and verifying files whose heartbeat
// expired back to pending.
func (h *HeartbeatMonitor) ReclaimStaleFiles(ctx context.Context, logger *slog.Logger) (int64, error) {
	if h.heartbeatTimeout <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-h.heartbeatTimeout)
	reclaimed, err := h.store.ReclaimStaleFiles(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		logger.Info("reclaimed stale files", logging.Int64("count", reclaimed), logging.String(logging.FieldEventType, "heartbeat_reclaim"))
	}
	return reclaimed, nil
}

// StartLoop refreshes a file's heartbeat until ctx is cancelled.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, taskID, fileID string) {
	defer wg.Done()
	if h.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, logging.NewComponentLogger(h.logger, "workflow-heartbeat"))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.UpdateHeartbeat(ctx, taskID, fileID); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Debug("heartbeat update cancelled")
				} else {
					logging.WarnWithContext(logger, "heartbeat update failed", "heartbeat_failed",
						logging.Error(err),
						logging.String(logging.FieldErrorHint, "check queue database access"),
						logging.String(logging.FieldImpact, "file may be reclaimed while still running"),
					)
				}
			}
		}
	}
}

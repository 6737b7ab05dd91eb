package workflow

import (
	"context"
	"errors"
	"time"

	"vidconv/internal/blobstore"
	"vidconv/internal/logging"
	"vidconv/internal/notifications"
	"vidconv/internal/queue"
)

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.deps.Transcoder == nil || m.deps.Scorer == nil || m.deps.Blobs == nil {
		m.mu.Unlock()
		return errors.New("workflow collaborators not configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.loopWG.Add(1)
	m.mu.Unlock()

	go m.run(runCtx)
	return nil
}

// Stop terminates the poll loop and waits for in-flight workers to return.
// Files a worker abandons on shutdown keep their status and are reclaimed by
// heartbeat expiry.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.loopWG.Wait()
	m.workers.Wait()
}

// Wake asks the poll loop to look for work now.
func (m *Manager) Wake() {
	m.signalWake()
}

func (m *Manager) run(ctx context.Context) {
	defer m.loopWG.Done()
	m.logger.Info("workflow started",
		logging.Int("max_concurrency", cap(m.slots)),
		logging.Float64("ssim_threshold", m.threshold),
	)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		m.maintain(ctx)

		dispatched, err := m.dispatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.handleFetchError(ctx, err)
			continue
		}
		if dispatched == 0 {
			m.waitForWork(ctx)
		}
	}
}

// dispatch claims pending files in arrival order until every slot is busy.
func (m *Manager) dispatch(ctx context.Context) (int, error) {
	free := cap(m.slots) - len(m.slots)
	if free <= 0 {
		return 0, nil
	}
	files, err := m.store.NextPendingFiles(ctx, free)
	if err != nil {
		return 0, err
	}
	started := 0
	for _, file := range files {
		claimed, err := m.store.ClaimFile(ctx, file.TaskID, file.ID)
		if err != nil {
			return started, err
		}
		if !claimed {
			continue
		}
		file.Status = queue.FileConverting
		m.slots <- struct{}{}
		m.trackActive(file, true)
		m.workers.Add(1)
		go func(f queue.File) {
			defer m.workers.Done()
			defer func() {
				<-m.slots
				m.trackActive(f, false)
				m.signalWake()
			}()
			m.processFile(ctx, f)
		}(file)
		started++
	}
	return started, nil
}

func (m *Manager) handleFetchError(ctx context.Context, err error) {
	m.setLastError(err)
	logging.ErrorWithContext(m.logger, "failed to fetch pending files", "queue_fetch_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check queue database access"),
	)
	m.notify(ctx, notifications.EventError, notifications.Payload{"context": "queue poll", "error": err})
	select {
	case <-ctx.Done():
	case <-time.After(m.retryDelayOrPoll()):
	}
}

func (m *Manager) retryDelayOrPoll() time.Duration {
	if m.retryDelay > 0 {
		return m.retryDelay
	}
	return m.pollInterval
}

func (m *Manager) waitForWork(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-m.wake:
	case <-time.After(m.pollInterval):
	}
}

// maintain reclaims stale files and purges expired tasks at most once per
// maintenance interval.
func (m *Manager) maintain(ctx context.Context) {
	m.mu.Lock()
	due := m.lastMaintenance.IsZero() || time.Since(m.lastMaintenance) >= m.maintenanceInterval
	if due {
		m.lastMaintenance = time.Now()
	}
	m.mu.Unlock()
	if !due {
		return
	}

	if _, err := m.heartbeat.ReclaimStaleFiles(ctx, m.logger); err != nil && ctx.Err() == nil {
		logging.WarnWithContext(m.logger, "reclaim stale files failed; stuck files may remain", "heartbeat_reclaim_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database access"),
			logging.String(logging.FieldImpact, "files from a crashed worker stay in flight"),
		)
	}
	m.purgeExpired(ctx)
}

func (m *Manager) purgeExpired(ctx context.Context) {
	now := time.Now()
	tasks, err := m.store.ListByStatus(ctx, queue.TerminalTaskStatuses...)
	if err != nil {
		if ctx.Err() == nil {
			logging.WarnWithContext(m.logger, "list expired tasks failed", "retention_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "expired tasks kept until the next sweep"),
			)
		}
		return
	}
	for _, task := range tasks {
		if task.ExpiresAt == nil || task.ExpiresAt.After(now) {
			continue
		}
		m.deleteTaskBlobs(ctx, task.ID)
	}
	purged, err := m.store.PurgeExpired(ctx, now)
	if err != nil {
		if ctx.Err() == nil {
			logging.WarnWithContext(m.logger, "purge expired tasks failed", "retention_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "expired tasks kept until the next sweep"),
			)
		}
		return
	}
	if purged > 0 {
		m.logger.Info("purged expired tasks", logging.Int64("count", purged), logging.String(logging.FieldEventType, "retention_purge"))
	}
}

func (m *Manager) deleteTaskBlobs(ctx context.Context, taskID string) {
	var keys []string
	for _, prefix := range blobstore.TaskPrefixes(taskID) {
		listed, err := m.deps.Blobs.List(ctx, prefix)
		if err != nil {
			logging.WarnWithContext(m.logger, "list task blobs failed", "retention_cleanup_failed",
				logging.String(logging.FieldTaskID, taskID),
				logging.String("prefix", prefix),
				logging.Error(err),
				logging.String(logging.FieldImpact, "orphaned objects remain in storage"),
			)
			continue
		}
		keys = append(keys, listed...)
	}
	keys = blobstore.Dedupe(keys)
	if len(keys) == 0 {
		return
	}
	if _, err := m.deps.Blobs.DeleteMany(ctx, keys); err != nil {
		logging.WarnWithContext(m.logger, "delete task blobs failed", "retention_cleanup_failed",
			logging.String(logging.FieldTaskID, taskID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "orphaned objects remain in storage"),
		)
	}
}

func (m *Manager) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if m.deps.Notifier == nil {
		return
	}
	if err := m.deps.Notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(m.logger, "notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			logging.String(logging.FieldImpact, "operator not alerted"),
		)
	}
}

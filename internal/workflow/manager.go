package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vidconv/internal/blobstore"
	"vidconv/internal/config"
	"vidconv/internal/logging"
	"vidconv/internal/notifications"
	"vidconv/internal/queue"
	"vidconv/internal/scorer"
	"vidconv/internal/transcoder"
)

// Dependencies are the collaborators a Manager drives.
type Dependencies struct {
	Blobs      blobstore.Store
	Transcoder transcoder.Transcoder
	Scorer     scorer.Scorer
	Notifier   notifications.Service
}

// Manager coordinates file processing across a bounded worker pool.
type Manager struct {
	cfg       *config.Config
	store     *queue.Store
	deps      Dependencies
	logger    *slog.Logger
	heartbeat *HeartbeatMonitor

	pollInterval        time.Duration
	jobPollInterval     time.Duration
	jobTimeout          time.Duration
	retryDelay          time.Duration
	maintenanceInterval time.Duration
	threshold           float64
	maxRetries          int

	slots chan struct{}
	wake  chan struct{}

	mu              sync.RWMutex
	running         bool
	cancel          context.CancelFunc
	loopWG          sync.WaitGroup
	workers         sync.WaitGroup
	lastErr         error
	active          map[string]queue.File
	lastMaintenance time.Time
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithPollIntervals overrides the queue and job poll cadence.
func WithPollIntervals(queuePoll, jobPoll time.Duration) ManagerOption {
	return func(m *Manager) {
		if queuePoll > 0 {
			m.pollInterval = queuePoll
		}
		if jobPoll > 0 {
			m.jobPollInterval = jobPoll
		}
	}
}

// WithRetryDelay overrides the pause before a transient retry.
func WithRetryDelay(delay time.Duration) ManagerOption {
	return func(m *Manager) {
		if delay >= 0 {
			m.retryDelay = delay
		}
	}
}

// WithJobTimeout overrides how long a single job may run.
func WithJobTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		if timeout > 0 {
			m.jobTimeout = timeout
		}
	}
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, store *queue.Store, deps Dependencies, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewService(cfg)
	}
	concurrency := cfg.Workflow.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:    cfg,
		store:  store,
		deps:   deps,
		logger: logging.NewComponentLogger(logger, "workflow"),
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		pollInterval:        time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		jobPollInterval:     time.Duration(cfg.Transcoder.PollIntervalSeconds) * time.Second,
		jobTimeout:          time.Duration(cfg.Transcoder.JobTimeoutSeconds) * time.Second,
		retryDelay:          time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		maintenanceInterval: time.Minute,
		threshold:           cfg.Quality.SSIMThreshold,
		maxRetries:          cfg.Workflow.MaxRetries,
		slots:               make(chan struct{}, concurrency),
		wake:                make(chan struct{}, 1),
		active:              make(map[string]queue.File),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.pollInterval <= 0 {
		m.pollInterval = time.Second
	}
	if m.jobPollInterval <= 0 {
		m.jobPollInterval = time.Second
	}
	return m
}

func activeKey(taskID, fileID string) string {
	return taskID + "/" + fileID
}

func (m *Manager) trackActive(file queue.File, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if active {
		m.active[activeKey(file.TaskID, file.ID)] = file
		return
	}
	delete(m.active, activeKey(file.TaskID, file.ID))
}

func (m *Manager) signalWake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/gofrs/flock"

	"vidconv/internal/api"
	"vidconv/internal/blobstore"
	"vidconv/internal/cancel"
	"vidconv/internal/config"
	"vidconv/internal/logging"
	"vidconv/internal/preflight"
	"vidconv/internal/queue"
	"vidconv/internal/workflow"
)

// Services bundles the components the daemon exposes over HTTP.
type Services struct {
	Store       *queue.Store
	Blobs       blobstore.Store
	Workflow    *workflow.Manager
	Coordinator *cancel.Coordinator
	Tasks       *api.TaskService
}

// Daemon coordinates the workflow driver and the HTTP API and enforces
// single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	svc    Services
	api    *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Backend      string
	Workflow     workflow.StatusSummary
	Dependencies []api.DependencyStatus
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, svc Services, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || svc.Store == nil || svc.Workflow == nil || svc.Tasks == nil || svc.Coordinator == nil {
		return nil, errors.New("daemon requires config, store, workflow manager, task service, and cancel coordinator")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		svc:      svc,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, runs preflight checks, and launches the
// workflow driver and HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another vidconv daemon instance is already running")
	}

	for _, result := range preflight.RunAll(ctx, d.cfg, d.svc.Blobs) {
		if result.Passed {
			d.logger.Debug("preflight check passed", logging.String("check", result.Name), logging.String("detail", result.Detail))
			continue
		}
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "fix the reported path or credential and restart the daemon"),
			logging.String(logging.FieldImpact, "conversions may fail until the check passes"),
		)
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.svc.Workflow.Start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("start workflow: %w", err)
	}
	if d.api != nil {
		if err := d.api.start(d.ctx); err != nil {
			d.svc.Workflow.Stop()
			d.abortStart()
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("vidconv daemon started",
		logging.String("lock", d.lockPath),
		logging.String("backend", d.cfg.Transcoder.Backend),
		logging.Int("max_concurrency", d.cfg.Workflow.MaxConcurrency),
	)
	return nil
}

func (d *Daemon) abortStart() {
	_ = d.lock.Unlock()
	d.cancel()
	d.ctx = nil
	d.cancel = nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.svc.Workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the lock file if no daemon is running"),
			logging.String(logging.FieldImpact, "next daemon start may report an existing instance"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("vidconv daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.svc.Store.Close()
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddress returns the bound API address once the server is listening.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	summary, err := d.svc.Workflow.Status(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Backend:      d.cfg.Transcoder.Backend,
		Workflow:     summary,
		Dependencies: api.FromDependencies(preflight.CheckSystemDeps(ctx, d.cfg)),
	}, nil
}

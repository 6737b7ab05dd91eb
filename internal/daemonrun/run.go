package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"vidconv/internal/api"
	"vidconv/internal/cancel"
	"vidconv/internal/config"
	"vidconv/internal/daemon"
	"vidconv/internal/deps"
	"vidconv/internal/logging"
	"vidconv/internal/notifications"
	"vidconv/internal/preflight"
	"vidconv/internal/queue"
	"vidconv/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides logging.level when set.
	LogLevel string
	// Quiet drops the stdout log sink, leaving only the log file.
	Quiet bool
}

// Run starts the vidconv daemon and blocks until ctx is cancelled or the
// process receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, stop := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("vidconvd-%s.log", runID))
	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	outputs := []string{logPath}
	if !opts.Quiet {
		outputs = append([]string{"stdout"}, outputs...)
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update vidconvd.log link: %v\n", err)
	}
	logging.PruneOldLogs(logger, cfg.Paths.LogDir, "vidconvd-*.log", cfg.Logging.RetentionDays, logPath)
	logDependencySnapshot(signalCtx, logger, cfg)

	pidPath := filepath.Join(cfg.Paths.StateDir, "vidconvd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open task store", logging.Error(err))
		return err
	}

	backends, err := OpenBackends(signalCtx, cfg, logger)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("open backends: %w", err)
	}
	defer backends.Close()

	notifier := notifications.NewService(cfg)
	manager := workflow.NewManager(cfg, store, workflow.Dependencies{
		Blobs:      backends.Blobs,
		Transcoder: backends.Transcoder,
		Scorer:     backends.Scorer,
		Notifier:   notifier,
	}, logger)
	tasks := api.NewTaskService(cfg, store, backends.Blobs, logger,
		api.WithLiveProgress(api.LivePercent(backends.Transcoder)),
		api.WithSubmitHook(manager.Wake),
	)

	d, err := daemon.New(cfg, daemon.Services{
		Store:       store,
		Blobs:       backends.Blobs,
		Workflow:    manager,
		Coordinator: cancel.NewCoordinator(store, backends.Blobs, backends.Transcoder, logger),
		Tasks:       tasks,
	}, logger)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check for another running daemon and the state directory permissions"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("vidconv daemon shutting down")
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "vidconvd.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// ReadPID returns the pid recorded by a running daemon, or 0.
func ReadPID(cfg *config.Config) int {
	data, err := os.ReadFile(filepath.Join(cfg.Paths.StateDir, "vidconvd.pid"))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	statuses := preflight.CheckSystemDeps(ctx, cfg)
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("backend", cfg.Transcoder.Backend),
		logging.Bool("bucket_configured", cfg.AWS.Bucket != ""),
		logging.Bool("ntfy_configured", cfg.Notifications.NtfyTopic != ""),
	}
	for _, s := range statuses {
		attrs = append(attrs, logging.Bool(depKey(s), s.Available))
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
	for _, s := range statuses {
		if s.Blocking() {
			logging.WarnWithContext(logger, "required dependency unavailable", "dependency_missing",
				logging.String("dependency", s.Name),
				logging.String("detail", s.Detail),
				logging.String(logging.FieldErrorHint, "install the binary or fix its configured path"),
				logging.String(logging.FieldImpact, "quality scoring or local encodes will fail"),
			)
		}
	}
}

func depKey(s deps.Status) string {
	return strings.ToLower(s.Name) + "_available"
}

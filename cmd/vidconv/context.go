package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"vidconv/internal/api"
	"vidconv/internal/cancel"
	"vidconv/internal/config"
	"vidconv/internal/daemonctl"
	"vidconv/internal/daemonrun"
	"vidconv/internal/logging"
	"vidconv/internal/queue"
)

type commandContext struct {
	configFlag *string
	ownerFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, ownerFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		ownerFlag:  ownerFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// owner resolves the task owner: --owner, then $VIDCONV_OWNER, then the
// login name.
func (c *commandContext) owner() string {
	if c.ownerFlag != nil {
		if v := strings.TrimSpace(*c.ownerFlag); v != "" {
			return v
		}
	}
	if v := strings.TrimSpace(os.Getenv("VIDCONV_OWNER")); v != "" {
		return v
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "default"
}

func (c *commandContext) client() *daemonctl.Client {
	return daemonctl.FromConfig(c.config)
}

// cliLogger keeps library logging off stdout so command output stays
// parseable.
func (c *commandContext) cliLogger() *slog.Logger {
	format := "console"
	if c.config != nil {
		format = c.config.Logging.Format
	}
	logger, err := logging.New(logging.Options{Level: "warn", Format: format, OutputPaths: []string{"stderr"}})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

// localServices opens the task store and backends in this process.
type localServices struct {
	store    *queue.Store
	backends *daemonrun.Backends
	tasks    *api.TaskService
	coord    *cancel.Coordinator
}

func (l *localServices) Close() {
	l.backends.Close()
	_ = l.store.Close()
}

func (c *commandContext) openLocal(ctx context.Context) (*localServices, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger := c.cliLogger()
	store, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	backends, err := daemonrun.OpenBackends(ctx, cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &localServices{
		store:    store,
		backends: backends,
		tasks: api.NewTaskService(cfg, store, backends.Blobs, logger,
			api.WithLiveProgress(api.LivePercent(backends.Transcoder))),
		coord: cancel.NewCoordinator(store, backends.Blobs, backends.Transcoder, logger),
	}, nil
}

func (c *commandContext) withLocal(ctx context.Context, fn func(*localServices) error) error {
	local, err := c.openLocal(ctx)
	if err != nil {
		return err
	}
	defer local.Close()
	return fn(local)
}

// withTasks runs fn against the daemon when it answers and against the
// local store otherwise.
func (c *commandContext) withTasks(ctx context.Context, fn func(taskAPI) error) error {
	if _, err := c.ensureConfig(); err != nil {
		return err
	}
	client := c.client()
	if _, err := client.Status(ctx); err == nil {
		return fn(&taskHTTPAdapter{client: client})
	} else if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		return err
	}
	return c.withLocal(ctx, func(local *localServices) error {
		return fn(&taskStoreAdapter{tasks: local.tasks, coord: local.coord})
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

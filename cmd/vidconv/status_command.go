package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"vidconv/internal/api"
	"vidconv/internal/config"
	"vidconv/internal/daemonctl"
	"vidconv/internal/preflight"
	"vidconv/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue, and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			status, err := ctx.client().Status(cmd.Context())
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				status, err = offlineStatus(cmd.Context(), cfg)
			}
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, status)
			}
			renderDaemonStatus(cmd.OutOrStdout(), cfg, status, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print status as JSON")
	return cmd
}

// offlineStatus reads queue counts straight from the store when no daemon
// answers.
func offlineStatus(ctx context.Context, cfg *config.Config) (*api.DaemonStatus, error) {
	store, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()
	stats, err := store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	wf := api.WorkflowStatus{
		MaxConcurrency: cfg.Workflow.MaxConcurrency,
		TaskStats:      make(map[string]int),
		PendingFiles:   stats.PendingFiles,
		ActiveFiles:    stats.ActiveFiles,
	}
	for _, s := range queue.AllTaskStatuses() {
		wf.TaskStats[string(s)] = stats.Tasks[s]
	}
	return &api.DaemonStatus{
		Backend:      cfg.Transcoder.Backend,
		Workflow:     wf,
		Dependencies: api.FromDependencies(preflight.CheckSystemDeps(ctx, cfg)),
	}, nil
}

func renderDaemonStatus(out io.Writer, cfg *config.Config, status *api.DaemonStatus, colorize bool) {
	lines := renderSectionHeader("Daemon", colorize)
	if status.Running {
		lines = append(lines, renderStatusLine("Daemon", statusOK, "running (pid "+strconv.Itoa(status.PID)+")", colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusWarn, "not running", colorize))
	}
	lines = append(lines,
		renderStatusLine("Backend", statusInfo, status.Backend, colorize),
		renderStatusLine("API", statusInfo, cfg.Paths.APIBind, colorize),
		renderStatusLine("Workers", statusInfo, fmt.Sprintf("%d active / %d max", status.Workflow.ActiveFiles, status.Workflow.MaxConcurrency), colorize),
		renderStatusLine("Pending files", statusInfo, strconv.Itoa(status.Workflow.PendingFiles), colorize),
	)
	if status.Workflow.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusError, status.Workflow.LastError, colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Tasks", colorize)...)
	for _, s := range queue.AllTaskStatuses() {
		count := status.Workflow.TaskStats[string(s)]
		if count == 0 {
			continue
		}
		lines = append(lines, renderStatusLine(label(string(s)), taskStatusKind(string(s)), strconv.Itoa(count), colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
	for _, dep := range status.Dependencies {
		kind, msg := statusOK, dep.Command
		if !dep.Available {
			kind, msg = statusError, dep.Detail
			if dep.Optional {
				kind = statusWarn
			}
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, msg, colorize))
	}

	if len(status.Workflow.Active) > 0 {
		lines = append(lines, "")
		rows := make([][]string, 0, len(status.Workflow.Active))
		for _, f := range status.Workflow.Active {
			rows = append(rows, []string{shortID(f.TaskID), f.Filename, label(f.Status), f.JobID})
		}
		lines = append(lines, renderTable([]string{"Task", "File", "Status", "Job"}, rows))
	}

	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
}

package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"vidconv/internal/api"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTasks(cmd.Context(), func(tasks taskAPI) error {
				views, err := tasks.List(cmd.Context(), ctx.owner(), statuses)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, views)
				}
				out := cmd.OutOrStdout()
				if len(views) == 0 {
					fmt.Fprintln(out, "No tasks")
					return nil
				}
				fmt.Fprintln(out, renderTaskTable(views))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by task status (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print tasks as JSON")
	return cmd
}

func renderTaskTable(views []api.TaskView) string {
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{
			shortID(v.ID),
			label(v.Status),
			v.Preset,
			strconv.Itoa(len(v.Files)),
			formatProgress(v.Progress),
			formatWhen(v.CreatedAt),
		})
	}
	return renderTable(
		[]string{"ID", "Status", "Preset", "Files", "Progress", "Created"},
		rows,
		3, 4,
	)
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var live bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task with per-file detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTasks(cmd.Context(), func(tasks taskAPI) error {
				view, err := tasks.Get(cmd.Context(), ctx.owner(), args[0], live)
				if err != nil {
					return err
				}
				if view == nil {
					return errors.New("task not found")
				}
				if jsonOut {
					return writeJSON(cmd, view)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTaskDetail(*view, shouldColorize(cmd.OutOrStdout())))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&live, "live", true, "Include live transcoder progress for converting files")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the task as JSON")
	return cmd
}

func renderTaskDetail(v api.TaskView, colorize bool) string {
	var lines []string
	lines = append(lines, renderSectionHeader("Task "+v.ID, colorize)...)
	lines = append(lines,
		renderStatusLine("Status", taskStatusKind(v.Status), label(v.Status), colorize),
		renderStatusLine("Progress", statusInfo, formatProgress(v.Progress), colorize),
		renderStatusLine("Preset", statusInfo, v.Preset, colorize),
		renderStatusLine("Created", statusInfo, formatWhen(v.CreatedAt), colorize),
	)
	if v.CompletedAt != "" {
		lines = append(lines, renderStatusLine("Completed", statusInfo, formatWhen(v.CompletedAt), colorize))
	}
	if v.EstimatedSeconds != nil {
		lines = append(lines, renderStatusLine("Estimated", statusInfo, formatETA(v.EstimatedSeconds), colorize))
	}
	if v.ErrorMessage != "" {
		lines = append(lines, renderStatusLine("Error", statusError, v.ErrorMessage, colorize))
	}

	rows := make([][]string, 0, len(v.Files))
	for _, f := range v.Files {
		preset := f.SelectedPreset
		if preset == "" {
			preset = "-"
		}
		detail := formatQuality(f)
		if f.ErrorMessage != "" {
			detail = f.ErrorMessage
		}
		rows = append(rows, []string{
			f.Filename,
			label(f.Status),
			formatBytes(f.SourceSize),
			preset,
			detail,
			yesNo(f.Status == "completed" && f.DownloadAvailable && f.DownloadedAt == ""),
		})
	}
	return strings.Join(lines, "\n") + "\n" + renderTable(
		[]string{"File", "Status", "Size", "Preset", "Quality", "Downloadable"},
		rows,
		2,
	) + "\n"
}

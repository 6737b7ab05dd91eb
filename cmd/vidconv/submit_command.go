package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"vidconv/internal/quality"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var preset string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "submit <file>...",
		Short: "Upload files and queue them as one conversion task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLocal(cmd.Context(), func(local *localServices) error {
				view, err := local.tasks.Submit(cmd.Context(), ctx.owner(), preset, args)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, view)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Submitted task %s (%d file(s), preset %s)\n", view.ID, len(view.Files), view.Preset)
				fmt.Fprintf(out, "Track it with: vidconv show %s\n", view.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&preset, "preset", "p", "", "Quality preset ("+strings.Join(quality.Names(), ", ")+"; default from config)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the created task as JSON")
	return cmd
}

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a task, stop its jobs, and delete its stored files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTasks(cmd.Context(), func(tasks taskAPI) error {
				resp, err := tasks.Cancel(cmd.Context(), ctx.owner(), args[0])
				if err != nil {
					return err
				}
				if resp == nil {
					return errors.New("task not found")
				}
				if jsonOut {
					return writeJSON(cmd, resp)
				}
				if !resp.Success {
					return errors.New(resp.ErrorMessage)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Cancelled task %s (was %s)\n", args[0], label(resp.PreviousStatus))
				fmt.Fprintf(out, "  Jobs cancelled: %d\n", resp.CancelledCount)
				fmt.Fprintf(out, "  Objects deleted: %d\n", resp.DeletedCount)
				for _, e := range resp.CleanupErrors {
					fmt.Fprintf(out, "  cleanup error: %s\n", e)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the cancel result as JSON")
	return cmd
}

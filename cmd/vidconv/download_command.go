package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"vidconv/internal/config"
	"vidconv/internal/download"
	"vidconv/internal/queue"
)

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var outputDir string
	var noResume bool
	var quiet bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "download <task-id>",
		Short: "Download converted files of a finished task",
		Long: "Download every completed file of a task that is still offered for download.\n" +
			"Interrupted transfers resume from their partial file unless --no-resume is set.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			dir := cfg.Paths.DownloadDir
			if strings.TrimSpace(outputDir) != "" {
				if dir, err = config.ExpandPath(outputDir); err != nil {
					return fmt.Errorf("resolve output directory: %w", err)
				}
			}
			tracker, err := download.OpenTracker(cfg.DownloadProgressPath(), ctx.cliLogger())
			if err != nil {
				return err
			}

			return ctx.withLocal(cmd.Context(), func(local *localServices) error {
				var opts []download.Option
				bars := newProgressBars(cmd.ErrOrStderr())
				if !quiet && !jsonOut {
					opts = append(opts, download.WithProgress(bars.update))
				}
				downloader := download.NewDownloader(local.backends.Blobs, local.tasks.ForOwner(ctx.owner()), tracker,
					dir, ctx.cliLogger(), opts...)
				result, err := downloader.Download(cmd.Context(), args[0], !noResume)
				bars.finish()
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, result)
				}
				return printDownloadResult(cmd.OutOrStdout(), dir, result)
			})
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory for downloaded files (default paths.download_dir)")
	cmd.Flags().BoolVar(&noResume, "no-resume", false, "Restart partial downloads from the beginning")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Hide transfer progress")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the download result as JSON")
	return cmd
}

func printDownloadResult(out io.Writer, dir string, result download.Result) error {
	if result.ErrorMessage != "" && len(result.Files) == 0 {
		return errors.New(result.ErrorMessage)
	}
	for _, f := range result.Files {
		if f.Success {
			note := ""
			if f.Resumed {
				note = " (resumed)"
			}
			if !f.ChecksumVerified {
				note += " (checksum not verifiable)"
			}
			fmt.Fprintf(out, "  %s -> %s%s\n", f.Filename, f.LocalPath, note)
			continue
		}
		fmt.Fprintf(out, "  %s failed: %s\n", f.Filename, f.ErrorMessage)
	}
	fmt.Fprintf(out, "Downloaded %d of %d file(s) into %s\n", result.Downloaded, result.Downloaded+result.Failed, dir)
	if result.Failed > 0 {
		return fmt.Errorf("%d download(s) failed; rerun to resume", result.Failed)
	}
	return nil
}

// progressBars keeps one bar per file name.
type progressBars struct {
	w    io.Writer
	bars map[string]*progressbar.ProgressBar
}

func newProgressBars(w io.Writer) *progressBars {
	return &progressBars{w: w, bars: make(map[string]*progressbar.ProgressBar)}
}

func (p *progressBars) update(name string, _ int, done, total int64) {
	bar, ok := p.bars[name]
	if !ok {
		bar = progressbar.NewOptions64(total,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSetDescription(name),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(p.w) }),
		)
		p.bars[name] = bar
	}
	_ = bar.Set64(done)
}

func (p *progressBars) finish() {
	for _, bar := range p.bars {
		_ = bar.Finish()
	}
}

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile local download progress with the task store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			tracker, err := download.OpenTracker(cfg.DownloadProgressPath(), ctx.cliLogger())
			if err != nil {
				return err
			}
			return ctx.withLocal(cmd.Context(), func(local *localServices) error {
				owner := ctx.owner()
				result, err := tracker.Sync(cmd.Context(), func(c context.Context, taskID string) (*queue.Task, error) {
					return local.tasks.Task(c, owner, taskID)
				})
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, result)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Cleared %d finished record(s), %d unavailable\n", len(result.Cleared), len(result.Unavailable))
				for _, e := range result.Errors {
					fmt.Fprintf(out, "  lookup failed: %s\n", e)
				}
				if pending := tracker.ListIncomplete(); len(pending) > 0 {
					fmt.Fprintf(out, "Incomplete downloads: %s\n", strings.Join(pending, ", "))
					fmt.Fprintln(out, "Resume with: vidconv download <task-id>")
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the sync result as JSON")
	return cmd
}

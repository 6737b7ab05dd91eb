package scorer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"vidconv/internal/blobstore"
	"vidconv/internal/logging"
	"vidconv/internal/quality"
	"vidconv/internal/services"
)

// Scorer compares a converted object with its source.
type Scorer interface {
	Score(ctx context.Context, originalKey, convertedKey string) (quality.Result, error)
}

// commandRunner runs a binary and returns its stderr.
type commandRunner func(ctx context.Context, name string, args ...string) (string, error)

// localPather is satisfied by blob stores that keep objects on disk.
type localPather interface {
	Path(key string) string
}

// FFmpeg scores with the ffmpeg ssim filter.
type FFmpeg struct {
	binary     string
	timeout    time.Duration
	blobs      blobstore.Store
	scratchDir string
	run        commandRunner
	logger     *slog.Logger
}

// Option customizes an FFmpeg scorer.
type Option func(*FFmpeg)

// WithCommandRunner injects a runner, for tests.
func WithCommandRunner(run commandRunner) Option {
	return func(f *FFmpeg) {
		if run != nil {
			f.run = run
		}
	}
}

// WithTimeout bounds a single scoring run.
func WithTimeout(timeout time.Duration) Option {
	return func(f *FFmpeg) {
		if timeout > 0 {
			f.timeout = timeout
		}
	}
}

// NewFFmpeg builds a scorer reading objects from blobs. Remote objects are
// staged under scratchDir.
func NewFFmpeg(binary string, blobs blobstore.Store, scratchDir string, logger *slog.Logger, opts ...Option) *FFmpeg {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	f := &FFmpeg{
		binary:     binary,
		timeout:    30 * time.Minute,
		blobs:      blobs,
		scratchDir: scratchDir,
		run:        defaultCommandRunner,
		logger:     logging.NewComponentLogger(logger, "scorer"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Score computes SSIM and the size metrics for the pair.
func (f *FFmpeg) Score(ctx context.Context, originalKey, convertedKey string) (quality.Result, error) {
	original, err := f.stat(ctx, originalKey)
	if err != nil {
		return quality.Result{}, err
	}
	converted, err := f.stat(ctx, convertedKey)
	if err != nil {
		return quality.Result{}, err
	}

	workDir, err := os.MkdirTemp(f.scratchDir, "score-")
	if err != nil {
		return quality.Result{}, services.Wrap(services.ErrStorage, "verify", "scratch dir", "create scoring directory", err)
	}
	defer os.RemoveAll(workDir)

	originalPath, err := f.materialize(ctx, originalKey, filepath.Join(workDir, "original"+path.Ext(originalKey)))
	if err != nil {
		return quality.Result{}, err
	}
	convertedPath, err := f.materialize(ctx, convertedKey, filepath.Join(workDir, "converted"+path.Ext(convertedKey)))
	if err != nil {
		return quality.Result{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	started := time.Now()
	// ffmpeg's ssim filter treats the second input as the reference.
	stderr, err := f.run(runCtx, f.binary,
		"-hide_banner", "-nostats",
		"-i", convertedPath,
		"-i", originalPath,
		"-lavfi", "ssim",
		"-f", "null", "-",
	)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return quality.Result{}, services.Wrap(services.ErrTimeout, "verify", "ffmpeg ssim", fmt.Sprintf("scoring exceeded %s", f.timeout), err)
		}
		return quality.Result{}, services.Wrap(services.ErrExternalTool, "verify", "ffmpeg ssim", "ffmpeg failed", err)
	}
	ssim, err := ParseSSIM(stderr)
	if err != nil {
		return quality.Result{}, services.Wrap(services.ErrExternalTool, "verify", "parse ssim", "unreadable ffmpeg output", err)
	}
	result := quality.NewResult(ssim, original.Size, converted.Size)
	f.logger.Info("ssim computed",
		logging.Float64("ssim", ssim),
		logging.Int64("original_size", original.Size),
		logging.Int64("converted_size", converted.Size),
		logging.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

func (f *FFmpeg) stat(ctx context.Context, key string) (*blobstore.ObjectInfo, error) {
	if strings.TrimSpace(key) == "" {
		return nil, services.Wrap(services.ErrValidation, "verify", "stat", "object key required", nil)
	}
	info, err := f.blobs.Stat(ctx, key)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "verify", "stat", key, err)
	}
	if info == nil {
		return nil, services.Wrap(services.ErrNotFound, "verify", "stat", key, nil)
	}
	return info, nil
}

func (f *FFmpeg) materialize(ctx context.Context, key, dest string) (string, error) {
	if local, ok := f.blobs.(localPather); ok {
		return local.Path(key), nil
	}
	body, err := f.blobs.Open(ctx, key, 0)
	if err != nil {
		return "", services.Wrap(services.ErrStorage, "verify", "fetch", key, err)
	}
	defer body.Close()
	out, err := os.Create(dest)
	if err != nil {
		return "", services.Wrap(services.ErrStorage, "verify", "fetch", "create scratch file", err)
	}
	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		return "", services.Wrap(services.ErrStorage, "verify", "fetch", key, err)
	}
	if err := out.Close(); err != nil {
		return "", services.Wrap(services.ErrStorage, "verify", "fetch", "close scratch file", err)
	}
	return dest, nil
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stderr.String(), fmt.Errorf("%w: %s", err, tail(stderr.String(), 512))
	}
	return stderr.String(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

package transcoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vidconv/internal/blobstore"
	"vidconv/internal/logging"
	"vidconv/internal/services"
)

const localOutputExtension = ".mkv"

// finished jobs are kept this long so late status reads still resolve.
const localJobRetention = time.Hour

// EncodeFunc encodes inputPath into outputDir and returns the written file.
type EncodeFunc func(ctx context.Context, inputPath, outputDir string, progress func(percent int)) (string, error)

type localJob struct {
	state     State
	percent   int
	message   string
	outputKey string
	cancel    context.CancelFunc
	finished  time.Time
}

// Local runs encodes in-process against the local blob directory.
type Local struct {
	blobs  *blobstore.Local
	encode EncodeFunc
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]*localJob
	wg   sync.WaitGroup
}

// NewLocal builds a backend that encodes with drapto.
func NewLocal(blobs *blobstore.Local, logger *slog.Logger) *Local {
	return NewLocalWithEncoder(blobs, DraptoEncode, logger)
}

// NewLocalWithEncoder builds a backend around a custom encoder.
func NewLocalWithEncoder(blobs *blobstore.Local, encode EncodeFunc, logger *slog.Logger) *Local {
	return &Local{
		blobs:  blobs,
		encode: encode,
		logger: logging.NewComponentLogger(logger, "local-transcoder"),
		jobs:   make(map[string]*localJob),
	}
}

// Submit starts an encode in the background and returns its job id.
func (l *Local) Submit(ctx context.Context, req Request) (string, error) {
	if err := validateRequest(req); err != nil {
		return "", services.Wrap(services.ErrValidation, "transcode", "submit", "invalid request", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	input := l.blobs.Path(req.SourceKey)
	if _, err := os.Stat(input); err != nil {
		return "", services.Wrap(services.ErrValidation, "transcode", "submit", "source missing", err)
	}
	outputDir := l.blobs.Path(req.OutputPrefix)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrStorage, "transcode", "submit", "create output directory", err)
	}

	jobID := uuid.NewString()
	jobCtx, cancel := context.WithCancel(context.Background())
	job := &localJob{state: StateSubmitted, cancel: cancel}

	l.mu.Lock()
	l.pruneLocked(time.Now())
	l.jobs[jobID] = job
	l.mu.Unlock()

	logger := l.logger.With(
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldTaskID, req.TaskID),
		logging.String(logging.FieldFileID, req.FileID),
		logging.String(logging.FieldPreset, req.Preset.Name),
	)
	logger.Info("local encode submitted", logging.String("input", input))

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()
		l.run(jobCtx, jobID, input, outputDir, req, logger)
	}()
	return jobID, nil
}

func (l *Local) run(ctx context.Context, jobID, input, outputDir string, req Request, logger *slog.Logger) {
	l.update(jobID, func(job *localJob) { job.state = StateProgressing })
	produced, err := l.encode(ctx, input, outputDir, func(percent int) {
		l.update(jobID, func(job *localJob) {
			if percent > job.percent && percent <= 100 {
				job.percent = percent
			}
		})
	})
	if err == nil {
		var outputKey string
		outputKey, err = l.finalizeOutput(produced, req)
		if err == nil {
			logger.Info("local encode complete", logging.String("output_key", outputKey))
			l.update(jobID, func(job *localJob) {
				job.state = StateComplete
				job.percent = 100
				job.outputKey = outputKey
				job.finished = time.Now()
			})
			return
		}
	}
	message := err.Error()
	if errors.Is(err, context.Canceled) {
		message = "job cancelled"
	}
	logging.WarnWithContext(logger, "local encode failed", "local_encode_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "inspect the source file and drapto output"),
		logging.String(logging.FieldImpact, "file attempt fails"),
	)
	l.update(jobID, func(job *localJob) {
		if job.state == StateError {
			return
		}
		job.state = StateError
		job.message = message
		job.finished = time.Now()
	})
}

// finalizeOutput renames the encoder output to {stem}_h265.mkv under the output prefix.
func (l *Local) finalizeOutput(produced string, req Request) (string, error) {
	base := path.Base(req.SourceKey)
	stem := strings.TrimSuffix(base, path.Ext(base))
	key := strings.TrimSuffix(req.OutputPrefix, "/") + "/" + stem + blobstore.OutputSuffix + localOutputExtension
	target := l.blobs.Path(key)
	if filepath.Clean(produced) == filepath.Clean(target) {
		return key, nil
	}
	if err := os.Rename(produced, target); err != nil {
		return "", fmt.Errorf("move encoder output: %w", err)
	}
	return key, nil
}

func (l *Local) update(jobID string, fn func(*localJob)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if job, ok := l.jobs[jobID]; ok {
		fn(job)
	}
}

func (l *Local) pruneLocked(now time.Time) {
	for id, job := range l.jobs {
		if !job.finished.IsZero() && now.Sub(job.finished) > localJobRetention {
			delete(l.jobs, id)
		}
	}
}

// Status reports the in-memory job state.
func (l *Local) Status(_ context.Context, jobID string) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[jobID]
	if !ok {
		return Status{}, services.Wrap(services.ErrNotFound, "transcode", "get job", jobID, nil)
	}
	return Status{
		State:        job.state,
		Percent:      job.percent,
		ErrorMessage: job.message,
		OutputKey:    job.outputKey,
	}, nil
}

// Cancel stops a running encode.
func (l *Local) Cancel(_ context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[jobID]
	if !ok || !job.state.Active() {
		return nil
	}
	job.cancel()
	job.state = StateError
	job.message = "job cancelled"
	job.finished = time.Now()
	l.logger.Info("local encode cancelled", logging.String(logging.FieldJobID, jobID))
	return nil
}

// Close cancels running encodes and waits for them to exit.
func (l *Local) Close() {
	l.mu.Lock()
	for _, job := range l.jobs {
		if job.state.Active() {
			job.cancel()
		}
	}
	l.mu.Unlock()
	l.wg.Wait()
}

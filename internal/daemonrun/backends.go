package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"vidconv/internal/awsutil"
	"vidconv/internal/blobstore"
	"vidconv/internal/config"
	"vidconv/internal/scorer"
	"vidconv/internal/transcoder"
)

// Backends are the storage, encode, and scoring collaborators for the
// configured backend.
type Backends struct {
	Blobs      blobstore.Store
	Transcoder transcoder.Transcoder
	Scorer     scorer.Scorer

	closers []func()
}

// Close stops background encodes owned by the backends.
func (b *Backends) Close() {
	for _, fn := range b.closers {
		fn()
	}
	b.closers = nil
}

// OpenBackends builds the collaborators for cfg.Transcoder.Backend. The
// mediaconvert backend keeps blobs in S3; the local backend keeps them under
// the staging directory and encodes in-process.
func OpenBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backends, error) {
	b := &Backends{}
	if cfg.UsesLocalBackend() {
		local, err := blobstore.NewLocal(cfg.Paths.StagingDir)
		if err != nil {
			return nil, fmt.Errorf("open local blob store: %w", err)
		}
		tc := transcoder.NewLocal(local, logger)
		b.Blobs = local
		b.Transcoder = tc
		b.closers = append(b.closers, tc.Close)
	} else {
		awsCfg, err := awsutil.Load(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		b.Blobs = blobstore.NewS3(awsCfg, cfg.AWS.Bucket)
		b.Transcoder = transcoder.NewMediaConvert(awsCfg, cfg.AWS, logger)
	}
	b.Scorer = scorer.NewFFmpeg(
		cfg.Quality.FFmpegBinary,
		b.Blobs,
		filepath.Join(cfg.Paths.CacheDir, "scoring"),
		logger,
		scorer.WithTimeout(time.Duration(cfg.Quality.ScorerTimeoutSeconds)*time.Second),
	)
	return b, nil
}

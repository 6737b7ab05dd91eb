package preflight

import (
	"context"

	"vidconv/internal/blobstore"
	"vidconv/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the checks that apply to the configured backend. blobs
// may be nil when storage was not constructed.
func RunAll(ctx context.Context, cfg *config.Config, blobs blobstore.Store) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Download directory", cfg.Paths.DownloadDir),
		CheckDirectoryAccess("Cache directory", cfg.Paths.CacheDir),
	}
	if cfg.UsesLocalBackend() {
		results = append(results, CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir))
	} else {
		results = append(results, CheckMediaConvertRole(cfg.AWS))
	}
	if blobs != nil {
		results = append(results, CheckBlobStore(ctx, storageName(cfg), blobs))
	}
	return results
}

func storageName(cfg *config.Config) string {
	if cfg.UsesLocalBackend() {
		return "Local blob store"
	}
	return "S3 bucket " + cfg.AWS.Bucket
}

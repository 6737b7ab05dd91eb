package preflight

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"vidconv/internal/blobstore"
	"vidconv/internal/config"
	"vidconv/internal/deps"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckBlobStore lists the scratch prefix to prove credentials and bucket
// access.
func CheckBlobStore(ctx context.Context, name string, blobs blobstore.Store) Result {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := blobs.List(ctx, "temp/"); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("list failed: %v", err)}
	}
	return Result{Name: name, Passed: true, Detail: "reachable"}
}

// CheckMediaConvertRole verifies the IAM role MediaConvert jobs assume is set.
func CheckMediaConvertRole(cfg config.AWS) Result {
	const name = "MediaConvert role"
	role := strings.TrimSpace(cfg.MediaConvertRoleARN)
	if role == "" {
		return Result{Name: name, Detail: "aws.mediaconvert_role_arn is not set"}
	}
	if !strings.HasPrefix(role, "arn:") {
		return Result{Name: name, Detail: fmt.Sprintf("%q is not an ARN", role)}
	}
	return Result{Name: name, Passed: true, Detail: role}
}

// CheckSystemDeps evaluates the external binaries the daemon needs. Both the
// daemon and the CLI status command use this list.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []deps.Status {
	statuses := []deps.Status{deps.CheckFFmpeg(ctx, cfg.Quality.FFmpegBinary, nil)}
	statuses = append(statuses, deps.CheckBinaries([]deps.Requirement{{
		Name:        "FFprobe",
		Command:     "ffprobe",
		Description: "Required by the local encoder for media inspection",
		Optional:    !cfg.UsesLocalBackend(),
	}})...)
	return statuses
}

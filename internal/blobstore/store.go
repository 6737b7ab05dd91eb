package blobstore

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key  string
	Size int64
	// ETag is the quoted-stripped entity tag. Single-part uploads carry the
	// hex MD5 of the content; multipart tags contain a "-".
	ETag string
}

// Store is the blob collaborator used by submission, the workflow driver,
// cancellation, and downloads.
type Store interface {
	PresignUpload(ctx context.Context, key string, expiry time.Duration) (string, error)
	PresignDownload(ctx context.Context, key string, expiry time.Duration) (string, error)
	// List returns every key under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// DeleteMany removes keys and reports how many were deleted. Missing
	// keys are not an error. A partial failure returns the count so far
	// together with the error.
	DeleteMany(ctx context.Context, keys []string) (int, error)
	Put(ctx context.Context, key string, body io.Reader, size int64) error
	// Open reads key starting at offset.
	Open(ctx context.Context, key string, offset int64) (io.ReadCloser, error)
	// Stat returns nil when key does not exist.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	// URI names the object for collaborators that address blobs directly.
	URI(key string) string
}

package blobstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"vidconv/internal/services"
)

// Local keeps blobs as files under a root directory.
type Local struct {
	root string
}

// NewLocal returns a store rooted at dir, creating it when missing.
func NewLocal(dir string) (*Local, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "blobstore", "local", "root directory is required", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Local{root: dir}, nil
}

// Path returns the file backing key.
func (l *Local) Path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(strings.TrimPrefix(key, "/")))
}

func (l *Local) URI(key string) string {
	return (&url.URL{Scheme: "file", Path: l.Path(key)}).String()
}

// PresignUpload returns a file URL; local blobs need no signature.
func (l *Local) PresignUpload(_ context.Context, key string, _ time.Duration) (string, error) {
	return l.URI(key), nil
}

func (l *Local) PresignDownload(ctx context.Context, key string, _ time.Duration) (string, error) {
	info, err := l.Stat(ctx, key)
	if err != nil {
		return "", err
	}
	if info == nil {
		return "", services.Wrap(services.ErrNotFound, "blobstore", "presign download", key, nil)
	}
	return l.URI(key), nil
}

func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	walkRoot := l.Path(prefix)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		walkRoot = filepath.Dir(walkRoot)
	}
	err := filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "blobstore", "list", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (l *Local) DeleteMany(_ context.Context, keys []string) (int, error) {
	deleted := 0
	var errs []error
	for _, key := range Dedupe(keys) {
		err := os.Remove(l.Path(key))
		switch {
		case err == nil:
			deleted++
			l.pruneEmptyDirs(filepath.Dir(l.Path(key)))
		case errors.Is(err, fs.ErrNotExist):
		default:
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return deleted, services.Wrap(services.ErrStorage, "blobstore", "delete", fmt.Sprintf("%d keys failed", len(errs)), errors.Join(errs...))
	}
	return deleted, nil
}

func (l *Local) pruneEmptyDirs(dir string) {
	root := filepath.Clean(l.root)
	for dir = filepath.Clean(dir); dir != root && strings.HasPrefix(dir, root); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}

func (l *Local) Put(ctx context.Context, key string, body io.Reader, _ int64) error {
	target := l.Path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return services.Wrap(services.ErrStorage, "blobstore", "put", key, err)
	}
	tmp := target + ".partial"
	file, err := os.Create(tmp)
	if err != nil {
		return services.Wrap(services.ErrStorage, "blobstore", "put", key, err)
	}
	if _, err := io.Copy(file, contextReader{ctx: ctx, r: body}); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return services.Wrap(services.ErrStorage, "blobstore", "put", key, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return services.Wrap(services.ErrStorage, "blobstore", "put", key, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return services.Wrap(services.ErrStorage, "blobstore", "put", key, err)
	}
	return nil
}

func (l *Local) Open(_ context.Context, key string, offset int64) (io.ReadCloser, error) {
	file, err := os.Open(l.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "blobstore", "open", key, err)
		}
		return nil, services.Wrap(services.ErrStorage, "blobstore", "open", key, err)
	}
	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			file.Close()
			return nil, services.Wrap(services.ErrStorage, "blobstore", "open", key, err)
		}
	}
	return file, nil
}

func (l *Local) Stat(_ context.Context, key string) (*ObjectInfo, error) {
	path := l.Path(key)
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrStorage, "blobstore", "stat", key, err)
	}
	defer file.Close()
	hash := md5.New()
	size, err := io.Copy(hash, file)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "blobstore", "stat", key, err)
	}
	return &ObjectInfo{Key: key, Size: size, ETag: hex.EncodeToString(hash.Sum(nil))}, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

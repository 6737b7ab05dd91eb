package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"vidconv/internal/logging"
	"vidconv/internal/queue"
)

// Record is the saved state of one partial transfer.
type Record struct {
	TaskID          string    `json:"task_id"`
	FileID          string    `json:"file_id"`
	TotalBytes      int64     `json:"total_bytes"`
	DownloadedBytes int64     `json:"downloaded_bytes"`
	TempPath        string    `json:"local_temp_path"`
	Key             string    `json:"key"`
	Checksum        string    `json:"checksum,omitempty"`
	LastUpdated     time.Time `json:"last_updated"`
}

// Complete reports whether every byte has been received.
func (r Record) Complete() bool {
	return r.DownloadedBytes >= r.TotalBytes
}

// Percent is the integer share of bytes received.
func (r Record) Percent() int {
	if r.TotalBytes <= 0 {
		return 0
	}
	return int(r.DownloadedBytes * 100 / r.TotalBytes)
}

// ErrInvalidProgress rejects records whose byte counts are inconsistent.
var ErrInvalidProgress = errors.New("invalid download progress")

// Tracker stores records in a JSON file keyed task then file. Every change
// re-reads the file under an advisory lock and rewrites it, so trackers in
// separate processes never drop each other's records.
type Tracker struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	data     map[string]map[string]Record
	fileLock *flock.Flock
}

type trackerData = map[string]map[string]Record

// OpenTracker loads the records at path. A missing file starts empty; an
// unreadable one is logged and replaced on the next save.
func OpenTracker(path string, logger *slog.Logger) (*Tracker, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create progress dir: %w", err)
	}
	t := &Tracker{
		path:     path,
		logger:   logging.NewComponentLogger(logger, "download-tracker"),
		now:      time.Now,
		data:     make(trackerData),
		fileLock: flock.New(path + ".lock"),
	}
	data, err := t.read()
	switch {
	case isCorrupt(err):
		logging.WarnWithContext(t.logger, "download progress unreadable; starting empty", "download_progress_corrupt",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "delete the file if the warning repeats"),
			logging.String(logging.FieldImpact, "interrupted downloads restart from zero"),
		)
	case err != nil:
		return nil, err
	default:
		t.data = data
	}
	return t, nil
}

// Path returns the backing file.
func (t *Tracker) Path() string { return t.path }

// Save stores rec, stamping LastUpdated. Negative counts and more bytes
// received than the object holds are rejected.
func (t *Tracker) Save(rec Record) error {
	if rec.TotalBytes < 0 || rec.DownloadedBytes < 0 || rec.DownloadedBytes > rec.TotalBytes {
		return fmt.Errorf("%w: %d of %d bytes for %s/%s", ErrInvalidProgress,
			rec.DownloadedBytes, rec.TotalBytes, rec.TaskID, rec.FileID)
	}
	rec.LastUpdated = t.now()
	return t.update(func(data trackerData) bool {
		files := data[rec.TaskID]
		if files == nil {
			files = make(map[string]Record)
			data[rec.TaskID] = files
		}
		files[rec.FileID] = rec
		return true
	})
}

// Get returns the record for a file, or nil.
func (t *Tracker) Get(taskID, fileID string) *Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reloadLocked()
	rec, ok := t.data[taskID][fileID]
	if !ok {
		return nil
	}
	return &rec
}

// Clear drops a file's record and its task entry once empty.
func (t *Tracker) Clear(taskID, fileID string) error {
	return t.update(func(data trackerData) bool {
		return drop(data, taskID, fileID)
	})
}

// ClearTask drops every record of a task.
func (t *Tracker) ClearTask(taskID string) error {
	return t.update(func(data trackerData) bool {
		if _, ok := data[taskID]; !ok {
			return false
		}
		delete(data, taskID)
		return true
	})
}

// TaskRecords returns a copy of a task's records keyed by file.
func (t *Tracker) TaskRecords(taskID string) map[string]Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reloadLocked()
	out := make(map[string]Record, len(t.data[taskID]))
	for id, rec := range t.data[taskID] {
		out[id] = rec
	}
	return out
}

// ListIncomplete returns tasks with at least one unfinished transfer.
func (t *Tracker) ListIncomplete() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reloadLocked()
	var out []string
	for taskID, files := range t.data {
		for _, rec := range files {
			if !rec.Complete() {
				out = append(out, taskID)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// TaskLookup fetches the authoritative task. It returns nil when the task
// no longer exists.
type TaskLookup func(ctx context.Context, taskID string) (*queue.Task, error)

// FileRef names one tracked file.
type FileRef struct {
	TaskID string
	FileID string
}

// SyncResult reports what a reconciliation changed.
type SyncResult struct {
	// Cleared were downloaded already, or their task or file is gone.
	Cleared []FileRef
	// Unavailable were cleared because the output is no longer offered.
	Unavailable []FileRef
	// Errors are lookups that failed; their records were kept.
	Errors []string
}

// Sync reconciles every tracked file against lookup. Records are only
// removed on a definite answer; lookup failures keep local state intact.
func (t *Tracker) Sync(ctx context.Context, lookup TaskLookup) (SyncResult, error) {
	t.mu.Lock()
	t.reloadLocked()
	taskIDs := make([]string, 0, len(t.data))
	for id := range t.data {
		taskIDs = append(taskIDs, id)
	}
	t.mu.Unlock()
	sort.Strings(taskIDs)

	var result SyncResult
	for _, taskID := range taskIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		task, err := lookup(ctx, taskID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", taskID, err))
			continue
		}
		for fileID := range t.TaskRecords(taskID) {
			ref := FileRef{TaskID: taskID, FileID: fileID}
			var file *queue.File
			if task != nil {
				file = task.File(fileID)
			}
			switch {
			case file == nil || file.DownloadedAt != nil:
				result.Cleared = append(result.Cleared, ref)
			case !file.DownloadAvailable:
				result.Unavailable = append(result.Unavailable, ref)
			}
		}
	}

	if len(result.Cleared)+len(result.Unavailable) == 0 {
		return result, nil
	}
	sortRefs(result.Cleared)
	sortRefs(result.Unavailable)
	err := t.update(func(data trackerData) bool {
		changed := false
		for _, ref := range append(append([]FileRef(nil), result.Cleared...), result.Unavailable...) {
			changed = drop(data, ref.TaskID, ref.FileID) || changed
		}
		return changed
	})
	return result, err
}

func sortRefs(refs []FileRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].TaskID != refs[j].TaskID {
			return refs[i].TaskID < refs[j].TaskID
		}
		return refs[i].FileID < refs[j].FileID
	})
}

func drop(data trackerData, taskID, fileID string) bool {
	files, ok := data[taskID]
	if !ok {
		return false
	}
	if _, ok := files[fileID]; !ok {
		return false
	}
	delete(files, fileID)
	if len(files) == 0 {
		delete(data, taskID)
	}
	return true
}

// update applies mutate to the records on disk while holding the file lock,
// then rewrites the file through a rename so a crash never leaves it half
// written. Nothing is written when mutate reports no change.
func (t *Tracker) update(mutate func(trackerData) bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fileLock.Lock(); err != nil {
		return fmt.Errorf("lock download progress: %w", err)
	}
	defer func() { _ = t.fileLock.Unlock() }()

	data, err := t.read()
	if err != nil {
		if !isCorrupt(err) {
			return err
		}
		data = make(trackerData)
	}
	t.data = data
	if !mutate(data) {
		return nil
	}

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode download progress: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write download progress: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("replace download progress: %w", err)
	}
	return nil
}

// reloadLocked refreshes the in-memory view from disk. The last good view is
// kept when the file cannot be read.
func (t *Tracker) reloadLocked() {
	data, err := t.read()
	if err != nil {
		t.logger.Debug("reload download progress failed", logging.Error(err))
		return
	}
	t.data = data
}

// read parses the file. A missing file is empty. Decode failures are
// returned unwrapped so callers can tell corruption from I/O errors.
func (t *Tracker) read() (trackerData, error) {
	data := make(trackerData)
	raw, err := os.ReadFile(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		return data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read download progress: %w", err)
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	if data == nil {
		return make(trackerData), nil
	}
	for taskID, files := range data {
		if len(files) == 0 {
			delete(data, taskID)
		}
	}
	return data, nil
}

func isCorrupt(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

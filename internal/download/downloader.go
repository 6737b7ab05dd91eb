package download

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"vidconv/internal/blobstore"
	"vidconv/internal/logging"
	"vidconv/internal/queue"
	"vidconv/internal/services"
)

// saveEvery is how many bytes pass between progress saves.
const saveEvery = 1 << 20

// Remote is the task authority a download reports back to.
type Remote interface {
	Task(ctx context.Context, taskID string) (*queue.Task, error)
	MarkDownloaded(ctx context.Context, taskID, fileID string) error
}

// ProgressFunc receives transfer progress for display.
type ProgressFunc func(name string, percent int, done, total int64)

// FileResult is the outcome for one file.
type FileResult struct {
	FileID           string
	Filename         string
	Success          bool
	LocalPath        string
	ErrorMessage     string
	ChecksumVerified bool
	Resumed          bool
}

// Result is the outcome for a task.
type Result struct {
	TaskID       string
	Success      bool
	TotalFiles   int
	Downloaded   int
	Failed       int
	Files        []FileResult
	ErrorMessage string
}

// Downloader copies converted outputs into a local directory.
type Downloader struct {
	blobs     blobstore.Store
	remote    Remote
	tracker   *Tracker
	outputDir string
	logger    *slog.Logger
	progress  ProgressFunc
	freeSpace func(dir string) (uint64, error)
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithProgress reports transfer progress to fn.
func WithProgress(fn ProgressFunc) Option {
	return func(d *Downloader) { d.progress = fn }
}

// WithFreeSpace overrides the disk space probe.
func WithFreeSpace(fn func(dir string) (uint64, error)) Option {
	return func(d *Downloader) { d.freeSpace = fn }
}

// NewDownloader writes into outputDir.
func NewDownloader(blobs blobstore.Store, remote Remote, tracker *Tracker, outputDir string, logger *slog.Logger, opts ...Option) *Downloader {
	d := &Downloader{
		blobs:     blobs,
		remote:    remote,
		tracker:   tracker,
		outputDir: outputDir,
		logger:    logging.NewComponentLogger(logger, "download"),
		freeSpace: FreeSpace,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download fetches every completed, still available file of a finished
// task. With resume set, staging files whose size matches the saved offset
// are continued instead of restarted.
func (d *Downloader) Download(ctx context.Context, taskID string, resume bool) (Result, error) {
	ctx = services.WithTaskID(ctx, taskID)
	logger := logging.WithContext(ctx, d.logger)
	result := Result{TaskID: taskID}

	task, err := d.remote.Task(ctx, taskID)
	if err != nil {
		return result, err
	}
	if task == nil {
		result.ErrorMessage = "task not found"
		return result, nil
	}
	result.TotalFiles = len(task.Files)
	if task.Status != queue.TaskCompleted && task.Status != queue.TaskPartiallyCompleted {
		result.ErrorMessage = fmt.Sprintf("task is not ready for download (status %s)", task.Status)
		return result, nil
	}

	var files []queue.File
	for _, f := range task.Files {
		if f.Downloadable() {
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		result.ErrorMessage = "no files available for download"
		return result, nil
	}
	if err := os.MkdirAll(d.outputDir, 0o755); err != nil {
		return result, services.Wrap(services.ErrConfiguration, "download", "prepare", d.outputDir, err)
	}
	if msg, err := d.checkSpace(ctx, files); err != nil {
		return result, err
	} else if msg != "" {
		result.ErrorMessage = msg
		return result, nil
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		fr := d.downloadFile(ctx, logger, f, resume)
		if fr.Success {
			if err := d.remote.MarkDownloaded(ctx, taskID, f.ID); err != nil {
				logging.WarnWithContext(logger, "mark downloaded failed", "download_mark_failed",
					logging.String(logging.FieldFileID, f.ID),
					logging.Error(err),
					logging.String(logging.FieldImpact, "file is offered for download again"),
				)
			} else if _, err := d.blobs.DeleteMany(ctx, []string{f.OutputKey}); err != nil {
				logging.WarnWithContext(logger, "delete remote output failed", "download_cleanup_failed",
					logging.String(logging.FieldFileID, f.ID),
					logging.Error(err),
					logging.String(logging.FieldImpact, "output remains in storage until the task expires"),
				)
			}
			result.Downloaded++
		} else {
			result.Failed++
		}
		result.Files = append(result.Files, fr)
	}
	if result.Downloaded == len(files) {
		if err := d.tracker.ClearTask(taskID); err != nil {
			logger.Debug("clear task progress failed", logging.Error(err))
		}
	}
	result.Success = result.Downloaded > 0
	logger.Info("download finished",
		logging.Int("downloaded", result.Downloaded),
		logging.Int("failed", result.Failed),
		logging.String(logging.FieldEventType, "download_finished"),
	)
	return result, nil
}

// checkSpace compares the remaining bytes against free space in outputDir.
func (d *Downloader) checkSpace(ctx context.Context, files []queue.File) (string, error) {
	if d.freeSpace == nil {
		return "", nil
	}
	var needed int64
	for _, f := range files {
		info, err := d.blobs.Stat(ctx, f.OutputKey)
		if err != nil {
			return "", err
		}
		if info == nil {
			continue
		}
		needed += info.Size
		if rec := d.tracker.Get(f.TaskID, f.ID); rec != nil {
			needed -= rec.DownloadedBytes
		}
	}
	free, err := d.freeSpace(d.outputDir)
	if err != nil {
		d.logger.Debug("free space probe failed", logging.Error(err))
		return "", nil
	}
	if needed > 0 && uint64(needed) > free {
		return fmt.Sprintf("insufficient disk space: need %d bytes, %d available", needed, free), nil
	}
	return "", nil
}

func (d *Downloader) downloadFile(ctx context.Context, logger *slog.Logger, f queue.File, resume bool) FileResult {
	fr := FileResult{FileID: f.ID, Filename: f.Filename}
	logger = logger.With(logging.String(logging.FieldFileID, f.ID))
	name := path.Base(f.OutputKey)
	finalPath := filepath.Join(d.outputDir, name)
	tempPath := filepath.Join(d.outputDir, "."+name+".tmp")

	info, err := d.blobs.Stat(ctx, f.OutputKey)
	if err != nil {
		fr.ErrorMessage = err.Error()
		return fr
	}
	if info == nil {
		fr.ErrorMessage = "output not found in storage"
		return fr
	}

	var start int64
	if rec := d.tracker.Get(f.TaskID, f.ID); resume && rec != nil {
		if st, err := os.Stat(tempPath); err == nil && st.Size() == rec.DownloadedBytes && rec.Key == f.OutputKey {
			start = st.Size()
			fr.Resumed = start > 0
			logger.Info("resuming download", logging.Int64("offset", start))
		}
	}
	if start == 0 {
		d.reset(f, tempPath)
	}

	if err := d.fetch(ctx, f, info, tempPath, start); err != nil {
		fr.ErrorMessage = err.Error()
		return fr
	}
	ok, err := verifyChecksum(tempPath, info.ETag)
	if err == nil && !ok {
		logging.WarnWithContext(logger, "checksum mismatch; downloading again", "download_checksum_mismatch",
			logging.String("etag", info.ETag),
			logging.String(logging.FieldImpact, "file is fetched a second time"),
		)
		d.reset(f, tempPath)
		fr.Resumed = false
		if err := d.fetch(ctx, f, info, tempPath, 0); err != nil {
			fr.ErrorMessage = err.Error()
			return fr
		}
		ok, err = verifyChecksum(tempPath, info.ETag)
	}
	if err != nil {
		fr.ErrorMessage = err.Error()
		return fr
	}
	if !ok {
		d.reset(f, tempPath)
		fr.ErrorMessage = "checksum verification failed after retry"
		return fr
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		fr.ErrorMessage = err.Error()
		return fr
	}
	if err := d.tracker.Clear(f.TaskID, f.ID); err != nil {
		logger.Debug("clear file progress failed", logging.Error(err))
	}
	fr.Success = true
	fr.LocalPath = finalPath
	fr.ChecksumVerified = !isMultipart(info.ETag) && info.ETag != ""
	return fr
}

func (d *Downloader) reset(f queue.File, tempPath string) {
	if err := os.Remove(tempPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		d.logger.Debug("remove staging file failed", logging.Error(err))
	}
	if err := d.tracker.Clear(f.TaskID, f.ID); err != nil {
		d.logger.Debug("clear file progress failed", logging.String(logging.FieldFileID, f.ID), logging.Error(err))
	}
}

// fetch appends the object from start onwards to tempPath, saving the
// offset as it goes.
func (d *Downloader) fetch(ctx context.Context, f queue.File, info *blobstore.ObjectInfo, tempPath string, start int64) error {
	if start >= info.Size && start > 0 {
		return nil
	}
	body, err := d.blobs.Open(ctx, f.OutputKey, start)
	if err != nil {
		return err
	}
	defer body.Close()

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if start == 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	out, err := os.OpenFile(tempPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open staging file: %w", err)
	}
	w := &progressWriter{
		d:    d,
		name: path.Base(f.OutputKey),
		rec: Record{
			TaskID:          f.TaskID,
			FileID:          f.ID,
			TotalBytes:      info.Size,
			DownloadedBytes: start,
			TempPath:        tempPath,
			Key:             f.OutputKey,
			Checksum:        info.ETag,
		},
		lastSaved: start,
		out:       out,
	}
	_, copyErr := io.CopyBuffer(w, body, make([]byte, 256*1024))
	closeErr := out.Close()
	// Whatever reached disk is resumable.
	w.save()
	if copyErr != nil {
		return fmt.Errorf("download %s: %w", f.OutputKey, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close staging file: %w", closeErr)
	}
	return nil
}

type progressWriter struct {
	d         *Downloader
	name      string
	rec       Record
	lastSaved int64
	out       *os.File
}

func (w *progressWriter) Write(p []byte) (int, error) {
	n, err := w.out.Write(p)
	w.rec.DownloadedBytes += int64(n)
	if w.rec.DownloadedBytes-w.lastSaved >= saveEvery {
		w.lastSaved = w.rec.DownloadedBytes
		w.save()
	}
	if w.d.progress != nil {
		w.d.progress(w.name, w.rec.Percent(), w.rec.DownloadedBytes, w.rec.TotalBytes)
	}
	return n, err
}

func (w *progressWriter) save() {
	if err := w.d.tracker.Save(w.rec); err != nil {
		logging.WarnWithContext(w.d.logger, "save download progress failed", "download_progress_save_failed",
			logging.String(logging.FieldFileID, w.rec.FileID),
			logging.Int64("downloaded_bytes", w.rec.DownloadedBytes),
			logging.Error(err),
			logging.String(logging.FieldImpact, "an interrupted download restarts from the last saved offset"),
		)
	}
}

func isMultipart(etag string) bool {
	return strings.Contains(etag, "-")
}

// verifyChecksum compares a single-part ETag with the file's MD5. Multipart
// and missing ETags cannot be checked and pass.
func verifyChecksum(filePath, etag string) (bool, error) {
	etag = strings.Trim(etag, `"`)
	if etag == "" || isMultipart(etag) {
		return true, nil
	}
	file, err := os.Open(filePath)
	if err != nil {
		return false, err
	}
	defer file.Close()
	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return false, err
	}
	return strings.EqualFold(hex.EncodeToString(hash.Sum(nil)), etag), nil
}

package transcoder_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vidconv/internal/blobstore"
	"vidconv/internal/logging"
	"vidconv/internal/quality"
	"vidconv/internal/transcoder"
)

func newLocalBlobs(t *testing.T) *blobstore.Local {
	t.Helper()
	blobs, err := blobstore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(blobs.Path("input/t/f/clip.mov")), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(blobs.Path("input/t/f/clip.mov"), []byte("source"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return blobs
}

func waitForState(t *testing.T, tc transcoder.Transcoder, jobID string, want transcoder.State) transcoder.Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := tc.Status(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if status.State == want {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", jobID, want)
	return transcoder.Status{}
}

func localRequest() transcoder.Request {
	return transcoder.Request{
		TaskID:       "t",
		FileID:       "f",
		SourceKey:    "input/t/f/clip.mov",
		OutputPrefix: "output/t/f/",
		Preset:       quality.Resolve("balanced"),
	}
}

func TestLocalSubmitCompletesAndMovesOutput(t *testing.T) {
	blobs := newLocalBlobs(t)
	encode := func(_ context.Context, input, outputDir string, progress func(int)) (string, error) {
		progress(50)
		out := filepath.Join(outputDir, "clip.mkv")
		return out, os.WriteFile(out, []byte("encoded"), 0o644)
	}
	local := transcoder.NewLocalWithEncoder(blobs, encode, logging.NewNop())
	defer local.Close()

	jobID, err := local.Submit(context.Background(), localRequest())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	status := waitForState(t, local, jobID, transcoder.StateComplete)
	if status.OutputKey != "output/t/f/clip_h265.mkv" {
		t.Fatalf("unexpected output key %q", status.OutputKey)
	}
	if status.Percent != 100 {
		t.Fatalf("expected 100 percent, got %d", status.Percent)
	}
	if _, err := os.Stat(blobs.Path(status.OutputKey)); err != nil {
		t.Fatalf("expected output at key: %v", err)
	}
}

func TestLocalEncodeFailureReportsError(t *testing.T) {
	blobs := newLocalBlobs(t)
	encode := func(context.Context, string, string, func(int)) (string, error) {
		return "", errors.New("corrupt stream")
	}
	local := transcoder.NewLocalWithEncoder(blobs, encode, logging.NewNop())
	defer local.Close()

	jobID, err := local.Submit(context.Background(), localRequest())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	status := waitForState(t, local, jobID, transcoder.StateError)
	if status.ErrorMessage != "corrupt stream" {
		t.Fatalf("unexpected message %q", status.ErrorMessage)
	}
}

func TestLocalCancelStopsRunningEncode(t *testing.T) {
	blobs := newLocalBlobs(t)
	started := make(chan struct{})
	encode := func(ctx context.Context, _, _ string, _ func(int)) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}
	local := transcoder.NewLocalWithEncoder(blobs, encode, logging.NewNop())
	defer local.Close()

	jobID, err := local.Submit(context.Background(), localRequest())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-started
	if err := local.Cancel(context.Background(), jobID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	status := waitForState(t, local, jobID, transcoder.StateError)
	if status.ErrorMessage != "job cancelled" {
		t.Fatalf("unexpected message %q", status.ErrorMessage)
	}
	if err := local.Cancel(context.Background(), jobID); err != nil {
		t.Fatalf("second Cancel failed: %v", err)
	}
	if err := local.Cancel(context.Background(), "unknown"); err != nil {
		t.Fatalf("Cancel unknown failed: %v", err)
	}
}

func TestLocalSubmitRejectsMissingSource(t *testing.T) {
	blobs := newLocalBlobs(t)
	local := transcoder.NewLocalWithEncoder(blobs, nil, logging.NewNop())
	req := localRequest()
	req.SourceKey = "input/t/f/missing.mov"
	if _, err := local.Submit(context.Background(), req); err == nil {
		t.Fatal("expected error for missing source")
	}
}

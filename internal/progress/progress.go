package progress

import (
	"context"
	"math"

	"vidconv/internal/queue"
)

// Per-file contributions. Converting files occupy the 0..ConvertingMax band.
const (
	Pending            = 0
	ConvertingMidpoint = 15
	ConvertingMax      = 30
	Verifying          = 65
	Completed          = 100
)

// Step labels reported with the percentage.
const (
	StepPending    = "pending"
	StepConverting = "converting"
	StepVerifying  = "verifying"
	StepCompleted  = "completed"
)

// Lookup returns the live completion percentage (0..100) of a transcoder job.
type Lookup func(ctx context.Context, jobID string) int

var stepRank = map[string]int{
	StepPending:    0,
	StepConverting: 1,
	StepVerifying:  2,
}

// Calculate returns the integer average of per-file contributions and the
// most advanced active step. A nil lookup places converting files at the
// band midpoint; with a lookup the job percentage is scaled into the band
// and a converting file without a job contributes nothing.
func Calculate(ctx context.Context, files []queue.File, lookup Lookup) (int, string) {
	if len(files) == 0 {
		return 0, StepPending
	}
	total := 0
	step := StepPending
	terminal := 0
	advance := func(label string) {
		if stepRank[label] > stepRank[step] {
			step = label
		}
	}
	for _, f := range files {
		switch f.Status {
		case queue.FilePending:
			total += Pending
		case queue.FileConverting:
			total += convertingContribution(ctx, f, lookup)
			advance(StepConverting)
		case queue.FileVerifying:
			total += Verifying
			advance(StepVerifying)
		case queue.FileCompleted, queue.FileFailed:
			total += Completed
			terminal++
		}
	}
	if terminal == len(files) {
		step = StepCompleted
	}
	return total / len(files), step
}

// Simple is Calculate without live job queries.
func Simple(files []queue.File) (int, string) {
	return Calculate(context.Background(), files, nil)
}

func convertingContribution(ctx context.Context, f queue.File, lookup Lookup) int {
	if lookup == nil {
		return ConvertingMidpoint
	}
	if f.JobID == "" {
		return 0
	}
	pct := lookup(ctx, f.JobID)
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct * ConvertingMax / 100
}

// EstimateCompletion returns the remaining seconds for a task whose pending
// and converting files run in batches of maxConcurrency, each taking
// secondsPerBatch. ok is false for terminal tasks and when nothing remains.
func EstimateCompletion(task *queue.Task, maxConcurrency, secondsPerBatch int) (int, bool) {
	if task == nil || task.Status.IsTerminal() || maxConcurrency <= 0 {
		return 0, false
	}
	remaining := 0
	for _, f := range task.Files {
		if f.Status == queue.FilePending || f.Status == queue.FileConverting {
			remaining++
		}
	}
	if remaining == 0 {
		return 0, false
	}
	batches := int(math.Ceil(float64(remaining) / float64(maxConcurrency)))
	return batches * secondsPerBatch, true
}

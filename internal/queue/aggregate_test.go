package queue_test

import (
	"errors"
	"testing"

	"vidconv/internal/queue"
)

func TestAggregate(t *testing.T) {
	c, f := queue.FileCompleted, queue.FileFailed
	tests := []struct {
		name     string
		statuses []queue.FileStatus
		want     queue.TaskStatus
	}{
		{"empty is failure", nil, queue.TaskFailed},
		{"all completed", []queue.FileStatus{c, c}, queue.TaskCompleted},
		{"all failed", []queue.FileStatus{f, f, f}, queue.TaskFailed},
		{"mix", []queue.FileStatus{c, f, c}, queue.TaskPartiallyCompleted},
		{"single completed", []queue.FileStatus{c}, queue.TaskCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := queue.Aggregate(tt.statuses)
			if err != nil {
				t.Fatalf("Aggregate failed: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Aggregate(%v) = %s, want %s", tt.statuses, got, tt.want)
			}
		})
	}
}

func TestAggregateRejectsNonTerminal(t *testing.T) {
	_, err := queue.Aggregate([]queue.FileStatus{queue.FileCompleted, queue.FileVerifying})
	if !errors.Is(err, queue.ErrNonTerminalFile) {
		t.Fatalf("expected ErrNonTerminalFile, got %v", err)
	}
}

func TestInFlightStatus(t *testing.T) {
	tests := []struct {
		statuses []queue.FileStatus
		want     queue.TaskStatus
		ok       bool
	}{
		{[]queue.FileStatus{queue.FileConverting, queue.FileCompleted}, queue.TaskConverting, true},
		{[]queue.FileStatus{queue.FileVerifying, queue.FileCompleted}, queue.TaskVerifying, true},
		{[]queue.FileStatus{queue.FileVerifying, queue.FilePending}, queue.TaskConverting, true},
		{[]queue.FileStatus{queue.FileCompleted, queue.FileFailed}, "", false},
	}
	for _, tt := range tests {
		got, ok := queue.InFlightStatus(tt.statuses)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("InFlightStatus(%v) = %s %v, want %s %v", tt.statuses, got, ok, tt.want, tt.ok)
		}
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	for _, s := range queue.ActiveTaskStatuses {
		if s.IsTerminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
	for _, s := range []queue.TaskStatus{queue.TaskCompleted, queue.TaskPartiallyCompleted, queue.TaskFailed, queue.TaskCancelled} {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	if _, ok := queue.ParseTaskStatus("bogus"); ok {
		t.Fatal("expected bogus status rejected")
	}
}

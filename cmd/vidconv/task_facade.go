package main

import (
	"context"
	"errors"
	"fmt"

	"vidconv/internal/api"
	"vidconv/internal/cancel"
	"vidconv/internal/daemonctl"
	"vidconv/internal/queue"
)

// taskAPI is what list, show, and cancel need, served either by the daemon
// or by the local store.
type taskAPI interface {
	List(ctx context.Context, owner string, statuses []string) ([]api.TaskView, error)
	Get(ctx context.Context, owner, taskID string, live bool) (*api.TaskView, error)
	Cancel(ctx context.Context, owner, taskID string) (*api.CancelResponse, error)
}

// --- HTTP adapter ---

type taskHTTPAdapter struct {
	client *daemonctl.Client
}

func (a *taskHTTPAdapter) List(ctx context.Context, owner string, statuses []string) ([]api.TaskView, error) {
	return a.client.ListTasks(ctx, owner, statuses...)
}

func (a *taskHTTPAdapter) Get(ctx context.Context, owner, taskID string, live bool) (*api.TaskView, error) {
	return a.client.GetTask(ctx, owner, taskID, live)
}

func (a *taskHTTPAdapter) Cancel(ctx context.Context, owner, taskID string) (*api.CancelResponse, error) {
	resp, err := a.client.Cancel(ctx, owner, taskID)
	if errors.Is(err, daemonctl.ErrNotFound) {
		return nil, nil
	}
	return resp, err
}

// --- Store adapter ---

type taskStoreAdapter struct {
	tasks *api.TaskService
	coord *cancel.Coordinator
}

func (a *taskStoreAdapter) List(ctx context.Context, owner string, statuses []string) ([]api.TaskView, error) {
	filters := make([]queue.TaskStatus, 0, len(statuses))
	for _, s := range statuses {
		parsed, ok := queue.ParseTaskStatus(s)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", s)
		}
		filters = append(filters, parsed)
	}
	return a.tasks.List(ctx, owner, filters...)
}

func (a *taskStoreAdapter) Get(ctx context.Context, owner, taskID string, live bool) (*api.TaskView, error) {
	return a.tasks.Get(ctx, owner, taskID, live)
}

func (a *taskStoreAdapter) Cancel(ctx context.Context, owner, taskID string) (*api.CancelResponse, error) {
	result, err := a.coord.Cancel(ctx, owner, taskID)
	if err != nil {
		return nil, err
	}
	if result.NotFound {
		return nil, nil
	}
	resp := api.FromCancelResult(result)
	return &resp, nil
}

package daemonctl_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"vidconv/internal/api"
	"vidconv/internal/daemonctl"
)

func newServer(t *testing.T, handler http.HandlerFunc) *daemonctl.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return daemonctl.NewClient(srv.URL, "secret")
}

func TestListTasksSendsOwnerStatusAndToken(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tasks" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		q := r.URL.Query()
		if q.Get("owner") != "alice" || len(q["status"]) != 2 {
			t.Errorf("unexpected query %v", q)
		}
		_ = json.NewEncoder(w).Encode(api.TaskListResponse{Tasks: []api.TaskView{{ID: "t1"}}})
	})

	tasks, err := client.ListTasks(context.Background(), "alice", "pending", "converting")
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
}

func TestGetTaskMissingReturnsNil(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("live") != "1" {
			t.Errorf("expected live flag")
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"task not found"}`))
	})

	task, err := client.GetTask(context.Background(), "alice", "t1", true)
	if err != nil || task != nil {
		t.Fatalf("expected (nil, nil), got (%+v, %v)", task, err)
	}
}

func TestCancelConflictReturnsResponse(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(api.CancelResponse{PreviousStatus: "completed", ErrorMessage: "cannot cancel task with status completed"})
	})

	resp, err := client.Cancel(context.Background(), "alice", "t1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if resp.Success || resp.PreviousStatus != "completed" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestServerErrorCarriesMessage(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	})

	_, err := client.Status(context.Background())
	var statusErr *daemonctl.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusUnauthorized || statusErr.Message != "unauthorized" {
		t.Fatalf("unexpected error %+v", statusErr)
	}
}

func TestUnreachableDaemon(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()

	_, err = daemonctl.NewClient(addr, "").Status(context.Background())
	if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

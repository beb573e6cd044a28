package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestRunner(t *testing.T) (*Store, *Runner) {
	t.Helper()
	reg := NewRegistry()
	store := NewStore(reg, zerolog.Nop())
	runner := NewRunner(store, reg, zerolog.Nop())
	if err := reg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	return store, runner
}

func runningTask(store *Store) (TaskInfo, bool) {
	for _, task := range store.Tasks() {
		if task.Status == TaskRunning {
			return task, true
		}
	}
	return TaskInfo{}, false
}

func TestRunnerReportsStartAndEndAndReturnsResult(t *testing.T) {
	store, runner := newTestRunner(t)

	result, err := runner.Start(context.Background(), Descriptor{Name: "resolve-uploads", GameID: 3},
		func(_ context.Context, h *Handle) (any, error) {
			h.Progress(0.4)
			return "done", nil
		})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if result != "done" {
		t.Fatalf("result = %v, want done", result)
	}

	tasks := store.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("tracked %d tasks, want 1", len(tasks))
	}
	task := tasks[0]
	if task.Name != "resolve-uploads" || task.GameID != 3 {
		t.Fatalf("task = %+v", task)
	}
	if task.Status != TaskSucceeded {
		t.Fatalf("status = %v, want succeeded", task.Status)
	}
	if task.Progress != 1 {
		t.Fatalf("progress = %v, want 1 on success", task.Progress)
	}
}

func TestRunnerRecordsFailureAsTerminalData(t *testing.T) {
	store, runner := newTestRunner(t)

	boom := errors.New("disk full")
	_, err := runner.Start(context.Background(), Descriptor{Name: "install"},
		func(context.Context, *Handle) (any, error) {
			return nil, boom
		})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}

	task := store.Tasks()[0]
	if task.Status != TaskFailed {
		t.Fatalf("status = %v, want failed", task.Status)
	}
	if task.Err != boom.Error() {
		t.Fatalf("task err = %q, want %q", task.Err, boom.Error())
	}
}

func TestAbortedTaskEndsAbortedNeverSucceeded(t *testing.T) {
	store, runner := newTestRunner(t)

	done := make(chan error, 1)
	go func() {
		_, err := runner.Start(context.Background(), Descriptor{Name: "download", GameID: 9},
			func(ctx context.Context, _ *Handle) (any, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			})
		done <- err
	}()

	var id string
	waitFor(t, "task to run", func() bool {
		task, ok := runningTask(store)
		if ok {
			id = task.ID
		}
		return ok
	})

	if err := store.Dispatch(context.Background(), Action{
		Name:    ActionAbortTask,
		Payload: AbortTaskPayload{ID: id},
	}); err != nil {
		t.Fatalf("abort dispatch: %v", err)
	}

	if err := <-done; !errors.Is(err, ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
	waitFor(t, "terminal status", func() bool {
		task, _ := store.Task(id)
		return task.Status != TaskRunning
	})
	task, _ := store.Task(id)
	if task.Status != TaskAborted {
		t.Fatalf("status = %v, want aborted", task.Status)
	}
}

func TestHandleProgressNeverRegresses(t *testing.T) {
	store, runner := newTestRunner(t)

	var id string
	_, err := runner.Start(context.Background(), Descriptor{Name: "download"},
		func(_ context.Context, h *Handle) (any, error) {
			id = h.ID
			h.Progress(0.8)
			h.Progress(0.2)
			return nil, errors.New("stop here")
		})
	if err == nil {
		t.Fatal("expected failure")
	}

	task, _ := store.Task(id)
	if task.Progress != 0.8 {
		t.Fatalf("progress = %v, want 0.8", task.Progress)
	}
}

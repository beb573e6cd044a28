package core

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T, required ...ActionName) (*Registry, *Store) {
	t.Helper()
	reg := NewRegistry(required...)
	store := NewStore(reg, zerolog.Nop())
	return reg, store
}

func TestDispatchRunsWildcardBeforeNamedInRegistrationOrder(t *testing.T) {
	reg, store := newTestStore(t)

	var order []string
	record := func(tag string) Reactor {
		return func(context.Context, *Store, Action) error {
			order = append(order, tag)
			return nil
		}
	}
	reg.RegisterAll(record("w1"))
	reg.Register(ActionBoot, record("n1"))
	reg.RegisterAll(record("w2"))
	reg.Register(ActionBoot, record("n2"))
	if err := reg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if err := store.Dispatch(context.Background(), Action{Name: ActionBoot}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	want := []string{"w1", "w2", "n1", "n2"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestDispatchErrorAbortsRemainingReactors(t *testing.T) {
	reg, store := newTestStore(t)

	boom := errors.New("boom")
	ran := false
	reg.Register(ActionBoot, func(context.Context, *Store, Action) error {
		return boom
	})
	reg.Register(ActionBoot, func(context.Context, *Store, Action) error {
		ran = true
		return nil
	})
	if err := reg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	err := store.Dispatch(context.Background(), Action{Name: ActionBoot})
	if !errors.Is(err, boom) {
		t.Fatalf("dispatch err = %v, want %v", err, boom)
	}
	if ran {
		t.Fatal("reactor after the failing one still ran")
	}
}

func TestReentrantDispatchDefersUntilChainUnwinds(t *testing.T) {
	reg, store := newTestStore(t)

	var order []string
	reg.Register(ActionBoot, func(ctx context.Context, s *Store, _ Action) error {
		order = append(order, "boot-begin")
		if err := s.Dispatch(ctx, Action{Name: ActionNotify}); err != nil {
			return err
		}
		// The nested dispatch must not have run yet.
		order = append(order, "boot-end")
		return nil
	})
	reg.Register(ActionNotify, func(context.Context, *Store, Action) error {
		order = append(order, "notify")
		return nil
	})
	if err := reg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if err := store.Dispatch(context.Background(), Action{Name: ActionBoot}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	want := []string{"boot-begin", "boot-end", "notify"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestRegistryRejectsUnknownActionName(t *testing.T) {
	reg := NewRegistry()
	reg.Register(ActionName("launch-rockets"), func(context.Context, *Store, Action) error {
		return nil
	})
	if err := reg.Validate(); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("validate err = %v, want %v", err, ErrUnknownAction)
	}
}

func TestRegistryRequiresHandlersForRequiredActions(t *testing.T) {
	reg := NewRegistry(ActionInstallGame)
	NewStore(reg, zerolog.Nop())
	if err := reg.Validate(); !errors.Is(err, ErrNoHandlers) {
		t.Fatalf("validate err = %v, want %v", err, ErrNoHandlers)
	}
}

func TestTaskProgressIsMonotonicWhileRunning(t *testing.T) {
	reg, store := newTestStore(t)
	if err := reg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	ctx := context.Background()

	_ = store.Dispatch(ctx, Action{Name: ActionTaskStarted, Payload: TaskStartedPayload{
		Task: TaskInfo{ID: "t1", Name: "download"},
	}})
	_ = store.Dispatch(ctx, Action{Name: ActionTaskProgress, Payload: TaskProgressPayload{ID: "t1", Progress: 0.5}})
	_ = store.Dispatch(ctx, Action{Name: ActionTaskProgress, Payload: TaskProgressPayload{ID: "t1", Progress: 0.3}})

	task, ok := store.Task("t1")
	if !ok {
		t.Fatal("task not tracked")
	}
	if task.Progress != 0.5 {
		t.Fatalf("progress = %v, want 0.5 (must not regress)", task.Progress)
	}
}

func TestCaveSavedKeepsOneCavePerGame(t *testing.T) {
	reg, store := newTestStore(t)
	if err := reg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	ctx := context.Background()

	_ = store.Dispatch(ctx, Action{Name: ActionCaveSaved, Payload: CaveSavedPayload{
		Cave: Cave{ID: "c1", GameID: 7, UploadID: 1},
	}})
	_ = store.Dispatch(ctx, Action{Name: ActionCaveSaved, Payload: CaveSavedPayload{
		Cave: Cave{ID: "c2", GameID: 7, UploadID: 2},
	}})

	if _, ok := store.Cave("c1"); ok {
		t.Fatal("previous cave for the game survived")
	}
	cave, ok := store.CaveForGame(7)
	if !ok || cave.ID != "c2" {
		t.Fatalf("cave for game = %+v, want c2", cave)
	}
}

func TestDownloadSucceededImpliesBytesDoneEqualsTotal(t *testing.T) {
	reg, store := newTestStore(t)
	if err := reg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	ctx := context.Background()

	_ = store.Dispatch(ctx, Action{Name: ActionDownloadStarted, Payload: DownloadStartedPayload{
		ID:       "d1",
		Snapshot: DownloadSnapshot{ID: "d1", GameID: 1, TotalSize: 100},
	}})
	_ = store.Dispatch(ctx, Action{Name: ActionDownloadProgress, Payload: DownloadProgressPayload{
		ID: "d1", BytesDone: 40, TotalSize: 100,
	}})
	_ = store.Dispatch(ctx, Action{Name: ActionDownloadEnded, Payload: DownloadEndedPayload{ID: "d1"}})

	d, ok := store.Download("d1")
	if !ok {
		t.Fatal("download not tracked")
	}
	if d.Status != DownloadSucceeded {
		t.Fatalf("status = %v, want succeeded", d.Status)
	}
	if d.BytesDone != d.TotalSize {
		t.Fatalf("bytesDone = %d, total = %d; success implies equality", d.BytesDone, d.TotalSize)
	}
}

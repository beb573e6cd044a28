package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrAborted is the terminal outcome of a unit of work that observed an
// abort signal at a cooperative checkpoint.
var ErrAborted = errors.New("task aborted")

// Descriptor names a tracked unit of work and the item it belongs to.
type Descriptor struct {
	Name   string
	GameID int64
	CaveID string
}

// Work is a unit of work executed by the runner. It should check
// Handle.Aborted (or select on ctx.Done) at its suspension points and return
// ErrAborted once it observes the signal.
type Work func(ctx context.Context, h *Handle) (any, error)

// Handle is handed to a running unit of work for progress reporting and
// abort checks.
type Handle struct {
	ID string

	store *Store
	ctx   context.Context

	mu   sync.Mutex
	last float64
}

// Progress dispatches a task-progress action. Values are clamped so the
// reported figure never decreases; producers are responsible for coalescing.
func (h *Handle) Progress(p float64) {
	h.mu.Lock()
	if p < h.last {
		p = h.last
	}
	h.last = p
	h.mu.Unlock()

	_ = h.store.Dispatch(h.ctx, Action{
		Name:    ActionTaskProgress,
		Payload: TaskProgressPayload{ID: h.ID, Progress: p},
	})
}

// Aborted reports whether the task has been signalled to stop.
func (h *Handle) Aborted() bool {
	return h.ctx.Err() != nil
}

// Runner executes named asynchronous units of work, reporting structured
// start, progress and end actions through the store, and supports
// cooperative cancellation via the abort-task action.
type Runner struct {
	store  *Store
	logger zerolog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewRunner creates a runner and binds its abort-task reactor.
func NewRunner(store *Store, registry *Registry, logger zerolog.Logger) *Runner {
	r := &Runner{
		store:  store,
		logger: logger,
		active: make(map[string]context.CancelFunc),
	}
	registry.Register(ActionAbortTask, r.reactAbort)
	return r
}

// Start generates a fresh task id, dispatches task-started, executes work
// and dispatches exactly one task-ended carrying the outcome. The same
// result and error are returned to the calling reactor so it can branch on
// the outcome without a separate subscription.
func (r *Runner) Start(ctx context.Context, desc Descriptor, work Work) (any, error) {
	id := uuid.NewString()

	tctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.active[id] = cancel
	r.mu.Unlock()
	defer func() {
		cancel()
		r.mu.Lock()
		delete(r.active, id)
		r.mu.Unlock()
	}()

	_ = r.store.Dispatch(ctx, Action{
		Name: ActionTaskStarted,
		Payload: TaskStartedPayload{Task: TaskInfo{
			ID:        id,
			Name:      desc.Name,
			GameID:    desc.GameID,
			CaveID:    desc.CaveID,
			StartedAt: time.Now(),
			Status:    TaskRunning,
		}},
	})

	handle := &Handle{ID: id, store: r.store, ctx: tctx}
	result, err := work(tctx, handle)

	// A unit of work that ran under a cancelled context reports Aborted,
	// never success or a generic failure.
	aborted := errors.Is(err, ErrAborted) || tctx.Err() != nil
	if aborted {
		err = ErrAborted
		result = nil
	}

	r.logger.Debug().Str("task", desc.Name).Str("id", id).Err(err).
		Bool("aborted", aborted).Msg("task ended")

	_ = r.store.Dispatch(ctx, Action{
		Name: ActionTaskEnded,
		Payload: TaskEndedPayload{
			ID:      id,
			Err:     err,
			Aborted: aborted,
			Result:  result,
		},
	})
	return result, err
}

// Abort signals the running unit of work to stop at its next cooperative
// checkpoint. In-flight I/O is not forcibly terminated; it completes or
// errors on its own and then observes the abort flag.
func (r *Runner) Abort(id string) bool {
	r.mu.Lock()
	cancel, ok := r.active[id]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (r *Runner) reactAbort(_ context.Context, _ *Store, a Action) error {
	p, ok := a.Payload.(AbortTaskPayload)
	if !ok {
		return nil
	}
	if !r.Abort(p.ID) {
		r.logger.Warn().Str("id", p.ID).Msg("abort for unknown task")
	}
	return nil
}

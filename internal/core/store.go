package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the process-wide application state tree. Created once at boot,
// torn down at shutdown, and exclusively owned by the store.
type State struct {
	Tasks     map[string]*TaskInfo
	Downloads map[string]*DownloadSnapshot
	Caves     map[string]*Cave
	Stats     TransferStats
}

func newState() *State {
	return &State{
		Tasks:     make(map[string]*TaskInfo),
		Downloads: make(map[string]*DownloadSnapshot),
		Caves:     make(map[string]*Cave),
	}
}

// Store holds the state tree and is the single write entry point. Dispatch
// looks up matching reactors and runs them in order; re-entrant dispatches
// are queued and pumped after the current chain completes, so there is one
// logical thread of state mutation and no mid-handler interleaving.
type Store struct {
	registry *Registry
	logger   zerolog.Logger

	mu      sync.Mutex
	state   *State
	busy    bool
	pending []Action
}

// NewStore creates the store and binds the builtin state-update reactors.
// These are the only code paths that mutate the state tree.
func NewStore(registry *Registry, logger zerolog.Logger) *Store {
	s := &Store{
		registry: registry,
		logger:   logger,
		state:    newState(),
	}
	registry.Register(ActionTaskStarted, s.applyTaskStarted)
	registry.Register(ActionTaskProgress, s.applyTaskProgress)
	registry.Register(ActionTaskEnded, s.applyTaskEnded)
	registry.Register(ActionDownloadStarted, s.applyDownloadStarted)
	registry.Register(ActionDownloadProgress, s.applyDownloadProgress)
	registry.Register(ActionDownloadEnded, s.applyDownloadEnded)
	registry.Register(ActionClearFinished, s.applyClearFinished)
	registry.Register(ActionCaveSaved, s.applyCaveSaved)
	registry.Register(ActionCaveOpChanged, s.applyCaveOpChanged)
	registry.Register(ActionCaveImploded, s.applyCaveImploded)
	return s
}

// Dispatch runs every wildcard reactor, then every reactor registered for
// a.Name, sequentially in registration order. A reactor error aborts the
// remaining reactors for this dispatch and is returned to the caller.
//
// If a chain is already in flight (a reactor dispatching again, or another
// goroutine reporting progress), the action is queued and processed after
// the current chain unwinds; queued dispatches report errors to the log
// since their caller's frame is gone by the time they run.
func (s *Store) Dispatch(ctx context.Context, a Action) error {
	s.mu.Lock()
	if s.busy {
		s.pending = append(s.pending, a)
		s.mu.Unlock()
		return nil
	}
	s.busy = true
	s.mu.Unlock()

	err := s.runChain(ctx, a)
	s.pump(ctx)
	return err
}

// pump drains deferred dispatches one chain at a time, preserving causal
// ordering of state changes.
func (s *Store) pump(ctx context.Context) {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.busy = false
			s.mu.Unlock()
			return
		}
		next := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		if err := s.runChain(ctx, next); err != nil {
			s.logger.Error().Err(err).Str("action", string(next.Name)).
				Msg("deferred dispatch failed")
		}
	}
}

func (s *Store) runChain(ctx context.Context, a Action) error {
	for _, reactor := range s.registry.reactorsFor(a.Name) {
		if err := reactor(ctx, s, a); err != nil {
			return err
		}
	}
	return nil
}

// Task returns a copy of the tracked task record, if present.
func (s *Store) Task(id string) (TaskInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.state.Tasks[id]
	if !ok {
		return TaskInfo{}, false
	}
	return *t, true
}

// Tasks returns copies of all tracked task records.
func (s *Store) Tasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskInfo, 0, len(s.state.Tasks))
	for _, t := range s.state.Tasks {
		out = append(out, *t)
	}
	return out
}

// Download returns a copy of a download snapshot, if present.
func (s *Store) Download(id string) (DownloadSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.state.Downloads[id]
	if !ok {
		return DownloadSnapshot{}, false
	}
	return *d, true
}

// Cave returns a copy of a cave record, if present.
func (s *Store) Cave(id string) (Cave, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.state.Caves[id]
	if !ok {
		return Cave{}, false
	}
	return *c, true
}

// CaveForGame returns the cave installed for a game, if any. The state tree
// holds at most one cave per game id.
func (s *Store) CaveForGame(gameID int64) (Cave, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.state.Caves {
		if c.GameID == gameID {
			return *c, true
		}
	}
	return Cave{}, false
}

// Stats returns the current global transfer statistics.
func (s *Store) Stats() TransferStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Stats
}

func (s *Store) applyTaskStarted(_ context.Context, _ *Store, a Action) error {
	p, ok := a.Payload.(TaskStartedPayload)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := p.Task
	t.Status = TaskRunning
	if t.StartedAt.IsZero() {
		t.StartedAt = time.Now()
	}
	s.state.Tasks[t.ID] = &t
	return nil
}

func (s *Store) applyTaskProgress(_ context.Context, _ *Store, a Action) error {
	p, ok := a.Payload.(TaskProgressPayload)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.state.Tasks[p.ID]
	if !ok || t.Status != TaskRunning {
		return nil
	}
	// Progress never moves backwards while running.
	if p.Progress > t.Progress {
		t.Progress = min(p.Progress, 1)
	}
	return nil
}

func (s *Store) applyTaskEnded(_ context.Context, _ *Store, a Action) error {
	p, ok := a.Payload.(TaskEndedPayload)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.state.Tasks[p.ID]
	if !ok {
		return nil
	}
	switch {
	case p.Aborted:
		t.Status = TaskAborted
	case p.Err != nil:
		t.Status = TaskFailed
	default:
		t.Status = TaskSucceeded
		t.Progress = 1
	}
	if p.Err != nil {
		t.Err = p.Err.Error()
	}
	return nil
}

func (s *Store) applyDownloadStarted(_ context.Context, _ *Store, a Action) error {
	p, ok := a.Payload.(DownloadStartedPayload)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := p.Snapshot
	snap.Status = DownloadActive
	s.state.Downloads[snap.ID] = &snap
	s.recountStats()
	return nil
}

func (s *Store) applyDownloadProgress(_ context.Context, _ *Store, a Action) error {
	p, ok := a.Payload.(DownloadProgressPayload)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.state.Downloads[p.ID]
	if !ok {
		return nil
	}
	d.TotalSize = p.TotalSize
	d.BytesDone = p.BytesDone
	if d.TotalSize > 0 && d.BytesDone > d.TotalSize {
		d.BytesDone = d.TotalSize
	}
	d.BPS = p.BPS
	s.recountStats()
	return nil
}

func (s *Store) applyDownloadEnded(_ context.Context, _ *Store, a Action) error {
	p, ok := a.Payload.(DownloadEndedPayload)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.state.Downloads[p.ID]
	if !ok {
		return nil
	}
	switch {
	case p.Aborted:
		d.Status = DownloadCancelled
	case p.Err != nil:
		d.Status = DownloadFailed
		d.Err = p.Err.Error()
	default:
		d.Status = DownloadSucceeded
		d.BytesDone = d.TotalSize
	}
	d.BPS = 0
	s.recountStats()
	return nil
}

func (s *Store) applyClearFinished(_ context.Context, _ *Store, _ Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, d := range s.state.Downloads {
		if d.Status == DownloadSucceeded {
			delete(s.state.Downloads, id)
		}
	}
	s.recountStats()
	return nil
}

func (s *Store) applyCaveSaved(_ context.Context, _ *Store, a Action) error {
	p, ok := a.Payload.(CaveSavedPayload)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// One cave per game: saving replaces any previous record for the game.
	for id, c := range s.state.Caves {
		if c.GameID == p.Cave.GameID && id != p.Cave.ID {
			delete(s.state.Caves, id)
		}
	}
	cave := p.Cave
	s.state.Caves[cave.ID] = &cave
	return nil
}

func (s *Store) applyCaveOpChanged(_ context.Context, _ *Store, a Action) error {
	p, ok := a.Payload.(CaveOpChangedPayload)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.state.Caves[p.CaveID]; ok {
		c.Op = p.Op
	}
	return nil
}

func (s *Store) applyCaveImploded(_ context.Context, _ *Store, a Action) error {
	p, ok := a.Payload.(CaveImplodedPayload)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.state.Caves, p.CaveID)
	return nil
}

// recountStats recomputes the global transfer figures. Called with s.mu held.
func (s *Store) recountStats() {
	stats := TransferStats{}
	for _, d := range s.state.Downloads {
		switch d.Status {
		case DownloadActive:
			stats.NumActive++
			stats.BPS += d.BPS
		case DownloadQueued, DownloadPaused:
			stats.NumQueued++
		default:
			stats.NumStopped++
		}
	}
	s.state.Stats = stats
}

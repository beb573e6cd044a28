// Package queue holds the ordered collection of pending and active
// downloads and drains it into the transport collaborator. All mutations of
// the shared ordering go through queue actions, which the store serializes.
package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cavern/internal/core"
	"cavern/internal/transport"
)

// ErrDuplicateGame rejects a second download intent for a game that already
// has an item in the queue. Surfaced to the caller, never retried.
var ErrDuplicateGame = errors.New("queue: game already has a download queued")

var (
	ErrItemNotFound  = errors.New("queue: download not found")
	ErrNotRetryable  = errors.New("queue: download is not in a failed state")
	ErrMissingDest   = errors.New("queue: download has no destination path")
	ErrAlreadyActive = errors.New("queue: cannot reprioritize an active download")
)

// progressEvery coalesces transfer samples before they become actions.
const progressEvery = 250 * time.Millisecond

// Item is one queued or active download.
type Item struct {
	ID          string
	Game        core.Game
	Upload      core.Upload
	BuildID     int64
	DestPath    string
	DownloadKey *core.DownloadKey
	Reason      string
	Priority    int
	Status      core.DownloadStatus
	BytesDone   int64
	TotalSize   int64
	Attempt     int
	Err         error
	TaskID      string

	seq       int64
	cancelled bool
	lastEmit  time.Time
	speed     *speedWindow
}

// Options tune the queue.
type Options struct {
	// MaxActive caps simultaneously active transfers. Defaults to 1.
	MaxActive int
	// SpeedWindow is the rolling window for bytes-per-second aggregation.
	SpeedWindow time.Duration
}

// Queue drains downloads into the transport. Each active transfer runs as a
// tracked task so aborts flow through the regular abort-task action.
type Queue struct {
	store     *core.Store
	runner    *core.Runner
	transport transport.Transport
	logger    zerolog.Logger
	baseCtx   context.Context
	opts      Options

	mu      sync.Mutex
	items   map[string]*Item
	paused  bool
	nextSeq int64
	topPrio int
	wg      sync.WaitGroup
	now     func() time.Time
}

// New creates the queue and binds its reactors. baseCtx bounds the lifetime
// of every transfer the queue starts.
func New(baseCtx context.Context, store *core.Store, runner *core.Runner, registry *core.Registry, tp transport.Transport, opts Options, logger zerolog.Logger) *Queue {
	if opts.MaxActive < 1 {
		opts.MaxActive = 1
	}
	q := &Queue{
		store:     store,
		runner:    runner,
		transport: tp,
		logger:    logger,
		baseCtx:   baseCtx,
		opts:      opts,
		items:     make(map[string]*Item),
		now:       time.Now,
	}
	registry.Register(core.ActionQueueDownload, q.reactEnqueue)
	registry.Register(core.ActionPrioritizeDownload, q.reactPrioritize)
	registry.Register(core.ActionPauseDownloads, q.reactPause)
	registry.Register(core.ActionResumeDownloads, q.reactResume)
	registry.Register(core.ActionCancelDownload, q.reactCancel)
	registry.Register(core.ActionRetryDownload, q.reactRetry)
	registry.Register(core.ActionClearFinished, q.reactClearFinished)
	registry.Register(core.ActionDownloadEnded, q.reactEnded)
	return q
}

// Wait blocks until every transfer goroutine has finished, for shutdown.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) reactEnqueue(_ context.Context, _ *core.Store, a core.Action) error {
	p, ok := a.Payload.(core.QueueDownloadPayload)
	if !ok {
		return nil
	}
	if p.DestPath == "" {
		return ErrMissingDest
	}

	q.mu.Lock()
	for _, it := range q.items {
		if it.Game.ID == p.Game.ID && !terminal(it.Status) {
			q.mu.Unlock()
			return ErrDuplicateGame
		}
	}
	q.nextSeq++
	item := &Item{
		ID:          uuid.NewString(),
		Game:        p.Game,
		Upload:      p.Upload,
		BuildID:     p.BuildID,
		DestPath:    p.DestPath,
		DownloadKey: p.DownloadKey,
		Reason:      p.Reason,
		Status:      core.DownloadQueued,
		TotalSize:   p.Upload.Size,
		seq:         q.nextSeq,
		speed:       newSpeedWindow(q.opts.SpeedWindow),
	}
	q.items[item.ID] = item
	q.mu.Unlock()

	q.logger.Info().Str("id", item.ID).Int64("game", p.Game.ID).
		Str("file", p.Upload.Filename).Str("reason", p.Reason).Msg("download queued")
	q.drain()
	return nil
}

func (q *Queue) reactPrioritize(_ context.Context, _ *core.Store, a core.Action) error {
	p, ok := a.Payload.(core.PrioritizeDownloadPayload)
	if !ok {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[p.ID]
	if !ok {
		return ErrItemNotFound
	}
	// Items already transferring keep their slot.
	if item.Status == core.DownloadActive {
		return ErrAlreadyActive
	}
	q.topPrio++
	item.Priority = q.topPrio
	return nil
}

func (q *Queue) reactPause(_ context.Context, _ *core.Store, a core.Action) error {
	q.mu.Lock()
	q.paused = true
	var abortIDs []string
	for _, it := range q.items {
		if it.Status == core.DownloadActive {
			abortIDs = append(abortIDs, it.TaskID)
		}
	}
	q.mu.Unlock()

	// Cooperative: the transfer observes the cancelled context at its next
	// read and reports back through download-ended.
	for _, taskID := range abortIDs {
		q.runner.Abort(taskID)
	}
	return nil
}

func (q *Queue) reactResume(_ context.Context, _ *core.Store, a core.Action) error {
	q.mu.Lock()
	q.paused = false
	for _, it := range q.items {
		if it.Status == core.DownloadPaused {
			it.Status = core.DownloadQueued
		}
	}
	q.mu.Unlock()

	q.drain()
	return nil
}

func (q *Queue) reactCancel(_ context.Context, _ *core.Store, a core.Action) error {
	p, ok := a.Payload.(core.CancelDownloadPayload)
	if !ok {
		return nil
	}
	q.mu.Lock()
	item, ok := q.items[p.ID]
	if !ok {
		q.mu.Unlock()
		return ErrItemNotFound
	}
	if item.Status == core.DownloadActive {
		item.cancelled = true
		taskID := item.TaskID
		q.mu.Unlock()
		q.runner.Abort(taskID)
		return nil
	}
	delete(q.items, p.ID)
	q.mu.Unlock()

	q.discard(item)
	return nil
}

func (q *Queue) reactRetry(_ context.Context, _ *core.Store, a core.Action) error {
	p, ok := a.Payload.(core.RetryDownloadPayload)
	if !ok {
		return nil
	}
	q.mu.Lock()
	item, ok := q.items[p.ID]
	if !ok {
		q.mu.Unlock()
		return ErrItemNotFound
	}
	if item.Status != core.DownloadFailed {
		q.mu.Unlock()
		return ErrNotRetryable
	}
	// Same identity, same download options; the partial file stays behind
	// so the transport resumes instead of starting over.
	item.Status = core.DownloadQueued
	item.Err = nil
	item.Attempt++
	item.speed.reset()
	q.mu.Unlock()

	q.drain()
	return nil
}

func (q *Queue) reactClearFinished(_ context.Context, _ *core.Store, a core.Action) error {
	q.mu.Lock()
	for id, it := range q.items {
		if it.Status == core.DownloadSucceeded {
			delete(q.items, id)
		}
	}
	q.mu.Unlock()
	return nil
}

func (q *Queue) reactEnded(_ context.Context, _ *core.Store, a core.Action) error {
	p, ok := a.Payload.(core.DownloadEndedPayload)
	if !ok {
		return nil
	}
	q.mu.Lock()
	item, ok := q.items[p.ID]
	if !ok {
		q.mu.Unlock()
		return nil
	}
	var toDiscard *Item
	switch {
	case item.cancelled:
		delete(q.items, p.ID)
		toDiscard = item
	case p.Aborted && q.paused:
		// Suspended by a queue-wide pause; resume re-promotes it and the
		// transport continues from the partial file.
		item.Status = core.DownloadPaused
		item.TaskID = ""
	case p.Aborted:
		item.Status = core.DownloadCancelled
		item.TaskID = ""
	case p.Err != nil:
		// Terminal data, not an automatic retry; retry is a deliberate
		// follow-up action.
		item.Status = core.DownloadFailed
		item.Err = p.Err
		item.TaskID = ""
	default:
		item.Status = core.DownloadSucceeded
		item.BytesDone = item.TotalSize
		item.TaskID = ""
	}
	q.mu.Unlock()

	if toDiscard != nil {
		q.discard(toDiscard)
	}
	q.drain()
	return nil
}

// drain promotes pending items into free transfer slots: highest priority
// first, then earliest arrival.
func (q *Queue) drain() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused {
		return
	}
	active := 0
	var pending []*Item
	for _, it := range q.items {
		switch it.Status {
		case core.DownloadActive:
			active++
		case core.DownloadQueued:
			pending = append(pending, it)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		return pending[i].seq < pending[j].seq
	})

	for _, it := range pending {
		if active >= q.opts.MaxActive {
			return
		}
		it.Status = core.DownloadActive
		it.speed.reset()
		active++
		q.wg.Add(1)
		go q.run(it)
	}
}

// run drives one transfer as a tracked task so abort-task reaches it.
func (q *Queue) run(item *Item) {
	defer q.wg.Done()

	desc := core.Descriptor{Name: "download", GameID: item.Game.ID}
	_, err := q.runner.Start(q.baseCtx, desc, func(ctx context.Context, h *core.Handle) (any, error) {
		q.mu.Lock()
		item.TaskID = h.ID
		snap := snapshotLocked(item, q.paused)
		q.mu.Unlock()

		_ = q.store.Dispatch(q.baseCtx, core.Action{
			Name: core.ActionDownloadStarted,
			Payload: core.DownloadStartedPayload{
				ID:       item.ID,
				TaskID:   h.ID,
				Snapshot: snap,
			},
		})

		req := transport.Request{
			URL:          item.Upload.SourceURL,
			DestPath:     item.DestPath,
			ExpectedSize: item.Upload.Size,
		}
		return nil, q.transport.Download(ctx, req, func(done, total int64) {
			q.noteProgress(item, h, done, total)
		})
	})

	ended := core.DownloadEndedPayload{ID: item.ID, GameID: item.Game.ID}
	if errors.Is(err, core.ErrAborted) {
		ended.Aborted = true
	} else {
		ended.Err = err
	}
	_ = q.store.Dispatch(q.baseCtx, core.Action{Name: core.ActionDownloadEnded, Payload: ended})
}

// noteProgress folds a transport sample into the rolling speed figure and,
// coalesced, re-emits it as task and download progress actions.
func (q *Queue) noteProgress(item *Item, h *core.Handle, done, total int64) {
	q.mu.Lock()
	if total > 0 && done > total {
		done = total
	}
	item.BytesDone = done
	if total > 0 {
		item.TotalSize = total
	}
	now := q.now()
	item.speed.note(now, done)
	bps := item.speed.bps()
	emit := now.Sub(item.lastEmit) >= progressEvery || done == total
	if emit {
		item.lastEmit = now
	}
	totalSize := item.TotalSize
	q.mu.Unlock()

	if !emit {
		return
	}
	if totalSize > 0 {
		h.Progress(float64(done) / float64(totalSize))
	}
	_ = q.store.Dispatch(q.baseCtx, core.Action{
		Name: core.ActionDownloadProgress,
		Payload: core.DownloadProgressPayload{
			ID:        item.ID,
			BytesDone: done,
			TotalSize: totalSize,
			BPS:       bps,
		},
	})
}

func (q *Queue) discard(item *Item) {
	cleaner, ok := q.transport.(transport.Cleanup)
	if !ok {
		return
	}
	if err := cleaner.Discard(item.DestPath); err != nil {
		q.logger.Warn().Err(err).Str("id", item.ID).Msg("discard partial file")
	}
}

// Item returns a copy of one queue item.
func (q *Queue) Item(id string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[id]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

// ItemForGame returns the queue item for a game, if any non-terminal one
// exists.
func (q *Queue) ItemForGame(gameID int64) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, it := range q.items {
		if it.Game.ID == gameID && !terminal(it.Status) {
			return *it, true
		}
	}
	return Item{}, false
}

// Snapshot returns observer copies of every item, pending order first.
func (q *Queue) Snapshot() []core.DownloadSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]*Item, 0, len(q.items))
	for _, it := range q.items {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].seq < items[j].seq
	})
	out := make([]core.DownloadSnapshot, 0, len(items))
	for _, it := range items {
		out = append(out, snapshotLocked(it, q.paused))
	}
	return out
}

// BPS returns the rolling bytes-per-second aggregated across active
// transfers.
func (q *Queue) BPS() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	var total float64
	for _, it := range q.items {
		if it.Status == core.DownloadActive {
			total += it.speed.bps()
		}
	}
	return total
}

// Paused reports whether the whole queue is suspended.
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

func snapshotLocked(it *Item, paused bool) core.DownloadSnapshot {
	status := it.Status
	if paused && status == core.DownloadQueued {
		status = core.DownloadPaused
	}
	snap := core.DownloadSnapshot{
		ID:        it.ID,
		GameID:    it.Game.ID,
		Filename:  it.Upload.Filename,
		Status:    status,
		BytesDone: it.BytesDone,
		TotalSize: it.TotalSize,
		BPS:       it.speed.bps(),
	}
	if it.Err != nil {
		snap.Err = it.Err.Error()
	}
	return snap
}

func terminal(s core.DownloadStatus) bool {
	switch s {
	case core.DownloadSucceeded, core.DownloadFailed, core.DownloadCancelled:
		return true
	default:
		return false
	}
}

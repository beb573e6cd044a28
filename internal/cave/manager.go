// Package cave manages the lifecycle of locally installed items: install,
// update, heal, revert and uninstall transitions built on the resolver, the
// task runner and the download queue.
package cave

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cavern/internal/core"
	"cavern/internal/errkind"
	"cavern/internal/fsops"
	"cavern/internal/queue"
	"cavern/internal/resolve"
)

const (
	ReasonInstall = "install"
	ReasonUpdate  = "update"
	ReasonRevert  = "revert"
	ReasonHeal    = "heal"
)

// Manager reacts to the lifecycle intents. Bind order matters for
// download-ended: the queue's reactor must run first so item state is
// settled before finalization reads it.
type Manager struct {
	store    *core.Store
	runner   *core.Runner
	resolver *resolve.Resolver
	queue    *queue.Queue
	logger   zerolog.Logger

	installRoot string
	stagingRoot string
}

// New creates the manager and binds its reactors.
func New(store *core.Store, runner *core.Runner, registry *core.Registry, resolver *resolve.Resolver, q *queue.Queue, installRoot, stagingRoot string, logger zerolog.Logger) *Manager {
	m := &Manager{
		store:       store,
		runner:      runner,
		resolver:    resolver,
		queue:       q,
		logger:      logger,
		installRoot: installRoot,
		stagingRoot: stagingRoot,
	}
	registry.Register(core.ActionInstallGame, m.reactInstall)
	registry.Register(core.ActionUninstallCave, m.reactUninstall)
	registry.Register(core.ActionRevertCave, m.reactRevert)
	registry.Register(core.ActionHealCave, m.reactHeal)
	registry.Register(core.ActionDownloadEnded, m.reactDownloadEnded)
	registry.Register(core.ActionModalResponse, m.reactModalResponse)
	return m
}

// reactInstall is the single entry point of the install intent. An existing
// cave skips resolution entirely and goes straight to launch.
func (m *Manager) reactInstall(ctx context.Context, s *core.Store, a core.Action) error {
	p, ok := a.Payload.(core.InstallGamePayload)
	if !ok {
		return nil
	}

	if cave, ok := s.CaveForGame(p.Game.ID); ok {
		return m.launch(ctx, cave, p.Game)
	}
	// A second install intent while a download for the game is already in
	// the queue must surface rather than die in the queue's rejection,
	// which a deferred dispatch would only log.
	if item, ok := m.queue.ItemForGame(p.Game.ID); ok {
		m.notifyBusy(ctx, p.Game, item)
		return nil
	}

	if p.PickedUpload != nil {
		m.enqueue(ctx, p.Game, *p.PickedUpload, 0, p.DownloadKey, ReasonInstall)
		return nil
	}

	desc := core.Descriptor{Name: "resolve-uploads", GameID: p.Game.ID}
	result, err := m.runner.Start(ctx, desc, func(tctx context.Context, _ *core.Handle) (any, error) {
		return m.resolver.Resolve(tctx, p.Credentials, p.DownloadKey, p.Game.ID)
	})
	if err != nil {
		m.notifyRetry(ctx, fmt.Sprintf("could not fetch uploads for %s", p.Game.Title), err, a)
		return nil
	}

	uploads, _ := result.([]core.Upload)
	switch len(uploads) {
	case 0:
		m.notifyRetry(ctx, fmt.Sprintf("no uploads available for %s", p.Game.Title),
			errkind.Newf(errkind.NoCandidates, "game %d has no compatible uploads", p.Game.ID), a)
	case 1:
		m.enqueue(ctx, p.Game, uploads[0], 0, p.DownloadKey, ReasonInstall)
	default:
		m.promptPick(ctx, p, uploads)
	}
	return nil
}

// promptPick opens a modal with one option per candidate; each option
// re-dispatches the install intent with that candidate pre-selected.
func (m *Manager) promptPick(ctx context.Context, p core.InstallGamePayload, uploads []core.Upload) {
	options := make([]core.ModalOption, 0, len(uploads))
	for _, u := range uploads {
		u := u
		label := u.DisplayName
		if label == "" {
			label = u.Filename
		}
		options = append(options, core.ModalOption{
			Label: label,
			Action: core.Action{
				Name: core.ActionInstallGame,
				Payload: core.InstallGamePayload{
					Game:         p.Game,
					PickedUpload: &u,
					DownloadKey:  p.DownloadKey,
					Credentials:  p.Credentials,
				},
			},
		})
	}
	_ = m.store.Dispatch(ctx, core.Action{
		Name: core.ActionOpenModal,
		Payload: core.OpenModalPayload{
			Title:   fmt.Sprintf("Install %s", p.Game.Title),
			Message: "Several downloads are available for this game. Pick one:",
			Options: options,
		},
	})
}

func (m *Manager) reactModalResponse(ctx context.Context, _ *core.Store, a core.Action) error {
	p, ok := a.Payload.(core.ModalResponsePayload)
	if !ok {
		return nil
	}
	if p.Picked == nil {
		// A dismissed pick leaves the ambiguity unresolved; say so instead
		// of letting the install intent vanish.
		_ = m.store.Dispatch(ctx, core.Action{
			Name: core.ActionNotify,
			Payload: core.NotifyPayload{
				Message: "no download was chosen",
				Err:     errkind.New(errkind.AmbiguousCandidates, "upload pick dismissed"),
			},
		})
		return nil
	}
	return m.store.Dispatch(ctx, p.Picked.Action)
}

func (m *Manager) enqueue(ctx context.Context, game core.Game, upload core.Upload, buildID int64, key *core.DownloadKey, reason string) {
	dest := fsops.StagingPathFor(m.stagingRoot, upload.Filename, game.ID)
	_ = m.store.Dispatch(ctx, core.Action{
		Name: core.ActionQueueDownload,
		Payload: core.QueueDownloadPayload{
			Game:        game,
			Upload:      upload,
			BuildID:     buildID,
			DestPath:    dest,
			DownloadKey: key,
			Reason:      reason,
		},
	})
}

// reactDownloadEnded finalizes installs: a successful transfer is
// materialized into a cave; a failed one surfaces a try-again notice that
// re-issues a retry against the same item identity.
func (m *Manager) reactDownloadEnded(ctx context.Context, _ *core.Store, a core.Action) error {
	p, ok := a.Payload.(core.DownloadEndedPayload)
	if !ok || p.Aborted {
		return nil
	}
	item, ok := m.queue.Item(p.ID)
	if !ok {
		return nil
	}

	if p.Err != nil {
		m.notifyRetryDownload(ctx, item, p.Err)
		return nil
	}

	desc := core.Descriptor{Name: "install", GameID: item.Game.ID}
	_, err := m.runner.Start(ctx, desc, func(tctx context.Context, h *core.Handle) (any, error) {
		return nil, m.materialize(tctx, h, item)
	})
	if err != nil {
		m.notifyRetry(ctx, fmt.Sprintf("could not install %s", item.Game.Title), err,
			installIntentFor(item))
	}
	return nil
}

// materialize moves the fetched artifact into the cave's install directory
// and runs the platform finalization probes.
func (m *Manager) materialize(ctx context.Context, h *core.Handle, item queue.Item) error {
	if h.Aborted() {
		return core.ErrAborted
	}
	installDir := fsops.InstallDirFor(m.installRoot, item.Game.Title, item.Game.ID)
	if err := os.MkdirAll(installDir, 0o755); err != nil {
		return errkind.Wrap(errkind.Filesystem, err, "create install dir")
	}
	h.Progress(0.3)

	target := filepath.Join(installDir, fsops.SanitizeComponent(item.Upload.Filename))
	if err := os.Rename(item.DestPath, target); err != nil {
		return errkind.Wrap(errkind.Filesystem, err, "move artifact into cave")
	}
	h.Progress(0.6)

	if err := fsops.FixExecutablePermissions(installDir); err != nil {
		return err
	}
	if runtime.GOOS == "darwin" {
		if _, err := fsops.ScanBundles(installDir); err != nil {
			return err
		}
	}
	h.Progress(0.9)

	cave := core.Cave{
		ID:          caveIDFor(),
		GameID:      item.Game.ID,
		UploadID:    item.Upload.ID,
		BuildID:     item.BuildID,
		InstallPath: installDir,
		InstalledAt: time.Now(),
	}
	if existing, ok := m.store.CaveForGame(item.Game.ID); ok {
		// Revert, heal and update keep the cave's identity.
		cave.ID = existing.ID
	}
	return m.store.Dispatch(ctx, core.Action{
		Name:    core.ActionCaveSaved,
		Payload: core.CaveSavedPayload{Cave: cave},
	})
}

// launch verifies an installed cave and starts the launch task.
func (m *Manager) launch(ctx context.Context, cave core.Cave, game core.Game) error {
	desc := core.Descriptor{Name: "launch", GameID: game.ID, CaveID: cave.ID}
	_, err := m.runner.Start(ctx, desc, func(tctx context.Context, h *core.Handle) (any, error) {
		if h.Aborted() {
			return nil, core.ErrAborted
		}
		if _, err := os.Stat(cave.InstallPath); err != nil {
			return nil, errkind.Wrap(errkind.Filesystem, err, "install path missing")
		}
		return nil, nil
	})
	if err != nil {
		m.notifyRetry(ctx, fmt.Sprintf("could not launch %s", game.Title), err, core.Action{
			Name:    core.ActionInstallGame,
			Payload: core.InstallGamePayload{Game: game},
		})
	}
	return nil
}

// reactUninstall transitions the cave through queued-for-removal and runs
// the removal as a cancellable task, not an instantaneous state flip.
func (m *Manager) reactUninstall(ctx context.Context, s *core.Store, a core.Action) error {
	p, ok := a.Payload.(core.UninstallCavePayload)
	if !ok {
		return nil
	}
	cave, ok := s.Cave(p.CaveID)
	if !ok {
		return errkind.Newf(errkind.Filesystem, "no cave %s", p.CaveID)
	}

	_ = s.Dispatch(ctx, core.Action{
		Name:    core.ActionCaveOpChanged,
		Payload: core.CaveOpChangedPayload{CaveID: cave.ID, Op: core.OpUninstalling},
	})

	desc := core.Descriptor{Name: "uninstall", GameID: cave.GameID, CaveID: cave.ID}
	_, err := m.runner.Start(ctx, desc, func(tctx context.Context, h *core.Handle) (any, error) {
		if h.Aborted() {
			return nil, core.ErrAborted
		}
		if err := os.RemoveAll(cave.InstallPath); err != nil {
			return nil, errkind.Wrap(errkind.Filesystem, err, "remove install dir")
		}
		return nil, nil
	})
	if err != nil {
		_ = s.Dispatch(ctx, core.Action{
			Name:    core.ActionCaveOpChanged,
			Payload: core.CaveOpChangedPayload{CaveID: cave.ID, Op: core.OpNone},
		})
		m.notifyRetry(ctx, "could not uninstall", err, a)
		return nil
	}
	return s.Dispatch(ctx, core.Action{
		Name:    core.ActionCaveImploded,
		Payload: core.CaveImplodedPayload{CaveID: cave.ID},
	})
}

// reactRevert resolves a pinned build, never the latest, and reuses the
// download queue machinery.
func (m *Manager) reactRevert(ctx context.Context, s *core.Store, a core.Action) error {
	p, ok := a.Payload.(core.RevertCavePayload)
	if !ok {
		return nil
	}
	return m.redownload(ctx, s, a, p.CaveID, p.BuildID, p.Credentials, core.OpReverting, ReasonRevert)
}

// reactHeal re-downloads the cave's current build to repair it in place.
func (m *Manager) reactHeal(ctx context.Context, s *core.Store, a core.Action) error {
	p, ok := a.Payload.(core.HealCavePayload)
	if !ok {
		return nil
	}
	cave, ok := s.Cave(p.CaveID)
	if !ok {
		return errkind.Newf(errkind.Filesystem, "no cave %s", p.CaveID)
	}
	return m.redownload(ctx, s, a, p.CaveID, cave.BuildID, p.Credentials, core.OpHealing, ReasonHeal)
}

func (m *Manager) redownload(ctx context.Context, s *core.Store, intent core.Action, caveID string, buildID int64, creds core.Credentials, op core.CaveOp, reason string) error {
	cave, ok := s.Cave(caveID)
	if !ok {
		return errkind.Newf(errkind.Filesystem, "no cave %s", caveID)
	}

	desc := core.Descriptor{Name: "resolve-build", GameID: cave.GameID, CaveID: cave.ID}
	result, err := m.runner.Start(ctx, desc, func(tctx context.Context, _ *core.Handle) (any, error) {
		return m.resolver.PinBuild(tctx, creds, cave.UploadID, buildID)
	})
	if err != nil {
		m.notifyRetry(ctx, "could not resolve build", err, intent)
		return nil
	}
	build, _ := result.(core.Build)

	_ = s.Dispatch(ctx, core.Action{
		Name:    core.ActionCaveOpChanged,
		Payload: core.CaveOpChangedPayload{CaveID: cave.ID, Op: op},
	})

	game := core.Game{ID: cave.GameID}
	upload := core.Upload{
		ID:        cave.UploadID,
		Filename:  fmt.Sprintf("build-%d", build.ID),
		SourceURL: build.SourceURL,
	}
	m.enqueue(ctx, game, upload, build.ID, nil, reason)
	return nil
}

// notifyRetry surfaces a recoverable failure with a "try again" that
// re-issues the original intent unchanged.
func (m *Manager) notifyRetry(ctx context.Context, msg string, err error, retry core.Action) {
	m.logger.Warn().Err(err).Str("retry", string(retry.Name)).Msg(msg)
	_ = m.store.Dispatch(ctx, core.Action{
		Name: core.ActionNotify,
		Payload: core.NotifyPayload{
			Message: msg,
			Err:     err,
			Retry:   &retry,
		},
	})
}

// notifyBusy tells the user a download for the game is already underway.
// There is no retry: the remedy is the existing queue item, not a re-issue.
func (m *Manager) notifyBusy(ctx context.Context, game core.Game, item queue.Item) {
	m.logger.Info().Int64("game", game.ID).Str("item", item.ID).Msg("install ignored, download already queued")
	_ = m.store.Dispatch(ctx, core.Action{
		Name: core.ActionNotify,
		Payload: core.NotifyPayload{
			Message: fmt.Sprintf("%s is already downloading", game.Title),
			Err:     queue.ErrDuplicateGame,
		},
	})
}

func (m *Manager) notifyRetryDownload(ctx context.Context, item queue.Item, err error) {
	retry := core.Action{
		Name:    core.ActionRetryDownload,
		Payload: core.RetryDownloadPayload{ID: item.ID},
	}
	m.notifyRetry(ctx, fmt.Sprintf("download failed for %s", item.Game.Title), err, retry)
}

func installIntentFor(item queue.Item) core.Action {
	upload := item.Upload
	return core.Action{
		Name: core.ActionInstallGame,
		Payload: core.InstallGamePayload{
			Game:         item.Game,
			PickedUpload: &upload,
			DownloadKey:  item.DownloadKey,
		},
	}
}

// caveIDFor derives a fresh cave id.
func caveIDFor() string { return uuid.NewString() }

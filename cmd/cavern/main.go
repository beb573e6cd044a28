// cavern is a desktop content-delivery client core: it resolves which
// upload to fetch for a game, queues and executes the download, and
// materializes the installed cave.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"cavern/internal/cave"
	"cavern/internal/config"
	"cavern/internal/core"
	"cavern/internal/logging"
	"cavern/internal/queue"
	"cavern/internal/resolve"
	"cavern/internal/transport"
)

const version = "1.0.0"

func main() {
	var (
		configPath   = flag.String("config", "", "path to TOML config file")
		initConfig   = flag.String("init-config", "", "write the default config to this path and exit")
		manifestPath = flag.String("manifest", "", "path to the local catalog manifest")
		gameID       = flag.Int64("install", 0, "game id to install")
		uninstallID  = flag.String("uninstall", "", "cave id to uninstall")
		autoPick     = flag.Bool("auto-pick", false, "pick the first candidate when a prompt opens")
		maxActive    = flag.Int("max-active", 0, "override max simultaneously active downloads")
		showVersion  = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("cavern %s\n", version)
		return
	}
	if *initConfig != "" {
		if err := config.Save(config.Default(), *initConfig); err != nil {
			fmt.Fprintf(os.Stderr, "init config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("config written to %s\n", *initConfig)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *maxActive > 0 {
		cfg.MaxActiveDownloads = *maxActive
	}
	logger := logging.Init("cavern", cfg.LogLevel, cfg.LogNoColor)

	if *manifestPath == "" {
		fmt.Fprintln(os.Stderr, "a -manifest is required")
		os.Exit(1)
	}
	catalog, err := loadManifest(*manifestPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load manifest")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := assemble(ctx, cfg, catalog, *autoPick, logger)
	if err != nil {
		// The registry consistency check is the one process-fatal failure.
		logger.Fatal().Err(err).Msg("startup")
	}

	_ = app.store.Dispatch(ctx, core.Action{Name: core.ActionBoot})

	switch {
	case *gameID != 0:
		err = app.store.Dispatch(ctx, core.Action{
			Name:    core.ActionInstallGame,
			Payload: core.InstallGamePayload{Game: core.Game{ID: *gameID}},
		})
	case *uninstallID != "":
		err = app.store.Dispatch(ctx, core.Action{
			Name:    core.ActionUninstallCave,
			Payload: core.UninstallCavePayload{CaveID: *uninstallID},
		})
	default:
		fmt.Fprintln(os.Stderr, "nothing to do: pass -install or -uninstall")
		os.Exit(1)
	}
	if err != nil {
		logger.Error().Err(err).Msg("intent failed")
	}

	app.waitIdle(ctx, logger)
	app.queue.Wait()

	stats := app.store.Stats()
	logger.Info().Int("active", stats.NumActive).Int("queued", stats.NumQueued).
		Int("stopped", stats.NumStopped).Msg("done")
}

type app struct {
	store *core.Store
	queue *queue.Queue
}

// assemble builds the registry, store, runner, transport, queue and cave
// manager, then runs the startup consistency check.
func assemble(ctx context.Context, cfg *config.Config, catalog resolve.Catalog, autoPick bool, logger zerolog.Logger) (*app, error) {
	registry := core.NewRegistry(
		core.ActionInstallGame,
		core.ActionUninstallCave,
		core.ActionQueueDownload,
		core.ActionRetryDownload,
		core.ActionDownloadEnded,
		core.ActionAbortTask,
	)
	store := core.NewStore(registry, logger)
	runner := core.NewRunner(store, registry, logger)

	tp, err := transport.NewHTTPTransport(transport.Options{
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.Timeout.Duration,
		MaxTries:  cfg.MaxTries,
		RetryWait: cfg.RetryWait.Duration,
	})
	if err != nil {
		return nil, err
	}

	q := queue.New(ctx, store, runner, registry, tp, queue.Options{
		MaxActive: cfg.MaxActiveDownloads,
	}, logger)

	resolver := resolve.New(catalog)
	cave.New(store, runner, registry, resolver, q, cfg.InstallDir, cfg.StagingDir, logger)

	bindPresenter(registry, autoPick, logger)

	if err := registry.Validate(); err != nil {
		return nil, err
	}
	return &app{store: store, queue: q}, nil
}

// bindPresenter is the console stand-in for the presentation collaborator:
// notices are logged, prompts are either auto-picked or left for the user to
// re-run with an explicit choice.
func bindPresenter(registry *core.Registry, autoPick bool, logger zerolog.Logger) {
	registry.Register(core.ActionNotify, func(_ context.Context, _ *core.Store, a core.Action) error {
		p, ok := a.Payload.(core.NotifyPayload)
		if !ok {
			return nil
		}
		logger.Warn().Err(p.Err).Msg(p.Message)
		return nil
	})
	registry.Register(core.ActionOpenModal, func(ctx context.Context, s *core.Store, a core.Action) error {
		p, ok := a.Payload.(core.OpenModalPayload)
		if !ok {
			return nil
		}
		logger.Info().Msg(p.Title)
		for i, opt := range p.Options {
			logger.Info().Msgf("  [%d] %s", i+1, opt.Label)
		}
		if autoPick && len(p.Options) > 0 {
			picked := p.Options[0]
			return s.Dispatch(ctx, core.Action{
				Name:    core.ActionModalResponse,
				Payload: core.ModalResponsePayload{Picked: &picked},
			})
		}
		return nil
	})
}

// waitIdle polls until every download and task reached a terminal state or
// the context is cancelled.
func (a *app) waitIdle(ctx context.Context, logger zerolog.Logger) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("interrupted, draining transfers")
			return
		case <-ticker.C:
			busy := false
			for _, d := range a.queue.Snapshot() {
				switch d.Status {
				case core.DownloadQueued, core.DownloadActive, core.DownloadPaused:
					busy = true
				}
			}
			for _, t := range a.store.Tasks() {
				if t.Status == core.TaskRunning || t.Status == core.TaskQueued {
					busy = true
				}
			}
			if !busy {
				return
			}
		}
	}
}

package cli

import (
	"log/slog"
	"os"

	"github.com/tillfloat/tillsync/internal/config"
	"github.com/tillfloat/tillsync/internal/engine"
	"github.com/tillfloat/tillsync/internal/remote"
	"github.com/tillfloat/tillsync/internal/store"
)

// app wires config, store, remote client and engine for one command
// invocation.
type app struct {
	cfg    *config.Config
	store  *store.Store
	engine *engine.Engine
	logger *slog.Logger
}

// newApp builds the stack from the config file named by the global
// flags. Callers must Close.
func newApp(opts *RootOptions) (*app, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	level := cfg.LogLevel
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	client, err := remote.NewClient(cfg.ServerURL, cfg.ServerToken, cfg.RequestTimeout)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "invalid server url", err)
	}

	eng := engine.New(st, client,
		engine.WithSyncInterval(cfg.SyncInterval),
		engine.WithMinSyncGap(cfg.MinSyncGap),
		engine.WithLogger(logger),
	)
	return &app{cfg: cfg, store: st, engine: eng, logger: logger}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

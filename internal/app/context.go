package app

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/config"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/db"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/engine"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/migrate"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/remote"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/repo"
)

// Options selects the workspace and storage for a Runtime.
type Options struct {
	Workspace  string
	ConfigPath string
	// DSN switches to the libsql backend when set.
	DSN    string
	Logger *log.Logger
}

// Runtime is a loaded engine bound to its store.
type Runtime struct {
	Config *config.Config
	Engine *engine.Engine
	// Repo is the local sqlite store; nil on the libsql backend.
	Repo  *repo.Repo
	close func() error
}

func (r *Runtime) Close() error {
	if r == nil || r.close == nil {
		return nil
	}
	return r.close()
}

// ResolveConfig prefers an explicit path, then the workspace dar.yml, then
// the built-in defaults.
func ResolveConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		return config.FromFile(path)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// Open resolves config, opens the configured backend and loads the engine.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg, err := ResolveConfig(opts.Workspace, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.DSN != "" {
		cfg.Storage.Backend = config.BackendLibSQL
		cfg.Storage.DSN = opts.DSN
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	rt := &Runtime{Config: cfg}
	var store engine.Store
	switch cfg.Storage.Backend {
	case config.BackendLibSQL:
		s, err := remote.Open(cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		store = s
		rt.close = s.Close
	default:
		conn, err := db.Open(db.Config{Workspace: opts.Workspace})
		if err != nil {
			return nil, err
		}
		if err := migrate.Migrate(ctx, conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		r := repo.New(conn)
		rt.Repo = &r
		store = r
		rt.close = conn.Close
	}
	rt.Engine = engine.New(store, cfg, logger)
	if err := rt.Engine.Load(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	logger.Debug("store opened", "backend", cfg.Storage.Backend)
	return rt, nil
}

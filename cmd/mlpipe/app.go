package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/animus-labs/mlpipe/internal/artifacts"
	"github.com/animus-labs/mlpipe/internal/platform/auth"
	"github.com/animus-labs/mlpipe/internal/platform/mlapi"
	platformstore "github.com/animus-labs/mlpipe/internal/platform/objectstore"
	"github.com/animus-labs/mlpipe/internal/platform/postgres"
	"github.com/animus-labs/mlpipe/internal/repo"
	"github.com/animus-labs/mlpipe/internal/repo/memory"
	pgrepo "github.com/animus-labs/mlpipe/internal/repo/postgres"
	"github.com/animus-labs/mlpipe/internal/storage/objectstore"
	"github.com/animus-labs/mlpipe/internal/workspace"
)

// app carries the global flags and builds dependencies on demand so commands
// that stay local never touch the network.
type app struct {
	stdout io.Writer
	stderr io.Writer

	dir       string
	logFormat string
	logLevel  string

	logger *slog.Logger
}

func (a *app) init() error {
	logger, err := newLogger(a.stderr, a.logFormat, a.logLevel)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, usageErr("--log-level %q: %v", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, usageErr("--log-format must be json or text, got %q", format)
	}
}

func (a *app) workspaceConfig() (workspace.Config, error) {
	cfg, err := workspace.Load(a.dir)
	if err != nil {
		return workspace.Config{}, err
	}
	a.logger.Debug("workspace resolved", "workspace", cfg.WorkspaceName, "resource_group", cfg.ResourceGroup, "source", cfg.Source)
	return cfg, nil
}

// platform resolves the workspace, acquires a credential and returns an API
// client. Configuration is checked before any network call.
func (a *app) platform(ctx context.Context) (*mlapi.Client, error) {
	wsCfg, err := a.workspaceConfig()
	if err != nil {
		return nil, err
	}
	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		return nil, configErr("auth", err)
	}
	authCfg.Prompt = auth.PromptTo(a.stderr)

	ts, err := auth.AcquireCredential(ctx, authCfg, a.logger)
	if err != nil {
		return nil, err
	}
	return mlapi.New(wsCfg, ts, mlapi.Options{})
}

type ledger struct {
	environments repo.EnvironmentRepository
	submissions  repo.SubmissionRepository
	db           *sql.DB
}

func (l *ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// openLedger connects to the submission ledger when ML_LEDGER_DATABASE_URL is
// set and falls back to a process-local store otherwise.
func (a *app) openLedger(ctx context.Context) (*ledger, error) {
	cfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, configErr("ledger", err)
	}
	if !cfg.Enabled() {
		a.logger.Debug("ledger disabled, using in-memory store")
		return &ledger{
			environments: memory.NewEnvironmentStore(),
			submissions:  memory.NewSubmissionStore(),
		}, nil
	}
	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ledger unavailable: %w", err)
	}
	if err := pgrepo.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &ledger{
		environments: pgrepo.NewEnvironmentStore(db),
		submissions:  pgrepo.NewSubmissionStore(db),
		db:           db,
	}, nil
}

// snapshotter returns nil when no artifact store is configured.
func (a *app) snapshotter(ctx context.Context) (*artifacts.Snapshotter, error) {
	cfg, err := platformstore.ConfigFromEnv()
	if err != nil {
		return nil, configErr("artifact store", err)
	}
	if !cfg.Enabled() {
		a.logger.Debug("artifact store disabled, code directories are sent as paths")
		return nil, nil
	}
	client, err := platformstore.NewMinIOClient(cfg)
	if err != nil {
		return nil, configErr("artifact store", err)
	}
	if err := platformstore.EnsureBucket(ctx, client, cfg); err != nil {
		return nil, fmt.Errorf("artifact store unavailable: %w", err)
	}
	store, err := objectstore.NewMinioStoreWithClient(client)
	if err != nil {
		return nil, err
	}
	return artifacts.NewSnapshotter(store, cfg.Bucket, a.logger)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ArionMiles/bankmail/internal/sources"
	"github.com/ArionMiles/bankmail/pkg/api"
	"github.com/ArionMiles/bankmail/pkg/client"
	"github.com/ArionMiles/bankmail/pkg/config"
	"github.com/ArionMiles/bankmail/pkg/dedup"
	"github.com/ArionMiles/bankmail/pkg/extract"
	"github.com/ArionMiles/bankmail/pkg/store/memory"
	"github.com/ArionMiles/bankmail/pkg/store/postgres"
	"github.com/ArionMiles/bankmail/pkg/store/sqlite"
	"github.com/ArionMiles/bankmail/pkg/syncer"
)

// app holds the wiring shared by the commands.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *sources.Registry
	engine   *extract.Engine
	store    api.Store
}

// newApp loads configuration and rules. The store is opened separately since
// not every command needs one.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	engine, err := loadEngine(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:      cfg,
		logger:   slog.Default(),
		registry: sources.Default(),
		engine:   engine,
	}, nil
}

func loadEngine(rulesFile string) (*extract.Engine, error) {
	rules, err := extract.LoadRules(rulesFile)
	if err != nil {
		return nil, fmt.Errorf("loading rules: %w", err)
	}
	engine, err := extract.NewEngine(rules)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return engine, nil
}

func (a *app) openStore(ctx context.Context) error {
	logger := a.logger.With("component", "store", "backend", a.cfg.Store)

	switch a.cfg.Store {
	case config.StoreMemory:
		a.store = memory.New()
	case config.StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(a.cfg.SQLitePath), 0o700); err != nil {
			return fmt.Errorf("creating database directory: %w", err)
		}
		s, err := sqlite.New(a.cfg.SQLitePath, logger)
		if err != nil {
			return fmt.Errorf("opening sqlite store: %w", err)
		}
		a.store = s
	case config.StorePostgres:
		s, err := postgres.New(ctx, a.cfg.Postgres.StoreConfig(), logger)
		if err != nil {
			return fmt.Errorf("opening postgres store: %w", err)
		}
		a.store = s
	default:
		return fmt.Errorf("unknown store %q", a.cfg.Store)
	}
	return nil
}

func (a *app) close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", "error", err)
	}
}

// httpClient returns an authorized client for the source's scopes, or nil
// when the source needs none.
func (a *app) httpClient(ctx context.Context, name string, interactive bool) (*http.Client, error) {
	scopes, err := a.registry.Scopes(name)
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		return nil, nil
	}
	return client.New(ctx, client.Options{
		SecretFile:  a.cfg.GmailCredentials,
		TokenFile:   a.cfg.GmailToken,
		Scopes:      scopes,
		Interactive: interactive,
	}, a.logger.With("component", "oauth"))
}

// source builds the configured source, or an mbox source when mboxPath is set.
func (a *app) source(ctx context.Context, mboxPath string) (api.EmailSource, error) {
	name, raw := a.cfg.Source, a.cfg.SourceJSON()
	if mboxPath != "" {
		name = "mbox"
		b, err := json.Marshal(map[string]string{"path": mboxPath})
		if err != nil {
			return nil, err
		}
		raw = b
	}

	httpClient, err := a.httpClient(ctx, name, false)
	if err != nil {
		return nil, err
	}
	return a.registry.Create(name, httpClient, raw, a.logger.With("source", name))
}

func (a *app) syncer(src api.EmailSource) (*syncer.Orchestrator, error) {
	return syncer.New(syncer.Deps{
		Engine:   a.engine,
		Dedup:    dedup.New(a.cfg.Location()),
		Source:   src,
		Configs:  a.store,
		Expenses: a.store,
		State:    a.store,
		Logger:   a.logger,
	}, syncer.Options{
		Cooldown:       a.cfg.SyncCooldown,
		Concurrency:    a.cfg.SyncConcurrency,
		FetchTimeout:   a.cfg.FetchTimeout,
		PersistTimeout: a.cfg.PersistTimeout,
	})
}

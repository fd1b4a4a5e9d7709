// Package app wires configuration into the store, knowledge-base clients,
// batch service and workers shared by the server and the CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/wikibatch/internal/config"
	"github.com/raphaelgruber/wikibatch/internal/db"
	"github.com/raphaelgruber/wikibatch/internal/engine"
	"github.com/raphaelgruber/wikibatch/internal/metrics"
	"github.com/raphaelgruber/wikibatch/internal/server"
	"github.com/raphaelgruber/wikibatch/internal/service"
	"github.com/raphaelgruber/wikibatch/internal/store"
	"github.com/raphaelgruber/wikibatch/internal/wikibase"
)

// Store backends.
const (
	StoreSurreal = "surreal"
	StoreMemory  = "memory"
)

// App holds every long-lived dependency of a process.
type App struct {
	Config  config.Config
	Store   store.Store
	Pool    *wikibase.Pool
	Metrics *metrics.Collector
	Service *service.BatchService
	Engine  engine.Config

	db *db.Client
}

// New builds an App from cfg. The caller must Close it.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	mc := metrics.NewCollector()

	sites, err := config.LoadWikibases(cfg.WikibasesFile)
	if err != nil {
		return nil, err
	}
	pool, err := newPool(cfg, sites)
	if err != nil {
		return nil, err
	}

	policy, err := engine.ParseFailurePolicy(cfg.CombinedFailurePolicy)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:  cfg,
		Pool:    pool,
		Metrics: mc,
		Engine: engine.Config{
			Throttle: engine.NewThrottle(cfg.APIMinInterval),
			Metrics:  mc,
			Retry: engine.RetryPolicy{
				MaxAttempts: cfg.MaxAttempts,
				Initial:     cfg.RetryInitial,
				Max:         cfg.RetryMax,
			},
			Policy:       policy,
			LeaseTTL:     cfg.LeaseTTL,
			PollInterval: cfg.PollInterval,
		},
	}

	switch cfg.Store {
	case StoreMemory:
		a.Store = store.NewMemory()
	case StoreSurreal, "":
		dbClient, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, slog.Default())
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := dbClient.InitSchema(ctx); err != nil {
			_ = dbClient.Close(ctx)
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
		a.db = dbClient
		a.Store = db.NewStore(dbClient, mc)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	a.Service = service.NewBatchService(a.Store, service.NewAllowList(cfg.AuthorizedUsers, cfg.Admins), pool, cfg.DefaultWikibase)

	slog.Info("app initialized",
		"store", cfg.Store,
		"wikibases", pool.IDs(),
		"default_wikibase", cfg.DefaultWikibase,
		"policy", policy,
	)
	return a, nil
}

func newPool(cfg config.Config, sites []config.Wikibase) (*wikibase.Pool, error) {
	clients := make(map[string]wikibase.Config, len(sites))
	for _, s := range sites {
		clients[s.ID] = wikibase.Config{
			URL:              s.URL,
			Token:            cfg.WikibaseToken,
			UserAgent:        cfg.UserAgent,
			Tool:             s.Tool,
			VerifyValueTypes: cfg.VerifyValueTypes,
		}
	}
	pool := wikibase.NewPool(cfg.DefaultWikibase, clients)
	if !pool.Has(cfg.DefaultWikibase) {
		return nil, fmt.Errorf("default wikibase %q is not registered", cfg.DefaultWikibase)
	}
	return pool, nil
}

// Health reports whether the store is reachable.
func (a *App) Health(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.Ping(ctx)
}

// NewWorker returns a worker executing batches against the pool.
func (a *App) NewWorker() *engine.Worker {
	return engine.NewWorker(a.Store, a.Pool.Adapter, a.Engine)
}

// NewServer returns the HTTP API over the app's service.
func (a *App) NewServer() *server.Server {
	return server.New(a.Service, server.Options{
		Metrics: a.Metrics,
		Health:  a.Health,
	}, slog.Default())
}

// Run serves the HTTP API on addr (skipped when empty) and runs the given
// number of workers until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context, addr string, workers int) error {
	g, ctx := errgroup.WithContext(ctx)

	if addr != "" {
		srv := a.NewServer()
		g.Go(func() error { return srv.Run(ctx, addr) })
	}
	for range workers {
		w := a.NewWorker()
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}

// WipeData deletes all stored batches. The memory store starts empty, so
// only the database is wiped. Use for testing only.
func (a *App) WipeData(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.WipeData(ctx)
}

// Close releases the database connection.
func (a *App) Close(ctx context.Context) error {
	if a.db != nil {
		return a.db.Close(ctx)
	}
	return nil
}

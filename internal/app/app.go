// Package app wires storage, the platform client and the workers from configuration.
package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/postpilot/postpilot/internal/autoreply"
	"github.com/postpilot/postpilot/internal/cache"
	"github.com/postpilot/postpilot/internal/claim"
	"github.com/postpilot/postpilot/internal/db"
	"github.com/postpilot/postpilot/internal/ingest"
	"github.com/postpilot/postpilot/internal/insights"
	"github.com/postpilot/postpilot/internal/memstore"
	"github.com/postpilot/postpilot/internal/platform"
	"github.com/postpilot/postpilot/internal/publisher"
	"github.com/postpilot/postpilot/internal/runner"
	"github.com/postpilot/postpilot/internal/store"
	"github.com/postpilot/postpilot/pkg/config"
	"github.com/postpilot/postpilot/pkg/logging"
)

// MemoryURL selects the in-process store
const MemoryURL = "memory://"

// App holds every long-lived component of one process
type App struct {
	Config   *config.Config
	Store    store.Store
	DB       *db.DB
	Cache    *cache.Cache
	Client   platform.Client
	Instance string

	Scheduler  *publisher.Scheduler
	Syncer     *insights.Syncer
	Threshold  *autoreply.ThresholdChecker
	Engine     *autoreply.Engine
	Replies    *autoreply.Worker
	Ring       *ingest.Ring
	Dispatcher *ingest.Dispatcher
	Poller     *ingest.Poller
}

// New connects storage and builds the components
func New(cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Instance: claim.Instance()}

	if strings.HasPrefix(cfg.Database.URL, MemoryURL) {
		logging.GetLogger().Warn("Using in-memory store; state is lost on exit")
		a.Store = memstore.New()
	} else {
		database, err := db.New(&cfg.Database, cfg.Logging.Level)
		if err != nil {
			return nil, err
		}
		a.DB = database
		a.Store = db.NewRepository(database.DB)
	}

	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		logging.GetLogger().Warn("Redis unavailable, event dedup falls back to the database", zap.Error(err))
	}
	a.Cache = redisCache

	client, err := platform.New(&cfg.Platform)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create platform client: %w", err)
	}
	a.Client = client

	return a.build(), nil
}

// NewWithStore builds the components over an existing store and client
func NewWithStore(cfg *config.Config, st store.Store, client platform.Client) *App {
	a := &App{Config: cfg, Store: st, Client: client, Instance: claim.Instance()}
	return a.build()
}

func (a *App) build() *App {
	cfg := a.Config
	policy := publisher.RetryPolicy{
		MaxRetries: cfg.Scheduler.MaxRetries,
		Backoff:    publisher.Backoff{Base: cfg.Scheduler.BackoffBase, Cap: cfg.Scheduler.BackoffCap},
	}
	a.Scheduler = publisher.NewScheduler(a.Store, publisher.NewWorker(a.Store, a.Client, policy), cfg.Scheduler, a.Instance)
	a.Syncer = insights.NewSyncer(a.Store, a.Client, cfg.Insights, cfg.Scheduler, a.Instance)
	a.Threshold = autoreply.NewThresholdChecker(a.Store, a.Client, cfg.Replies, cfg.Scheduler)
	a.Engine = autoreply.NewEngine(a.Store, a.Threshold)
	a.Replies = autoreply.NewWorker(a.Store, a.Client, cfg.Replies, cfg.Scheduler, a.Instance)

	var seen ingest.Deduper
	if a.Cache != nil {
		seen = a.Cache
	}
	a.Ring = ingest.NewRing(cfg.Ingest.BufferSize)
	a.Dispatcher = ingest.NewDispatcher(a.Engine, seen, cfg.Ingest)
	a.Poller = ingest.NewPoller(a.Store, a.Client, a.Dispatcher)
	return a
}

// Jobs returns the periodic ticks of this process
func (a *App) Jobs() []runner.Job {
	cfg := a.Config
	return []runner.Job{
		{Name: "publish", Interval: cfg.Scheduler.TickInterval, Run: func(ctx context.Context) error {
			_, err := a.Scheduler.Tick(ctx)
			return err
		}},
		{Name: "replies", Interval: cfg.Replies.TickInterval, Run: func(ctx context.Context) error {
			_, err := a.Replies.Tick(ctx)
			return err
		}},
		{Name: "likes", Interval: cfg.Replies.ThresholdInterval, Run: func(ctx context.Context) error {
			_, err := a.Threshold.Tick(ctx)
			return err
		}},
		{Name: "metrics", Interval: cfg.Insights.Interval, Run: func(ctx context.Context) error {
			_, err := a.Syncer.Tick(ctx)
			return err
		}},
		{Name: "events", Interval: cfg.Ingest.PollInterval, Run: func(ctx context.Context) error {
			_, err := a.Poller.Tick(ctx)
			return err
		}},
	}
}

// Close releases connections
func (a *App) Close() {
	if a.Dispatcher != nil {
		a.Dispatcher.Stop()
	}
	if a.Cache != nil {
		_ = a.Cache.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}

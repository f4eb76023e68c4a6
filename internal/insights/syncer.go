// Package insights refreshes engagement metrics of recently published posts.
package insights

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/postpilot/postpilot/internal/claim"
	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/platform"
	"github.com/postpilot/postpilot/internal/store"
	"github.com/postpilot/postpilot/pkg/config"
	"github.com/postpilot/postpilot/pkg/logging"
	"github.com/postpilot/postpilot/pkg/telemetry"
)

// Result summarizes one sync pass
type Result struct {
	claim.Stats
	Updated   int
	Unchanged int
}

// Syncer pulls insights for the newest published posts of every account
type Syncer struct {
	store    store.Store
	client   platform.Client
	cfg      config.InsightsConfig
	sched    config.SchedulerConfig
	instance string
	limiter  *rate.Limiter
	now      func() time.Time
	logger   *zap.Logger
}

// NewSyncer creates a metrics syncer. Lease and concurrency settings are shared with the scheduler.
func NewSyncer(st store.Store, client platform.Client, cfg config.InsightsConfig, sched config.SchedulerConfig, instance string) *Syncer {
	return &Syncer{
		store:    st,
		client:   client,
		cfg:      cfg,
		sched:    sched,
		instance: instance,
		limiter:  claim.NewLimiter(sched.RateLimit, sched.RateBurst),
		now:      time.Now,
		logger:   logging.WithComponent("insights"),
	}
}

// WithClock overrides the time source
func (s *Syncer) WithClock(now func() time.Time) *Syncer {
	s.now = now
	return s
}

// Tick refreshes metrics once. Metrics are written only when a counter moved
// or the post was never synced, so repeated runs leave stored rows untouched.
func (s *Syncer) Tick(ctx context.Context) (Result, error) {
	if s.sched.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.sched.TickTimeout)
		defer cancel()
	}
	ctx, span := telemetry.StartSpan(ctx, "insights.tick")
	defer span.End()

	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list accounts: %w", err)
	}

	byID := make(map[string]*models.Account, len(accounts))
	var posts []models.Post
	for i := range accounts {
		a := &accounts[i]
		byID[a.ID] = a
		recent, err := s.store.RecentPublished(ctx, a.ID, s.cfg.PerAccount)
		if err != nil {
			s.logger.Warn("Failed to list published posts", zap.String("account_id", a.ID), zap.Error(err))
			continue
		}
		posts = append(posts, recent...)
	}
	if len(posts) == 0 {
		return Result{}, nil
	}

	var updated, unchanged atomic.Int64
	runner := &claim.Runner[models.Post]{
		Name:        "insights",
		Owner:       claim.NewOwner(s.instance),
		TTL:         s.sched.LeaseTTL,
		Concurrency: s.sched.Concurrency,
		Limiter:     s.limiter,
		Now:         s.now,
		Logger:      s.logger,
		Key:         func(p models.Post) string { return p.AccountID },
		ID:          func(p models.Post) string { return p.ID },
		Claim: func(ctx context.Context, p models.Post, c store.Claim) (bool, error) {
			return s.store.ClaimPostMetrics(ctx, p.ID, c)
		},
		Release: func(ctx context.Context, p models.Post, owner string) error {
			return s.store.FinishPostMetrics(ctx, p.ID, owner, nil)
		},
		Process: func(ctx context.Context, p models.Post, owner string) error {
			changed, err := s.sync(ctx, byID[p.AccountID], p.ID, owner)
			if err != nil {
				return err
			}
			if changed {
				updated.Add(1)
			} else {
				unchanged.Add(1)
			}
			return nil
		},
	}

	stats := runner.Run(ctx, posts)
	result := Result{Stats: stats, Updated: int(updated.Load()), Unchanged: int(unchanged.Load())}
	s.logger.Info("Metrics sync finished",
		zap.Int("selected", stats.Selected),
		zap.Int("updated", result.Updated),
		zap.Int("unchanged", result.Unchanged),
		zap.Int("failed", stats.Failed))
	return result, nil
}

// sync refreshes one claimed post and always gives the metrics lease back
func (s *Syncer) sync(ctx context.Context, account *models.Account, postID, owner string) (changed bool, err error) {
	var metrics *models.Metrics
	defer func() {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		ferr := s.store.FinishPostMetrics(wctx, postID, owner, metrics)
		switch {
		case ferr == nil:
		case metrics != nil:
			changed, err = false, fmt.Errorf("store metrics: %w", ferr)
		case !errors.Is(ferr, store.ErrLeaseLost):
			s.logger.Warn("Failed to release metrics lease", zap.String("post_id", postID), zap.Error(ferr))
		}
	}()

	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return false, err
	}
	if account == nil || post.ExternalPostID == nil {
		return false, fmt.Errorf("post %s has no account or external id", postID)
	}

	in, err := s.client.FetchInsights(ctx, account, *post.ExternalPostID)
	if err != nil {
		return false, fmt.Errorf("fetch insights: %w", err)
	}

	fresh := in.Metrics()
	if post.Metrics.Synced() && post.Metrics.SameCounts(fresh) {
		return false, nil
	}
	at := s.now().UTC()
	fresh.SyncedAt = &at
	metrics = &fresh
	telemetry.Incr(ctx, telemetry.InsightsSynced, 1)
	return true, nil
}

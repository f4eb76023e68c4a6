package publisher

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/postpilot/postpilot/internal/claim"
	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/store"
	"github.com/postpilot/postpilot/pkg/config"
	"github.com/postpilot/postpilot/pkg/logging"
	"github.com/postpilot/postpilot/pkg/telemetry"
)

// TickResult summarizes one scheduler tick
type TickResult struct {
	claim.Stats
	Published  int
	Duplicates int
	Retried    int
	FailedPost int
}

// Scheduler selects due posts, claims them and hands them to the Worker
type Scheduler struct {
	store    store.Store
	worker   *Worker
	cfg      config.SchedulerConfig
	instance string
	limiter  *rate.Limiter
	now      func() time.Time
	logger   *zap.Logger
}

// NewScheduler creates a scheduler
func NewScheduler(st store.Store, worker *Worker, cfg config.SchedulerConfig, instance string) *Scheduler {
	return &Scheduler{
		store:    st,
		worker:   worker,
		cfg:      cfg,
		instance: instance,
		limiter:  claim.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		now:      time.Now,
		logger:   logging.WithComponent("scheduler"),
	}
}

// WithClock overrides the time source of the scheduler and its worker
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	s.worker.WithClock(now)
	return s
}

// Tick runs one scheduling pass. Posts left unfinished at the deadline keep an
// expiring lease and are picked up again by a later tick.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	if s.cfg.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TickTimeout)
		defer cancel()
	}
	ctx, span := telemetry.StartSpan(ctx, "publisher.tick")
	defer span.End()

	now := s.now().UTC()
	cutoff := now.Add(s.cfg.Lookahead)
	due, err := s.store.DuePosts(ctx, cutoff, now, s.cfg.BatchSize)
	if err != nil {
		return TickResult{}, fmt.Errorf("failed to select due posts: %w", err)
	}
	if len(due) == 0 {
		return TickResult{}, nil
	}

	var published, duplicates, retried, failed atomic.Int64
	runner := &claim.Runner[models.Post]{
		Name:        "scheduler",
		Owner:       claim.NewOwner(s.instance),
		TTL:         s.cfg.LeaseTTL,
		Concurrency: s.cfg.Concurrency,
		Limiter:     s.limiter,
		Now:         s.now,
		Logger:      s.logger,
		Key:         func(p models.Post) string { return p.AccountID },
		ID:          func(p models.Post) string { return p.ID },
		Claim: func(ctx context.Context, p models.Post, c store.Claim) (bool, error) {
			return s.store.ClaimPost(ctx, p.ID, c)
		},
		Release: func(ctx context.Context, p models.Post, owner string) error {
			return s.store.ReleasePost(ctx, p.ID, owner)
		},
		Process: func(ctx context.Context, p models.Post, owner string) error {
			// the listed copy may predate another worker's retry write
			post, err := s.store.GetPost(ctx, p.ID)
			if err != nil {
				return err
			}
			if post.State != models.PostScheduled || post.ScheduledAt == nil || post.ScheduledAt.After(cutoff) {
				return s.store.ReleasePost(ctx, post.ID, owner)
			}
			outcome, err := s.worker.Publish(ctx, post, owner)
			if err != nil {
				return err
			}
			switch outcome {
			case OutcomePublished:
				published.Add(1)
			case OutcomeDuplicate:
				duplicates.Add(1)
			case OutcomeRetried:
				retried.Add(1)
			case OutcomeFailed:
				failed.Add(1)
			}
			return nil
		},
	}

	stats := runner.Run(ctx, due)
	result := TickResult{
		Stats:      stats,
		Published:  int(published.Load()),
		Duplicates: int(duplicates.Load()),
		Retried:    int(retried.Load()),
		FailedPost: int(failed.Load()),
	}

	s.logger.Info("Scheduler tick finished",
		zap.Int("selected", stats.Selected),
		zap.Int("claimed", stats.Claimed),
		zap.Int("published", result.Published),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("retried", result.Retried),
		zap.Int("failed", result.FailedPost))

	return result, nil
}

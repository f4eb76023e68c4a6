package autoreply

import (
	"context"
	"errors"
	"fmt"
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

// ThresholdChecker promotes replies waiting for a like count once the source post reaches it
type ThresholdChecker struct {
	store   store.Store
	client  platform.Client
	cfg     config.RepliesConfig
	limiter *rate.Limiter
	now     func() time.Time
	logger  *zap.Logger
}

// NewThresholdChecker creates a checker sharing the scheduler's platform rate limit settings
func NewThresholdChecker(st store.Store, client platform.Client, cfg config.RepliesConfig, sched config.SchedulerConfig) *ThresholdChecker {
	return &ThresholdChecker{
		store:   st,
		client:  client,
		cfg:     cfg,
		limiter: claim.NewLimiter(sched.RateLimit, sched.RateBurst),
		now:     time.Now,
		logger:  logging.WithComponent("threshold"),
	}
}

// WithClock overrides the time source
func (c *ThresholdChecker) WithClock(now func() time.Time) *ThresholdChecker {
	c.now = now
	return c
}

type sourceKey struct {
	accountID    string
	sourcePostID string
}

// Tick re-reads the like count of every source post with waiting replies and
// promotes those that reached their threshold. It returns the number promoted.
func (c *ThresholdChecker) Tick(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "autoreply.threshold")
	defer span.End()

	waiting, err := c.store.WaitingReplies(ctx, c.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list waiting replies: %w", err)
	}

	var keys []sourceKey
	seen := make(map[sourceKey]bool)
	for _, r := range waiting {
		k := sourceKey{r.AccountID, r.SourcePostID}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	accounts := make(map[string]*models.Account)
	promoted := 0
	for _, k := range keys {
		if ctx.Err() != nil {
			break
		}
		log := c.logger.With(zap.String("account_id", k.accountID), zap.String("source_post_id", k.sourcePostID))

		n, err := c.checkSource(ctx, accounts, k)
		if err != nil {
			log.Warn("Like threshold check failed", zap.Error(err))
		}
		promoted += n

		// checked sources rotate behind unchecked ones
		if err := c.store.MarkLikesChecked(context.WithoutCancel(ctx), k.accountID, k.sourcePostID, c.now()); err != nil {
			log.Warn("Failed to mark likes checked", zap.Error(err))
		}
	}

	if promoted > 0 {
		c.logger.Info("Threshold check finished", zap.Int("sources", len(keys)), zap.Int("promoted", promoted))
	}
	return promoted, nil
}

// checkSource fetches the like count of one source post and promotes its waiting replies
func (c *ThresholdChecker) checkSource(ctx context.Context, accounts map[string]*models.Account, k sourceKey) (int, error) {
	account, ok := accounts[k.accountID]
	if !ok {
		var err error
		account, err = c.store.GetAccount(ctx, k.accountID)
		if err != nil {
			return 0, fmt.Errorf("failed to load account: %w", err)
		}
		accounts[k.accountID] = account
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}
	in, err := c.client.FetchInsights(ctx, account, k.sourcePostID)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch like count: %w", err)
	}
	return c.ObserveLikes(ctx, k.accountID, k.sourcePostID, in.Likes)
}

// ObserveLikes records a like count seen for a source post and promotes every
// waiting reply whose threshold it reaches
func (c *ThresholdChecker) ObserveLikes(ctx context.Context, accountID, sourcePostID string, likes int64) (int, error) {
	waiting, err := c.store.WaitingRepliesFor(ctx, accountID, sourcePostID)
	if err != nil {
		return 0, err
	}

	promoted := 0
	var errs []error
	for _, r := range waiting {
		if likes < r.LikeThreshold {
			continue
		}
		ok, err := c.store.PromoteReply(ctx, r.ID, c.now())
		if err != nil {
			errs = append(errs, fmt.Errorf("promote %s: %w", r.ID, err))
			continue
		}
		if ok {
			promoted++
			c.logger.Debug("Reply promoted",
				zap.String("reply_id", r.ID),
				zap.Int64("likes", likes),
				zap.Int64("threshold", r.LikeThreshold))
		}
	}
	if promoted > 0 {
		telemetry.Incr(ctx, telemetry.RepliesPromoted, int64(promoted))
	}
	return promoted, errors.Join(errs...)
}

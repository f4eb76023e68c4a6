package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/platform"
	"github.com/postpilot/postpilot/internal/store"
	"github.com/postpilot/postpilot/pkg/logging"
	"github.com/postpilot/postpilot/pkg/telemetry"
)

// resultWriteTimeout bounds the final write, which must outlive a tick deadline
const resultWriteTimeout = 10 * time.Second

// Outcome is what one publish attempt did to a post
type Outcome uint8

const (
	OutcomePublished Outcome = iota + 1
	OutcomeDuplicate
	OutcomeRetried
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePublished:
		return "published"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeRetried:
		return "retried"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// Worker publishes one claimed post and applies the retry policy
type Worker struct {
	store  store.Store
	client platform.Client
	dedup  *Deduplicator
	policy RetryPolicy
	now    func() time.Time
	logger *zap.Logger
}

// NewWorker creates a publish worker
func NewWorker(st store.Store, client platform.Client, policy RetryPolicy) *Worker {
	return &Worker{
		store:  st,
		client: client,
		dedup:  NewDeduplicator(st),
		policy: policy,
		now:    time.Now,
		logger: logging.WithComponent("publisher"),
	}
}

// WithClock overrides the time source
func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// Publish processes post, which the caller holds under owner's lease.
// The returned error is a storage failure; platform failures end in the outcome.
func (w *Worker) Publish(ctx context.Context, post *models.Post, owner string) (Outcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "publisher.publish")
	defer span.End()

	log := logging.WithSpan(ctx, w.logger).With(zap.String("post_id", post.ID), zap.String("account_id", post.AccountID))

	if err := models.ValidateMedia(post.Media); err != nil {
		return w.fail(ctx, post, owner, platform.NewPermanent("publish", err), log)
	}

	account, err := w.store.GetAccount(ctx, post.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		return w.fail(ctx, post, owner, platform.NewPermanent("publish", fmt.Errorf("account %s not found", post.AccountID)), log)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load account: %w", err)
	}

	if account.TokenExpired(w.now()) {
		// refresh happens outside this service; try again later
		return w.failure(ctx, post, owner, platform.NewTransient("publish", errors.New("access token expired")), log)
	}

	res, err := w.client.Publish(ctx, account, post.Caption, post.Media)
	if err != nil {
		return w.failure(ctx, post, owner, err, log)
	}

	wctx, cancel := writeContext(ctx)
	defer cancel()
	duplicate, err := w.dedup.Save(wctx, post, res, owner, w.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to save publish result: %w", err)
	}
	if duplicate {
		log.Warn("Publish resolved as duplicate",
			zap.String("external_id", res.ExternalID),
			zap.Stringp("duplicate_of", post.DuplicateOf))
		telemetry.Incr(ctx, telemetry.PostsDeduplicated, 1)
		return OutcomeDuplicate, nil
	}

	log.Info("Post published", zap.String("external_id", res.ExternalID))
	telemetry.Incr(ctx, telemetry.PostsPublished, 1)
	return OutcomePublished, nil
}

// failure applies the error taxonomy to a failed attempt
func (w *Worker) failure(ctx context.Context, post *models.Post, owner string, cause error, log *zap.Logger) (Outcome, error) {
	if platform.Classify(cause) == platform.Permanent {
		return w.fail(ctx, post, owner, cause, log)
	}

	now := w.now().UTC()
	count, at, retry := w.policy.Next(post, now)
	msg := cause.Error()
	post.RetryCount = count
	post.ErrorMessage = &msg
	if !retry {
		return w.fail(ctx, post, owner, cause, log)
	}
	post.State = models.PostScheduled
	post.ScheduledAt = &at

	wctx, cancel := writeContext(ctx)
	defer cancel()
	if err := w.store.SavePostResult(wctx, post, owner); err != nil {
		return 0, fmt.Errorf("failed to reschedule post: %w", err)
	}
	log.Warn("Publish failed, retrying",
		zap.Int("retry_count", count),
		zap.Time("scheduled_at", at),
		zap.Error(cause))
	telemetry.Incr(ctx, telemetry.PostsRetried, 1)
	return OutcomeRetried, nil
}

// fail moves the post to failed; scheduled_at is kept for audit
func (w *Worker) fail(ctx context.Context, post *models.Post, owner string, cause error, log *zap.Logger) (Outcome, error) {
	msg := cause.Error()
	post.State = models.PostFailed
	post.ErrorMessage = &msg

	wctx, cancel := writeContext(ctx)
	defer cancel()
	if err := w.store.SavePostResult(wctx, post, owner); err != nil {
		return 0, fmt.Errorf("failed to mark post failed: %w", err)
	}
	log.Error("Publish failed permanently",
		zap.Int("retry_count", post.RetryCount),
		zap.String("kind", platform.Classify(cause).String()),
		zap.Error(cause))
	telemetry.Incr(ctx, telemetry.PostsFailed, 1, attribute.String("kind", platform.Classify(cause).String()))
	return OutcomeFailed, nil
}

func writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), resultWriteTimeout)
}

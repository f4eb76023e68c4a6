package autoreply

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/store"
	"github.com/postpilot/postpilot/pkg/logging"
	"github.com/postpilot/postpilot/pkg/telemetry"
)

// Engine schedules at most one reply per inbound event
type Engine struct {
	store     store.Store
	threshold *ThresholdChecker
	now       func() time.Time
	logger    *zap.Logger
}

// NewEngine creates an engine. threshold may be nil when like counts are not tracked.
func NewEngine(st store.Store, threshold *ThresholdChecker) *Engine {
	return &Engine{
		store:     st,
		threshold: threshold,
		now:       time.Now,
		logger:    logging.WithComponent("autoreply"),
	}
}

// WithClock overrides the time source
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	if e.threshold != nil {
		e.threshold.WithClock(now)
	}
	return e
}

// HandleEvent matches event against the account's active rules and stores the
// resulting reply. It returns nil when no rule matched or the reply already exists.
func (e *Engine) HandleEvent(ctx context.Context, event models.Event) (*models.AutoReply, error) {
	ctx, span := telemetry.StartSpan(ctx, "autoreply.handle_event")
	defer span.End()

	if err := event.Validate(); err != nil {
		return nil, err
	}
	now := e.now().UTC()
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now
	}
	log := e.logger.With(
		zap.String("account_id", event.AccountID),
		zap.String("event_type", event.Type.String()),
		zap.String("external_id", event.ExternalID))

	// a like reports the current count; replies created below wait for the next observation
	if event.Type == models.TriggerLike && e.threshold != nil {
		if _, err := e.threshold.ObserveLikes(ctx, event.AccountID, event.SourcePostID, event.LikeCount); err != nil {
			log.Warn("Failed to apply like count", zap.Error(err))
		}
	}

	rules, err := e.store.ActiveRules(ctx, event.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	rule, ok := Match(&event, rules)
	if !ok {
		log.Debug("No rule matched")
		return nil, nil
	}

	reply := BuildReply(rule, &event, now)
	post, err := e.store.FindByExternalID(ctx, event.AccountID, event.SourcePostID)
	switch {
	case err == nil:
		reply.PostID = &post.ID
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("failed to resolve source post: %w", err)
	}

	if err := e.store.CreateReply(ctx, reply); err != nil {
		if errors.Is(err, store.ErrDuplicateReply) {
			log.Debug("Reply already scheduled", zap.String("rule_id", rule.ID))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to create reply: %w", err)
	}

	log.Info("Reply scheduled",
		zap.String("rule_id", rule.ID),
		zap.String("reply_id", reply.ID),
		zap.String("status", reply.ReplyStatus.String()))
	telemetry.Incr(ctx, telemetry.RepliesCreated, 1, attribute.String("timing", rule.TimingType.String()))
	return reply, nil
}

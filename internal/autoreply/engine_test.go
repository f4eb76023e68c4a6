package autoreply

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/postpilot/postpilot/internal/memstore"
	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/platform"
	"github.com/postpilot/postpilot/internal/platform/platformtest"
	"github.com/postpilot/postpilot/internal/store"
	"github.com/postpilot/postpilot/pkg/config"
)

type harness struct {
	store     *memstore.Store
	stub      *platformtest.Stub
	now       time.Time
	engine    *Engine
	threshold *ThresholdChecker
	worker    *Worker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: memstore.New(), stub: platformtest.New(), now: t0}
	clock := func() time.Time { return h.now }
	h.store.Now = clock

	sched := config.SchedulerConfig{LeaseTTL: time.Minute, Concurrency: 2}
	replies := config.RepliesConfig{BatchSize: 50}
	h.threshold = NewThresholdChecker(h.store, h.stub, replies, sched)
	h.engine = NewEngine(h.store, h.threshold).WithClock(clock)
	h.worker = NewWorker(h.store, h.stub, replies, sched, "test").WithClock(clock)

	require.NoError(t, h.store.CreateAccount(context.Background(), &models.Account{ID: "acc", ExternalUserID: "u1", Handle: "acc", AccessToken: "t"}))
	return h
}

func (h *harness) addRule(t *testing.T, r models.AutoReplyRule) {
	t.Helper()
	require.NoError(t, r.Validate())
	require.NoError(t, h.store.CreateRule(context.Background(), &r))
}

func likeEvent(id string, likes int64) models.Event {
	return models.Event{
		Type: models.TriggerLike, AccountID: "acc", SourcePostID: "X",
		ActorID: "u" + id, ActorUsername: "fan" + id, LikeCount: likes, ExternalID: id,
	}
}

func TestLikeThresholdScenario(t *testing.T) {
	h := newHarness(t)
	h.addRule(t, rule("milestone", 0, func(r *models.AutoReplyRule) {
		r.TriggerOn = datatypes.JSONSlice[models.TriggerType]{models.TriggerLike}
		r.TimingType = models.TimingLikeThreshold
		r.LikeThreshold = 50
		r.ReplyText = "50 likes, thank you!"
	}))
	ctx := context.Background()

	reply, err := h.engine.HandleEvent(ctx, likeEvent("like-1", 50))
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, models.ReplyWaitingLikes, reply.ReplyStatus)

	stored, err := h.store.GetReply(ctx, reply.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReplyWaitingLikes, stored.ReplyStatus)
	assert.Nil(t, stored.ScheduledSendAt)

	h.stub.SetInsights("X", platform.Insights{Likes: 50})
	h.now = h.now.Add(time.Minute)
	promoted, err := h.threshold.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	stored, err = h.store.GetReply(ctx, reply.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReplyPending, stored.ReplyStatus)
	require.NotNil(t, stored.ScheduledSendAt)
	assert.True(t, stored.ScheduledSendAt.Equal(h.now))

	res, err := h.worker.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	require.Len(t, h.stub.Replies, 1)
	assert.Equal(t, "X", h.stub.Replies[0].TargetID, "likes are answered under the source post")
}

func TestThresholdTickRotatesSources(t *testing.T) {
	h := newHarness(t)
	h.threshold.cfg.BatchSize = 2
	ctx := context.Background()

	for i, source := range []string{"A", "B", "X"} {
		require.NoError(t, h.store.CreateReply(ctx, &models.AutoReply{
			ID: "reply-" + source, AccountID: "acc", RuleID: "milestone", SourcePostID: source,
			TriggerType: models.TriggerLike, TriggerUserID: "u1", TriggerUsername: "fan",
			TriggerExternalID: "like-" + source, ReplyStatus: models.ReplyWaitingLikes,
			ReplyText: "thanks", LikeThreshold: 50,
			CreatedAt: t0.Add(time.Duration(i) * time.Second),
		}))
	}
	h.stub.SetInsights("A", platform.Insights{Likes: 1})
	h.stub.SetInsights("B", platform.Insights{Likes: 1})
	h.stub.SetInsights("X", platform.Insights{Likes: 500})

	promoted, err := h.threshold.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, promoted, "the oldest two sources are checked first")

	h.now = h.now.Add(time.Minute)
	promoted, err = h.threshold.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	stored, err := h.store.GetReply(ctx, "reply-X")
	require.NoError(t, err)
	assert.Equal(t, models.ReplyPending, stored.ReplyStatus)

	stored, err = h.store.GetReply(ctx, "reply-A")
	require.NoError(t, err)
	assert.Equal(t, models.ReplyWaitingLikes, stored.ReplyStatus)
	require.NotNil(t, stored.LikesCheckedAt)
}

func TestThresholdNotReached(t *testing.T) {
	h := newHarness(t)
	h.addRule(t, rule("milestone", 0, func(r *models.AutoReplyRule) {
		r.TriggerOn = datatypes.JSONSlice[models.TriggerType]{models.TriggerLike}
		r.TimingType = models.TimingLikeThreshold
		r.LikeThreshold = 100
	}))
	ctx := context.Background()

	reply, err := h.engine.HandleEvent(ctx, likeEvent("like-1", 10))
	require.NoError(t, err)

	h.stub.SetInsights("X", platform.Insights{Likes: 99})
	promoted, err := h.threshold.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, promoted)

	// a later like event reports the count that crosses the threshold
	_, err = h.engine.HandleEvent(ctx, likeEvent("like-2", 100))
	require.NoError(t, err)
	stored, err := h.store.GetReply(ctx, reply.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReplyPending, stored.ReplyStatus)
}

func TestHandleEventDuplicateIsNoop(t *testing.T) {
	h := newHarness(t)
	h.addRule(t, rule("r1", 0))
	ctx := context.Background()
	event := *textEvent(models.TriggerReply, "hello")

	first, err := h.engine.HandleEvent(ctx, event)
	require.NoError(t, err)
	require.NotNil(t, first)

	again, err := h.engine.HandleEvent(ctx, event)
	require.NoError(t, err)
	assert.Nil(t, again)

	pending, err := h.store.ListReplies(ctx, "acc", models.ReplyPending, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestHandleEventResolvesLocalPost(t *testing.T) {
	h := newHarness(t)
	h.addRule(t, rule("r1", 0))
	ctx := context.Background()

	at := t0
	ext := "X"
	require.NoError(t, h.store.CreatePost(ctx, &models.Post{ID: "local", AccountID: "acc", Caption: "c", State: models.PostScheduled, ScheduledAt: &at}))
	ok, err := h.store.ClaimPost(ctx, "local", store.Claim{Owner: "w", Now: t0, Until: t0.Add(time.Minute)})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, h.store.SavePostResult(ctx, &models.Post{ID: "local", AccountID: "acc", State: models.PostPublished, ScheduledAt: &at, PublishedAt: &at, ExternalPostID: &ext}, "w"))

	reply, err := h.engine.HandleEvent(ctx, *textEvent(models.TriggerReply, "hi"))
	require.NoError(t, err)
	require.NotNil(t, reply.PostID)
	assert.Equal(t, "local", *reply.PostID)
}

func TestHandleEventNoMatch(t *testing.T) {
	h := newHarness(t)
	h.addRule(t, rule("r1", 0, keywords(models.ConditionAll, models.MatchPartial, "refund")))

	reply, err := h.engine.HandleEvent(context.Background(), *textEvent(models.TriggerReply, "great stuff"))
	require.NoError(t, err)
	assert.Nil(t, reply)
}

func TestHandleEventRejectsInvalid(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.HandleEvent(context.Background(), models.Event{Type: models.TriggerReply})
	var verr *models.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestWorkerDelayedReply(t *testing.T) {
	h := newHarness(t)
	h.addRule(t, rule("later", 0, func(r *models.AutoReplyRule) {
		r.TimingType = models.TimingDelayed
		r.DelayMinutes = 10
	}))
	ctx := context.Background()

	reply, err := h.engine.HandleEvent(ctx, *textEvent(models.TriggerReply, "hi"))
	require.NoError(t, err)

	res, err := h.worker.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Selected, "not due yet")

	h.now = h.now.Add(10 * time.Minute)
	res, err = h.worker.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	stored, err := h.store.GetReply(ctx, reply.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReplySent, stored.ReplyStatus)
	assert.True(t, stored.SentAt.Equal(h.now))
	require.NotNil(t, stored.ReplyExternalID)
	assert.Equal(t, "e1", h.stub.Replies[0].TargetID)
	assert.Equal(t, "thanks bob", h.stub.Replies[0].Text)
}

func TestWorkerFailureIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.addRule(t, rule("r1", 0))
	ctx := context.Background()
	h.stub.QueueReply(platformtest.Outcome{Err: platform.NewTransient("reply", errors.New("upstream timeout"))})

	reply, err := h.engine.HandleEvent(ctx, *textEvent(models.TriggerReply, "hi"))
	require.NoError(t, err)

	res, err := h.worker.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FailedSend)

	stored, err := h.store.GetReply(ctx, reply.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReplyFailed, stored.ReplyStatus)
	assert.Contains(t, *stored.ErrorMessage, "upstream timeout")

	h.now = h.now.Add(time.Hour)
	res, err = h.worker.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Selected)
	assert.Len(t, h.stub.Replies, 1)

	failed, err := h.store.ListReplies(ctx, "acc", models.ReplyFailed, 10)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestWorkerSendsRuleMedia(t *testing.T) {
	h := newHarness(t)
	h.addRule(t, rule("r1", 0, func(r *models.AutoReplyRule) {
		r.ReplyMedia = datatypes.JSONSlice[models.MediaRef]{{Kind: models.MediaImage, URL: "https://cdn.example.com/thanks.png"}}
	}))
	ctx := context.Background()

	_, err := h.engine.HandleEvent(ctx, *textEvent(models.TriggerReply, "hi"))
	require.NoError(t, err)
	_, err = h.worker.Tick(ctx)
	require.NoError(t, err)

	require.Len(t, h.stub.Replies, 1)
	require.Len(t, h.stub.Replies[0].Media, 1)
	assert.Equal(t, "https://cdn.example.com/thanks.png", h.stub.Replies[0].Media[0].URL)
}

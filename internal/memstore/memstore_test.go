package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/store"
)

func strPtr(s string) *string { return &s }

func scheduledPost(id, account string, at time.Time) *models.Post {
	return &models.Post{ID: id, AccountID: account, Caption: "hello", State: models.PostScheduled, ScheduledAt: &at}
}

func TestClaimPost(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := New()
	require.NoError(t, s.CreatePost(ctx, scheduledPost("p1", "a1", now.Add(-time.Minute))))

	ok, err := s.ClaimPost(ctx, "p1", store.Claim{Owner: "w1", Now: now, Until: now.Add(time.Minute)})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimPost(ctx, "p1", store.Claim{Owner: "w2", Now: now, Until: now.Add(time.Minute)})
	require.NoError(t, err)
	assert.False(t, ok, "lease still held")

	due, err := s.DuePosts(ctx, now, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	later := now.Add(2 * time.Minute)
	ok, err = s.ClaimPost(ctx, "p1", store.Claim{Owner: "w2", Now: later, Until: later.Add(time.Minute)})
	require.NoError(t, err)
	assert.True(t, ok, "expired lease can be taken over")

	post, _ := s.GetPost(ctx, "p1")
	post.State = models.PostPublished
	assert.ErrorIs(t, s.SavePostResult(ctx, post, "w1"), store.ErrLeaseLost)
	require.NoError(t, s.SavePostResult(ctx, post, "w2"))

	got, err := s.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.PostPublished, got.State)
	assert.Empty(t, got.Lease.Owner)
}

func TestDuePostsOrder(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := New()
	require.NoError(t, s.CreatePost(ctx, scheduledPost("p3", "b", now.Add(-3*time.Minute))))
	require.NoError(t, s.CreatePost(ctx, scheduledPost("p2", "a", now.Add(-time.Minute))))
	require.NoError(t, s.CreatePost(ctx, scheduledPost("p1", "a", now.Add(-2*time.Minute))))
	require.NoError(t, s.CreatePost(ctx, scheduledPost("p4", "a", now.Add(time.Hour))))

	due, err := s.DuePosts(ctx, now, now, 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(due))
	for _, p := range due {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"p1", "p2", "p3"}, ids)
}

func TestExternalIDUnique(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	s := New()
	for _, id := range []string{"p1", "p2"} {
		require.NoError(t, s.CreatePost(ctx, scheduledPost(id, "a", now)))
		ok, err := s.ClaimPost(ctx, id, store.Claim{Owner: "w-" + id, Now: now, Until: now.Add(time.Minute)})
		require.NoError(t, err)
		require.True(t, ok)
	}

	p1, _ := s.GetPost(ctx, "p1")
	p1.State = models.PostPublished
	p1.ExternalPostID = strPtr("X")
	require.NoError(t, s.SavePostResult(ctx, p1, "w-p1"))

	p2, _ := s.GetPost(ctx, "p2")
	p2.State = models.PostPublished
	p2.ExternalPostID = strPtr("X")
	assert.ErrorIs(t, s.SavePostResult(ctx, p2, "w-p2"), store.ErrDuplicateExternalID)

	found, err := s.FindByExternalID(ctx, "a", "X")
	require.NoError(t, err)
	assert.Equal(t, "p1", found.ID)
}

func TestCreateReplyDuplicate(t *testing.T) {
	ctx := context.Background()
	s := New()
	reply := &models.AutoReply{ID: "r1", AccountID: "a", RuleID: "rule", TriggerExternalID: "evt", ReplyStatus: models.ReplyPending}
	require.NoError(t, s.CreateReply(ctx, reply))
	dup := &models.AutoReply{ID: "r2", AccountID: "a", RuleID: "rule", TriggerExternalID: "evt", ReplyStatus: models.ReplyPending}
	assert.ErrorIs(t, s.CreateReply(ctx, dup), store.ErrDuplicateReply)
}

func TestPromoteReply(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	s := New()
	require.NoError(t, s.CreateReply(ctx, &models.AutoReply{
		ID: "r1", AccountID: "a", RuleID: "rule", SourcePostID: "src", TriggerExternalID: "evt",
		ReplyStatus: models.ReplyWaitingLikes, LikeThreshold: 5,
	}))

	waiting, err := s.WaitingRepliesFor(ctx, "a", "src")
	require.NoError(t, err)
	require.Len(t, waiting, 1)

	ok, err := s.PromoteReply(ctx, "r1", now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.PromoteReply(ctx, "r1", now)
	require.NoError(t, err)
	assert.False(t, ok)

	due, err := s.DueReplies(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, models.ReplyPending, due[0].ReplyStatus)
}

func TestGetPostReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreatePost(ctx, scheduledPost("p1", "a", time.Now())))
	p, _ := s.GetPost(ctx, "p1")
	p.Caption = "changed"
	again, _ := s.GetPost(ctx, "p1")
	assert.Equal(t, "hello", again.Caption)
}

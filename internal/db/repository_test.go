package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"

	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/store"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	d, err := Open(sqlite.Open(dsn), "ERROR")
	require.NoError(t, err)
	sqlDB, err := d.DB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, d.AutoMigrate())

	repo := NewRepository(d.DB)
	require.NoError(t, repo.CreateAccount(context.Background(), &models.Account{
		ID: "acc", ExternalUserID: "ext-acc", Handle: "acc", AccessToken: "token",
	}))
	return repo
}

func strPtr(s string) *string { return &s }

func testPost(id string, at time.Time) *models.Post {
	return &models.Post{
		ID:          id,
		AccountID:   "acc",
		Caption:     "caption " + id,
		Media:       datatypes.NewJSONSlice([]models.MediaRef{{Kind: models.MediaImage, URL: "https://cdn.example.com/a.jpg"}}),
		State:       models.PostScheduled,
		ScheduledAt: &at,
	}
}

func TestRepositoryPostRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.CreatePost(ctx, testPost("p1", at)))

	got, err := repo.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.PostScheduled, got.State)
	assert.True(t, got.ScheduledAt.Equal(at))
	require.Len(t, got.Media, 1)
	assert.Equal(t, models.MediaImage, got.Media[0].Kind)

	_, err = repo.GetPost(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRepositoryClaimAndFence(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.CreatePost(ctx, testPost("p1", now.Add(-time.Minute))))

	due, err := repo.DuePosts(ctx, now, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	ok, err := repo.ClaimPost(ctx, "p1", store.Claim{Owner: "w1", Now: now, Until: now.Add(time.Minute)})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.ClaimPost(ctx, "p1", store.Claim{Owner: "w2", Now: now, Until: now.Add(time.Minute)})
	require.NoError(t, err)
	assert.False(t, ok)

	due, err = repo.DuePosts(ctx, now, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due, "leased posts are not due")

	later := now.Add(2 * time.Minute)
	ok, err = repo.ClaimPost(ctx, "p1", store.Claim{Owner: "w2", Now: later, Until: later.Add(time.Minute)})
	require.NoError(t, err)
	require.True(t, ok, "expired lease is reclaimable")

	post, err := repo.GetPost(ctx, "p1")
	require.NoError(t, err)
	post.State = models.PostPublished
	post.ExternalPostID = strPtr("X")
	post.PublishedAt = &later
	assert.ErrorIs(t, repo.SavePostResult(ctx, post, "w1"), store.ErrLeaseLost)
	require.NoError(t, repo.SavePostResult(ctx, post, "w2"))

	got, err := repo.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.PostPublished, got.State)
	assert.Equal(t, "X", *got.ExternalPostID)
	assert.Empty(t, got.Lease.Owner)
	assert.Nil(t, got.Lease.Until)

	ok, err = repo.ClaimPost(ctx, "p1", store.Claim{Owner: "w3", Now: later, Until: later.Add(time.Minute)})
	require.NoError(t, err)
	assert.False(t, ok, "published posts cannot be claimed")
}

func TestRepositoryDuplicateExternalID(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for _, id := range []string{"p1", "p2"} {
		require.NoError(t, repo.CreatePost(ctx, testPost(id, now)))
		ok, err := repo.ClaimPost(ctx, id, store.Claim{Owner: "w-" + id, Now: now, Until: now.Add(time.Minute)})
		require.NoError(t, err)
		require.True(t, ok)
	}

	p1, _ := repo.GetPost(ctx, "p1")
	p1.State = models.PostPublished
	p1.ExternalPostID = strPtr("X")
	require.NoError(t, repo.SavePostResult(ctx, p1, "w-p1"))

	p2, _ := repo.GetPost(ctx, "p2")
	p2.State = models.PostPublished
	p2.ExternalPostID = strPtr("X")
	assert.ErrorIs(t, repo.SavePostResult(ctx, p2, "w-p2"), store.ErrDuplicateExternalID)

	found, err := repo.FindByExternalID(ctx, "acc", "X")
	require.NoError(t, err)
	assert.Equal(t, "p1", found.ID)
}

func TestRepositoryIllegalTransition(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	post := testPost("p1", now)
	post.State = models.PostDraft
	post.ScheduledAt = nil
	require.NoError(t, repo.CreatePost(ctx, post))

	post.State = models.PostPublished
	assert.Error(t, repo.SavePostResult(ctx, post, "w1"))

	require.NoError(t, repo.SchedulePost(ctx, "p1", now))
	assert.ErrorIs(t, repo.SchedulePost(ctx, "p1", now), store.ErrConflict)
}

func TestRepositoryMetricsLease(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	post := testPost("p1", now)
	require.NoError(t, repo.CreatePost(ctx, post))
	ok, err := repo.ClaimPost(ctx, "p1", store.Claim{Owner: "w", Now: now, Until: now.Add(time.Minute)})
	require.NoError(t, err)
	require.True(t, ok)
	post.State = models.PostPublished
	post.ExternalPostID = strPtr("X")
	post.PublishedAt = &now
	require.NoError(t, repo.SavePostResult(ctx, post, "w"))

	recent, err := repo.RecentPublished(ctx, "acc", 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	ok, err = repo.ClaimPostMetrics(ctx, "p1", store.Claim{Owner: "m", Now: now, Until: now.Add(time.Minute)})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, repo.FinishPostMetrics(ctx, "p1", "m", &models.Metrics{Likes: 7, Comments: 2, SyncedAt: &now}))

	got, err := repo.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Metrics.Likes)
	assert.Empty(t, got.MetricsLease.Owner)
	updated := got.UpdatedAt

	ok, err = repo.ClaimPostMetrics(ctx, "p1", store.Claim{Owner: "m2", Now: now, Until: now.Add(time.Minute)})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, repo.FinishPostMetrics(ctx, "p1", "m2", nil))

	got, err = repo.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Metrics.Likes)
	assert.True(t, got.UpdatedAt.Equal(updated), "releasing without metrics leaves the row untouched")
}

func TestRepositoryRulesAndReplies(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, name := range []string{"low", "high"} {
		require.NoError(t, repo.CreateRule(ctx, &models.AutoReplyRule{
			ID:        "rule-" + name,
			AccountID: "acc",
			Name:      name,
			IsActive:  true,
			Priority:  1 - i,
			TriggerOn: datatypes.NewJSONSlice([]models.TriggerType{models.TriggerReply}),
			Keywords:  datatypes.NewJSONSlice([]string{"hi"}),
			ReplyText: "thanks {username}",
		}))
	}
	require.NoError(t, repo.CreateRule(ctx, &models.AutoReplyRule{
		ID: "rule-off", AccountID: "acc", Name: "off", Priority: -5,
		TriggerOn: datatypes.NewJSONSlice([]models.TriggerType{models.TriggerLike}), ReplyText: "x",
	}))

	rules, err := repo.ActiveRules(ctx, "acc")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "rule-high", rules[0].ID)
	assert.Equal(t, []models.TriggerType{models.TriggerReply}, []models.TriggerType(rules[0].TriggerOn))

	all, err := repo.ListRules(ctx, "acc")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	reply := &models.AutoReply{
		ID: "r1", AccountID: "acc", RuleID: "rule-high", SourcePostID: "src",
		TriggerType: models.TriggerReply, TriggerUserID: "u", TriggerUsername: "bob",
		TriggerExternalID: "evt-1", ReplyStatus: models.ReplyPending, ReplyText: "thanks bob",
		ScheduledSendAt: &now,
	}
	require.NoError(t, repo.CreateReply(ctx, reply))
	dup := *reply
	dup.ID = "r2"
	assert.ErrorIs(t, repo.CreateReply(ctx, &dup), store.ErrDuplicateReply)

	due, err := repo.DueReplies(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	ok, err := repo.ClaimReply(ctx, "r1", store.Claim{Owner: "w", Now: now, Until: now.Add(time.Minute)})
	require.NoError(t, err)
	require.True(t, ok)
	reply.ReplyStatus = models.ReplySent
	reply.ReplyExternalID = strPtr("out-1")
	reply.SentAt = &now
	require.NoError(t, repo.SaveReplyResult(ctx, reply, "w"))

	sent, err := repo.ListReplies(ctx, "acc", models.ReplySent, 10)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, "out-1", *sent[0].ReplyExternalID)
}

func TestRepositoryPromoteReply(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.CreateRule(ctx, &models.AutoReplyRule{
		ID: "rule", AccountID: "acc", Name: "likes", IsActive: true,
		TriggerOn:  datatypes.NewJSONSlice([]models.TriggerType{models.TriggerLike}),
		TimingType: models.TimingLikeThreshold, LikeThreshold: 50, ReplyText: "x",
	}))
	require.NoError(t, repo.CreateReply(ctx, &models.AutoReply{
		ID: "r1", AccountID: "acc", RuleID: "rule", SourcePostID: "src",
		TriggerType: models.TriggerLike, TriggerExternalID: "like-1",
		ReplyStatus: models.ReplyWaitingLikes, ReplyText: "x", LikeThreshold: 50,
	}))

	waiting, err := repo.WaitingRepliesFor(ctx, "acc", "src")
	require.NoError(t, err)
	require.Len(t, waiting, 1)

	ok, err := repo.PromoteReply(ctx, "r1", now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.PromoteReply(ctx, "r1", now)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.PromoteReply(ctx, "missing", now)
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := repo.GetReply(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.ReplyPending, got.ReplyStatus)
	require.NotNil(t, got.ScheduledSendAt)
	assert.True(t, got.ScheduledSendAt.Equal(now))
}

func TestRepositoryWaitingRepliesRotate(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, source := range []string{"a", "b", "c"} {
		require.NoError(t, repo.CreateReply(ctx, &models.AutoReply{
			ID: "r-" + source, AccountID: "acc", RuleID: "rule", SourcePostID: source,
			TriggerType: models.TriggerLike, TriggerExternalID: "like-" + source,
			ReplyStatus: models.ReplyWaitingLikes, ReplyText: "x", LikeThreshold: 50,
			CreatedAt: created.Add(time.Duration(i) * time.Minute),
		}))
	}

	waiting, err := repo.WaitingReplies(ctx, 2)
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	assert.Equal(t, "r-a", waiting[0].ID)
	assert.Equal(t, "r-b", waiting[1].ID)

	require.NoError(t, repo.MarkLikesChecked(ctx, "acc", "a", created.Add(time.Hour)))
	require.NoError(t, repo.MarkLikesChecked(ctx, "acc", "b", created.Add(2*time.Hour)))

	waiting, err = repo.WaitingReplies(ctx, 2)
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	assert.Equal(t, "r-c", waiting[0].ID, "never checked sources come first")
	assert.Equal(t, "r-a", waiting[1].ID)
	require.NotNil(t, waiting[1].LikesCheckedAt)
}

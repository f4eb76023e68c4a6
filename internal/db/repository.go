package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/store"
)

// Repository implements store.Store on top of gorm
type Repository struct {
	db *gorm.DB
}

var _ store.Store = (*Repository)(nil)

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

// leaseFree matches rows whose lease under prefix is free or expired at now
func leaseFree(prefix string, now time.Time) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where("("+prefix+"owner = '' OR "+prefix+"until IS NULL OR "+prefix+"until <= ?)", now.UTC())
	}
}

// claimRow is the conditional lease update shared by every leased table.
// eligible narrows the row to the states that may be claimed.
func claimRow[T any](ctx context.Context, db *gorm.DB, prefix, id string, eligible func(*gorm.DB) *gorm.DB, c store.Claim) (bool, error) {
	res := db.WithContext(ctx).Model(new(T)).
		Where("id = ?", id).
		Scopes(eligible, leaseFree(prefix, c.Now)).
		UpdateColumns(map[string]interface{}{
			prefix + "owner": c.Owner,
			prefix + "until": c.Until.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// fencedUpdate writes values only while owner holds the lease under prefix.
// When nothing matched, it works out whether the row is gone, the lease moved, or the state moved.
func fencedUpdate[T any](ctx context.Context, db *gorm.DB, prefix, id, owner string, guard func(*gorm.DB) *gorm.DB, values map[string]interface{}) error {
	if owner == "" {
		return store.ErrLeaseLost
	}
	res := db.WithContext(ctx).Model(new(T)).
		Where("id = ? AND "+prefix+"owner = ?", id, owner).
		Scopes(guard).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := db.WithContext(ctx).Model(new(T)).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return store.ErrNotFound
	}
	if err := db.WithContext(ctx).Model(new(T)).Where("id = ? AND "+prefix+"owner = ?", id, owner).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return store.ErrLeaseLost
	}
	return store.ErrConflict
}

func noGuard(tx *gorm.DB) *gorm.DB { return tx }

var allPostStates = []models.PostState{models.PostDraft, models.PostScheduled, models.PostPublished, models.PostFailed}
var allReplyStatuses = []models.ReplyStatus{models.ReplyPending, models.ReplyWaitingLikes, models.ReplySent, models.ReplyFailed}

// postStatesInto lists the states from which to is reachable
func postStatesInto(to models.PostState) []models.PostState {
	var from []models.PostState
	for _, s := range allPostStates {
		if s.CanTransition(to) {
			from = append(from, s)
		}
	}
	return from
}

func replyStatusesInto(to models.ReplyStatus) []models.ReplyStatus {
	var from []models.ReplyStatus
	for _, s := range allReplyStatuses {
		if s.CanTransition(to) {
			from = append(from, s)
		}
	}
	return from
}

// Accounts

// CreateAccount inserts an account
func (r *Repository) CreateAccount(ctx context.Context, account *models.Account) error {
	err := r.db.WithContext(ctx).Create(account).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return store.ErrConflict
	}
	return err
}

// GetAccount retrieves an account by ID
func (r *Repository) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		return nil, notFound(err)
	}
	return &account, nil
}

// ListAccounts retrieves every connected account
func (r *Repository) ListAccounts(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// Posts

// CreatePost inserts a post
func (r *Repository) CreatePost(ctx context.Context, post *models.Post) error {
	err := r.db.WithContext(ctx).Create(post).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		if post.ExternalPostID != nil {
			return store.ErrDuplicateExternalID
		}
		return store.ErrConflict
	}
	return err
}

// GetPost retrieves a post by ID
func (r *Repository) GetPost(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&post).Error; err != nil {
		return nil, notFound(err)
	}
	return &post, nil
}

// SchedulePost moves a draft to scheduled
func (r *Repository) SchedulePost(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ? AND state = ?", id, models.PostDraft).
		Updates(map[string]interface{}{
			"state":        models.PostScheduled,
			"scheduled_at": at.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := r.GetPost(ctx, id); err != nil {
		return err
	}
	return store.ErrConflict
}

// DuePosts lists scheduled posts that are due by cutoff and not leased at now
func (r *Repository) DuePosts(ctx context.Context, cutoff, now time.Time, limit int) ([]models.Post, error) {
	var posts []models.Post
	q := r.db.WithContext(ctx).
		Where("state = ? AND scheduled_at <= ?", models.PostScheduled, cutoff.UTC()).
		Scopes(leaseFree("claim_", now)).
		Order("account_id ASC, scheduled_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}

// ClaimPost leases a post that is still scheduled
func (r *Repository) ClaimPost(ctx context.Context, id string, claim store.Claim) (bool, error) {
	return claimRow[models.Post](ctx, r.db, "claim_", id, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("state = ?", models.PostScheduled)
	}, claim)
}

// SavePostResult writes the publishing outcome and releases the lease
func (r *Repository) SavePostResult(ctx context.Context, post *models.Post, owner string) error {
	from := postStatesInto(post.State)
	if len(from) == 0 {
		return store.ErrConflict
	}
	err := fencedUpdate[models.Post](ctx, r.db, "claim_", post.ID, owner, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("state IN ?", from)
	}, map[string]interface{}{
		"state":            post.State,
		"scheduled_at":     post.ScheduledAt,
		"published_at":     post.PublishedAt,
		"external_post_id": post.ExternalPostID,
		"permalink":        post.Permalink,
		"duplicate_of":     post.DuplicateOf,
		"retry_count":      post.RetryCount,
		"error_message":    post.ErrorMessage,
		"claim_owner":      "",
		"claim_until":      nil,
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return store.ErrDuplicateExternalID
	}
	return err
}

// ReleasePost drops the publishing lease
func (r *Repository) ReleasePost(ctx context.Context, id, owner string) error {
	return fencedUpdate[models.Post](ctx, r.db, "claim_", id, owner, noGuard, map[string]interface{}{
		"claim_owner": "",
		"claim_until": nil,
	})
}

// FindByExternalID retrieves the post owning (accountID, externalID)
func (r *Repository) FindByExternalID(ctx context.Context, accountID, externalID string) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND external_post_id = ?", accountID, externalID).
		First(&post).Error; err != nil {
		return nil, notFound(err)
	}
	return &post, nil
}

// RecentPublished lists the newest published posts of an account
func (r *Repository) RecentPublished(ctx context.Context, accountID string, limit int) ([]models.Post, error) {
	var posts []models.Post
	q := r.db.WithContext(ctx).
		Where("account_id = ? AND state = ? AND external_post_id IS NOT NULL", accountID, models.PostPublished).
		Order("published_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}

// ClaimPostMetrics leases a published post for a metrics refresh
func (r *Repository) ClaimPostMetrics(ctx context.Context, id string, claim store.Claim) (bool, error) {
	return claimRow[models.Post](ctx, r.db, "metrics_claim_", id, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("state = ? AND external_post_id IS NOT NULL", models.PostPublished)
	}, claim)
}

// FinishPostMetrics stores metrics when non-nil and releases the metrics lease
func (r *Repository) FinishPostMetrics(ctx context.Context, id, owner string, metrics *models.Metrics) error {
	values := map[string]interface{}{
		"metrics_claim_owner": "",
		"metrics_claim_until": nil,
	}
	if metrics == nil {
		// releasing the lease alone must not touch updated_at
		return fencedUpdateColumns(ctx, r.db, id, owner, values)
	}
	values["metric_likes"] = metrics.Likes
	values["metric_comments"] = metrics.Comments
	values["metric_reposts"] = metrics.Reposts
	values["metric_quotes"] = metrics.Quotes
	values["metric_synced_at"] = metrics.SyncedAt
	return fencedUpdate[models.Post](ctx, r.db, "metrics_claim_", id, owner, noGuard, values)
}

func fencedUpdateColumns(ctx context.Context, db *gorm.DB, id, owner string, values map[string]interface{}) error {
	res := db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ? AND metrics_claim_owner = ?", id, owner).
		UpdateColumns(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrLeaseLost
	}
	return nil
}

// Rules

// CreateRule inserts a rule
func (r *Repository) CreateRule(ctx context.Context, rule *models.AutoReplyRule) error {
	err := r.db.WithContext(ctx).Create(rule).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return store.ErrConflict
	}
	return err
}

// ActiveRules lists active rules in evaluation order
func (r *Repository) ActiveRules(ctx context.Context, accountID string) ([]models.AutoReplyRule, error) {
	var rules []models.AutoReplyRule
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND is_active = ?", accountID, true).
		Order("priority ASC, created_at ASC, id ASC").
		Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

// ListRules lists all rules of an account
func (r *Repository) ListRules(ctx context.Context, accountID string) ([]models.AutoReplyRule, error) {
	var rules []models.AutoReplyRule
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("priority ASC, created_at ASC, id ASC").
		Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

// Replies

// CreateReply inserts a reply; a second reply for the same rule and trigger is rejected
func (r *Repository) CreateReply(ctx context.Context, reply *models.AutoReply) error {
	err := r.db.WithContext(ctx).Create(reply).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return store.ErrDuplicateReply
	}
	return err
}

// GetReply retrieves a reply by ID
func (r *Repository) GetReply(ctx context.Context, id string) (*models.AutoReply, error) {
	var reply models.AutoReply
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&reply).Error; err != nil {
		return nil, notFound(err)
	}
	return &reply, nil
}

// DueReplies lists pending replies due at now
func (r *Repository) DueReplies(ctx context.Context, now time.Time, limit int) ([]models.AutoReply, error) {
	var replies []models.AutoReply
	q := r.db.WithContext(ctx).
		Where("reply_status = ? AND scheduled_send_at <= ?", models.ReplyPending, now.UTC()).
		Scopes(leaseFree("claim_", now)).
		Order("account_id ASC, scheduled_send_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&replies).Error; err != nil {
		return nil, err
	}
	return replies, nil
}

// ClaimReply leases a pending reply
func (r *Repository) ClaimReply(ctx context.Context, id string, claim store.Claim) (bool, error) {
	return claimRow[models.AutoReply](ctx, r.db, "claim_", id, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("reply_status = ?", models.ReplyPending)
	}, claim)
}

// SaveReplyResult writes the delivery outcome and releases the lease
func (r *Repository) SaveReplyResult(ctx context.Context, reply *models.AutoReply, owner string) error {
	from := replyStatusesInto(reply.ReplyStatus)
	if len(from) == 0 {
		return store.ErrConflict
	}
	return fencedUpdate[models.AutoReply](ctx, r.db, "claim_", reply.ID, owner, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("reply_status IN ?", from)
	}, map[string]interface{}{
		"reply_status":      reply.ReplyStatus,
		"reply_external_id": reply.ReplyExternalID,
		"sent_at":           reply.SentAt,
		"error_message":     reply.ErrorMessage,
		"claim_owner":       "",
		"claim_until":       nil,
	})
}

// WaitingReplies lists replies waiting on a like threshold, never checked first
func (r *Repository) WaitingReplies(ctx context.Context, limit int) ([]models.AutoReply, error) {
	var replies []models.AutoReply
	q := r.db.WithContext(ctx).
		Where("reply_status = ?", models.ReplyWaitingLikes).
		Order("likes_checked_at IS NOT NULL, likes_checked_at ASC, created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&replies).Error; err != nil {
		return nil, err
	}
	return replies, nil
}

// WaitingRepliesFor lists waiting replies of one source post
func (r *Repository) WaitingRepliesFor(ctx context.Context, accountID, sourcePostID string) ([]models.AutoReply, error) {
	var replies []models.AutoReply
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND source_post_id = ? AND reply_status = ?", accountID, sourcePostID, models.ReplyWaitingLikes).
		Order("created_at ASC, id ASC").
		Find(&replies).Error; err != nil {
		return nil, err
	}
	return replies, nil
}

// MarkLikesChecked stamps the waiting replies of one source post
func (r *Repository) MarkLikesChecked(ctx context.Context, accountID, sourcePostID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.AutoReply{}).
		Where("account_id = ? AND source_post_id = ? AND reply_status = ?", accountID, sourcePostID, models.ReplyWaitingLikes).
		UpdateColumn("likes_checked_at", at.UTC()).Error
}

// PromoteReply moves a waiting reply to pending
func (r *Repository) PromoteReply(ctx context.Context, id string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.AutoReply{}).
		Where("id = ? AND reply_status = ?", id, models.ReplyWaitingLikes).
		Updates(map[string]interface{}{
			"reply_status":      models.ReplyPending,
			"scheduled_send_at": now.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if _, err := r.GetReply(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// ListReplies lists replies of an account in one status, newest first
func (r *Repository) ListReplies(ctx context.Context, accountID string, status models.ReplyStatus, limit int) ([]models.AutoReply, error) {
	var replies []models.AutoReply
	q := r.db.WithContext(ctx).
		Where("account_id = ? AND reply_status = ?", accountID, status).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&replies).Error; err != nil {
		return nil, err
	}
	return replies, nil
}

// Package memstore is an in-process implementation of store.Store.
// A single mutex plays the role of the database's row locking, so every
// conditional update is atomic exactly like its SQL counterpart.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/store"
)

// Store keeps all rows in maps keyed by id
type Store struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	posts    map[string]*models.Post
	rules    map[string]*models.AutoReplyRule
	replies  map[string]*models.AutoReply
	seq      int64
	order    map[string]int64

	// Now stamps created_at/updated_at; defaults to time.Now
	Now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		accounts: make(map[string]*models.Account),
		posts:    make(map[string]*models.Post),
		rules:    make(map[string]*models.AutoReplyRule),
		replies:  make(map[string]*models.AutoReply),
		order:    make(map[string]int64),
		Now:      time.Now,
	}
}

func (s *Store) now() time.Time {
	return s.Now().UTC()
}

// insertion order breaks ties the way an auto-increment column would
func (s *Store) stamp(id string) {
	s.seq++
	s.order[id] = s.seq
}

// claimRow is the generic conditional lease update shared by every leased table
func claimRow[T any](rows map[string]*T, id string, lease func(*T) *models.Lease, eligible func(*T) bool, c store.Claim) bool {
	row, ok := rows[id]
	if !ok || !eligible(row) {
		return false
	}
	l := lease(row)
	if l.Held(c.Now) {
		return false
	}
	until := c.Until.UTC()
	l.Owner = c.Owner
	l.Until = &until
	return true
}

// fencedRow returns the row only while owner still holds its lease
func fencedRow[T any](rows map[string]*T, id string, lease func(*T) *models.Lease, owner string) (*T, error) {
	row, ok := rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if owner == "" || lease(row).Owner != owner {
		return nil, store.ErrLeaseLost
	}
	return row, nil
}

func postLease(p *models.Post) *models.Lease        { return &p.Lease }
func postMetricsLease(p *models.Post) *models.Lease { return &p.MetricsLease }
func replyLease(r *models.AutoReply) *models.Lease  { return &r.Lease }

// Accounts

// CreateAccount inserts an account
func (s *Store) CreateAccount(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.ExternalUserID == account.ExternalUserID {
			return store.ErrConflict
		}
	}
	now := s.now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	c := *account
	s.accounts[account.ID] = &c
	return nil
}

// GetAccount retrieves an account by ID
func (s *Store) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *a
	return &c, nil
}

// ListAccounts retrieves every connected account
func (s *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Posts

// CreatePost inserts a post
func (s *Store) CreatePost(ctx context.Context, post *models.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[post.ID]; ok {
		return store.ErrConflict
	}
	if err := s.checkExternalID(post); err != nil {
		return err
	}
	now := s.now()
	if post.CreatedAt.IsZero() {
		post.CreatedAt = now
	}
	post.UpdatedAt = now
	s.posts[post.ID] = clonePost(post)
	s.stamp(post.ID)
	return nil
}

// GetPost retrieves a post by ID
func (s *Store) GetPost(ctx context.Context, id string) (*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clonePost(p), nil
}

// SchedulePost moves a draft to scheduled
func (s *Store) SchedulePost(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return store.ErrNotFound
	}
	if !p.State.CanTransition(models.PostScheduled) || p.State != models.PostDraft {
		return store.ErrConflict
	}
	at = at.UTC()
	p.State = models.PostScheduled
	p.ScheduledAt = &at
	p.UpdatedAt = s.now()
	return nil
}

// DuePosts lists scheduled posts that are due by cutoff and not leased at now
func (s *Store) DuePosts(ctx context.Context, cutoff, now time.Time, limit int) ([]models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Post
	for _, p := range s.posts {
		if p.State != models.PostScheduled || p.ScheduledAt == nil || p.ScheduledAt.After(cutoff) {
			continue
		}
		if p.Lease.Held(now) {
			continue
		}
		out = append(out, *clonePost(p))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.AccountID != b.AccountID {
			return a.AccountID < b.AccountID
		}
		if !a.ScheduledAt.Equal(*b.ScheduledAt) {
			return a.ScheduledAt.Before(*b.ScheduledAt)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimPost leases a post that is still scheduled
func (s *Store) ClaimPost(ctx context.Context, id string, claim store.Claim) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return claimRow(s.posts, id, postLease, func(p *models.Post) bool {
		return p.State == models.PostScheduled
	}, claim), nil
}

// SavePostResult writes the publishing outcome and releases the lease
func (s *Store) SavePostResult(ctx context.Context, post *models.Post, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := fencedRow(s.posts, post.ID, postLease, owner)
	if err != nil {
		return err
	}
	if !row.State.CanTransition(post.State) {
		return store.ErrConflict
	}
	if err := s.checkExternalID(post); err != nil {
		return err
	}
	row.State = post.State
	row.ScheduledAt = cloneTime(post.ScheduledAt)
	row.PublishedAt = cloneTime(post.PublishedAt)
	row.ExternalPostID = cloneString(post.ExternalPostID)
	row.Permalink = cloneString(post.Permalink)
	row.DuplicateOf = cloneString(post.DuplicateOf)
	row.RetryCount = post.RetryCount
	row.ErrorMessage = cloneString(post.ErrorMessage)
	row.Lease = models.Lease{}
	row.UpdatedAt = s.now()
	return nil
}

// ReleasePost drops the publishing lease
func (s *Store) ReleasePost(ctx context.Context, id, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := fencedRow(s.posts, id, postLease, owner)
	if err != nil {
		return err
	}
	row.Lease = models.Lease{}
	return nil
}

// checkExternalID enforces the (account_id, external_post_id) unique key
func (s *Store) checkExternalID(post *models.Post) error {
	if post.ExternalPostID == nil {
		return nil
	}
	for id, p := range s.posts {
		if id == post.ID || p.ExternalPostID == nil {
			continue
		}
		if p.AccountID == post.AccountID && *p.ExternalPostID == *post.ExternalPostID {
			return store.ErrDuplicateExternalID
		}
	}
	return nil
}

// FindByExternalID retrieves the post owning (accountID, externalID)
func (s *Store) FindByExternalID(ctx context.Context, accountID, externalID string) (*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.posts {
		if p.AccountID == accountID && p.ExternalPostID != nil && *p.ExternalPostID == externalID {
			return clonePost(p), nil
		}
	}
	return nil, store.ErrNotFound
}

// RecentPublished lists the newest published posts of an account
func (s *Store) RecentPublished(ctx context.Context, accountID string, limit int) ([]models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Post
	for _, p := range s.posts {
		if p.AccountID != accountID || p.State != models.PostPublished || p.ExternalPostID == nil {
			continue
		}
		out = append(out, *clonePost(p))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !timeEqual(a.PublishedAt, b.PublishedAt) {
			return timeAfter(a.PublishedAt, b.PublishedAt)
		}
		return a.ID > b.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimPostMetrics leases a published post for a metrics refresh
func (s *Store) ClaimPostMetrics(ctx context.Context, id string, claim store.Claim) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return claimRow(s.posts, id, postMetricsLease, func(p *models.Post) bool {
		return p.State == models.PostPublished && p.ExternalPostID != nil
	}, claim), nil
}

// FinishPostMetrics stores metrics when non-nil and releases the metrics lease
func (s *Store) FinishPostMetrics(ctx context.Context, id, owner string, metrics *models.Metrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := fencedRow(s.posts, id, postMetricsLease, owner)
	if err != nil {
		return err
	}
	if metrics != nil {
		m := *metrics
		m.SyncedAt = cloneTime(metrics.SyncedAt)
		row.Metrics = m
		row.UpdatedAt = s.now()
	}
	row.MetricsLease = models.Lease{}
	return nil
}

// Rules

// CreateRule inserts a rule
func (s *Store) CreateRule(ctx context.Context, rule *models.AutoReplyRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[rule.ID]; ok {
		return store.ErrConflict
	}
	now := s.now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	s.rules[rule.ID] = cloneRule(rule)
	s.stamp(rule.ID)
	return nil
}

// ActiveRules lists active rules in evaluation order
func (s *Store) ActiveRules(ctx context.Context, accountID string) ([]models.AutoReplyRule, error) {
	return s.listRules(accountID, true), nil
}

// ListRules lists all rules of an account
func (s *Store) ListRules(ctx context.Context, accountID string) ([]models.AutoReplyRule, error) {
	return s.listRules(accountID, false), nil
}

func (s *Store) listRules(accountID string, activeOnly bool) []models.AutoReplyRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AutoReplyRule
	for _, r := range s.rules {
		if r.AccountID != accountID || (activeOnly && !r.IsActive) {
			continue
		}
		out = append(out, *cloneRule(r))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

// Replies

// CreateReply inserts a reply; a second reply for the same rule and trigger is rejected
func (s *Store) CreateReply(ctx context.Context, reply *models.AutoReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.replies {
		if r.RuleID == reply.RuleID && r.TriggerExternalID == reply.TriggerExternalID {
			return store.ErrDuplicateReply
		}
	}
	if _, ok := s.replies[reply.ID]; ok {
		return store.ErrConflict
	}
	now := s.now()
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = now
	}
	reply.UpdatedAt = now
	s.replies[reply.ID] = cloneReply(reply)
	s.stamp(reply.ID)
	return nil
}

// GetReply retrieves a reply by ID
func (s *Store) GetReply(ctx context.Context, id string) (*models.AutoReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.replies[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneReply(r), nil
}

// DueReplies lists pending replies due at now
func (s *Store) DueReplies(ctx context.Context, now time.Time, limit int) ([]models.AutoReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AutoReply
	for _, r := range s.replies {
		if r.ReplyStatus != models.ReplyPending || r.ScheduledSendAt == nil || r.ScheduledSendAt.After(now) {
			continue
		}
		if r.Lease.Held(now) {
			continue
		}
		out = append(out, *cloneReply(r))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.AccountID != b.AccountID {
			return a.AccountID < b.AccountID
		}
		if !a.ScheduledSendAt.Equal(*b.ScheduledSendAt) {
			return a.ScheduledSendAt.Before(*b.ScheduledSendAt)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimReply leases a pending reply
func (s *Store) ClaimReply(ctx context.Context, id string, claim store.Claim) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return claimRow(s.replies, id, replyLease, func(r *models.AutoReply) bool {
		return r.ReplyStatus == models.ReplyPending
	}, claim), nil
}

// SaveReplyResult writes the delivery outcome and releases the lease
func (s *Store) SaveReplyResult(ctx context.Context, reply *models.AutoReply, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := fencedRow(s.replies, reply.ID, replyLease, owner)
	if err != nil {
		return err
	}
	if !row.ReplyStatus.CanTransition(reply.ReplyStatus) {
		return store.ErrConflict
	}
	row.ReplyStatus = reply.ReplyStatus
	row.ReplyExternalID = cloneString(reply.ReplyExternalID)
	row.SentAt = cloneTime(reply.SentAt)
	row.ErrorMessage = cloneString(reply.ErrorMessage)
	row.Lease = models.Lease{}
	row.UpdatedAt = s.now()
	return nil
}

// WaitingReplies lists replies waiting on a like threshold, never checked first
func (s *Store) WaitingReplies(ctx context.Context, limit int) ([]models.AutoReply, error) {
	return s.waiting(func(*models.AutoReply) bool { return true }, limit), nil
}

// WaitingRepliesFor lists waiting replies of one source post
func (s *Store) WaitingRepliesFor(ctx context.Context, accountID, sourcePostID string) ([]models.AutoReply, error) {
	return s.waiting(func(r *models.AutoReply) bool {
		return r.AccountID == accountID && r.SourcePostID == sourcePostID
	}, 0), nil
}

func (s *Store) waiting(match func(*models.AutoReply) bool, limit int) []models.AutoReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AutoReply
	for _, r := range s.replies {
		if r.ReplyStatus == models.ReplyWaitingLikes && match(r) {
			out = append(out, *cloneReply(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LikesCheckedAt, out[j].LikesCheckedAt
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return s.order[out[i].ID] < s.order[out[j].ID]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MarkLikesChecked stamps the waiting replies of one source post
func (s *Store) MarkLikesChecked(ctx context.Context, accountID, sourcePostID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	checked := at.UTC()
	for _, r := range s.replies {
		if r.AccountID == accountID && r.SourcePostID == sourcePostID && r.ReplyStatus == models.ReplyWaitingLikes {
			t := checked
			r.LikesCheckedAt = &t
		}
	}
	return nil
}

// PromoteReply moves a waiting reply to pending
func (s *Store) PromoteReply(ctx context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.replies[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if r.ReplyStatus != models.ReplyWaitingLikes {
		return false, nil
	}
	at := now.UTC()
	r.ReplyStatus = models.ReplyPending
	r.ScheduledSendAt = &at
	r.UpdatedAt = s.now()
	return true, nil
}

// ListReplies lists replies of an account in one status, newest first
func (s *Store) ListReplies(ctx context.Context, accountID string, status models.ReplyStatus, limit int) ([]models.AutoReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AutoReply
	for _, r := range s.replies {
		if r.AccountID == accountID && r.ReplyStatus == status {
			out = append(out, *cloneReply(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.order[out[i].ID] > s.order[out[j].ID] })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

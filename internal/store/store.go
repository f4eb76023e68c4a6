// Package store defines the persistence contract shared by the publishing and
// auto-reply workers. All state transitions go through conditional updates so
// that several processes can compete over the same rows safely.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/postpilot/postpilot/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicateExternalID is returned when (account_id, external_post_id) is already taken
	ErrDuplicateExternalID = errors.New("duplicate external post id")
	// ErrDuplicateReply is returned when the rule already answered the triggering interaction
	ErrDuplicateReply = errors.New("duplicate auto reply")
	// ErrLeaseLost is returned when a fenced write finds the row no longer leased by the caller
	ErrLeaseLost = errors.New("lease lost")
	// ErrConflict is returned when a conditional update finds the row in an unexpected state
	ErrConflict = errors.New("state conflict")
)

// Claim is a lease request: hold the row as Owner until Until, evaluated at Now.
type Claim struct {
	Owner string
	Now   time.Time
	Until time.Time
}

// Accounts gives access to connected accounts
type Accounts interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
}

// Posts gives access to the post lifecycle
type Posts interface {
	CreatePost(ctx context.Context, post *models.Post) error
	GetPost(ctx context.Context, id string) (*models.Post, error)
	// SchedulePost moves a draft to scheduled at the given time
	SchedulePost(ctx context.Context, id string, at time.Time) error

	// DuePosts lists scheduled posts with scheduled_at <= cutoff whose lease is free at now,
	// ordered by account, scheduled_at, id.
	DuePosts(ctx context.Context, cutoff, now time.Time, limit int) ([]models.Post, error)
	// ClaimPost leases a still-scheduled post; false means another worker holds it or it moved on
	ClaimPost(ctx context.Context, id string, claim Claim) (bool, error)
	// SavePostResult writes the lifecycle fields of post and releases the lease, fenced on owner.
	// It returns ErrDuplicateExternalID when the unique (account, external id) key is violated.
	SavePostResult(ctx context.Context, post *models.Post, owner string) error
	// ReleasePost drops a lease without changing anything else
	ReleasePost(ctx context.Context, id, owner string) error
	// FindByExternalID returns the post holding (accountID, externalID), or ErrNotFound
	FindByExternalID(ctx context.Context, accountID, externalID string) (*models.Post, error)

	// RecentPublished lists the newest published posts with an external id for one account
	RecentPublished(ctx context.Context, accountID string, limit int) ([]models.Post, error)
	ClaimPostMetrics(ctx context.Context, id string, claim Claim) (bool, error)
	// FinishPostMetrics releases the metrics lease, storing metrics when non-nil
	FinishPostMetrics(ctx context.Context, id, owner string, metrics *models.Metrics) error
}

// Rules gives access to auto-reply rules
type Rules interface {
	CreateRule(ctx context.Context, rule *models.AutoReplyRule) error
	// ActiveRules lists the active rules of an account in priority order
	ActiveRules(ctx context.Context, accountID string) ([]models.AutoReplyRule, error)
	ListRules(ctx context.Context, accountID string) ([]models.AutoReplyRule, error)
}

// Replies gives access to auto-reply records
type Replies interface {
	// CreateReply returns ErrDuplicateReply when (rule, trigger external id) already exists
	CreateReply(ctx context.Context, reply *models.AutoReply) error
	GetReply(ctx context.Context, id string) (*models.AutoReply, error)
	// DueReplies lists pending replies with scheduled_send_at <= now and a free lease
	DueReplies(ctx context.Context, now time.Time, limit int) ([]models.AutoReply, error)
	ClaimReply(ctx context.Context, id string, claim Claim) (bool, error)
	// SaveReplyResult writes the delivery outcome and releases the lease, fenced on owner
	SaveReplyResult(ctx context.Context, reply *models.AutoReply, owner string) error
	// WaitingReplies lists replies waiting for a like threshold, least recently checked first
	WaitingReplies(ctx context.Context, limit int) ([]models.AutoReply, error)
	// WaitingRepliesFor lists waiting replies of one account's source post
	WaitingRepliesFor(ctx context.Context, accountID, sourcePostID string) ([]models.AutoReply, error)
	// MarkLikesChecked stamps the waiting replies of a source post as checked at at
	MarkLikesChecked(ctx context.Context, accountID, sourcePostID string, at time.Time) error
	// PromoteReply moves a waiting reply to pending at now; false when it was no longer waiting
	PromoteReply(ctx context.Context, id string, now time.Time) (bool, error)
	ListReplies(ctx context.Context, accountID string, status models.ReplyStatus, limit int) ([]models.AutoReply, error)
}

// Store is the full persistence contract
type Store interface {
	Accounts
	Posts
	Rules
	Replies
}

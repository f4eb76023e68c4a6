package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/store"
)

const defaultListLimit = 50

func decode(params json.RawMessage, dst interface{}) error {
	if len(params) == 0 {
		return invalidParams(errors.New("missing params"))
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return invalidParams(err)
	}
	return nil
}

type idParams struct {
	ID string `json:"id"`
}

type accountParams struct {
	AccountID string `json:"account_id"`
}

// AccountsAPI provides account methods
type AccountsAPI struct {
	store store.Accounts
}

// NewAccountsAPI creates the accounts API
func NewAccountsAPI(st store.Accounts) *AccountsAPI {
	return &AccountsAPI{store: st}
}

type createAccountParams struct {
	ExternalUserID string     `json:"external_user_id"`
	Handle         string     `json:"handle"`
	AccessToken    string     `json:"access_token"`
	TokenExpiresAt *time.Time `json:"token_expires_at"`
}

// Create handles accounts.create
func (a *AccountsAPI) Create(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p createAccountParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	switch {
	case strings.TrimSpace(p.ExternalUserID) == "":
		return nil, &models.ValidationError{Field: "external_user_id", Reason: "required"}
	case strings.TrimSpace(p.Handle) == "":
		return nil, &models.ValidationError{Field: "handle", Reason: "required"}
	case p.AccessToken == "":
		return nil, &models.ValidationError{Field: "access_token", Reason: "required"}
	}

	account := &models.Account{
		ID:             uuid.NewString(),
		ExternalUserID: p.ExternalUserID,
		Handle:         p.Handle,
		AccessToken:    p.AccessToken,
		TokenExpiresAt: p.TokenExpiresAt,
	}
	if err := a.store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// PostsAPI provides post methods
type PostsAPI struct {
	store store.Posts
}

// NewPostsAPI creates the posts API
func NewPostsAPI(st store.Posts) *PostsAPI {
	return &PostsAPI{store: st}
}

type createPostParams struct {
	AccountID   string            `json:"account_id"`
	Caption     string            `json:"caption"`
	Media       []models.MediaRef `json:"media"`
	ScheduledAt *time.Time        `json:"scheduled_at"`
}

// Create handles posts.create. A post with scheduled_at starts scheduled, otherwise draft.
func (a *PostsAPI) Create(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p createPostParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}

	post := &models.Post{
		ID:        uuid.NewString(),
		AccountID: p.AccountID,
		Caption:   p.Caption,
		Media:     datatypes.JSONSlice[models.MediaRef](p.Media),
		State:     models.PostDraft,
	}
	if p.ScheduledAt != nil {
		at := p.ScheduledAt.UTC()
		post.State = models.PostScheduled
		post.ScheduledAt = &at
	}
	if err := post.Validate(); err != nil {
		return nil, err
	}
	if err := a.store.CreatePost(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

type scheduleParams struct {
	ID          string    `json:"id"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// Schedule handles posts.schedule
func (a *PostsAPI) Schedule(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p scheduleParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.ScheduledAt.IsZero() {
		return nil, &models.ValidationError{Field: "scheduled_at", Reason: "required"}
	}
	if err := a.store.SchedulePost(ctx, p.ID, p.ScheduledAt.UTC()); err != nil {
		return nil, err
	}
	return a.store.GetPost(ctx, p.ID)
}

// Get handles posts.get
func (a *PostsAPI) Get(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p idParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return a.store.GetPost(ctx, p.ID)
}

// RulesAPI provides auto-reply rule and reply methods
type RulesAPI struct {
	rules   store.Rules
	replies store.Replies
}

// NewRulesAPI creates the rules API
func NewRulesAPI(rules store.Rules, replies store.Replies) *RulesAPI {
	return &RulesAPI{rules: rules, replies: replies}
}

// Create handles rules.create. Rules are active unless is_active is false.
func (a *RulesAPI) Create(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var rule models.AutoReplyRule
	if err := decode(params, &rule); err != nil {
		return nil, err
	}
	var flags struct {
		IsActive *bool `json:"is_active"`
	}
	_ = json.Unmarshal(params, &flags)

	rule.ID = uuid.NewString()
	rule.IsActive = flags.IsActive == nil || *flags.IsActive
	rule.CreatedAt = time.Time{}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := a.rules.CreateRule(ctx, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// List handles rules.list
func (a *RulesAPI) List(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p accountParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	rules, err := a.rules.ListRules(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []models.AutoReplyRule{}
	}
	return rules, nil
}

type listRepliesParams struct {
	AccountID string `json:"account_id"`
	Status    string `json:"status"`
	Limit     int    `json:"limit"`
}

// ListReplies handles replies.list. Status defaults to failed, the manual review queue.
func (a *RulesAPI) ListReplies(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p listRepliesParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	status := models.ReplyFailed
	if p.Status != "" {
		s, err := models.ParseReplyStatus(p.Status)
		if err != nil {
			return nil, &models.ValidationError{Field: "status", Reason: err.Error()}
		}
		status = s
	}
	if p.Limit <= 0 || p.Limit > 500 {
		p.Limit = defaultListLimit
	}

	replies, err := a.replies.ListReplies(ctx, p.AccountID, status, p.Limit)
	if err != nil {
		return nil, err
	}
	if replies == nil {
		replies = []models.AutoReply{}
	}
	return replies, nil
}

package publisher

import (
	"context"
	"errors"
	"time"

	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/platform"
	"github.com/postpilot/postpilot/internal/store"
)

// Deduplicator keeps (account, external post id) owned by exactly one post.
// A second local post that the platform reports under an already owned id is
// recorded as a published duplicate of the owner instead of failing.
type Deduplicator struct {
	posts store.Posts
}

// NewDeduplicator creates a deduplicator over the post store
func NewDeduplicator(posts store.Posts) *Deduplicator {
	return &Deduplicator{posts: posts}
}

func markPublished(post *models.Post, res *platform.Published, now time.Time) {
	id := res.ExternalID
	post.State = models.PostPublished
	post.PublishedAt = &now
	post.ExternalPostID = &id
	post.Permalink = nil
	if res.Permalink != "" {
		permalink := res.Permalink
		post.Permalink = &permalink
	}
	post.DuplicateOf = nil
	post.ErrorMessage = nil
}

func markDuplicate(post, owner *models.Post, res *platform.Published, now time.Time) {
	ownerID := owner.ID
	post.State = models.PostPublished
	post.ExternalPostID = nil
	post.DuplicateOf = &ownerID
	post.ErrorMessage = nil

	post.PublishedAt = &now
	if owner.PublishedAt != nil {
		at := *owner.PublishedAt
		post.PublishedAt = &at
	}
	post.Permalink = nil
	switch {
	case owner.Permalink != nil:
		permalink := *owner.Permalink
		post.Permalink = &permalink
	case res.Permalink != "":
		permalink := res.Permalink
		post.Permalink = &permalink
	}
}

// check fills post with the success result, as a duplicate when another row owns the id
func (d *Deduplicator) check(ctx context.Context, post *models.Post, res *platform.Published, now time.Time) (bool, error) {
	owner, err := d.posts.FindByExternalID(ctx, post.AccountID, res.ExternalID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		markPublished(post, res, now)
		return false, nil
	case err != nil:
		return false, err
	case owner.ID == post.ID:
		markPublished(post, res, now)
		return false, nil
	}
	markDuplicate(post, owner, res, now)
	return true, nil
}

// Save records a successful publish under owner's lease. It reports whether the
// post was stored as a duplicate. A unique-key violation from a concurrent
// writer is resolved the same way and never returned.
func (d *Deduplicator) Save(ctx context.Context, post *models.Post, res *platform.Published, owner string, now time.Time) (bool, error) {
	duplicate, err := d.check(ctx, post, res, now)
	if err != nil {
		return false, err
	}
	err = d.posts.SavePostResult(ctx, post, owner)
	if !errors.Is(err, store.ErrDuplicateExternalID) {
		return duplicate, err
	}

	// another post committed the same id between check and save
	winner, err := d.posts.FindByExternalID(ctx, post.AccountID, res.ExternalID)
	if err != nil {
		return false, err
	}
	markDuplicate(post, winner, res, now)
	return true, d.posts.SavePostResult(ctx, post, owner)
}

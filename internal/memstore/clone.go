package memstore

import (
	"slices"
	"time"

	"github.com/postpilot/postpilot/internal/models"
)

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := t.UTC()
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// timeAfter orders nil last
func timeAfter(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}

func cloneLease(l models.Lease) models.Lease {
	return models.Lease{Owner: l.Owner, Until: cloneTime(l.Until)}
}

func clonePost(p *models.Post) *models.Post {
	c := *p
	c.Media = slices.Clone(p.Media)
	c.ScheduledAt = cloneTime(p.ScheduledAt)
	c.PublishedAt = cloneTime(p.PublishedAt)
	c.ExternalPostID = cloneString(p.ExternalPostID)
	c.Permalink = cloneString(p.Permalink)
	c.DuplicateOf = cloneString(p.DuplicateOf)
	c.ErrorMessage = cloneString(p.ErrorMessage)
	c.Metrics.SyncedAt = cloneTime(p.Metrics.SyncedAt)
	c.Lease = cloneLease(p.Lease)
	c.MetricsLease = cloneLease(p.MetricsLease)
	return &c
}

func cloneRule(r *models.AutoReplyRule) *models.AutoReplyRule {
	c := *r
	c.TriggerOn = slices.Clone(r.TriggerOn)
	c.Keywords = slices.Clone(r.Keywords)
	c.Hashtags = slices.Clone(r.Hashtags)
	c.ReplyMedia = slices.Clone(r.ReplyMedia)
	c.FilterStartDate = cloneTime(r.FilterStartDate)
	c.FilterEndDate = cloneTime(r.FilterEndDate)
	return &c
}

func cloneReply(r *models.AutoReply) *models.AutoReply {
	c := *r
	c.PostID = cloneString(r.PostID)
	c.TriggerText = cloneString(r.TriggerText)
	c.ReplyExternalID = cloneString(r.ReplyExternalID)
	c.ScheduledSendAt = cloneTime(r.ScheduledSendAt)
	c.SentAt = cloneTime(r.SentAt)
	c.LikesCheckedAt = cloneTime(r.LikesCheckedAt)
	c.ErrorMessage = cloneString(r.ErrorMessage)
	c.Lease = cloneLease(r.Lease)
	return &c
}

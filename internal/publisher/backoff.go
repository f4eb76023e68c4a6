package publisher

import (
	"time"

	"github.com/postpilot/postpilot/internal/models"
)

// Backoff is capped exponential backoff: Base * 2^n, never above Cap
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the wait after the n-th consecutive failure (n starts at 0)
func (b Backoff) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := b.Base
	for i := 0; i < n; i++ {
		if d >= b.Cap/2 {
			return b.Cap
		}
		d *= 2
	}
	if d > b.Cap {
		return b.Cap
	}
	return d
}

// RetryPolicy decides what happens to a post after a transient failure
type RetryPolicy struct {
	MaxRetries int
	Backoff    Backoff
}

// Next returns the bumped retry count and, when another attempt is allowed,
// the new scheduled time. retry=false means the post has exhausted its budget.
func (p RetryPolicy) Next(post *models.Post, now time.Time) (retryCount int, at time.Time, retry bool) {
	retryCount = post.RetryCount + 1
	if retryCount >= p.MaxRetries {
		return retryCount, time.Time{}, false
	}
	from := now
	if post.ScheduledAt != nil && post.ScheduledAt.After(now) {
		from = *post.ScheduledAt
	}
	return retryCount, from.Add(p.Backoff.Delay(post.RetryCount)), true
}

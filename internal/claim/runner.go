// Package claim implements claim-then-process once for every leased queue:
// due posts, due replies and metrics refreshes all go through Runner.
package claim

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/postpilot/postpilot/internal/store"
	"github.com/postpilot/postpilot/pkg/logging"
)

// Instance identifies this process in lease owners
func Instance() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "postpilot"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// NewOwner returns a lease owner token unique to one tick of one process
func NewOwner(instance string) string {
	return instance + "/" + uuid.NewString()
}

// Stats summarizes one Run
type Stats struct {
	Selected  int
	Claimed   int
	Skipped   int
	Succeeded int
	Failed    int
}

// Runner claims and processes items. Items sharing a Key are handled
// sequentially in input order; distinct keys run in parallel up to Concurrency.
type Runner[T any] struct {
	Name        string
	Owner       string
	TTL         time.Duration
	Concurrency int
	Limiter     *rate.Limiter
	Now         func() time.Time
	Logger      *zap.Logger

	// Key partitions items, usually by account
	Key func(T) string
	// ID names the item in logs
	ID func(T) string
	// Claim takes the item's lease; false means someone else has it
	Claim func(ctx context.Context, item T, c store.Claim) (bool, error)
	// Process handles a claimed item; owner fences its writes
	Process func(ctx context.Context, item T, owner string) error
	// Release gives the lease back when Process never started. Optional.
	Release func(ctx context.Context, item T, owner string) error
}

func (r *Runner[T]) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Runner[T]) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return logging.WithComponent(r.Name)
}

// Run processes items until all are handled or ctx is done.
// Items left unprocessed at the deadline are either unclaimed or hold a lease that expires.
func (r *Runner[T]) Run(ctx context.Context, items []T) Stats {
	var claimed, skipped, succeeded, failed atomic.Int64

	groups, order := partition(items, r.Key)
	limit := r.Concurrency
	if limit <= 0 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, key := range order {
		batch := groups[key]
		g.Go(func() error {
			for _, item := range batch {
				if gctx.Err() != nil {
					return nil
				}
				ok, err := r.runOne(gctx, item)
				switch {
				case err != nil:
					claimed.Add(1)
					failed.Add(1)
				case ok:
					claimed.Add(1)
					succeeded.Add(1)
				default:
					skipped.Add(1)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return Stats{
		Selected:  len(items),
		Claimed:   int(claimed.Load()),
		Skipped:   int(skipped.Load()),
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
	}
}

// runOne returns (false, nil) when the item was not claimed
func (r *Runner[T]) runOne(ctx context.Context, item T) (processed bool, err error) {
	id := r.ID(item)
	log := r.logger().With(zap.String("item_id", id))

	now := r.now()
	ok, err := r.Claim(ctx, item, store.Claim{Owner: r.Owner, Now: now, Until: now.Add(r.TTL)})
	if err != nil {
		log.Warn("Claim failed", zap.Error(err))
		return false, nil
	}
	if !ok {
		log.Debug("Item claimed elsewhere")
		return false, nil
	}

	if r.Limiter != nil {
		if err := r.Limiter.Wait(ctx); err != nil {
			r.release(item, log)
			return true, err
		}
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error("Item processing panicked", zap.Any("panic", p))
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	if err := r.Process(ctx, item, r.Owner); err != nil {
		log.Error("Item processing failed", zap.Error(err))
		return true, err
	}
	return true, nil
}

func (r *Runner[T]) release(item T, log *zap.Logger) {
	if r.Release == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Release(ctx, item, r.Owner); err != nil {
		log.Warn("Lease release failed", zap.Error(err))
	}
}

func partition[T any](items []T, key func(T) string) (map[string][]T, []string) {
	groups := make(map[string][]T)
	var order []string
	for _, item := range items {
		k := key(item)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], item)
	}
	return groups, order
}

// NewLimiter builds the token bucket placed between consecutive platform calls.
// A non-positive rate disables limiting.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

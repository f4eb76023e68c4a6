// Package ingest receives audience interactions and feeds them to the auto-reply engine.
package ingest

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/postpilot/postpilot/internal/cache"
	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/pkg/config"
	"github.com/postpilot/postpilot/pkg/logging"
	"github.com/postpilot/postpilot/pkg/telemetry"
)

// EventHandler consumes one event
type EventHandler interface {
	HandleEvent(ctx context.Context, event models.Event) (*models.AutoReply, error)
}

// Deduper remembers keys for a while. *cache.Cache implements it on Redis.
type Deduper interface {
	MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, key string) error
}

// Dispatcher hands events to a fixed pool of workers through a bounded queue
type Dispatcher struct {
	handler EventHandler
	seen    Deduper
	ttl     time.Duration
	workers int
	queue   chan models.Event
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewDispatcher creates a dispatcher. seen may be nil.
func NewDispatcher(handler EventHandler, seen Deduper, cfg config.IngestConfig) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1024
	}
	return &Dispatcher{
		handler: handler,
		seen:    seen,
		ttl:     cfg.DedupTTL,
		workers: workers,
		queue:   make(chan models.Event, size),
		logger:  logging.WithComponent("dispatcher"),
	}
}

// Start launches the workers. They run until Stop or ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.group != nil || d.closed {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		d.group.Go(func() error {
			d.work(ctx)
			return nil
		})
	}
}

// Stop drains queued events and waits for the workers
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	group, cancel := d.group, d.cancel
	if group == nil || d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	_ = group.Wait()
	cancel()
}

// Enqueue queues event without blocking; false means the queue is full
func (d *Dispatcher) Enqueue(event models.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- event:
		telemetry.Incr(context.Background(), telemetry.EventsReceived, 1, attribute.String("type", event.Type.String()))
		return true
	default:
		telemetry.Incr(context.Background(), telemetry.EventsDropped, 1)
		return false
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for event := range d.queue {
		d.Handle(ctx, event)
	}
}

// Handle processes one event synchronously. Errors are logged, never returned,
// so one bad event cannot stall the others.
func (d *Dispatcher) Handle(ctx context.Context, event models.Event) {
	log := d.logger.With(
		zap.String("account_id", event.AccountID),
		zap.String("event_type", event.Type.String()),
		zap.String("external_id", event.ExternalID))

	// like events carry a fresh count each time
	var marked string
	if d.seen != nil && event.Type != models.TriggerLike {
		key := cache.HashKey(event.AccountID, event.Type.String(), event.ExternalID)
		dup, err := d.seen.MarkSeen(ctx, key, d.ttl)
		switch {
		case err != nil:
			log.Debug("Dedup lookup failed", zap.Error(err))
		case dup:
			log.Debug("Event already seen")
			return
		default:
			marked = key
		}
	}

	if _, err := d.handler.HandleEvent(context.WithoutCancel(ctx), event); err != nil {
		log.Error("Failed to handle event", zap.Error(err))
		// a redelivery or the poller must be able to retry it
		if marked != "" {
			if err := d.seen.Forget(context.WithoutCancel(ctx), marked); err != nil {
				log.Warn("Failed to forget event", zap.Error(err))
			}
		}
	}
}

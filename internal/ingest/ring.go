package ingest

import (
	"encoding/json"
	"sync"
	"time"
)

// Payload is one raw webhook body kept for diagnostics
type Payload struct {
	ReceivedAt time.Time       `json:"received_at"`
	Body       json.RawMessage `json:"body"`
}

// Ring keeps the most recent payloads, evicting the oldest first.
// It is diagnostic state only and never read by the processing pipeline.
type Ring struct {
	mu    sync.Mutex
	items []Payload
	next  int
	full  bool
}

// NewRing creates a ring holding at most capacity payloads
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 100
	}
	return &Ring{items: make([]Payload, capacity)}
}

// Add stores a copy of body
func (r *Ring) Add(at time.Time, body []byte) {
	cp := make(json.RawMessage, len(body))
	copy(cp, body)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[r.next] = Payload{ReceivedAt: at, Body: cp}
	r.next = (r.next + 1) % len(r.items)
	if r.next == 0 {
		r.full = true
	}
}

// Len returns the number of stored payloads
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.items)
	}
	return r.next
}

// Cap returns the ring capacity
func (r *Ring) Cap() int {
	return len(r.items)
}

// Snapshot returns the stored payloads, oldest first
func (r *Ring) Snapshot() []Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]Payload(nil), r.items[:r.next]...)
	}
	out := make([]Payload, 0, len(r.items))
	out = append(out, r.items[r.next:]...)
	return append(out, r.items[:r.next]...)
}

// Package platformtest provides a scripted platform.Client for tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/internal/platform"
)

// Outcome is one scripted response
type Outcome struct {
	ExternalID string
	Permalink  string
	Err        error
}

// SentReply records one SendReply call
type SentReply struct {
	AccountID string
	TargetID  string
	Text      string
	Media     []models.MediaRef
}

// Stub answers Publish and SendReply from scripts, falling back to success with generated ids
type Stub struct {
	mu sync.Mutex

	publishScript []Outcome
	replyScript   []Outcome
	insights      map[string]platform.Insights
	insightsErr   map[string]error
	events        map[string][]models.Event
	seq           int

	// Delay is slept inside Publish to widen race windows
	Delay time.Duration

	PublishCalls  int
	InsightsCalls int
	Captions      []string
	Replies       []SentReply
}

var _ platform.Client = (*Stub)(nil)

// New creates an empty stub
func New() *Stub {
	return &Stub{
		insights:    make(map[string]platform.Insights),
		insightsErr: make(map[string]error),
		events:      make(map[string][]models.Event),
	}
}

// QueuePublish appends outcomes consumed by successive Publish calls
func (s *Stub) QueuePublish(outcomes ...Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishScript = append(s.publishScript, outcomes...)
}

// QueueReply appends outcomes consumed by successive SendReply calls
func (s *Stub) QueueReply(outcomes ...Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyScript = append(s.replyScript, outcomes...)
}

// SetInsights fixes the counters returned for externalID
func (s *Stub) SetInsights(externalID string, in platform.Insights) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insights[externalID] = in
	delete(s.insightsErr, externalID)
}

// FailInsights makes FetchInsights for externalID fail
func (s *Stub) FailInsights(externalID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insightsErr[externalID] = err
}

// SetEvents fixes the events returned for accountID
func (s *Stub) SetEvents(accountID string, events []models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[accountID] = events
}

func (s *Stub) next(script *[]Outcome, prefix string) Outcome {
	if len(*script) > 0 {
		o := (*script)[0]
		*script = (*script)[1:]
		return o
	}
	s.seq++
	id := fmt.Sprintf("%s-%d", prefix, s.seq)
	return Outcome{ExternalID: id, Permalink: "https://example.com/p/" + id}
}

func (s *Stub) Publish(ctx context.Context, account *models.Account, caption string, media []models.MediaRef) (*platform.Published, error) {
	s.mu.Lock()
	s.PublishCalls++
	s.Captions = append(s.Captions, caption)
	o := s.next(&s.publishScript, "ext")
	delay := s.Delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if o.Err != nil {
		return nil, o.Err
	}
	return &platform.Published{ExternalID: o.ExternalID, Permalink: o.Permalink}, nil
}

func (s *Stub) FetchInsights(ctx context.Context, account *models.Account, externalID string) (*platform.Insights, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InsightsCalls++
	if err := s.insightsErr[externalID]; err != nil {
		return nil, err
	}
	in, ok := s.insights[externalID]
	if !ok {
		return nil, platform.NewPermanent("insights", fmt.Errorf("unknown post %s", externalID))
	}
	return &in, nil
}

func (s *Stub) SendReply(ctx context.Context, account *models.Account, targetExternalID, text string, media []models.MediaRef) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Replies = append(s.Replies, SentReply{AccountID: account.ID, TargetID: targetExternalID, Text: text, Media: media})
	o := s.next(&s.replyScript, "reply")
	if o.Err != nil {
		return "", o.Err
	}
	return o.ExternalID, nil
}

func (s *Stub) FetchRecentEvents(ctx context.Context, account *models.Account) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Event(nil), s.events[account.ID]...), nil
}

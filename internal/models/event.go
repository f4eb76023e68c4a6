package models

import "time"

// Event is an inbound audience interaction. It is never persisted as such.
type Event struct {
	Type          TriggerType `json:"type"`
	AccountID     string      `json:"account_id"`
	SourcePostID  string      `json:"source_post_id"`
	ActorID       string      `json:"actor_id"`
	ActorUsername string      `json:"actor_username"`
	Text          *string     `json:"text,omitempty"`
	LikeCount     int64       `json:"like_count,omitempty"`
	ExternalID    string      `json:"external_id"`
	OccurredAt    time.Time   `json:"occurred_at"`
}

// TextOrEmpty returns the event text, or "" for text-less interactions
func (e *Event) TextOrEmpty() string {
	if e.Text == nil {
		return ""
	}
	return *e.Text
}

// Validate checks the fields every downstream step relies on
func (e *Event) Validate() error {
	if _, err := e.Type.MarshalText(); err != nil {
		return &ValidationError{Field: "type", Reason: err.Error()}
	}
	if e.AccountID == "" {
		return &ValidationError{Field: "account_id", Reason: "required"}
	}
	if e.ExternalID == "" {
		return &ValidationError{Field: "external_id", Reason: "required"}
	}
	if e.SourcePostID == "" {
		return &ValidationError{Field: "source_post_id", Reason: "required"}
	}
	if e.LikeCount < 0 {
		return &ValidationError{Field: "like_count", Reason: "must not be negative"}
	}
	return nil
}

package models

import "database/sql/driver"

// PostState is the publishing lifecycle state of a Post
type PostState uint8

const (
	PostDraft PostState = iota + 1
	PostScheduled
	PostPublished
	PostFailed
)

var postStates = enumSpec[PostState]{
	kind: "post state",
	names: map[PostState]string{
		PostDraft:     "draft",
		PostScheduled: "scheduled",
		PostPublished: "published",
		PostFailed:    "failed",
	},
}

func (s PostState) String() string                { return postStates.name(s) }
func (s PostState) Value() (driver.Value, error)  { return postStates.value(s) }
func (s *PostState) Scan(src any) error           { return postStates.scan(s, src) }
func (s PostState) MarshalText() ([]byte, error)  { return postStates.marshal(s) }
func (s *PostState) UnmarshalText(b []byte) error { return postStates.unmarshal(s, b) }
func (PostState) GormDataType() string            { return "string" }

// CanTransition reports whether from -> to is a legal lifecycle step.
// scheduled -> scheduled is the retry path (bumped retry count, later scheduled_at).
func (s PostState) CanTransition(to PostState) bool {
	switch s {
	case PostDraft:
		return to == PostScheduled
	case PostScheduled:
		switch to {
		case PostScheduled, PostPublished, PostFailed:
			return true
		}
		return false
	case PostPublished, PostFailed:
		return false
	}
	return false
}

// ReplyStatus is the delivery state of an AutoReply
type ReplyStatus uint8

const (
	ReplyPending ReplyStatus = iota + 1
	ReplyWaitingLikes
	ReplySent
	ReplyFailed
)

var replyStatuses = enumSpec[ReplyStatus]{
	kind: "reply status",
	names: map[ReplyStatus]string{
		ReplyPending:      "pending",
		ReplyWaitingLikes: "waitingLikes",
		ReplySent:         "sent",
		ReplyFailed:       "failed",
	},
}

// ParseReplyStatus parses the database/wire name of a reply status
func ParseReplyStatus(s string) (ReplyStatus, error) { return replyStatuses.parse(s) }

func (s ReplyStatus) String() string                { return replyStatuses.name(s) }
func (s ReplyStatus) Value() (driver.Value, error)  { return replyStatuses.value(s) }
func (s *ReplyStatus) Scan(src any) error           { return replyStatuses.scan(s, src) }
func (s ReplyStatus) MarshalText() ([]byte, error)  { return replyStatuses.marshal(s) }
func (s *ReplyStatus) UnmarshalText(b []byte) error { return replyStatuses.unmarshal(s, b) }
func (ReplyStatus) GormDataType() string            { return "string" }

// CanTransition reports whether from -> to is a legal reply step
func (s ReplyStatus) CanTransition(to ReplyStatus) bool {
	switch s {
	case ReplyWaitingLikes:
		return to == ReplyPending
	case ReplyPending:
		return to == ReplySent || to == ReplyFailed
	case ReplySent, ReplyFailed:
		return false
	}
	return false
}

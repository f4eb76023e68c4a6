package models

import (
	"database/sql/driver"
	"time"

	"gorm.io/datatypes"
)

// TriggerType is the kind of audience interaction an Event carries
type TriggerType uint8

const (
	TriggerReply TriggerType = iota + 1
	TriggerRepost
	TriggerQuote
	TriggerLike
)

var triggerTypes = enumSpec[TriggerType]{
	kind: "trigger type",
	names: map[TriggerType]string{
		TriggerReply:  "reply",
		TriggerRepost: "repost",
		TriggerQuote:  "quote",
		TriggerLike:   "like",
	},
}

func (t TriggerType) String() string                { return triggerTypes.name(t) }
func (t TriggerType) Value() (driver.Value, error)  { return triggerTypes.value(t) }
func (t *TriggerType) Scan(src any) error           { return triggerTypes.scan(t, src) }
func (t TriggerType) MarshalText() ([]byte, error)  { return triggerTypes.marshal(t) }
func (t *TriggerType) UnmarshalText(b []byte) error { return triggerTypes.unmarshal(t, b) }
func (TriggerType) GormDataType() string            { return "string" }

// KeywordCondition combines per-keyword results. The zero value disables the predicate.
type KeywordCondition uint8

const (
	ConditionDisabled KeywordCondition = iota
	ConditionAll
	ConditionAny
	ConditionNone
)

var keywordConditions = enumSpec[KeywordCondition]{
	kind: "keyword condition",
	names: map[KeywordCondition]string{
		ConditionDisabled: "disabled",
		ConditionAll:      "all",
		ConditionAny:      "any",
		ConditionNone:     "none",
	},
}

func (c KeywordCondition) String() string                { return keywordConditions.name(c) }
func (c KeywordCondition) Value() (driver.Value, error)  { return keywordConditions.value(c) }
func (c *KeywordCondition) Scan(src any) error           { return keywordConditions.scan(c, src) }
func (c KeywordCondition) MarshalText() ([]byte, error)  { return keywordConditions.marshal(c) }
func (c *KeywordCondition) UnmarshalText(b []byte) error { return keywordConditions.unmarshal(c, b) }
func (KeywordCondition) GormDataType() string            { return "string" }

// MatchType selects how a single keyword is compared. The zero value is partial.
type MatchType uint8

const (
	MatchPartial MatchType = iota
	MatchExact
)

var matchTypes = enumSpec[MatchType]{
	kind: "match type",
	names: map[MatchType]string{
		MatchPartial: "partial",
		MatchExact:   "exact",
	},
}

func (m MatchType) String() string                { return matchTypes.name(m) }
func (m MatchType) Value() (driver.Value, error)  { return matchTypes.value(m) }
func (m *MatchType) Scan(src any) error           { return matchTypes.scan(m, src) }
func (m MatchType) MarshalText() ([]byte, error)  { return matchTypes.marshal(m) }
func (m *MatchType) UnmarshalText(b []byte) error { return matchTypes.unmarshal(m, b) }
func (MatchType) GormDataType() string            { return "string" }

// TimingType decides when a matched reply is sent. The zero value is immediate.
type TimingType uint8

const (
	TimingImmediate TimingType = iota
	TimingDelayed
	TimingLikeThreshold
)

var timingTypes = enumSpec[TimingType]{
	kind: "timing type",
	names: map[TimingType]string{
		TimingImmediate:     "immediate",
		TimingDelayed:       "delayed",
		TimingLikeThreshold: "likeThreshold",
	},
}

func (t TimingType) String() string                { return timingTypes.name(t) }
func (t TimingType) Value() (driver.Value, error)  { return timingTypes.value(t) }
func (t *TimingType) Scan(src any) error           { return timingTypes.scan(t, src) }
func (t TimingType) MarshalText() ([]byte, error)  { return timingTypes.marshal(t) }
func (t *TimingType) UnmarshalText(b []byte) error { return timingTypes.unmarshal(t, b) }
func (TimingType) GormDataType() string            { return "string" }

// AutoReplyRule is a user-defined rule answering audience interactions
type AutoReplyRule struct {
	ID        string `gorm:"primaryKey;size:36;column:id" json:"id"`
	AccountID string `gorm:"size:36;not null;index:ix_rules_account,priority:1;column:account_id" json:"account_id"`
	Name      string `gorm:"size:128;not null;column:name" json:"name"`
	IsActive  bool   `gorm:"not null;column:is_active" json:"is_active"`
	Priority  int    `gorm:"not null;index:ix_rules_account,priority:2;column:priority" json:"priority"`

	TriggerOn datatypes.JSONSlice[TriggerType] `gorm:"column:trigger_on" json:"trigger_on"`

	KeywordCondition KeywordCondition            `gorm:"size:16;not null;column:keyword_condition" json:"keyword_condition"`
	Keywords         datatypes.JSONSlice[string] `gorm:"column:keywords" json:"keywords"`
	MatchType        MatchType                   `gorm:"size:16;not null;column:match_type" json:"match_type"`

	HashtagCondition KeywordCondition            `gorm:"size:16;not null;column:hashtag_condition" json:"hashtag_condition"`
	Hashtags         datatypes.JSONSlice[string] `gorm:"column:hashtags" json:"hashtags"`
	HashtagMatchType MatchType                   `gorm:"size:16;not null;column:hashtag_match_type" json:"hashtag_match_type"`

	FilterStartDate *time.Time `gorm:"column:filter_start_date" json:"filter_start_date,omitempty"`
	FilterEndDate   *time.Time `gorm:"column:filter_end_date" json:"filter_end_date,omitempty"`

	TimingType    TimingType `gorm:"size:16;not null;column:timing_type" json:"timing_type"`
	DelayMinutes  int        `gorm:"not null;default:0;column:delay_minutes" json:"delay_minutes"`
	LikeThreshold int64      `gorm:"not null;default:0;column:like_threshold" json:"like_threshold"`

	ReplyText  string                        `gorm:"type:text;not null;column:reply_text" json:"reply_text"`
	ReplyMedia datatypes.JSONSlice[MediaRef] `gorm:"column:reply_media" json:"reply_media,omitempty"`

	CreatedAt time.Time `gorm:"not null;column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;column:updated_at" json:"updated_at"`
}

// TableName specifies the table name for AutoReplyRule
func (AutoReplyRule) TableName() string {
	return "auto_reply_rules"
}

// Triggers reports whether the rule listens to the given interaction type
func (r *AutoReplyRule) Triggers(t TriggerType) bool {
	for _, on := range r.TriggerOn {
		if on == t {
			return true
		}
	}
	return false
}

// InWindow reports whether at falls inside the rule's optional validity window (inclusive)
func (r *AutoReplyRule) InWindow(at time.Time) bool {
	if r.FilterStartDate != nil && at.Before(*r.FilterStartDate) {
		return false
	}
	if r.FilterEndDate != nil && at.After(*r.FilterEndDate) {
		return false
	}
	return true
}

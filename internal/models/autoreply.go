package models

import (
	"time"
)

// AutoReply is one reply produced by a rule for one triggering interaction
type AutoReply struct {
	ID        string  `gorm:"primaryKey;size:36;column:id" json:"id"`
	AccountID string  `gorm:"size:36;not null;index:ix_replies_account;column:account_id" json:"account_id"`
	RuleID    string  `gorm:"size:36;not null;uniqueIndex:ux_replies_rule_trigger,priority:1;column:rule_id" json:"rule_id"`
	PostID    *string `gorm:"size:36;column:post_id" json:"post_id,omitempty"`

	SourcePostID      string      `gorm:"size:64;not null;index:ix_replies_source;column:source_post_id" json:"source_post_id"`
	TriggerType       TriggerType `gorm:"size:16;not null;column:trigger_type" json:"trigger_type"`
	TriggerUserID     string      `gorm:"size:64;not null;column:trigger_user_id" json:"trigger_user_id"`
	TriggerUsername   string      `gorm:"size:64;not null;column:trigger_username" json:"trigger_username"`
	TriggerText       *string     `gorm:"type:text;column:trigger_text" json:"trigger_text,omitempty"`
	TriggerExternalID string      `gorm:"size:64;not null;uniqueIndex:ux_replies_rule_trigger,priority:2;column:trigger_external_id" json:"trigger_external_id"`

	ReplyStatus     ReplyStatus `gorm:"size:16;not null;index:ix_replies_due,priority:1;column:reply_status" json:"reply_status"`
	ReplyText       string      `gorm:"type:text;not null;column:reply_text" json:"reply_text"`
	ReplyExternalID *string     `gorm:"size:64;column:reply_external_id" json:"reply_external_id,omitempty"`
	ScheduledSendAt *time.Time  `gorm:"index:ix_replies_due,priority:2;column:scheduled_send_at" json:"scheduled_send_at,omitempty"`
	SentAt          *time.Time  `gorm:"column:sent_at" json:"sent_at,omitempty"`
	ErrorMessage    *string     `gorm:"type:text;column:error_message" json:"error_message,omitempty"`
	LikeThreshold   int64       `gorm:"not null;default:0;column:like_threshold" json:"like_threshold,omitempty"`
	LikesCheckedAt  *time.Time  `gorm:"column:likes_checked_at" json:"likes_checked_at,omitempty"`

	Lease Lease `gorm:"embedded;embeddedPrefix:claim_" json:"-"`

	CreatedAt time.Time `gorm:"not null;column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;column:updated_at" json:"updated_at"`
}

// TableName specifies the table name for AutoReply
func (AutoReply) TableName() string {
	return "auto_replies"
}

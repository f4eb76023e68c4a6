package models

import (
	"time"

	"gorm.io/datatypes"
)

// Post is a piece of content scheduled for publication on an account
type Post struct {
	ID        string                        `gorm:"primaryKey;size:36;column:id" json:"id"`
	AccountID string                        `gorm:"size:36;not null;uniqueIndex:ux_posts_account_external,priority:1;index:ix_posts_account;column:account_id" json:"account_id"`
	Caption   string                        `gorm:"type:text;not null;column:caption" json:"caption"`
	Media     datatypes.JSONSlice[MediaRef] `gorm:"column:media" json:"media,omitempty"`

	State       PostState  `gorm:"size:16;not null;index:ix_posts_due,priority:1;column:state" json:"state"`
	ScheduledAt *time.Time `gorm:"index:ix_posts_due,priority:2;column:scheduled_at" json:"scheduled_at,omitempty"`
	PublishedAt *time.Time `gorm:"column:published_at" json:"published_at,omitempty"`

	ExternalPostID *string `gorm:"size:64;uniqueIndex:ux_posts_account_external,priority:2;column:external_post_id" json:"external_post_id,omitempty"`
	Permalink      *string `gorm:"type:text;column:permalink" json:"permalink,omitempty"`
	DuplicateOf    *string `gorm:"size:36;column:duplicate_of" json:"duplicate_of,omitempty"`

	RetryCount   int     `gorm:"not null;default:0;column:retry_count" json:"retry_count"`
	ErrorMessage *string `gorm:"type:text;column:error_message" json:"error_message,omitempty"`

	Metrics      Metrics `gorm:"embedded;embeddedPrefix:metric_" json:"metrics"`
	Lease        Lease   `gorm:"embedded;embeddedPrefix:claim_" json:"-"`
	MetricsLease Lease   `gorm:"embedded;embeddedPrefix:metrics_claim_" json:"-"`

	CreatedAt time.Time `gorm:"not null;column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;column:updated_at" json:"updated_at"`
}

// TableName specifies the table name for Post
func (Post) TableName() string {
	return "posts"
}

// Metrics holds engagement counters pulled from the platform. SyncedAt is nil until the first sync.
type Metrics struct {
	Likes    int64      `gorm:"not null;default:0;column:likes" json:"likes"`
	Comments int64      `gorm:"not null;default:0;column:comments" json:"comments"`
	Reposts  int64      `gorm:"not null;default:0;column:reposts" json:"reposts"`
	Quotes   int64      `gorm:"not null;default:0;column:quotes" json:"quotes"`
	SyncedAt *time.Time `gorm:"column:synced_at" json:"synced_at,omitempty"`
}

// Synced reports whether metrics have been fetched at least once
func (m Metrics) Synced() bool {
	return m.SyncedAt != nil
}

// SameCounts reports whether both snapshots carry identical counters
func (m Metrics) SameCounts(o Metrics) bool {
	return m.Likes == o.Likes && m.Comments == o.Comments && m.Reposts == o.Reposts && m.Quotes == o.Quotes
}

package models

import (
	"time"
)

// Account is a connected platform account. AccessToken is refreshed outside this service.
type Account struct {
	ID             string     `gorm:"primaryKey;size:36;column:id" json:"id"`
	ExternalUserID string     `gorm:"size:64;not null;uniqueIndex:ux_accounts_external_user;column:external_user_id" json:"external_user_id"`
	Handle         string     `gorm:"size:64;not null;column:handle" json:"handle"`
	AccessToken    string     `gorm:"type:text;not null;column:access_token" json:"-"`
	TokenExpiresAt *time.Time `gorm:"column:token_expires_at" json:"token_expires_at,omitempty"`
	CreatedAt      time.Time  `gorm:"not null;column:created_at" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"not null;column:updated_at" json:"updated_at"`
}

// TableName specifies the table name for Account
func (Account) TableName() string {
	return "accounts"
}

// TokenExpired reports whether the stored credential is known to be expired at now
func (a *Account) TokenExpired(now time.Time) bool {
	return a.TokenExpiresAt != nil && !a.TokenExpiresAt.After(now)
}

package models

import "time"

// Lease is the mutual-exclusion token a worker holds on a row while processing it.
// A lease with an Until in the past is free again, so a crashed worker never strands a row.
type Lease struct {
	Owner string     `gorm:"size:96;not null;default:'';column:owner" json:"-"`
	Until *time.Time `gorm:"column:until" json:"-"`
}

// Held reports whether some worker holds the lease at now
func (l Lease) Held(now time.Time) bool {
	return l.Owner != "" && l.Until != nil && l.Until.After(now)
}

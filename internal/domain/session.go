// Package domain defines the data model of the session synchronization
// core: sessions, participants, log events and the views derived from
// folding them.
package domain

import "time"

// Session is the durable record of one meeting session. The live
// replicated state (log, membership, views) is owned by the session
// coordinator; this record only anchors identity and join-by-code.
type Session struct {
	ID         string    `gorm:"primaryKey;size:64"`
	CreatorID  string    `gorm:"size:64;index;not null"`
	InviteCode string    `gorm:"uniqueIndex;size:191;not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	LastActive time.Time `gorm:"index"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

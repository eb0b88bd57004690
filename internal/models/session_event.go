package models

import "time"

// SessionEvent is an audit row describing one change to a session. Rows are
// write-only history for operators; session state is never rebuilt from them.
type SessionEvent struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID int64  `gorm:"not null;index"`
	Kind      string `gorm:"size:32;not null;index"`
	ActorID   string `gorm:"size:128"`
	ActorName string `gorm:"size:128"`
	Title     string `gorm:"size:256"`
	Members   int
	Capacity  int
	Status    string `gorm:"size:16"`
	CreatedAt time.Time
}

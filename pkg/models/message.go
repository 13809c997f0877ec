package models

import (
	"database/sql"
	"time"
)

// Message is one normalized inbound item in the unified inbox.
// Immutable after creation except the read flag.
type Message struct {
	ID         int64          `db:"id"`
	UserID     int64          `db:"user_id"`
	ContactID  int64          `db:"contact_id"`
	Source     Provider       `db:"source"`
	ExternalID sql.NullString `db:"external_id"` // (user, source, external_id) is the dedup key
	Sender     string         `db:"sender"`
	Subject    string         `db:"subject"`
	Body       string         `db:"body"`
	Preview    string         `db:"preview"`
	ReceivedAt time.Time      `db:"received_at"`
	IsRead     bool           `db:"is_read"`
	Summary    sql.NullString `db:"summary"`
	CreatedAt  time.Time      `db:"created_at"`
}

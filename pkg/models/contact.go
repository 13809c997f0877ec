package models

import "time"

// Contact is a deduplicated sender identity scoped to a user.
// Created lazily on the first message from a handle.
type Contact struct {
	ID            int64      `db:"id"`
	UserID        int64      `db:"user_id"`
	Handle        string     `db:"handle"` // unique per user
	Name          string     `db:"name"`
	AvatarURL     string     `db:"avatar_url"`
	LastMessageAt *time.Time `db:"last_message_at"` // advanced, never regressed
	CreatedAt     time.Time  `db:"created_at"`
}

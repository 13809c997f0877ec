package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/TTAWDTT/MercuryDesk-sub000/pkg/models"
)

// CreateMessage inserts a message, deduplicating on (user, source,
// external_id) when an external id is present. It returns false without
// touching the existing row when the message is a duplicate. Messages without
// an external id are always inserted. skipDedupCheck uses a plain insert for
// callers that already know the record is new; a duplicate then surfaces as a
// constraint error instead of being skipped.
func (db *DB) CreateMessage(ctx context.Context, msg *models.Message, skipDedupCheck bool) (bool, error) {
	verb := "INSERT OR IGNORE"
	if skipDedupCheck || !msg.ExternalID.Valid {
		verb = "INSERT"
	}
	query := verb + ` INTO messages (user_id, contact_id, source, external_id, sender, subject, body, preview, received_at, is_read, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, query,
		msg.UserID,
		msg.ContactID,
		msg.Source,
		msg.ExternalID,
		msg.Sender,
		msg.Subject,
		msg.Body,
		msg.Preview,
		msg.ReceivedAt,
		msg.IsRead,
		msg.Summary,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create message: %w", err)
	}

	// Check if row was actually inserted (not ignored due to duplicate)
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to get last insert id: %w", err)
	}

	msg.ID = id
	msg.CreatedAt = now
	return true, nil
}

// GetMessageByID returns a message by ID
func (db *DB) GetMessageByID(ctx context.Context, id int64) (*models.Message, error) {
	var msg models.Message
	query := `SELECT * FROM messages WHERE id = ?`
	err := db.GetContext(ctx, &msg, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// ListMessagesByUser returns the unified inbox: a user's messages, newest
// first, bounded by limit
func (db *DB) ListMessagesByUser(ctx context.Context, userID int64, limit int) ([]*models.Message, error) {
	var msgs []*models.Message
	query := `SELECT * FROM messages WHERE user_id = ? ORDER BY received_at DESC LIMIT ?`
	err := db.SelectContext(ctx, &msgs, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// ListMessagesByContact returns a user's messages from one contact, newest first
func (db *DB) ListMessagesByContact(ctx context.Context, userID, contactID int64, limit int) ([]*models.Message, error) {
	var msgs []*models.Message
	query := `SELECT * FROM messages WHERE user_id = ? AND contact_id = ? ORDER BY received_at DESC LIMIT ?`
	err := db.SelectContext(ctx, &msgs, query, userID, contactID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list contact messages: %w", err)
	}
	return msgs, nil
}

// CountMessagesByUser returns the total number of persisted messages for a user
func (db *DB) CountMessagesByUser(ctx context.Context, userID int64) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM messages WHERE user_id = ?`
	err := db.GetContext(ctx, &count, query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// MarkMessageRead marks a message as read
func (db *DB) MarkMessageRead(ctx context.Context, id int64) error {
	query := `UPDATE messages SET is_read = true WHERE id = ?`
	_, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	return nil
}

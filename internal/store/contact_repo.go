package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/TTAWDTT/MercuryDesk-sub000/pkg/models"
)

// UpsertContact creates a contact for (user, handle) or returns the existing
// one. The display name is only replaced when the observed value is non-empty
// and differs from the stored one; an empty avatar never clears a stored one.
func (db *DB) UpsertContact(ctx context.Context, userID int64, handle, name, avatarURL string) (*models.Contact, error) {
	query := `
		INSERT INTO contacts (user_id, handle, name, avatar_url, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, handle) DO UPDATE SET
			name = CASE WHEN excluded.name != '' AND excluded.name != contacts.name THEN excluded.name ELSE contacts.name END,
			avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE contacts.avatar_url END
	`
	_, err := db.ExecContext(ctx, query, userID, handle, name, avatarURL, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to upsert contact: %w", err)
	}

	return db.GetContactByHandle(ctx, userID, handle)
}

// GetContactByHandle returns a contact by (user, handle)
func (db *DB) GetContactByHandle(ctx context.Context, userID int64, handle string) (*models.Contact, error) {
	var contact models.Contact
	query := `SELECT * FROM contacts WHERE user_id = ? AND handle = ?`
	err := db.GetContext(ctx, &contact, query, userID, handle)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return &contact, nil
}

// GetContactByID returns a contact by ID
func (db *DB) GetContactByID(ctx context.Context, id int64) (*models.Contact, error) {
	var contact models.Contact
	query := `SELECT * FROM contacts WHERE id = ?`
	err := db.GetContext(ctx, &contact, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return &contact, nil
}

// ListContactsByUser returns the sender-centric view: a user's contacts
// ordered by most recent message first
func (db *DB) ListContactsByUser(ctx context.Context, userID int64) ([]*models.Contact, error) {
	var contacts []*models.Contact
	query := `SELECT * FROM contacts WHERE user_id = ? ORDER BY last_message_at DESC`
	err := db.SelectContext(ctx, &contacts, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	return contacts, nil
}

// TouchContactLastMessage advances last_message_at, never regressing it
func (db *DB) TouchContactLastMessage(ctx context.Context, contactID int64, receivedAt time.Time) error {
	query := `
		UPDATE contacts SET last_message_at = ?
		WHERE id = ? AND (last_message_at IS NULL OR last_message_at < ?)
	`
	_, err := db.ExecContext(ctx, query, receivedAt, contactID, receivedAt)
	if err != nil {
		return fmt.Errorf("failed to touch contact last message: %w", err)
	}
	return nil
}

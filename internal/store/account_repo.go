package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/TTAWDTT/MercuryDesk-sub000/pkg/models"
)

// CreateAccount creates a new connected account
func (db *DB) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (user_id, provider, identifier, credentials, last_synced_at, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, query,
		account.UserID,
		account.Provider,
		account.Identifier,
		account.Credentials,
		account.LastSyncedAt,
		account.IsActive,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	account.ID = id
	account.CreatedAt = now
	account.UpdatedAt = now
	return nil
}

// GetAccountByID returns an account by ID
func (db *DB) GetAccountByID(ctx context.Context, id int64) (*models.Account, error) {
	var account models.Account
	query := `SELECT * FROM accounts WHERE id = ?`
	err := db.GetContext(ctx, &account, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// GetAccountsByUser returns all accounts connected by a user
func (db *DB) GetAccountsByUser(ctx context.Context, userID int64) ([]*models.Account, error) {
	var accounts []*models.Account
	query := `SELECT * FROM accounts WHERE user_id = ? ORDER BY created_at DESC`
	err := db.SelectContext(ctx, &accounts, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get accounts: %w", err)
	}
	return accounts, nil
}

// GetAllActiveAccounts returns all active accounts across users
func (db *DB) GetAllActiveAccounts(ctx context.Context) ([]*models.Account, error) {
	var accounts []*models.Account
	query := `SELECT * FROM accounts WHERE is_active = true`
	err := db.SelectContext(ctx, &accounts, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get active accounts: %w", err)
	}
	return accounts, nil
}

// TouchAccountSync sets the account watermark to the current time
func (db *DB) TouchAccountSync(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	query := `UPDATE accounts SET last_synced_at = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to touch account sync: %w", err)
	}
	return nil
}

// SetAccountActive sets the active status of an account
func (db *DB) SetAccountActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE accounts SET is_active = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set account active: %w", err)
	}
	return nil
}

// DeleteAccount deletes an account and the messages ingested from it. A
// contact left without any messages is removed as well.
func (db *DB) DeleteAccount(ctx context.Context, id int64) error {
	account, err := db.GetAccountByID(ctx, id)
	if err != nil {
		return err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE user_id = ? AND source = ?`,
		account.UserID, account.Provider,
	); err != nil {
		return fmt.Errorf("failed to delete account messages: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM contacts WHERE user_id = ? AND id NOT IN (SELECT contact_id FROM messages WHERE user_id = ?)`,
		account.UserID, account.UserID,
	); err != nil {
		return fmt.Errorf("failed to delete orphaned contacts: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

package syncer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TTAWDTT/MercuryDesk-sub000/internal/connector"
	"github.com/TTAWDTT/MercuryDesk-sub000/internal/preview"
	"github.com/TTAWDTT/MercuryDesk-sub000/pkg/models"
)

// Store is the persistence collaborator. Every call is assumed transactional.
type Store interface {
	UpsertContact(ctx context.Context, userID int64, handle, name, avatarURL string) (*models.Contact, error)
	CreateMessage(ctx context.Context, msg *models.Message, skipDedupCheck bool) (bool, error)
	TouchContactLastMessage(ctx context.Context, contactID int64, receivedAt time.Time) error
	TouchAccountSync(ctx context.Context, accountID int64) error
}

// Resolver resolves the concrete connector for an account.
type Resolver interface {
	ConnectorFor(account *models.Account, creds string) (connector.Connector, error)
}

// Engine runs synchronization passes: one connector against one account's
// watermark, with backfill fallback and dedup-safe persistence.
type Engine struct {
	store     Store
	resolver  Resolver
	previewer *preview.Extractor
	decrypt   func(string) string
	logger    *slog.Logger
}

// Option customizes an engine.
type Option func(*Engine)

// WithDecryptFunc sets the credential decryption hook. Encryption-at-rest is
// owned by the caller; the engine only needs the inverse transform.
func WithDecryptFunc(fn func(string) string) Option {
	return func(e *Engine) {
		e.decrypt = fn
	}
}

// New creates a sync engine
func New(store Store, resolver Resolver, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		resolver:  resolver,
		previewer: preview.NewExtractor(),
		logger:    logger.With("component", "syncer"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SyncAccount runs exactly one synchronization pass for an account and
// returns the number of newly inserted messages. Any connector or persistence
// error aborts the pass with the watermark untouched, so a retry is always
// safe. forceFull ignores the stored watermark and requests a full backfill;
// dedup keeps that idempotent.
func (e *Engine) SyncAccount(ctx context.Context, account *models.Account, forceFull bool) (int, error) {
	creds := account.Credentials
	if e.decrypt != nil && creds != "" {
		creds = e.decrypt(creds)
	}

	conn, err := e.resolver.ConnectorFor(account, creds)
	if err != nil {
		return 0, fmt.Errorf("sync account %d: %w", account.ID, err)
	}

	since := account.LastSyncedAt
	if forceFull {
		since = nil
	}

	records, err := conn.FetchNewMessages(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("sync account %d: %w", account.ID, err)
	}

	// Backfill escape hatch: an empty incremental result may mean the
	// upstream's since-filtering is unreliable or its id scheme changed.
	// Retry once without the watermark; dedup makes the replay harmless.
	// Never recurses.
	if len(records) == 0 && since != nil {
		e.logger.Info("empty incremental result, retrying with full backfill",
			"account_id", account.ID, "provider", account.Provider)
		records, err = conn.FetchNewMessages(ctx, nil)
		if err != nil {
			return 0, fmt.Errorf("sync account %d backfill: %w", account.ID, err)
		}
		// Backfill results must not be watermark-filtered.
		since = nil
	}

	inserted := 0
	for _, rec := range records {
		// The engine, not the connector, is the watermark filtering authority.
		if since != nil && !rec.ReceivedAt.After(*since) {
			continue
		}
		ok, err := e.persistRecord(ctx, account.UserID, rec)
		if err != nil {
			return 0, fmt.Errorf("sync account %d: %w", account.ID, err)
		}
		if ok {
			inserted++
		}
	}

	if err := e.store.TouchAccountSync(ctx, account.ID); err != nil {
		return 0, fmt.Errorf("sync account %d: advance watermark: %w", account.ID, err)
	}

	e.logger.Info("sync complete",
		"account_id", account.ID, "provider", account.Provider,
		"fetched", len(records), "inserted", inserted)
	return inserted, nil
}

// Ingest is the inbound-push path used by relay-forward accounts: one record
// through the same contact-upsert and dedup-insert discipline, with no
// watermark involvement. Returns whether a new message row was created.
func (e *Engine) Ingest(ctx context.Context, userID int64, rec models.IncomingRecord) (bool, error) {
	if rec.Sender == "" {
		return false, errors.New("ingest: record has no sender")
	}
	if rec.Source == "" {
		rec.Source = models.ProviderForward
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	return e.persistRecord(ctx, userID, rec)
}

// persistRecord upserts the sender's contact, dedup-inserts the message and
// advances the contact's last-message-at.
func (e *Engine) persistRecord(ctx context.Context, userID int64, rec models.IncomingRecord) (bool, error) {
	contact, err := e.store.UpsertContact(ctx, userID, rec.Sender, rec.SenderName, rec.AvatarURL)
	if err != nil {
		return false, err
	}

	var externalID sql.NullString
	if rec.ExternalID != "" {
		externalID = sql.NullString{String: rec.ExternalID, Valid: true}
	}

	msg := &models.Message{
		UserID:     userID,
		ContactID:  contact.ID,
		Source:     rec.Source,
		ExternalID: externalID,
		Sender:     rec.Sender,
		Subject:    rec.Subject,
		Body:       rec.Body,
		Preview:    e.previewer.Snippet(rec.Body, preview.DefaultLength),
		ReceivedAt: rec.ReceivedAt.UTC(),
	}

	inserted, err := e.store.CreateMessage(ctx, msg, false)
	if err != nil {
		return false, err
	}

	if err := e.store.TouchContactLastMessage(ctx, contact.ID, msg.ReceivedAt); err != nil {
		return false, err
	}
	return inserted, nil
}

package models

import "time"

// Provider identifies the kind of external source an account syncs from.
type Provider string

const (
	ProviderIMAP      Provider = "imap"      // mailbox protocol over TLS
	ProviderGmail     Provider = "gmail"     // OAuth mail API
	ProviderForge     Provider = "forge"     // code-forge notification API
	ProviderFeed      Provider = "feed"      // RSS/Atom syndication
	ProviderSocial    Provider = "social"    // scraped social platform
	ProviderSynthetic Provider = "synthetic" // scripted records for demo/tests
	ProviderForward   Provider = "forward"   // relay-forward, push-only
)

// Valid reports whether p names a known provider kind.
func (p Provider) Valid() bool {
	switch p {
	case ProviderIMAP, ProviderGmail, ProviderForge, ProviderFeed,
		ProviderSocial, ProviderSynthetic, ProviderForward:
		return true
	}
	return false
}

// Pollable reports whether accounts of this kind are synced by pulling.
// Relay-forward accounts only receive messages through the inbound push path.
func (p Provider) Pollable() bool {
	return p.Valid() && p != ProviderForward
}

// Account represents one connected external source
type Account struct {
	ID           int64      `db:"id"`
	UserID       int64      `db:"user_id"`
	Provider     Provider   `db:"provider"`
	Identifier   string     `db:"identifier"`     // address, handle, or feed URL
	Credentials  string     `db:"credentials"`    // encrypted blob, may be empty
	LastSyncedAt *time.Time `db:"last_synced_at"` // nil means never synced
	IsActive     bool       `db:"is_active"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

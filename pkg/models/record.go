package models

import "time"

// IncomingRecord is the normalized output of a connector fetch. It is never
// persisted directly; the sync engine routes it through contact upsert and
// message dedup-insert.
type IncomingRecord struct {
	Source     Provider
	ExternalID string // empty means the source has no stable id
	Sender     string // handle the contact is keyed on
	SenderName string
	Subject    string
	Body       string
	ReceivedAt time.Time
	AvatarURL  string
}

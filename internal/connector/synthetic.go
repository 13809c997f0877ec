package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/TTAWDTT/MercuryDesk-sub000/pkg/models"
)

// syntheticRecord is the scripted shape accepted in account credentials.
type syntheticRecord struct {
	ExternalID string    `json:"external_id"`
	Sender     string    `json:"sender"`
	SenderName string    `json:"sender_name"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// SyntheticConnector replays a scripted record list. Used for demo accounts
// and as a deterministic source in tests.
type SyntheticConnector struct {
	records []models.IncomingRecord
	opts    Options
}

// NewSyntheticConnector builds a connector from the scripted records in the
// account credentials blob. An empty blob yields an empty source.
func NewSyntheticConnector(account *models.Account, creds string, opts Options, _ *slog.Logger) (Connector, error) {
	opts = opts.withDefaults()

	var scripted []syntheticRecord
	if creds != "" {
		if err := json.Unmarshal([]byte(creds), &scripted); err != nil {
			return nil, fmt.Errorf("synthetic script unreadable: %w", err)
		}
	}

	records := make([]models.IncomingRecord, 0, len(scripted))
	for _, s := range scripted {
		externalID := s.ExternalID
		if externalID == "" {
			externalID = SynthesizeID(s.Sender, s.Subject, s.Body)
		}
		sender := s.Sender
		if sender == "" {
			sender = "synthetic@" + account.Identifier
		}
		records = append(records, models.IncomingRecord{
			Source:     models.ProviderSynthetic,
			ExternalID: externalID,
			Sender:     sender,
			SenderName: s.SenderName,
			Subject:    s.Subject,
			Body:       s.Body,
			ReceivedAt: normalizeTime(s.ReceivedAt, opts.Now),
		})
	}

	return &SyntheticConnector{records: records, opts: opts}, nil
}

// Name returns the connector identifier.
func (c *SyntheticConnector) Name() string { return "synthetic" }

// FetchNewMessages replays the script, honoring the since cut and item cap.
func (c *SyntheticConnector) FetchNewMessages(_ context.Context, since *time.Time) ([]models.IncomingRecord, error) {
	var out []models.IncomingRecord
	for _, rec := range c.records {
		if len(out) >= c.opts.MaxItems {
			break
		}
		if since != nil && !rec.ReceivedAt.After(*since) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

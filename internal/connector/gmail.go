package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/TTAWDTT/MercuryDesk-sub000/pkg/models"
)

// GmailConnector fetches an OAuth mail account through the Gmail API.
type GmailConnector struct {
	token  *oauth2.Token
	opts   Options
	logger *slog.Logger

	// newService is swapped by tests to avoid real API clients
	newService func(ctx context.Context, token *oauth2.Token) (gmailService, error)
}

// gmailService is the slice of the Gmail API the connector uses.
type gmailService interface {
	ListMessages(ctx context.Context, query string, maxResults int64) ([]string, error)
	GetMessage(ctx context.Context, id string) (*gmail.Message, error)
}

// NewGmailConnector builds the OAuth mail connector for an account. The
// credentials blob is an oauth2 token; acquiring and refreshing it is the
// OAuth layer's job, not ours.
func NewGmailConnector(account *models.Account, creds string, opts Options, logger *slog.Logger) (Connector, error) {
	if creds == "" {
		return nil, fmt.Errorf("%w: gmail account %s has no oauth token", ErrMissingCredentials, account.Identifier)
	}
	var token oauth2.Token
	if err := json.Unmarshal([]byte(creds), &token); err != nil {
		return nil, fmt.Errorf("%w: gmail oauth token unreadable: %v", ErrMissingCredentials, err)
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: gmail account %s oauth token is empty", ErrMissingCredentials, account.Identifier)
	}

	return &GmailConnector{
		token:      &token,
		opts:       opts.withDefaults(),
		logger:     logger,
		newService: newGmailService,
	}, nil
}

func newGmailService(ctx context.Context, token *oauth2.Token) (gmailService, error) {
	config := &oauth2.Config{Scopes: []string{gmail.GmailReadonlyScope}}
	httpClient := config.Client(ctx, token)

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return &liveGmailService{svc: svc}, nil
}

// Name returns the connector identifier.
func (c *GmailConnector) Name() string { return "gmail" }

// FetchNewMessages lists inbox messages after the watermark and maps their
// metadata to normalized records.
func (c *GmailConnector) FetchNewMessages(ctx context.Context, since *time.Time) ([]models.IncomingRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	svc, err := c.newService(ctx, c.token)
	if err != nil {
		return nil, &FetchError{Provider: models.ProviderGmail, Attempts: []Attempt{{Strategy: "connect", Err: err}}}
	}

	query := "in:inbox"
	if since != nil {
		// Gmail's after: operator takes a unix timestamp, second granularity
		query += " after:" + strconv.FormatInt(since.Unix(), 10)
	}

	ids, err := svc.ListMessages(ctx, query, int64(c.opts.MaxItems))
	if err != nil {
		return nil, &FetchError{Provider: models.ProviderGmail, Attempts: []Attempt{{Strategy: "list", Err: err}}}
	}

	var records []models.IncomingRecord
	for _, id := range ids {
		if len(records) >= c.opts.MaxItems {
			break
		}
		meta, err := svc.GetMessage(ctx, id)
		if err != nil {
			return nil, &FetchError{Provider: models.ProviderGmail, Attempts: []Attempt{{Strategy: "get", Err: fmt.Errorf("message %s: %w", id, err)}}}
		}
		records = append(records, c.normalize(meta))
	}

	return records, nil
}

func (c *GmailConnector) normalize(m *gmail.Message) models.IncomingRecord {
	rec := models.IncomingRecord{
		Source:     models.ProviderGmail,
		ExternalID: m.Id,
		Body:       m.Snippet,
	}

	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			switch h.Name {
			case "From":
				rec.Sender, rec.SenderName = splitAddress(h.Value)
			case "Subject":
				rec.Subject = h.Value
			}
		}
	}

	var received time.Time
	if m.InternalDate > 0 {
		received = time.UnixMilli(m.InternalDate)
	}
	rec.ReceivedAt = normalizeTime(received, c.opts.Now)

	if rec.Sender == "" {
		rec.Sender = "unknown@" + string(models.ProviderGmail)
	}
	return rec
}

// splitAddress parses "Name <addr>" style From headers
func splitAddress(value string) (addr, name string) {
	open := strings.LastIndex(value, "<")
	end := strings.LastIndex(value, ">")
	if open >= 0 && end > open {
		addr = strings.TrimSpace(value[open+1 : end])
		name = strings.Trim(strings.TrimSpace(value[:open]), `"`)
		return addr, name
	}
	return strings.TrimSpace(value), ""
}

type liveGmailService struct {
	svc *gmail.Service
}

func (s *liveGmailService) ListMessages(ctx context.Context, query string, maxResults int64) ([]string, error) {
	var ids []string
	call := s.svc.Users.Messages.List("me").Q(query).IncludeSpamTrash(false).MaxResults(maxResults)
	err := call.Pages(ctx, func(page *gmail.ListMessagesResponse) error {
		for _, m := range page.Messages {
			ids = append(ids, m.Id)
			if int64(len(ids)) >= maxResults {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *liveGmailService) GetMessage(ctx context.Context, id string) (*gmail.Message, error) {
	return s.svc.Users.Messages.Get("me", id).Format("metadata").Context(ctx).Do()
}

package connector

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"github.com/TTAWDTT/MercuryDesk-sub000/pkg/models"
)

// mailboxClient is the subset of the IMAP client the connector drives.
// *client.Client satisfies it; tests inject fakes through newClient.
type mailboxClient interface {
	Login(username, password string) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Logout() error
}

type imapCredentials struct {
	Password string `json:"password"`
	Server   string `json:"server,omitempty"` // host:port, resolved from the address when empty
}

// IMAPConnector fetches a mailbox-protocol account over TLS.
type IMAPConnector struct {
	address   string
	password  string
	server    string
	opts      Options
	logger    *slog.Logger
	newClient func(server string, timeout time.Duration) (mailboxClient, error)
}

// NewIMAPConnector builds the mailbox-protocol connector for an account.
func NewIMAPConnector(account *models.Account, creds string, opts Options, logger *slog.Logger) (Connector, error) {
	var c imapCredentials
	if creds == "" {
		return nil, fmt.Errorf("%w: imap account %s has no credentials", ErrMissingCredentials, account.Identifier)
	}
	if err := json.Unmarshal([]byte(creds), &c); err != nil {
		return nil, fmt.Errorf("%w: imap credentials unreadable: %v", ErrMissingCredentials, err)
	}
	if c.Password == "" {
		return nil, fmt.Errorf("%w: imap account %s has no password", ErrMissingCredentials, account.Identifier)
	}

	server := c.Server
	if server == "" {
		resolved, err := ResolveIMAPServer(account.Identifier)
		if err != nil {
			return nil, fmt.Errorf("%w: no server configured and none resolvable for %s: %v",
				ErrMissingCredentials, account.Identifier, err)
		}
		server = resolved
	}

	return &IMAPConnector{
		address:   account.Identifier,
		password:  c.Password,
		server:    server,
		opts:      opts.withDefaults(),
		logger:    logger,
		newClient: dialIMAP,
	}, nil
}

func dialIMAP(server string, timeout time.Duration) (mailboxClient, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", server, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	imapClient, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create IMAP client: %w", err)
	}
	return imapClient, nil
}

// Name returns the connector identifier.
func (c *IMAPConnector) Name() string { return "imap" }

// FetchNewMessages connects, searches the INBOX since the watermark date and
// maps each message to a normalized record.
func (c *IMAPConnector) FetchNewMessages(ctx context.Context, since *time.Time) ([]models.IncomingRecord, error) {
	cli, err := c.newClient(c.server, c.opts.Timeout)
	if err != nil {
		return nil, &FetchError{Provider: models.ProviderIMAP, Attempts: []Attempt{{Strategy: "dial", Err: err}}}
	}
	defer cli.Logout()

	if err := cli.Login(c.address, c.password); err != nil {
		return nil, &FetchError{Provider: models.ProviderIMAP, Attempts: []Attempt{{Strategy: "login", Err: err}}}
	}

	if _, err := cli.Select("INBOX", true); err != nil {
		return nil, &FetchError{Provider: models.ProviderIMAP, Attempts: []Attempt{{Strategy: "select", Err: err}}}
	}

	criteria := imap.NewSearchCriteria()
	if since != nil {
		// SINCE is date-granular; the engine re-filters by the exact watermark
		criteria.Since = since.UTC()
	}
	uids, err := cli.UidSearch(criteria)
	if err != nil {
		return nil, &FetchError{Provider: models.ProviderIMAP, Attempts: []Attempt{{Strategy: "search", Err: err}}}
	}
	if len(uids) == 0 {
		return nil, nil
	}

	// Keep only the newest MaxItems UIDs
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if len(uids) > c.opts.MaxItems {
		uids = uids[len(uids)-c.opts.MaxItems:]
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 100)
	done := make(chan error, 1)
	go func() {
		done <- cli.UidFetch(seqSet, items, messages)
	}()

	var records []models.IncomingRecord
	for msg := range messages {
		// Keep draining after cancellation so UidFetch never blocks on a
		// full channel; otherwise the fetch goroutine leaks and this call
		// hangs forever.
		if ctx.Err() != nil {
			continue
		}
		rec, err := c.normalize(msg, section)
		if err != nil {
			c.logger.Warn("failed to parse message", "uid", msg.Uid, "error", err)
			continue
		}
		records = append(records, rec)
	}

	fetchErr := <-done
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fetchErr != nil {
		return nil, &FetchError{Provider: models.ProviderIMAP, Attempts: []Attempt{{Strategy: "fetch", Err: fetchErr}}}
	}

	return records, nil
}

// normalize maps one IMAP message to an incoming record
func (c *IMAPConnector) normalize(msg *imap.Message, section *imap.BodySectionName) (models.IncomingRecord, error) {
	rec := models.IncomingRecord{Source: models.ProviderIMAP}

	if msg.Envelope != nil {
		rec.Subject = msg.Envelope.Subject
		rec.ReceivedAt = normalizeTime(msg.Envelope.Date, c.opts.Now)
		rec.ExternalID = msg.Envelope.MessageId

		if len(msg.Envelope.From) > 0 {
			from := msg.Envelope.From[0]
			rec.Sender = from.Address()
			rec.SenderName = from.PersonalName
		}
	} else {
		rec.ReceivedAt = c.opts.Now()
	}
	if rec.Sender == "" {
		return rec, fmt.Errorf("message %d has no sender", msg.Uid)
	}
	if rec.ExternalID == "" {
		rec.ExternalID = SynthesizeID(rec.Sender, rec.Subject, rec.ReceivedAt.Format(time.RFC3339))
	}

	if bodyReader := msg.GetBody(section); bodyReader != nil {
		rec.Body = readMailBody(bodyReader, c.logger)
	}

	return rec, nil
}

// readMailBody extracts a text body from a raw message, preferring text/plain
func readMailBody(r io.Reader, logger *slog.Logger) string {
	mr, err := mail.CreateReader(r)
	if err != nil {
		logger.Warn("failed to create mail reader", "error", err)
		return ""
	}

	var plain, html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Warn("failed to read part", "error", err)
			break
		}

		if h, ok := part.Header.(*mail.InlineHeader); ok {
			ct, _, _ := h.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			if strings.HasPrefix(ct, "text/plain") && plain == "" {
				plain = string(body)
			} else if strings.HasPrefix(ct, "text/html") && html == "" {
				html = string(body)
			}
		}
	}

	if plain != "" {
		return plain
	}
	return html
}

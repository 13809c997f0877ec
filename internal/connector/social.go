package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/TTAWDTT/MercuryDesk-sub000/pkg/models"
)

type socialCredentials struct {
	FeedURL string `json:"feed_url,omitempty"` // explicit fallback feed, else derived
}

// socialStrategy is one way of getting records out of a social platform.
// Strategies are tried in order; every failure is accumulated so the final
// error names all of them.
type socialStrategy struct {
	name  string
	fetch func(ctx context.Context, since *time.Time) ([]models.IncomingRecord, error)
}

// SocialConnector scrapes a social platform profile, falling back to the
// platform's syndication feed when the scrape markup fails. The composition
// is invisible to callers: one result list or one combined error.
type SocialConnector struct {
	profileURL string
	handle     string
	feedURL    string
	opts       Options
	logger     *slog.Logger
	httpClient *http.Client
}

// NewSocialConnector builds the scraped-social connector for an account. The
// account identifier is the public profile URL; credentials are optional.
func NewSocialConnector(account *models.Account, creds string, opts Options, logger *slog.Logger) (Connector, error) {
	u, err := url.ParseRequestURI(account.Identifier)
	if err != nil {
		return nil, fmt.Errorf("invalid profile URL %q: %w", account.Identifier, err)
	}

	var c socialCredentials
	if creds != "" {
		if err := json.Unmarshal([]byte(creds), &c); err != nil {
			return nil, fmt.Errorf("%w: social credentials unreadable: %v", ErrMissingCredentials, err)
		}
	}
	feedURL := c.FeedURL
	if feedURL == "" {
		feedURL = strings.TrimSuffix(account.Identifier, "/") + ".rss"
	}

	opts = opts.withDefaults()
	return &SocialConnector{
		profileURL: account.Identifier,
		handle:     socialHandle(u),
		feedURL:    feedURL,
		opts:       opts,
		logger:     logger,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}, nil
}

// socialHandle derives the contact handle from a profile URL,
// e.g. https://social.example/@kim -> kim@social.example
func socialHandle(u *url.URL) string {
	name := strings.Trim(u.Path, "/")
	name = strings.TrimPrefix(name, "@")
	if name == "" {
		return u.Host
	}
	if i := strings.IndexByte(name, '/'); i >= 0 {
		name = name[:i]
	}
	return name + "@" + u.Host
}

// Name returns the connector identifier.
func (c *SocialConnector) Name() string { return "social" }

// FetchNewMessages tries each strategy in order and returns the first
// non-empty success, or one FetchError describing every failed attempt.
func (c *SocialConnector) FetchNewMessages(ctx context.Context, since *time.Time) ([]models.IncomingRecord, error) {
	strategies := []socialStrategy{
		{name: "scrape", fetch: c.scrapeProfile},
		{name: "feed", fetch: c.fallbackFeed},
	}

	var attempts []Attempt
	for _, s := range strategies {
		records, err := s.fetch(ctx, since)
		if err == nil {
			if len(attempts) > 0 {
				c.logger.Warn("social strategy recovered by fallback",
					"failed", attempts[len(attempts)-1].Strategy, "used", s.name)
			}
			return records, nil
		}
		attempts = append(attempts, Attempt{Strategy: s.name, Err: err})
	}

	return nil, &FetchError{Provider: models.ProviderSocial, Attempts: attempts}
}

// scrapeProfile pulls the profile page and extracts post markup.
func (c *SocialConnector) scrapeProfile(ctx context.Context, since *time.Time) ([]models.IncomingRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.profileURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse profile page: %w", err)
	}

	display := strings.TrimSpace(doc.Find(".profile-card-fullname, .display-name, h1").First().Text())
	avatar, _ := doc.Find(".profile-card-avatar img, .avatar img, img.avatar").First().Attr("src")

	var records []models.IncomingRecord
	doc.Find("article, .status, .timeline-item").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(records) >= c.opts.MaxItems {
			return false
		}

		body := strings.TrimSpace(s.Find(".status-content, .tweet-content, .content, p").First().Text())
		if body == "" {
			return true
		}

		var posted time.Time
		if raw, ok := s.Find("time").First().Attr("datetime"); ok {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				posted = t
			}
		}
		receivedAt := normalizeTime(posted, c.opts.Now)
		if since != nil && !receivedAt.After(*since) {
			return true
		}

		id := s.AttrOr("data-id", "")
		if id == "" {
			if permalink, ok := s.Find("a.permalink, a[rel='bookmark']").First().Attr("href"); ok {
				id = permalink
			}
		}
		if id == "" {
			id = SynthesizeID(c.handle, body)
		}

		records = append(records, models.IncomingRecord{
			Source:     models.ProviderSocial,
			ExternalID: id,
			Sender:     c.handle,
			SenderName: display,
			Subject:    snippetTitle(body),
			Body:       body,
			ReceivedAt: receivedAt,
			AvatarURL:  avatar,
		})
		return true
	})

	if len(records) == 0 {
		return nil, fmt.Errorf("no post markup found at %s", c.profileURL)
	}
	return records, nil
}

// fallbackFeed reads the platform's syndication feed for the same profile.
func (c *SocialConnector) fallbackFeed(ctx context.Context, since *time.Time) ([]models.IncomingRecord, error) {
	records, err := fetchFeed(ctx, c.httpClient, c.feedURL, models.ProviderSocial, since, c.opts)
	if err != nil {
		return nil, err
	}
	// Feed entries carry the feed host as handle; rekey them to the profile
	for i := range records {
		records[i].Sender = c.handle
	}
	return records, nil
}

// snippetTitle derives a short subject line from a post body
func snippetTitle(body string) string {
	line := body
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	runes := []rune(line)
	if len(runes) > 80 {
		return strings.TrimSpace(string(runes[:80])) + "…"
	}
	return line
}

package connector

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/TTAWDTT/MercuryDesk-sub000/pkg/models"
)

// FeedConnector fetches RSS 2.0 and Atom syndication feeds.
type FeedConnector struct {
	feedURL    string
	opts       Options
	logger     *slog.Logger
	httpClient *http.Client
}

// NewFeedConnector builds the syndication connector for an account. The
// account identifier is the feed URL; feeds need no credentials.
func NewFeedConnector(account *models.Account, _ string, opts Options, logger *slog.Logger) (Connector, error) {
	if _, err := url.ParseRequestURI(account.Identifier); err != nil {
		return nil, fmt.Errorf("invalid feed URL %q: %w", account.Identifier, err)
	}

	opts = opts.withDefaults()
	return &FeedConnector{
		feedURL:    account.Identifier,
		opts:       opts,
		logger:     logger,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}, nil
}

// Name returns the connector identifier.
func (c *FeedConnector) Name() string { return "feed" }

// FetchNewMessages downloads and parses the feed, keeping entries newer than
// the watermark.
func (c *FeedConnector) FetchNewMessages(ctx context.Context, since *time.Time) ([]models.IncomingRecord, error) {
	records, err := fetchFeed(ctx, c.httpClient, c.feedURL, models.ProviderFeed, since, c.opts)
	if err != nil {
		return nil, &FetchError{Provider: models.ProviderFeed, Attempts: []Attempt{{Strategy: "feed", Err: err}}}
	}
	return records, nil
}

// fetchFeed downloads a feed and normalizes its entries. Shared with the
// scraped-social connector's fallback strategy, which stamps its own source.
func fetchFeed(ctx context.Context, client *http.Client, feedURL string, source models.Provider, since *time.Time, opts Options) ([]models.IncomingRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	entries, err := parseFeed(body)
	if err != nil {
		return nil, err
	}

	handle := feedHandle(feedURL)
	var records []models.IncomingRecord
	for _, e := range entries {
		if len(records) >= opts.MaxItems {
			break
		}
		receivedAt := normalizeTime(e.published, opts.Now)
		if since != nil && !receivedAt.After(*since) {
			continue
		}

		externalID := e.id
		if externalID == "" {
			externalID = SynthesizeID(e.link, e.title)
		}

		records = append(records, models.IncomingRecord{
			Source:     source,
			ExternalID: externalID,
			Sender:     handle,
			SenderName: e.feedTitle,
			Subject:    e.title,
			Body:       e.body,
			ReceivedAt: receivedAt,
		})
	}
	return records, nil
}

// feedHandle derives the contact handle from the feed URL host
func feedHandle(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return feedURL
	}
	return u.Host
}

// feedEntry is a format-neutral feed item
type feedEntry struct {
	feedTitle string
	id        string
	title     string
	link      string
	body      string
	published time.Time
}

type rssDoc struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

type atomDoc struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Updated   string `xml:"updated"`
	Published string `xml:"published"`
	Summary   string `xml:"summary"`
	Content   string `xml:"content"`
	Link      struct {
		Href string `xml:"href,attr"`
	} `xml:"link"`
}

// parseFeed decodes RSS 2.0 first and falls back to Atom. A document that
// decodes but carries no entries is a valid empty feed, not an error.
func parseFeed(data []byte) ([]feedEntry, error) {
	var rss rssDoc
	if err := xml.Unmarshal(data, &rss); err == nil {
		entries := make([]feedEntry, 0, len(rss.Channel.Items))
		for _, item := range rss.Channel.Items {
			entries = append(entries, feedEntry{
				feedTitle: rss.Channel.Title,
				id:        item.GUID,
				title:     item.Title,
				link:      item.Link,
				body:      item.Description,
				published: parseFeedTime(item.PubDate),
			})
		}
		return entries, nil
	}

	var atom atomDoc
	if err := xml.Unmarshal(data, &atom); err == nil {
		entries := make([]feedEntry, 0, len(atom.Entries))
		for _, e := range atom.Entries {
			body := e.Content
			if body == "" {
				body = e.Summary
			}
			published := e.Published
			if published == "" {
				published = e.Updated
			}
			entries = append(entries, feedEntry{
				feedTitle: atom.Title,
				id:        e.ID,
				title:     e.Title,
				link:      e.Link.Href,
				body:      body,
				published: parseFeedTime(published),
			})
		}
		return entries, nil
	}

	return nil, fmt.Errorf("unrecognized feed document")
}

var feedTimeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// parseFeedTime tolerates the date formats feeds use in the wild; a zero time
// means unparseable and the caller substitutes now
func parseFeedTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range feedTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/TTAWDTT/MercuryDesk-sub000/pkg/models"
)

const defaultForgeBaseURL = "https://api.github.com"

type forgeCredentials struct {
	Token   string `json:"token"`
	BaseURL string `json:"base_url,omitempty"`
}

// forgeThread is one notification thread as the forge API returns it
type forgeThread struct {
	ID        string    `json:"id"`
	Reason    string    `json:"reason"`
	UpdatedAt time.Time `json:"updated_at"`
	Subject   struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		Type  string `json:"type"`
	} `json:"subject"`
	Repository struct {
		FullName string `json:"full_name"`
		Owner    struct {
			AvatarURL string `json:"avatar_url"`
		} `json:"owner"`
	} `json:"repository"`
}

// ForgeConnector fetches code-forge notification threads over the REST API.
type ForgeConnector struct {
	baseURL    string
	token      string
	opts       Options
	logger     *slog.Logger
	httpClient *http.Client
}

// NewForgeConnector builds the code-forge notification connector for an account.
func NewForgeConnector(account *models.Account, creds string, opts Options, logger *slog.Logger) (Connector, error) {
	var c forgeCredentials
	if creds == "" {
		return nil, fmt.Errorf("%w: forge account %s has no token", ErrMissingCredentials, account.Identifier)
	}
	if err := json.Unmarshal([]byte(creds), &c); err != nil {
		return nil, fmt.Errorf("%w: forge credentials unreadable: %v", ErrMissingCredentials, err)
	}
	if c.Token == "" {
		return nil, fmt.Errorf("%w: forge account %s has no token", ErrMissingCredentials, account.Identifier)
	}

	baseURL := strings.TrimSuffix(c.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultForgeBaseURL
	}

	opts = opts.withDefaults()
	return &ForgeConnector{
		baseURL:    baseURL,
		token:      c.Token,
		opts:       opts,
		logger:     logger,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}, nil
}

// Name returns the connector identifier.
func (c *ForgeConnector) Name() string { return "forge" }

// FetchNewMessages lists notification threads updated after the watermark,
// paging until the item cap is reached or the listing runs dry.
func (c *ForgeConnector) FetchNewMessages(ctx context.Context, since *time.Time) ([]models.IncomingRecord, error) {
	perPage := min(c.opts.MaxItems, 100) // upstream caps a page at 100

	var records []models.IncomingRecord
	for page := 1; len(records) < c.opts.MaxItems; page++ {
		endpoint := fmt.Sprintf("%s/notifications?all=true&per_page=%d&page=%d", c.baseURL, perPage, page)
		if since != nil {
			endpoint += "&since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
		}

		threads, err := c.listPage(ctx, endpoint)
		if err != nil {
			return nil, err
		}

		for _, t := range threads {
			if len(records) >= c.opts.MaxItems {
				break
			}
			records = append(records, c.normalize(t))
		}

		// A short page means the listing is exhausted.
		if len(threads) < perPage {
			break
		}
	}
	return records, nil
}

func (c *ForgeConnector) listPage(ctx context.Context, endpoint string) ([]forgeThread, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{Provider: models.ProviderForge, Attempts: []Attempt{{Strategy: "request", Err: err}}}
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Provider: models.ProviderForge, Attempts: []Attempt{{Strategy: "http", Err: err}}}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Provider: models.ProviderForge, Attempts: []Attempt{{Strategy: "read", Err: err}}}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Provider: models.ProviderForge, Attempts: []Attempt{{
			Strategy: "http",
			Err:      fmt.Errorf("API error: %s (status %d)", strings.TrimSpace(string(body)), resp.StatusCode),
		}}}
	}

	var threads []forgeThread
	if err := json.Unmarshal(body, &threads); err != nil {
		return nil, &FetchError{Provider: models.ProviderForge, Attempts: []Attempt{{
			Strategy: "parse",
			Err:      fmt.Errorf("failed to parse response: %w", err),
		}}}
	}
	return threads, nil
}

func (c *ForgeConnector) normalize(t forgeThread) models.IncomingRecord {
	repo := t.Repository.FullName
	if repo == "" {
		repo = "unknown/repository"
	}

	externalID := t.ID
	if externalID == "" {
		externalID = SynthesizeID(repo, t.Subject.Title, t.Subject.URL)
	}

	body := t.Subject.Type
	if t.Reason != "" {
		body += " (" + t.Reason + ")"
	}
	if t.Subject.URL != "" {
		body += "\n" + t.Subject.URL
	}

	return models.IncomingRecord{
		Source:     models.ProviderForge,
		ExternalID: externalID,
		Sender:     repo,
		SenderName: repo,
		Subject:    t.Subject.Title,
		Body:       body,
		ReceivedAt: normalizeTime(t.UpdatedAt, c.opts.Now),
		AvatarURL:  t.Repository.Owner.AvatarURL,
	}
}

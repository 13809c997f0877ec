package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TTAWDTT/MercuryDesk-sub000/pkg/models"
)

const rssFixture = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Example Blog</title>
    <item>
      <title>Older post</title>
      <link>https://blog.example/older</link>
      <guid>post-1</guid>
      <description>older body</description>
      <pubDate>Sun, 01 Jun 2025 08:00:00 +0000</pubDate>
    </item>
    <item>
      <title>Newer post</title>
      <link>https://blog.example/newer</link>
      <guid>post-2</guid>
      <description>newer body</description>
      <pubDate>Sun, 01 Jun 2025 10:00:00 +0000</pubDate>
    </item>
    <item>
      <title>No guid, no date</title>
      <link>https://blog.example/bare</link>
      <description>bare body</description>
    </item>
  </channel>
</rss>`

const atomFixture = `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Example Notes</title>
  <entry>
    <id>tag:notes.example,2025:entry-1</id>
    <title>Atom entry</title>
    <updated>2025-06-01T09:30:00Z</updated>
    <summary>atom summary</summary>
    <link href="https://notes.example/1"/>
  </entry>
</feed>`

func serveFeed(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func feedConnectorFor(t *testing.T, feedURL string, opts Options) Connector {
	t.Helper()
	conn, err := NewFeedConnector(&models.Account{
		ID: 1, UserID: 10, Provider: models.ProviderFeed, Identifier: feedURL,
	}, "", opts, testLogger)
	require.NoError(t, err)
	return conn
}

func TestFeedParsesRSS(t *testing.T) {
	srv := serveFeed(t, rssFixture)
	now := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	conn := feedConnectorFor(t, srv.URL, Options{Now: func() time.Time { return now }})

	records, err := conn.FetchNewMessages(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, records, 3)

	first := records[0]
	require.Equal(t, models.ProviderFeed, first.Source)
	require.Equal(t, "post-1", first.ExternalID)
	require.Equal(t, "Example Blog", first.SenderName)
	require.Equal(t, "Older post", first.Subject)
	require.Equal(t, "older body", first.Body)
	require.Equal(t, time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC), first.ReceivedAt)

	// Hosts become contact handles.
	u := srv.URL[len("http://"):]
	require.Equal(t, u, first.Sender)

	// Missing guid is synthesized; missing date falls back to now.
	bare := records[2]
	require.NotEmpty(t, bare.ExternalID)
	require.Equal(t, SynthesizeID("https://blog.example/bare", "No guid, no date"), bare.ExternalID)
	require.Equal(t, now, bare.ReceivedAt)
}

func TestFeedParsesAtom(t *testing.T) {
	srv := serveFeed(t, atomFixture)
	conn := feedConnectorFor(t, srv.URL, Options{})

	records, err := conn.FetchNewMessages(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "tag:notes.example,2025:entry-1", records[0].ExternalID)
	require.Equal(t, "Example Notes", records[0].SenderName)
	require.Equal(t, "atom summary", records[0].Body)
	require.Equal(t, time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC), records[0].ReceivedAt)
}

func TestFeedHonorsSinceCut(t *testing.T) {
	srv := serveFeed(t, rssFixture)
	since := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	now := since // keep the undated entry at the cut so it is dropped too
	conn := feedConnectorFor(t, srv.URL, Options{Now: func() time.Time { return now }})

	records, err := conn.FetchNewMessages(context.Background(), &since)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "post-2", records[0].ExternalID)
}

func TestFeedUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone fishing", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	conn := feedConnectorFor(t, srv.URL, Options{})
	_, err := conn.FetchNewMessages(context.Background(), nil)
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, models.ProviderFeed, fe.Provider)
	require.Contains(t, err.Error(), "status 503")
}

func TestFeedRejectsGarbageDocument(t *testing.T) {
	srv := serveFeed(t, "<html><body>not a feed</body></html>")
	conn := feedConnectorFor(t, srv.URL, Options{})

	_, err := conn.FetchNewMessages(context.Background(), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unrecognized feed")
}

func TestFeedAcceptsEmptyFeed(t *testing.T) {
	// A feed with no entries yet is a healthy source, not a failure.
	for name, doc := range map[string]string{
		"rss":  `<?xml version="1.0"?><rss version="2.0"><channel><title>quiet blog</title></channel></rss>`,
		"atom": `<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom"><title>quiet notes</title></feed>`,
	} {
		srv := serveFeed(t, doc)
		conn := feedConnectorFor(t, srv.URL, Options{})

		records, err := conn.FetchNewMessages(context.Background(), nil)
		require.NoError(t, err, "format %s", name)
		require.Empty(t, records, "format %s", name)
	}
}

func TestFeedRejectsInvalidURL(t *testing.T) {
	_, err := NewFeedConnector(&models.Account{
		ID: 1, Provider: models.ProviderFeed, Identifier: "not a url",
	}, "", Options{}, testLogger)
	require.Error(t, err)
}

func TestParseFeedTimeFallbacks(t *testing.T) {
	require.False(t, parseFeedTime("Sun, 01 Jun 2025 08:00:00 +0000").IsZero())
	require.False(t, parseFeedTime("Sun, 01 Jun 2025 08:00:00 GMT").IsZero())
	require.False(t, parseFeedTime("2025-06-01T08:00:00Z").IsZero())
	require.False(t, parseFeedTime("2025-06-01 08:00:00").IsZero())
	require.True(t, parseFeedTime("yesterday-ish").IsZero())
	require.True(t, parseFeedTime("").IsZero())
}

package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TTAWDTT/MercuryDesk-sub000/pkg/models"
)

const profileFixture = `<!DOCTYPE html>
<html>
<body>
  <div class="profile-card-fullname">Kim Dokja</div>
  <div class="profile-card-avatar"><img src="https://social.example/avatar.png"></div>
  <article data-id="post-100">
    <div class="status-content">First post body
with a second line</div>
    <time datetime="2025-06-01T10:00:00Z">Jun 1</time>
  </article>
  <article data-id="post-101">
    <div class="status-content">Second post body</div>
    <time datetime="2025-06-01T11:00:00Z">Jun 1</time>
  </article>
</body>
</html>`

const socialFeedFixture = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Kim Dokja's posts</title>
    <item>
      <title>Feed post</title>
      <link>https://social.example/@kim/100</link>
      <guid>feed-100</guid>
      <description>feed body</description>
      <pubDate>Sun, 01 Jun 2025 10:00:00 +0000</pubDate>
    </item>
  </channel>
</rss>`

// socialTestServer serves /@kim as the profile page and /@kim.rss as the
// syndication fallback; either can be disabled to force a strategy failure.
func socialTestServer(t *testing.T, scrapeOK, feedOK bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/@kim":
			if !scrapeOK {
				http.Error(w, "blocked", http.StatusForbidden)
				return
			}
			w.Write([]byte(profileFixture))
		case "/@kim.rss":
			if !feedOK {
				http.Error(w, "no feed", http.StatusNotFound)
				return
			}
			w.Write([]byte(socialFeedFixture))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func socialConnectorFor(t *testing.T, srv *httptest.Server) Connector {
	t.Helper()
	conn, err := NewSocialConnector(&models.Account{
		ID: 1, UserID: 10, Provider: models.ProviderSocial, Identifier: srv.URL + "/@kim",
	}, "", Options{}, testLogger)
	require.NoError(t, err)
	return conn
}

func TestSocialScrapesProfile(t *testing.T) {
	srv := socialTestServer(t, true, true)
	conn := socialConnectorFor(t, srv)

	records, err := conn.FetchNewMessages(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, records, 2)

	host := srv.Listener.Addr().String()
	first := records[0]
	require.Equal(t, models.ProviderSocial, first.Source)
	require.Equal(t, "post-100", first.ExternalID)
	require.Equal(t, "kim@"+host, first.Sender)
	require.Equal(t, "Kim Dokja", first.SenderName)
	require.Equal(t, "https://social.example/avatar.png", first.AvatarURL)
	require.Equal(t, "First post body", first.Subject, "subject is the first line")
	require.Contains(t, first.Body, "second line")
	require.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), first.ReceivedAt)
}

func TestSocialFallsBackToFeed(t *testing.T) {
	srv := socialTestServer(t, false, true)
	conn := socialConnectorFor(t, srv)

	records, err := conn.FetchNewMessages(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, records, 1)

	host := srv.Listener.Addr().String()
	require.Equal(t, "feed-100", records[0].ExternalID)
	require.Equal(t, models.ProviderSocial, records[0].Source, "fallback records keep the social source")
	require.Equal(t, "kim@"+host, records[0].Sender, "fallback records are rekeyed to the profile handle")
}

func TestSocialAllStrategiesFail(t *testing.T) {
	srv := socialTestServer(t, false, false)
	conn := socialConnectorFor(t, srv)

	_, err := conn.FetchNewMessages(context.Background(), nil)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, models.ProviderSocial, fe.Provider)
	require.Len(t, fe.Attempts, 2)
	require.Equal(t, "scrape", fe.Attempts[0].Strategy)
	require.Equal(t, "feed", fe.Attempts[1].Strategy)
	require.Contains(t, err.Error(), "scrape:")
	require.Contains(t, err.Error(), "feed:")
}

func TestSocialHonorsSinceCut(t *testing.T) {
	srv := socialTestServer(t, true, true)
	conn := socialConnectorFor(t, srv)

	since := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	records, err := conn.FetchNewMessages(context.Background(), &since)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "post-101", records[0].ExternalID)
}

func TestSocialExplicitFeedURL(t *testing.T) {
	feedSrv := serveFeed(t, socialFeedFixture)
	profileSrv := socialTestServer(t, false, false)

	conn, err := NewSocialConnector(&models.Account{
		ID: 1, Provider: models.ProviderSocial, Identifier: profileSrv.URL + "/@kim",
	}, `{"feed_url": "`+feedSrv.URL+`"}`, Options{}, testLogger)
	require.NoError(t, err)

	records, err := conn.FetchNewMessages(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "feed-100", records[0].ExternalID)
}

func TestSocialHandle(t *testing.T) {
	for in, want := range map[string]string{
		"https://social.example/@kim":          "kim@social.example",
		"https://social.example/@kim/media":    "kim@social.example",
		"https://social.example/kim":           "kim@social.example",
		"https://social.example/":              "social.example",
		"https://nitter.example/kim/with/rest": "kim@nitter.example",
	} {
		u, err := url.ParseRequestURI(in)
		require.NoError(t, err)
		require.Equal(t, want, socialHandle(u), "input %s", in)
	}
}

func TestSocialRejectsInvalidProfileURL(t *testing.T) {
	_, err := NewSocialConnector(&models.Account{
		ID: 1, Provider: models.ProviderSocial, Identifier: "::nope",
	}, "", Options{}, testLogger)
	require.Error(t, err)
}

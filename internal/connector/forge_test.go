package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TTAWDTT/MercuryDesk-sub000/pkg/models"
)

func forgeCreds(t *testing.T, token, baseURL string) string {
	t.Helper()
	blob, err := json.Marshal(forgeCredentials{Token: token, BaseURL: baseURL})
	require.NoError(t, err)
	return string(blob)
}

func TestForgeFetchesNotifications(t *testing.T) {
	var gotAuth, gotAccept, gotSince string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotSince = r.URL.Query().Get("since")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
  {"id": "42", "reason": "review_requested",
   "updated_at": "2025-06-01T10:00:00Z",
   "subject": {"title": "Fix flaky watcher test", "url": "https://forge.example/api/pulls/7", "type": "PullRequest"},
   "repository": {"full_name": "kim/watcher", "owner": {"avatar_url": "https://forge.example/a.png"}}},
  {"reason": "mention",
   "updated_at": "2025-06-01T11:00:00Z",
   "subject": {"title": "Nil deref on shutdown", "url": "https://forge.example/api/issues/9", "type": "Issue"},
   "repository": {"full_name": "kim/watcher", "owner": {}}}
]`))
	}))
	t.Cleanup(srv.Close)

	conn, err := NewForgeConnector(&models.Account{
		ID: 1, UserID: 10, Provider: models.ProviderForge, Identifier: "kim",
	}, forgeCreds(t, "ghp_secret", srv.URL), Options{}, testLogger)
	require.NoError(t, err)

	since := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	records, err := conn.FetchNewMessages(context.Background(), &since)
	require.NoError(t, err)

	require.Equal(t, "Bearer ghp_secret", gotAuth)
	require.Equal(t, "application/vnd.github+json", gotAccept)
	require.Equal(t, "2025-06-01T09:00:00Z", gotSince)

	require.Len(t, records, 2)
	first := records[0]
	require.Equal(t, models.ProviderForge, first.Source)
	require.Equal(t, "42", first.ExternalID)
	require.Equal(t, "kim/watcher", first.Sender)
	require.Equal(t, "Fix flaky watcher test", first.Subject)
	require.Contains(t, first.Body, "PullRequest")
	require.Contains(t, first.Body, "review_requested")
	require.Contains(t, first.Body, "https://forge.example/api/pulls/7")
	require.Equal(t, "https://forge.example/a.png", first.AvatarURL)
	require.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), first.ReceivedAt)

	// Threads without an id get a synthesized one.
	require.Equal(t, SynthesizeID("kim/watcher", "Nil deref on shutdown", "https://forge.example/api/issues/9"),
		records[1].ExternalID)
}

func TestForgeOmitsSinceOnFullFetch(t *testing.T) {
	var sawSince bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawSince = r.URL.Query()["since"]
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	conn, err := NewForgeConnector(&models.Account{
		ID: 1, Provider: models.ProviderForge, Identifier: "kim",
	}, forgeCreds(t, "tok", srv.URL), Options{}, testLogger)
	require.NoError(t, err)

	records, err := conn.FetchNewMessages(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, records)
	require.False(t, sawSince)
}

func TestForgeAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	conn, err := NewForgeConnector(&models.Account{
		ID: 1, Provider: models.ProviderForge, Identifier: "kim",
	}, forgeCreds(t, "expired", srv.URL), Options{}, testLogger)
	require.NoError(t, err)

	_, err = conn.FetchNewMessages(context.Background(), nil)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, models.ProviderForge, fe.Provider)
	require.Contains(t, err.Error(), "status 401")
}

func TestForgeMaxItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "2", r.URL.Query().Get("per_page"), "page size follows the item cap")
		w.Write([]byte(`[
  {"id": "1", "updated_at": "2025-06-01T10:00:00Z", "subject": {"title": "a", "type": "Issue"}, "repository": {"full_name": "r/r"}},
  {"id": "2", "updated_at": "2025-06-01T10:01:00Z", "subject": {"title": "b", "type": "Issue"}, "repository": {"full_name": "r/r"}},
  {"id": "3", "updated_at": "2025-06-01T10:02:00Z", "subject": {"title": "c", "type": "Issue"}, "repository": {"full_name": "r/r"}}
]`))
	}))
	t.Cleanup(srv.Close)

	conn, err := NewForgeConnector(&models.Account{
		ID: 1, Provider: models.ProviderForge, Identifier: "kim",
	}, forgeCreds(t, "tok", srv.URL), Options{MaxItems: 2}, testLogger)
	require.NoError(t, err)

	records, err := conn.FetchNewMessages(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func forgeThreadList(t *testing.T, prefix string, n int) string {
	t.Helper()
	threads := make([]forgeThread, n)
	for i := range threads {
		threads[i].ID = fmt.Sprintf("%s-%d", prefix, i)
		threads[i].UpdatedAt = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
		threads[i].Subject.Title = "title"
		threads[i].Subject.Type = "Issue"
		threads[i].Repository.FullName = "kim/watcher"
	}
	blob, err := json.Marshal(threads)
	require.NoError(t, err)
	return string(blob)
}

func TestForgePaginatesUpToMaxItems(t *testing.T) {
	var pages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages = append(pages, r.URL.Query().Get("page"))
		require.Equal(t, "100", r.URL.Query().Get("per_page"))
		if r.URL.Query().Get("page") == "1" {
			w.Write([]byte(forgeThreadList(t, "p1", 100)))
			return
		}
		w.Write([]byte(forgeThreadList(t, "p2", 20)))
	}))
	t.Cleanup(srv.Close)

	conn, err := NewForgeConnector(&models.Account{
		ID: 1, Provider: models.ProviderForge, Identifier: "kim",
	}, forgeCreds(t, "tok", srv.URL), Options{MaxItems: 150}, testLogger)
	require.NoError(t, err)

	records, err := conn.FetchNewMessages(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, records, 120, "a short second page ends the listing")
	require.Equal(t, []string{"1", "2"}, pages)
}

func TestForgeRequiresToken(t *testing.T) {
	account := &models.Account{ID: 1, Provider: models.ProviderForge, Identifier: "kim"}

	_, err := NewForgeConnector(account, "", Options{}, testLogger)
	require.ErrorIs(t, err, ErrMissingCredentials)

	_, err = NewForgeConnector(account, `{"base_url": "https://forge.example"}`, Options{}, testLogger)
	require.ErrorIs(t, err, ErrMissingCredentials)

	_, err = NewForgeConnector(account, "{broken", Options{}, testLogger)
	require.ErrorIs(t, err, ErrMissingCredentials)
}

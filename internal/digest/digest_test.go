package digest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"forgecore/internal/mailer"
	"forgecore/internal/signalstore"
)

func newTestService(t *testing.T, now time.Time) (*Service, *signalstore.Store, *mailer.MemorySender) {
	t.Helper()
	store, err := signalstore.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	sender := mailer.NewMemorySender()
	svc := New(ServiceConfig{Store: store, Mailer: sender, Now: func() time.Time { return now }})
	return svc, store, sender
}

func TestGenerateDigestBodyEmptyWhenNoSignals(t *testing.T) {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	svc, _, _ := newTestService(t, now)

	body, signals, err := svc.GenerateDigestBody(Daily, Config{}, now)
	if err != nil {
		t.Fatalf("GenerateDigestBody: %v", err)
	}
	if body != "" || len(signals) != 0 {
		t.Fatalf("expected empty body and no signals, got body=%q signals=%v", body, signals)
	}
}

func TestGenerateDigestBodySortsByPriorityThenPublished(t *testing.T) {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	svc, store, _ := newTestService(t, now)

	low := signalstore.Signal{Source: "a", Title: "Low", URL: "https://example.com/low", PublishedAt: now.Add(-time.Hour), FetchedAt: now, Priority: 10}
	high := signalstore.Signal{Source: "a", Title: "High", URL: "https://example.com/high", PublishedAt: now.Add(-2 * time.Hour), FetchedAt: now, Priority: 90}
	if _, err := store.StoreSignals([]signalstore.Signal{low, high}); err != nil {
		t.Fatalf("StoreSignals: %v", err)
	}

	body, signals, err := svc.GenerateDigestBody(Daily, Config{Timezone: "UTC"}, now)
	if err != nil {
		t.Fatalf("GenerateDigestBody: %v", err)
	}
	if len(signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(signals))
	}
	if !strings.Contains(body, "# Starlinker Daily Digest") {
		t.Errorf("expected header in body, got %q", body)
	}
	highIdx := strings.Index(body, "High")
	lowIdx := strings.Index(body, "Low")
	if highIdx == -1 || lowIdx == -1 || highIdx > lowIdx {
		t.Errorf("expected higher priority signal listed first, body=%q", body)
	}
}

func TestRunDigestDispatchesAndPersists(t *testing.T) {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	svc, store, sender := newTestService(t, now)
	mustStore(t, store, signalstore.Signal{Source: "a", Title: "A", URL: "https://example.com/a", PublishedAt: now, FetchedAt: now, Priority: 80})

	var posted int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		posted++
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	res, err := svc.RunDigest(context.Background(), Daily, Config{DiscordWebhook: srv.URL, EmailTo: "ops@example.com"}, now)
	if err != nil {
		t.Fatalf("RunDigest: %v", err)
	}
	if !res.Sent || res.Signals != 1 || len(res.Channels) != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if posted != 1 {
		t.Fatalf("expected 1 discord post, got %d", posted)
	}
	if len(sender.Messages()) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sender.Messages()))
	}

	digests, err := store.ListDigests(0)
	if err != nil {
		t.Fatalf("ListDigests: %v", err)
	}
	if len(digests) != 1 {
		t.Fatalf("expected 1 persisted digest, got %d", len(digests))
	}
}

func TestRunDigestSkipsDispatchWhenNoSignals(t *testing.T) {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	svc, store, _ := newTestService(t, now)

	res, err := svc.RunDigest(context.Background(), Weekly, Config{DiscordWebhook: "http://unused"}, now)
	if err != nil {
		t.Fatalf("RunDigest: %v", err)
	}
	if res.Sent || res.Signals != 0 {
		t.Fatalf("expected nothing sent, got %+v", res)
	}
	digests, err := store.ListDigests(0)
	if err != nil {
		t.Fatalf("ListDigests: %v", err)
	}
	if len(digests) != 0 {
		t.Fatalf("expected no persisted digests, got %d", len(digests))
	}
}

func TestPreviewDoesNotDispatchOrPersist(t *testing.T) {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	svc, store, sender := newTestService(t, now)
	mustStore(t, store, signalstore.Signal{Source: "a", Title: "A", URL: "https://example.com/a", PublishedAt: now, FetchedAt: now, Priority: 80})

	body, count, err := svc.Preview(Daily, Config{DiscordWebhook: "http://unused", EmailTo: "ops@example.com"}, now)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if count != 1 || body == "" {
		t.Fatalf("expected preview body and 1 signal, got body=%q count=%d", body, count)
	}
	if len(sender.Messages()) != 0 {
		t.Fatalf("expected no email dispatched by Preview, got %d", len(sender.Messages()))
	}
	digests, err := store.ListDigests(0)
	if err != nil {
		t.Fatalf("ListDigests: %v", err)
	}
	if len(digests) != 0 {
		t.Fatalf("expected no persisted digest from Preview, got %d", len(digests))
	}
}

func TestParseTypeRejectsUnknown(t *testing.T) {
	if _, err := ParseType("monthly"); err == nil {
		t.Fatal("expected error for unsupported digest type")
	}
	if typ, err := ParseType("weekly"); err != nil || typ != Weekly {
		t.Fatalf("expected weekly parsed, got %v err=%v", typ, err)
	}
}

func mustStore(t *testing.T, store *signalstore.Store, sig signalstore.Signal) {
	t.Helper()
	if _, err := store.StoreSignals([]signalstore.Signal{sig}); err != nil {
		t.Fatalf("StoreSignals: %v", err)
	}
}

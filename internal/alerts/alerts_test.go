package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"forgecore/internal/mailer"
	"forgecore/internal/signalstore"
)

func newTestService(t *testing.T, now func() time.Time) (*Service, *signalstore.Store, *mailer.MemorySender) {
	t.Helper()
	store, err := signalstore.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	sender := mailer.NewMemorySender()
	svc := New(ServiceConfig{Store: store, Mailer: sender, Now: now})
	return svc, store, sender
}

func mustStoreSignal(t *testing.T, store *signalstore.Store, sig signalstore.Signal) {
	t.Helper()
	if _, err := store.StoreSignals([]signalstore.Signal{sig}); err != nil {
		t.Fatalf("StoreSignals: %v", err)
	}
}

func TestRunReturnsNoAlertsBelowThreshold(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, store, _ := newTestService(t, func() time.Time { return now })
	mustStoreSignal(t, store, signalstore.Signal{
		Source: "misc", Title: "Community Spotlight", URL: "https://example.com/a",
		PublishedAt: now, FetchedAt: now, Priority: 10,
	})

	res, err := svc.Run(context.Background(), Config{}, now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Alerts != 0 || res.Suppressed {
		t.Fatalf("expected no alerts, got %+v", res)
	}
}

func TestRunDispatchesAndDedupsSecondRun(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, store, sender := newTestService(t, func() time.Time { return now })
	mustStoreSignal(t, store, signalstore.Signal{
		Source: "rsi.patch_notes.live", Title: "Alpha Hotfix", URL: "https://example.com/a",
		PublishedAt: now, FetchedAt: now, Priority: 0, Tags: []string{"live"},
	})

	var posted []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		posted = append(posted, body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := Config{DiscordWebhook: srv.URL, EmailTo: "ops@example.com"}

	res, err := svc.Run(context.Background(), cfg, now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Alerts != 1 || res.Suppressed {
		t.Fatalf("expected 1 alert, got %+v", res)
	}
	if len(posted) != 1 {
		t.Fatalf("expected 1 discord post, got %d", len(posted))
	}
	if len(sender.Messages()) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sender.Messages()))
	}

	res2, err := svc.Run(context.Background(), cfg, now.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res2.Alerts != 0 {
		t.Fatalf("expected second run to find no new candidates, got %+v", res2)
	}
	if len(posted) != 1 {
		t.Fatalf("expected no additional discord post, got %d", len(posted))
	}
}

func TestRunSuppressedDuringQuietHours(t *testing.T) {
	now := time.Date(2026, 6, 1, 23, 30, 0, 0, time.UTC)
	svc, store, _ := newTestService(t, func() time.Time { return now })
	mustStoreSignal(t, store, signalstore.Signal{
		Source: "rsi", Title: "Live Patch", URL: "https://example.com/a",
		PublishedAt: now, FetchedAt: now, Tags: []string{"live"},
	})

	cfg := Config{Timezone: "UTC", QuietHours: [2]string{"23:00", "23:45"}}
	res, err := svc.Run(context.Background(), cfg, now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Suppressed || res.Alerts != 0 {
		t.Fatalf("expected suppressed during quiet hours, got %+v", res)
	}
}

func TestRunSuppressedWhenSnoozed(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, store, _ := newTestService(t, func() time.Time { return now })
	mustStoreSignal(t, store, signalstore.Signal{
		Source: "rsi", Title: "Live Patch", URL: "https://example.com/a",
		PublishedAt: now, FetchedAt: now, Tags: []string{"live"},
	})
	svc.Snooze(now.Add(time.Hour))

	res, err := svc.Run(context.Background(), Config{}, now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Suppressed || res.Alerts != 0 {
		t.Fatalf("expected suppressed while snoozed, got %+v", res)
	}
}

func TestInQuietHoursHandlesMidnightWrap(t *testing.T) {
	cfg := Config{Timezone: "UTC", QuietHours: [2]string{"23:00", "07:00"}}
	late := time.Date(2026, 6, 1, 23, 30, 0, 0, time.UTC)
	early := time.Date(2026, 6, 2, 6, 30, 0, 0, time.UTC)
	mid := time.Date(2026, 6, 2, 12, 0, 0, 0, time.UTC)

	if !inQuietHours(cfg, late) {
		t.Error("expected quiet hours to hold late at night")
	}
	if !inQuietHours(cfg, early) {
		t.Error("expected quiet hours to hold in early morning")
	}
	if inQuietHours(cfg, mid) {
		t.Error("expected quiet hours not to hold at midday")
	}
}

func TestDispatchRecordsErrorPerChannelAndContinues(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, store, _ := newTestService(t, func() time.Time { return now })
	mustStoreSignal(t, store, signalstore.Signal{
		Source: "rsi", Title: "Live Patch", URL: "https://example.com/a",
		PublishedAt: now, FetchedAt: now, Tags: []string{"live"},
	})

	cfg := Config{DiscordWebhook: "http://127.0.0.1:0/invalid", EmailTo: "ops@example.com"}
	res, err := svc.Run(context.Background(), cfg, now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Alerts != 1 {
		t.Fatalf("expected alert recorded via email channel despite discord failure, got %+v", res)
	}

	snap, err := store.HealthSnapshot()
	if err != nil {
		t.Fatalf("HealthSnapshot: %v", err)
	}
	if snap.LastError == nil || snap.LastError.Module != "alerts.dispatch" {
		t.Fatalf("expected recorded discord dispatch error, got %+v", snap.LastError)
	}
}

func TestBuildDedupKeyLowercasesURL(t *testing.T) {
	sig := signalstore.Signal{Source: "rsi", URL: "https://Example.com/A"}
	if got := buildDedupKey(sig); got != "rsi:https://example.com/a" {
		t.Errorf("unexpected dedup key: %s", got)
	}
}

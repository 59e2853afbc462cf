// Package alerts scores recently ingested signals, deduplicates them
// against previously delivered alerts, and dispatches the survivors
// across the configured channels.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"forgecore/internal/callgroup"
	"forgecore/internal/mailer"
	"forgecore/internal/metrics"
	"forgecore/internal/priority"
	"forgecore/internal/signalstore"
)

const runGateKey = "run"

// Config holds the subset of application configuration the alerts
// service reads on every run.
type Config struct {
	WindowHours    int
	MinPriority    int
	Timezone       string
	QuietHours     [2]string // "HH:MM", "HH:MM"; zero value disables quiet hours
	DiscordWebhook string
	EmailTo        string
}

// Result summarizes one run.
type Result struct {
	Alerts     int
	Suppressed bool
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Store  *signalstore.Store
	Mailer mailer.Sender
	Now    func() time.Time
	Logger *slog.Logger
}

// Service evaluates stored signals and dispatches alerts.
type Service struct {
	store  *signalstore.Store
	mailer mailer.Sender
	client *http.Client
	now    func() time.Time
	log    *slog.Logger

	gate callgroup.Group[string]

	mu           sync.Mutex
	snoozedUntil time.Time
}

func New(cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	m := cfg.Mailer
	if m == nil {
		m = mailer.NewMemorySender()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  cfg.Store,
		mailer: m,
		client: &http.Client{Timeout: 20 * time.Second},
		now:    now,
		log:    logger.With("component", "alerts"),
	}
}

// Snooze suspends dispatch until the given instant; it takes
// precedence over quiet hours.
func (s *Service) Snooze(until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snoozedUntil = until
}

func (s *Service) snoozedAt(moment time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return moment.Before(s.snoozedUntil)
}

// Run evaluates signals fetched since triggeredAt-window, scores and
// deduplicates them, and dispatches the survivors. At most one run
// executes at a time; an overlapping caller waits for the in-flight run
// and receives only its error, with a zero Result.
func (s *Service) Run(ctx context.Context, config Config, triggeredAt time.Time) (Result, error) {
	type outcome struct {
		result Result
		err    error
	}
	var last outcome
	var lastMu sync.Mutex

	ch := s.gate.DoChan(runGateKey, func() error {
		res, err := s.runLocked(ctx, config, triggeredAt)
		lastMu.Lock()
		last = outcome{result: res, err: err}
		lastMu.Unlock()
		return err
	})
	err := <-ch
	lastMu.Lock()
	defer lastMu.Unlock()
	if err != nil && last.err == nil {
		// A concurrent caller coalesced onto someone else's run and
		// only the error is visible; the result defaults to zero.
		return Result{}, err
	}
	return last.result, last.err
}

func (s *Service) runLocked(ctx context.Context, config Config, triggeredAt time.Time) (Result, error) {
	if s.snoozedAt(triggeredAt) {
		metrics.AlertsSuppressed.Inc()
		return Result{Suppressed: true}, nil
	}

	windowHours := config.WindowHours
	if windowHours <= 0 {
		windowHours = 24
	}
	minPriority := config.MinPriority
	if minPriority <= 0 {
		minPriority = 60
	}

	since := triggeredAt.Add(-time.Duration(windowHours) * time.Hour)
	signals, err := s.store.FetchSignals(&since, nil, 0)
	if err != nil {
		return Result{}, fmt.Errorf("fetch signals: %w", err)
	}

	candidates, err := s.collectCandidates(signals, minPriority)
	if err != nil {
		return Result{}, err
	}
	if len(candidates) == 0 {
		return Result{Alerts: 0, Suppressed: false}, nil
	}

	if inQuietHours(config, triggeredAt) {
		metrics.AlertsSuppressed.Inc()
		return Result{Alerts: 0, Suppressed: true}, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		return a.signal.PublishedAt.After(b.signal.PublishedAt)
	})

	delivered := 0
	for _, c := range candidates {
		channels := s.dispatch(config, c, triggeredAt)
		if len(channels) > 0 {
			err := s.store.RecordAlert(signalstore.Alert{
				CreatedAt:         triggeredAt,
				Type:              "signal",
				Title:             c.signal.Title,
				URL:               c.signal.URL,
				DeliveredChannels: channels,
				DedupKey:          c.dedupKey,
			})
			if err != nil {
				return Result{}, fmt.Errorf("record alert: %w", err)
			}
			delivered++
		}
	}

	return Result{Alerts: delivered, Suppressed: false}, nil
}

type candidate struct {
	signal   signalstore.Signal
	priority int
	dedupKey string
}

func (s *Service) collectCandidates(signals []signalstore.Signal, minPriority int) ([]candidate, error) {
	var out []candidate
	for _, sig := range signals {
		score := priority.Score(sig.Priority, sig.Tags, sig.Title)
		if score < minPriority {
			continue
		}
		dedupKey := buildDedupKey(sig)
		exists, err := s.store.AlertExists(dedupKey)
		if err != nil {
			return nil, fmt.Errorf("check alert exists: %w", err)
		}
		if exists {
			continue
		}
		out = append(out, candidate{signal: sig, priority: score, dedupKey: dedupKey})
	}
	return out, nil
}

func buildDedupKey(sig signalstore.Signal) string {
	return sig.Source + ":" + strings.ToLower(sig.URL)
}

func (s *Service) dispatch(config Config, c candidate, triggeredAt time.Time) []string {
	var delivered []string
	content := renderMessage(c.signal)

	if webhook := strings.TrimSpace(config.DiscordWebhook); webhook != "" {
		if err := s.postDiscord(webhook, content); err != nil {
			s.recordDispatchError("discord", err)
		} else {
			delivered = append(delivered, "discord")
			metrics.AlertsDispatched.WithLabelValues("discord").Inc()
		}
	}

	if to := strings.TrimSpace(config.EmailTo); to != "" {
		subject := "[Starlinker] " + c.signal.Title
		if err := s.mailer.Send(to, subject, content); err != nil {
			s.recordDispatchError("email", err)
		} else {
			delivered = append(delivered, "email")
			metrics.AlertsDispatched.WithLabelValues("email").Inc()
		}
	}

	return delivered
}

func (s *Service) recordDispatchError(channel string, cause error) {
	if err := s.store.RecordError("alerts.dispatch", cause.Error(), map[string]any{"channel": channel}); err != nil {
		s.log.Error("failed to record dispatch error", "channel", channel, "error", err)
	}
}

func (s *Service) postDiscord(webhook, content string) error {
	if len(content) > 1800 {
		content = content[:1800]
	}
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, webhook, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func renderMessage(sig signalstore.Signal) string {
	summary := sig.Summary
	if summary == "" {
		summary = sig.RawExcerpt
	}
	published := sig.PublishedAt.UTC().Format("2006-01-02 15:04 UTC")
	msg := fmt.Sprintf("**%s**\nSource: %s\nPublished: %s\n%s", sig.Title, sig.Source, published, sig.URL)
	if trimmed := strings.TrimSpace(summary); trimmed != "" {
		msg += "\n\n" + trimmed
	}
	return msg
}

func inQuietHours(config Config, moment time.Time) bool {
	if config.QuietHours[0] == "" || config.QuietHours[1] == "" {
		return false
	}
	loc, err := time.LoadLocation(config.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := moment.In(loc)

	start, err1 := parseClockTime(config.QuietHours[0])
	end, err2 := parseClockTime(config.QuietHours[1])
	if err1 != nil || err2 != nil {
		return false
	}

	current := local.Hour()*60 + local.Minute()
	if start <= end {
		return start <= current && current < end
	}
	return current >= start || current < end
}

// parseClockTime parses "HH:MM" into minutes since midnight.
func parseClockTime(value string) (int, error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q", value)
	}
	var hour, minute int
	if _, err := fmt.Sscanf(parts[0], "%d", &hour); err != nil {
		return 0, err
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &minute); err != nil {
		return 0, err
	}
	return hour*60 + minute, nil
}

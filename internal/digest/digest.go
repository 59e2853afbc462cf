// Package digest renders periodic Markdown roll-ups of recent
// high-priority signals and dispatches them across configured
// channels.
package digest

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
	"forgecore/internal/signalstore"
)

const runGateKey = "run"

// Type is the kind of digest to render.
type Type string

const (
	Daily  Type = "daily"
	Weekly Type = "weekly"
)

func (t Type) String() string { return string(t) }

// ParseType validates a digest type string.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case Daily, Weekly:
		return Type(s), nil
	default:
		return "", fmt.Errorf("unsupported digest type: %q", s)
	}
}

func (t Type) window() time.Duration {
	if t == Weekly {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// Config holds the subset of application configuration the digest
// service reads on every run.
type Config struct {
	Timezone       string
	DiscordWebhook string
	EmailTo        string
}

// Result summarizes one dispatched run.
type Result struct {
	Sent     bool
	Signals  int
	Channels []string
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Store  *signalstore.Store
	Mailer mailer.Sender
	Now    func() time.Time
	Logger *slog.Logger
}

// Service generates and dispatches digests.
type Service struct {
	store  *signalstore.Store
	mailer mailer.Sender
	client *http.Client
	now    func() time.Time
	log    *slog.Logger

	gate callgroup.Group[string]
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
		log:    logger.With("component", "digest"),
	}
}

// GenerateDigestBody renders the Markdown document for the given
// digest type and window, without dispatching or persisting anything.
// If triggeredAt is the zero time, the service clock is used.
func (s *Service) GenerateDigestBody(digestType Type, config Config, triggeredAt time.Time) (string, []signalstore.Signal, error) {
	if triggeredAt.IsZero() {
		triggeredAt = s.now()
	}
	since := triggeredAt.Add(-digestType.window())
	signals, err := s.store.FetchSignals(&since, nil, 0)
	if err != nil {
		return "", nil, fmt.Errorf("fetch signals: %w", err)
	}
	if len(signals) == 0 {
		return "", nil, nil
	}

	loc, err := time.LoadLocation(config.Timezone)
	if err != nil {
		loc = time.UTC
	}

	sorted := append([]signalstore.Signal(nil), signals...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.PublishedAt.After(b.PublishedAt)
	})

	localDate := triggeredAt.In(loc).Format("2006-01-02")
	title := strings.ToUpper(string(digestType[:1])) + string(digestType[1:])
	var buf strings.Builder
	fmt.Fprintf(&buf, "# Starlinker %s Digest (%s)\n\n", title, localDate)
	for _, sig := range sorted {
		published := sig.PublishedAt.In(loc).Format("2006-01-02 15:04")
		fmt.Fprintf(&buf, "- [%s](%s) — %s\n", sig.Title, sig.URL, published)
		summary := sig.Summary
		if summary == "" {
			summary = sig.RawExcerpt
		}
		if trimmed := strings.TrimSpace(summary); trimmed != "" {
			if len(trimmed) > 280 {
				trimmed = trimmed[:280]
			}
			fmt.Fprintf(&buf, "  - %s\n", trimmed)
		}
	}

	return buf.String(), sorted, nil
}

// RunDigest generates the digest body, dispatches it across enabled
// channels, and persists a digest row if at least one channel
// succeeded. At most one run executes at a time.
func (s *Service) RunDigest(ctx context.Context, digestType Type, config Config, triggeredAt time.Time) (Result, error) {
	type outcome struct {
		result Result
		err    error
	}
	var last outcome
	var lastMu sync.Mutex

	ch := s.gate.DoChan(runGateKey, func() error {
		res, err := s.runLocked(digestType, config, triggeredAt)
		lastMu.Lock()
		last = outcome{result: res, err: err}
		lastMu.Unlock()
		return err
	})
	err := <-ch
	lastMu.Lock()
	defer lastMu.Unlock()
	if err != nil && last.err == nil {
		return Result{}, err
	}
	return last.result, last.err
}

func (s *Service) runLocked(digestType Type, config Config, triggeredAt time.Time) (Result, error) {
	if triggeredAt.IsZero() {
		triggeredAt = s.now()
	}
	body, signals, err := s.GenerateDigestBody(digestType, config, triggeredAt)
	if err != nil {
		return Result{}, err
	}
	if len(signals) == 0 {
		return Result{Sent: false, Signals: 0}, nil
	}

	subject := "[Starlinker] " + strings.ToUpper(string(digestType[:1])) + string(digestType[1:]) + " Digest"
	var channels []string

	if webhook := strings.TrimSpace(config.DiscordWebhook); webhook != "" {
		if err := s.postDiscord(webhook, body); err != nil {
			s.recordDispatchError("discord", err)
		} else {
			channels = append(channels, "discord")
		}
	}
	if to := strings.TrimSpace(config.EmailTo); to != "" {
		if err := s.mailer.Send(to, subject, body); err != nil {
			s.recordDispatchError("email", err)
		} else {
			channels = append(channels, "email")
		}
	}

	if len(channels) > 0 {
		if err := s.store.RecordDigest(digestType.String(), body); err != nil {
			return Result{}, fmt.Errorf("record digest: %w", err)
		}
		metrics.DigestsSent.WithLabelValues(digestType.String()).Inc()
	}

	return Result{Sent: len(channels) > 0, Signals: len(signals), Channels: channels}, nil
}

// Preview generates a digest body without dispatching or persisting it.
func (s *Service) Preview(digestType Type, config Config, triggeredAt time.Time) (string, int, error) {
	body, signals, err := s.GenerateDigestBody(digestType, config, triggeredAt)
	if err != nil {
		return "", 0, err
	}
	return body, len(signals), nil
}

func (s *Service) recordDispatchError(channel string, cause error) {
	if err := s.store.RecordError("digest.dispatch", cause.Error(), map[string]any{"channel": channel}); err != nil {
		s.log.Error("failed to record dispatch error", "channel", channel, "error", err)
	}
}

func (s *Service) postDiscord(webhook, body string) error {
	content := body
	if len(content) > 1800 {
		content = content[:1800]
	}
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, webhook, bytes.NewReader(payload))
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

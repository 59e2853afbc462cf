// Package patchnotes implements the reference RSI patch-notes ingest
// module: it establishes the contract every other ingest module
// follows.
package patchnotes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"

	"forgecore/internal/ingest"
	"forgecore/internal/priority"
	"forgecore/internal/signalstore"
)

const sourceOrigin = "https://robertsspaceindustries.com"

// apiURL is a var rather than a const so tests can redirect it to a
// local server; production callers never change it.
var apiURL = sourceOrigin + "/api/patchnotes/get"

// Module is the patch-notes ingest source. It implements ingest.Module.
type Module struct{}

func New() *Module { return &Module{} }

func (m *Module) Name() string { return "rsi.patch_notes" }

func (m *Module) Enabled(config ingest.Config) bool {
	return config.Sources.PatchNotes.Enabled
}

func (m *Module) Run(ctx context.Context, config ingest.Config, client *http.Client, triggeredAt time.Time) ([]signalstore.Signal, error) {
	channels := []string{"LIVE"}
	if config.Sources.PatchNotes.IncludePTU {
		channels = append(channels, "PTU")
	}

	seen := make(map[string]bool)
	var results []signalstore.Signal

	for _, channel := range channels {
		items, err := fetchChannel(ctx, client, channel)
		if err != nil {
			return nil, fmt.Errorf("fetch channel %s: %w", channel, err)
		}
		for _, item := range items {
			sig := normalizeItem(item, channel, triggeredAt)
			if seen[sig.URL] {
				continue
			}
			seen[sig.URL] = true
			results = append(results, sig)
		}
	}

	return results, nil
}

type patchNoteItem map[string]any

func fetchChannel(ctx context.Context, client *http.Client, channel string) ([]patchNoteItem, error) {
	var items []patchNoteItem

	err := retry.Do(
		func() error {
			fetched, err := doFetchChannel(ctx, client, channel)
			if err != nil {
				return err
			}
			items = fetched
			return nil
		},
		retry.Attempts(3),
		retry.Delay(250*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return items, nil
}

func doFetchChannel(ctx context.Context, client *http.Client, channel string) ([]patchNoteItem, error) {
	q := url.Values{}
	q.Set("page", "1")
	q.Set("channel", channel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, apiURL)
	}

	var payload struct {
		Data struct {
			PatchNotes []patchNoteItem `json:"patchnotes"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return payload.Data.PatchNotes, nil
}

func normalizeItem(item patchNoteItem, channel string, fetchedAt time.Time) signalstore.Signal {
	title := stringField(item, "title")
	if title == "" {
		title = "Patch Notes"
	}
	title = strings.TrimSpace(title)

	link := buildURL(item["url"])

	publishedAt := parseTimestamp(item["published_at"])
	if publishedAt.IsZero() {
		publishedAt = parseTimestamp(item["time_created"])
	}
	if publishedAt.IsZero() {
		publishedAt = parseTimestamp(item["created_at"])
	}
	if publishedAt.IsZero() {
		publishedAt = time.Now().UTC()
	}

	excerpt := firstNonEmpty(stringField(item, "excerpt"), stringField(item, "snippet"), stringField(item, "brief"))

	lowerChannel := strings.ToLower(channel)
	tags := []string{"rsi", "patch-notes", lowerChannel}
	if itemChannel := stringField(item, "channel"); itemChannel != "" {
		lowerItemChannel := strings.ToLower(itemChannel)
		if !containsString(tags, lowerItemChannel) {
			tags = append(tags, lowerItemChannel)
		}
	}

	return signalstore.Signal{
		Source:      "rsi.patch_notes." + lowerChannel,
		Title:       title,
		URL:         link,
		PublishedAt: publishedAt.UTC(),
		FetchedAt:   fetchedAt.UTC(),
		RawExcerpt:  strings.TrimSpace(excerpt),
		Tags:        tags,
		Priority:    priority.Score(0, tags, title),
	}
}

func buildURL(raw any) string {
	s := strings.TrimSpace(fmt.Sprint(raw))
	if raw == nil {
		s = ""
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return s
	}
	if s == "" {
		s = "/"
	} else if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	return sourceOrigin + s
}

func parseTimestamp(value any) time.Time {
	switch v := value.(type) {
	case nil:
		return time.Time{}
	case float64:
		return time.Unix(int64(v), 0).UTC()
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return time.Unix(int64(f), 0).UTC()
		}
		return time.Time{}
	case string:
		text := strings.TrimSpace(v)
		if text == "" {
			return time.Time{}
		}
		if n, err := strconv.ParseFloat(text, 64); err == nil {
			return time.Unix(int64(n), 0).UTC()
		}
		text = strings.Replace(text, "Z", "+00:00", 1)
		layouts := []string{
			"2006-01-02T15:04:05Z07:00",
			"2006-01-02T15:04:05",
			"2006-01-02 15:04:05Z07:00",
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, text); err == nil {
				return t.UTC()
			}
		}
		return time.Time{}
	default:
		return time.Time{}
	}
}

func stringField(item patchNoteItem, key string) string {
	v, ok := item[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func containsString(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}

// Package signalstore persists Starlinker's signals, alerts, digests,
// error events, and settings to a local SQLite database.
package signalstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const timeFormat = time.RFC3339

// Store is a SQLite-backed implementation of Starlinker's persistence
// layer. Each exported method opens a single transaction (or, for reads, a
// single statement) and holds no connection across calls beyond the pool
// itself.
type Store struct {
	db *sql.DB
}

// Now is overridable for deterministic tests; it defaults to time.Now.
var Now = time.Now

// Open opens (creating if necessary) a SQLite database at path and runs
// migrations. The returned Store is ready to use.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create signalstore directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set foreign_keys: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Initialize re-runs migrations, which are idempotent. Open already does
// this; Initialize exists so callers that only hold a Store (e.g. after
// passing it across package boundaries) can assert the schema is current.
func (s *Store) Initialize() error {
	return runMigrations(s.db)
}

// StoreSignals inserts each signal, skipping any whose url already exists,
// and returns the count actually inserted.
func (s *Store) StoreSignals(signals []Signal) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin store signals: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO signals(source, title, url, published_at, fetched_at, raw_excerpt, summary, tags_json, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare store signals: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, sig := range signals {
		tagsJSON, err := json.Marshal(sig.Tags)
		if err != nil {
			return 0, fmt.Errorf("marshal tags for %q: %w", sig.URL, err)
		}

		_, err = stmt.Exec(
			sig.Source, sig.Title, sig.URL,
			sig.PublishedAt.UTC().Format(timeFormat),
			sig.FetchedAt.UTC().Format(timeFormat),
			nullableString(sig.RawExcerpt), nullableString(sig.Summary),
			string(tagsJSON), sig.Priority,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				continue
			}
			return 0, fmt.Errorf("insert signal %q: %w", sig.URL, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit store signals: %w", err)
	}
	return inserted, nil
}

// FetchSignals returns signals ordered by published_at descending, optionally
// filtered to those fetched at or after since, with priority at or above
// minPriority, limited to limit rows (0 means unlimited).
func (s *Store) FetchSignals(since *time.Time, minPriority *int, limit int) ([]Signal, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT id, source, title, url, published_at, fetched_at, raw_excerpt, summary, tags_json, priority
		FROM signals WHERE 1=1
	`)
	var args []any
	if since != nil {
		query.WriteString(" AND fetched_at >= ?")
		args = append(args, since.UTC().Format(timeFormat))
	}
	if minPriority != nil {
		query.WriteString(" AND priority >= ?")
		args = append(args, *minPriority)
	}
	query.WriteString(" ORDER BY published_at DESC")
	if limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	rows, err := s.db.Query(query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("fetch signals: %w", err)
	}
	defer rows.Close()

	var signals []Signal
	for rows.Next() {
		var (
			sig                    Signal
			publishedAt, fetchedAt string
			rawExcerpt, summary    sql.NullString
			tagsJSON               string
		)
		if err := rows.Scan(&sig.ID, &sig.Source, &sig.Title, &sig.URL, &publishedAt, &fetchedAt,
			&rawExcerpt, &summary, &tagsJSON, &sig.Priority); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		sig.PublishedAt, err = time.Parse(timeFormat, publishedAt)
		if err != nil {
			return nil, fmt.Errorf("parse published_at: %w", err)
		}
		sig.FetchedAt, err = time.Parse(timeFormat, fetchedAt)
		if err != nil {
			return nil, fmt.Errorf("parse fetched_at: %w", err)
		}
		sig.RawExcerpt = rawExcerpt.String
		sig.Summary = summary.String
		if err := json.Unmarshal([]byte(tagsJSON), &sig.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// RecordAlert inserts an alert row. Callers must check AlertExists first;
// RecordAlert itself does not deduplicate.
func (s *Store) RecordAlert(alert Alert) error {
	channelsJSON, err := json.Marshal(alert.DeliveredChannels)
	if err != nil {
		return fmt.Errorf("marshal delivered channels: %w", err)
	}
	createdAt := alert.CreatedAt
	if createdAt.IsZero() {
		createdAt = Now()
	}
	_, err = s.db.Exec(`
		INSERT INTO alerts(created_at, type, title, url, delivered_channels_json, dedup_key)
		VALUES (?, ?, ?, ?, ?, ?)
	`, createdAt.UTC().Format(timeFormat), alert.Type, alert.Title, nullableString(alert.URL), string(channelsJSON), alert.DedupKey)
	if err != nil {
		return fmt.Errorf("record alert: %w", err)
	}
	return nil
}

// AlertExists reports whether an alert with dedupKey has already been
// recorded.
func (s *Store) AlertExists(dedupKey string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM alerts WHERE dedup_key = ?`, dedupKey).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check alert exists: %w", err)
	}
	return count > 0, nil
}

// RecordDigest inserts a digest row. digestType is the digest's rendered
// type string (e.g. "daily", "weekly").
func (s *Store) RecordDigest(digestType, bodyMarkdown string) error {
	_, err := s.db.Exec(`
		INSERT INTO digests(sent_at, type, body_markdown) VALUES (?, ?, ?)
	`, Now().UTC().Format(timeFormat), digestType, bodyMarkdown)
	if err != nil {
		return fmt.Errorf("record digest: %w", err)
	}
	return nil
}

// ListDigests returns the most recent digests, newest first, limited to
// limit rows (0 means unlimited).
func (s *Store) ListDigests(limit int) ([]Digest, error) {
	query := `SELECT id, sent_at, type, body_markdown FROM digests ORDER BY sent_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list digests: %w", err)
	}
	defer rows.Close()

	var digests []Digest
	for rows.Next() {
		var d Digest
		var sentAt string
		if err := rows.Scan(&d.ID, &sentAt, &d.Type, &d.BodyMarkdown); err != nil {
			return nil, fmt.Errorf("scan digest: %w", err)
		}
		d.SentAt, err = time.Parse(timeFormat, sentAt)
		if err != nil {
			return nil, fmt.Errorf("parse sent_at: %w", err)
		}
		digests = append(digests, d)
	}
	return digests, rows.Err()
}

// RecordError appends an error event for module.
func (s *Store) RecordError(module, message string, details map[string]any) error {
	var detailsJSON sql.NullString
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("marshal error details: %w", err)
		}
		detailsJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO errors(ts, module, message, details_json) VALUES (?, ?, ?, ?)
	`, Now().UTC().Format(timeFormat), module, message, detailsJSON)
	if err != nil {
		return fmt.Errorf("record error: %w", err)
	}
	return nil
}

// HealthSnapshot returns row counts for signals/digests/alerts and the most
// recently recorded error, if any.
func (s *Store) HealthSnapshot() (HealthSnapshot, error) {
	var snap HealthSnapshot
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM signals`).Scan(&snap.SignalCount); err != nil {
		return HealthSnapshot{}, fmt.Errorf("count signals: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM digests`).Scan(&snap.DigestCount); err != nil {
		return HealthSnapshot{}, fmt.Errorf("count digests: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM alerts`).Scan(&snap.AlertCount); err != nil {
		return HealthSnapshot{}, fmt.Errorf("count alerts: %w", err)
	}

	row := s.db.QueryRow(`SELECT id, ts, module, message, details_json FROM errors ORDER BY ts DESC LIMIT 1`)
	var ev ErrorEvent
	var ts string
	var detailsJSON sql.NullString
	err := row.Scan(&ev.ID, &ts, &ev.Module, &ev.Message, &detailsJSON)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// No error recorded yet; LastError stays nil.
	case err != nil:
		return HealthSnapshot{}, fmt.Errorf("scan last error: %w", err)
	default:
		ev.Ts, err = time.Parse(timeFormat, ts)
		if err != nil {
			return HealthSnapshot{}, fmt.Errorf("parse error ts: %w", err)
		}
		if detailsJSON.Valid {
			if err := json.Unmarshal([]byte(detailsJSON.String), &ev.Details); err != nil {
				return HealthSnapshot{}, fmt.Errorf("unmarshal error details: %w", err)
			}
		}
		snap.LastError = &ev
	}
	return snap, nil
}

// PutSetting upserts a JSON-serializable value under key.
func (s *Store) PutSetting(key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal setting %q: %w", key, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO settings(key, value_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json, updated_at = excluded.updated_at
	`, key, string(payload), Now().UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("put setting %q: %w", key, err)
	}
	return nil
}

// GetSetting decodes the value stored under key into out. It returns
// sql.ErrNoRows if key has never been set.
func (s *Store) GetSetting(key string, out any) error {
	var valueJSON string
	err := s.db.QueryRow(`SELECT value_json FROM settings WHERE key = ?`, key).Scan(&valueJSON)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(valueJSON), out); err != nil {
		return fmt.Errorf("unmarshal setting %q: %w", key, err)
	}
	return nil
}

// ListSettings returns every stored setting's raw JSON value, keyed by
// setting key.
func (s *Store) ListSettings() (map[string]json.RawMessage, error) {
	rows, err := s.db.Query(`SELECT key, value_json FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[key] = json.RawMessage(value)
	}
	return out, rows.Err()
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

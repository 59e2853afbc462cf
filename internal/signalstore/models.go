package signalstore

import "time"

// Signal is a single normalized item produced by an ingest module.
type Signal struct {
	ID          int64
	Source      string
	Title       string
	URL         string
	PublishedAt time.Time
	FetchedAt   time.Time
	RawExcerpt  string
	Summary     string
	Tags        []string
	Priority    int
}

// Alert is a delivered (or attempted) notification derived from one or more
// signals.
type Alert struct {
	ID                int64
	CreatedAt         time.Time
	Type              string
	Title             string
	URL               string
	DeliveredChannels []string
	DedupKey          string
}

// Digest is a rendered roll-up of signals sent over one or more channels.
type Digest struct {
	ID           int64
	SentAt       time.Time
	Type         string
	BodyMarkdown string
}

// ErrorEvent is an append-only record of a failure encountered by some
// component, keyed by the module name that reported it.
type ErrorEvent struct {
	ID      int64
	Ts      time.Time
	Module  string
	Message string
	Details map[string]any
}

// HealthSnapshot summarizes row counts and the most recent recorded error.
type HealthSnapshot struct {
	SignalCount int64
	DigestCount int64
	AlertCount  int64
	LastError   *ErrorEvent
}

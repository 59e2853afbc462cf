// Package settings holds the Starlinker configuration tree, its
// validation rules, and the repository that persists it.
package settings

import (
	"forgecore/internal/alerts"
	"forgecore/internal/ingest"
)

// ThemeSlugs lists the accepted appearance themes.
var ThemeSlugs = []string{"neutral", "uee", "crusader", "drake", "rsi"}

// OutputsConfig names the two dispatch channels; an empty string
// disables the corresponding channel.
type OutputsConfig struct {
	DiscordWebhook string `json:"discord_webhook"`
	EmailTo        string `json:"email_to"`
}

// RoadmapConfig, StatusConfig, and ThisWeekConfig are simple
// enable/disable toggles for their respective ingest sources.
type RoadmapConfig struct {
	Enabled bool `json:"enabled"`
}

type StatusConfig struct {
	Enabled bool `json:"enabled"`
}

type ThisWeekConfig struct {
	Enabled bool `json:"enabled"`
}

// InsideStarCitizenConfig controls the "Inside Star Citizen" video
// ingest source.
type InsideStarCitizenConfig struct {
	Enabled  bool     `json:"enabled"`
	Channels []string `json:"channels"`
}

// RedditSourceConfig controls the Reddit ingest source.
type RedditSourceConfig struct {
	Enabled         bool     `json:"enabled"`
	Subs            []string `json:"subs"`
	Feed            []string `json:"feed"`
	MinUpvotes      int      `json:"min_upvotes"`
	IncludeKeywords []string `json:"include_keywords"`
	ExcludeKeywords []string `json:"exclude_keywords"`
	ExcludeFlairs   []string `json:"exclude_flairs"`
}

// SourcesConfig is the tree of every ingest source's configuration.
type SourcesConfig struct {
	PatchNotes ingest.PatchNotesConfig `json:"patch_notes"`
	Roadmap    RoadmapConfig           `json:"roadmap"`
	Status     StatusConfig            `json:"status"`
	ThisWeek   ThisWeekConfig          `json:"this_week"`
	InsideSC   InsideStarCitizenConfig `json:"inside_sc"`
	Reddit     RedditSourceConfig      `json:"reddit"`
}

// ScheduleConfig controls the scheduler's interval and cron-like jobs.
type ScheduleConfig struct {
	DigestDaily         string `json:"digest_daily"`
	DigestWeekly        string `json:"digest_weekly"`
	PriorityPollMinutes int    `json:"priority_poll_minutes"`
	StandardPollHours   int    `json:"standard_poll_hours"`
}

// AppearanceConfig controls the admin UI theme.
type AppearanceConfig struct {
	Theme string `json:"theme"`
}

// Config is the root Starlinker configuration tree.
type Config struct {
	Timezone   string           `json:"timezone"`
	QuietHours [2]string        `json:"quiet_hours"`
	Schedule   ScheduleConfig   `json:"schedule"`
	Outputs    OutputsConfig    `json:"outputs"`
	Sources    SourcesConfig    `json:"sources"`
	Appearance AppearanceConfig `json:"appearance"`
}

// DefaultConfig returns the configuration tree's default values.
func DefaultConfig() Config {
	return Config{
		Timezone:   "America/New_York",
		QuietHours: [2]string{"23:00", "07:00"},
		Schedule: ScheduleConfig{
			DigestDaily:         "09:00",
			DigestWeekly:        "",
			PriorityPollMinutes: 60,
			StandardPollHours:   6,
		},
		Outputs: OutputsConfig{},
		Sources: SourcesConfig{
			PatchNotes: ingest.PatchNotesConfig{Enabled: true},
			Roadmap:    RoadmapConfig{Enabled: true},
			Status:     StatusConfig{Enabled: true},
			ThisWeek:   ThisWeekConfig{Enabled: true},
			InsideSC:   InsideStarCitizenConfig{Enabled: true, Channels: []string{"rsi_official"}},
			Reddit:     RedditSourceConfig{Enabled: false, Subs: []string{"starcitizen"}, Feed: []string{"new"}, MinUpvotes: 50},
		},
		Appearance: AppearanceConfig{Theme: "neutral"},
	}
}

// AlertsConfig projects the fields alerts.Service needs out of the
// full configuration tree.
func (c Config) AlertsConfig() alerts.Config {
	return alerts.Config{
		WindowHours:    24,
		MinPriority:    60,
		Timezone:       c.Timezone,
		QuietHours:     c.QuietHours,
		DiscordWebhook: c.Outputs.DiscordWebhook,
		EmailTo:        c.Outputs.EmailTo,
	}
}

// IngestConfig projects the fields ingest modules need out of the full
// configuration tree.
func (c Config) IngestConfig() ingest.Config {
	return ingest.Config{Sources: ingest.SourcesConfig{PatchNotes: c.Sources.PatchNotes}}
}

// Package newsapi exposes Starlinker's backend over HTTP: health,
// settings CRUD, manual poll/digest triggers, alert snoozing, digest
// preview, and the appearance theme list.
package newsapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"forgecore/internal/alerts"
	"forgecore/internal/digest"
	"forgecore/internal/ingest"
	"forgecore/internal/metrics"
	"forgecore/internal/scheduler"
	"forgecore/internal/settings"
	"forgecore/internal/signalstore"
	"forgecore/internal/sysmetrics"
)

// Server serves Starlinker's admin API over HTTP.
type Server struct {
	addr      string
	listener  net.Listener
	server    *http.Server
	store     *signalstore.Store
	settings  *settings.Repository
	ingest    *ingest.Manager
	alerts    *alerts.Service
	digest    *digest.Service
	scheduler *scheduler.Scheduler
	now       func() time.Time
	logger    *slog.Logger
}

// Config configures a Server.
type Config struct {
	Addr      string
	Store     *signalstore.Store
	Settings  *settings.Repository
	Ingest    *ingest.Manager
	Alerts    *alerts.Service
	Digest    *digest.Service
	Scheduler *scheduler.Scheduler
	Now       func() time.Time
	Logger    *slog.Logger
}

// New creates a Starlinker admin API Server bound to cfg.Addr.
func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		addr:      cfg.Addr,
		store:     cfg.Store,
		settings:  cfg.Settings,
		ingest:    cfg.Ingest,
		alerts:    cfg.Alerts,
		digest:    cfg.Digest,
		scheduler: cfg.Scheduler,
		now:       now,
		logger:    log.With("component", "newsapi"),
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /settings", s.handleGetSettings)
	mux.HandleFunc("PUT /settings", s.handlePutSettings)
	mux.HandleFunc("PATCH /settings", s.handlePatchSettings)
	mux.HandleFunc("GET /settings/defaults", s.handleSettingsDefaults)
	mux.HandleFunc("GET /settings/schema", s.handleSettingsSchema)
	mux.HandleFunc("POST /run/poll", s.handleRunPoll)
	mux.HandleFunc("POST /run/digest", s.handleRunDigest)
	mux.HandleFunc("POST /alerts/snooze", s.handleAlertsSnooze)
	mux.HandleFunc("GET /digest/preview", s.handleDigestPreview)
	mux.HandleFunc("GET /appearance/themes", s.handleAppearanceThemes)
	mux.Handle("GET /metrics", metrics.Handler())

	s.server = &http.Server{Handler: mux}

	var err error
	s.listener, err = net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.logger.Info("news api starting", "addr", s.listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("news api stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Addr returns the listener address. Only valid after Run has started.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	storeHealth, err := s.store.HealthSnapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{
		"store":        storeHealth,
		"cpu_percent":  sysmetrics.CPUPercent(),
		"memory_inuse": sysmetrics.MemoryInuse(),
	}
	if s.scheduler != nil {
		resp["scheduler"] = s.scheduler.HealthSnapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.settings.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var cfg settings.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	saved, err := s.settings.Save(cfg)
	if err != nil {
		s.writeSettingsError(w, err)
		return
	}
	s.refreshScheduler(saved)
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	saved, err := s.settings.ApplyPatch(patch)
	if err != nil {
		s.writeSettingsError(w, err)
		return
	}
	s.refreshScheduler(saved)
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) refreshScheduler(cfg settings.Config) {
	if s.scheduler == nil {
		return
	}
	schedCfg := scheduler.Config{
		PriorityPollMinutes: cfg.Schedule.PriorityPollMinutes,
		StandardPollHours:   cfg.Schedule.StandardPollHours,
		DigestDaily:         cfg.Schedule.DigestDaily,
		DigestWeekly:        cfg.Schedule.DigestWeekly,
		Timezone:            cfg.Timezone,
	}
	if err := s.scheduler.RefreshConfig(schedCfg); err != nil {
		s.logger.Warn("failed to refresh scheduler after settings update", "error", err)
	}
}

func (s *Server) writeSettingsError(w http.ResponseWriter, err error) {
	var verr *settings.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": verr.Error(), "fields": verr.Errors})
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) handleSettingsDefaults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.DefaultConfig())
}

func (s *Server) handleSettingsSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := s.settings.ConfigSchema()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func (s *Server) handleRunPoll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	reason := body.Reason
	if reason == "" {
		reason = "manual"
	}

	cfg, err := s.settings.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	triggeredAt := s.now()
	results, err := s.ingest.RunPoll(r.Context(), cfg.IngestConfig(), reason, triggeredAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	alertsResult, err := s.alerts.Run(r.Context(), cfg.AlertsConfig(), triggeredAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"triggered_at": triggeredAt,
		"modules":      results,
		"alerts":       alertsResult,
	})
}

func (s *Server) handleRunDigest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	typ := body.Type
	if typ == "" {
		typ = "daily"
	}
	digestType, err := digest.ParseType(typ)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := s.settings.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	digestCfg := digest.Config{Timezone: cfg.Timezone, DiscordWebhook: cfg.Outputs.DiscordWebhook, EmailTo: cfg.Outputs.EmailTo}
	res, err := s.digest.RunDigest(r.Context(), digestType, digestCfg, s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDigestPreview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("digest_type")
	if q == "" {
		q = "daily"
	}
	digestType, err := digest.ParseType(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := s.settings.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	digestCfg := digest.Config{Timezone: cfg.Timezone, DiscordWebhook: cfg.Outputs.DiscordWebhook, EmailTo: cfg.Outputs.EmailTo}
	body, count, err := s.digest.Preview(digestType, digestCfg, s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"body": body, "signals": count})
}

func (s *Server) handleAlertsSnooze(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Minutes int `json:"minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Minutes < 5 || body.Minutes > 720 {
		writeError(w, http.StatusBadRequest, "minutes must be between 5 and 720")
		return
	}
	until := s.now().Add(time.Duration(body.Minutes) * time.Minute)
	s.alerts.Snooze(until)
	writeJSON(w, http.StatusOK, map[string]any{"snoozed_until": until})
}

func (s *Server) handleAppearanceThemes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"themes": settings.ThemeSlugs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

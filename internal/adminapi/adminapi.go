// Package adminapi exposes ForgeCore's module runtime over a thin HTTP
// surface: module listing/detail, per-module key/value storage, and
// dependency-graph validation.
package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"forgecore/internal/kvstore"
	"forgecore/internal/runtime"
	"forgecore/internal/sysmetrics"
)

// Server serves the admin API over HTTP.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	runtime  *runtime.Runtime
	logger   *slog.Logger
}

// Config configures a Server.
type Config struct {
	Addr    string
	Runtime *runtime.Runtime
	Logger  *slog.Logger
}

// New creates an admin API Server bound to cfg.Addr.
func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr:    cfg.Addr,
		runtime: cfg.Runtime,
		logger:  log.With("component", "adminapi"),
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/modules", s.handleListModules)
	mux.HandleFunc("GET /api/modules/{name}", s.handleModuleDetails)
	mux.HandleFunc("GET /api/storage/{module}", s.handleStorageList)
	mux.HandleFunc("GET /api/storage/{module}/{key}", s.handleStorageGet)
	mux.HandleFunc("PUT /api/storage/{module}/{key}", s.handleStoragePut)
	mux.HandleFunc("DELETE /api/storage/{module}/{key}", s.handleStorageDelete)
	mux.HandleFunc("POST /api/validate", s.handleValidate)

	s.server = &http.Server{Handler: mux}

	var err error
	s.listener, err = net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.logger.Info("admin api starting", "addr", s.listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("admin api stopping")
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

type moduleSummary struct {
	Name     string   `json:"name"`
	Enabled  bool     `json:"enabled"`
	Provides []string `json:"provides"`
	Requires []string `json:"requires"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"modules_loaded": len(s.runtime.Loader.List()),
		"cpu_percent":    sysmetrics.CPUPercent(),
		"memory_inuse":   sysmetrics.MemoryInuse(),
	})
}

func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	states := s.runtime.Loader.List()
	summaries := make([]moduleSummary, 0, len(states))
	for _, st := range states {
		summaries = append(summaries, moduleSummary{
			Name:     st.Name,
			Enabled:  st.Enabled,
			Provides: st.Provides,
			Requires: st.Requires,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"modules": summaries})
}

func (s *Server) handleModuleDetails(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	st, ok := s.runtime.Loader.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "module not found")
		return
	}
	data := make(map[string]any, len(st.Manifest.Raw())+1)
	for k, v := range st.Manifest.Raw() {
		data[k] = v
	}
	data["enabled"] = st.Enabled
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleStorageList(w http.ResponseWriter, r *http.Request) {
	module := r.PathValue("module")
	keys, err := s.runtime.Storage.ListKeys(module)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) handleStorageGet(w http.ResponseWriter, r *http.Request) {
	module, key := r.PathValue("module"), r.PathValue("key")
	var value any
	if err := s.runtime.Storage.Load(module, key, &value); err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, value)
}

func (s *Server) handleStoragePut(w http.ResponseWriter, r *http.Request) {
	module, key := r.PathValue("module"), r.PathValue("key")

	var body struct {
		Value any `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.runtime.Storage.Store(module, key, body.Value); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStorageDelete(w http.ResponseWriter, r *http.Request) {
	module, key := r.PathValue("module"), r.PathValue("key")
	if err := s.runtime.Storage.Delete(module, key); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	graph := s.runtime.Loader.DependencyGraph()
	writeJSON(w, http.StatusOK, map[string]any{"graph": graph})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

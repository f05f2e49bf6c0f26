// Package web serves the JSON API, the sign-in flow and the embedded UI.
package web

import (
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"campusevents/internal/auth"
	"campusevents/internal/classify"
	"campusevents/internal/config"
	appLog "campusevents/internal/log"
	"campusevents/internal/metrics"
	"campusevents/internal/store"
)

const eventsCacheTTL = 30 * time.Second

// Options wires a Server.
type Options struct {
	Config     *config.Config
	Store      *store.Store
	Provider   auth.Provider
	Gate       *auth.Gate
	Sessions   *auth.Sessions
	Classifier *classify.Classifier
	// Registry, when set, is exposed on /metrics.
	Registry *prometheus.Registry
	Now      func() time.Time
}

// Server holds the handlers and their shared state.
type Server struct {
	cfg        *config.Config
	store      *store.Store
	provider   auth.Provider
	gate       *auth.Gate
	sessions   *auth.Sessions
	classifier *classify.Classifier
	registry   *prometheus.Registry
	now        func() time.Time
	loc        *time.Location
	mux        *http.ServeMux

	// Active events are cached briefly so list requests do not hit sqlite
	// each time; scrapes call InvalidateEvents.
	eventsMu    sync.RWMutex
	eventsCache *eventsCache
}

//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a Server and registers its routes.
func NewServer(opts Options) *Server {
	s := &Server{
		cfg:        opts.Config,
		store:      opts.Store,
		provider:   opts.Provider,
		gate:       opts.Gate,
		sessions:   opts.Sessions,
		classifier: opts.Classifier,
		registry:   opts.Registry,
		now:        opts.Now,
		loc:        opts.Config.Location(),
		mux:        http.NewServeMux(),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.classifier == nil {
		s.classifier = classify.Default()
	}
	s.registerRoutes()
	return s
}

// Handler returns the instrumented handler.
func (s *Server) Handler() http.Handler {
	return s.instrument(s.mux)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.registry != nil {
		s.mux.Handle("GET /metrics", metrics.Handler(s.registry))
	}

	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/events/{id}", s.handleEvent)
	s.mux.HandleFunc("GET /api/events/{id}/ics", s.handleEventICS)

	s.mux.HandleFunc("GET /auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /auth/callback", s.handleCallback)
	s.mux.HandleFunc("POST /auth/logout", s.handleLogout)
	if _, ok := s.provider.(auth.DevProvider); ok {
		s.mux.HandleFunc("GET /auth/dev", s.handleDevForm)
		s.mux.HandleFunc("POST /auth/dev", s.handleDevSignIn)
	}

	s.mux.HandleFunc("GET /api/me", s.handleGetMe)
	s.mux.HandleFunc("PUT /api/me", s.handlePutMe)
	s.mux.HandleFunc("PUT /api/me/preferences", s.handlePutPreferences)
	s.mux.HandleFunc("GET /api/me/saved", s.handleListSaved)
	s.mux.HandleFunc("GET /api/me/saved.ics", s.handleSavedICS)
	s.mux.HandleFunc("POST /api/me/saved/{id}", s.handleSave)
	s.mux.HandleFunc("DELETE /api/me/saved/{id}", s.handleUnsave)

	s.mux.Handle("/", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		appLog.Error("health: store ping failed", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// staticFileServer serves the embedded UI. /api/* never falls through to
// HTML.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("embedded static filesystem unavailable", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}
	fileServer := http.FileServer(http.FS(sub))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument counts requests by matched route pattern and status code.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// readJSON decodes a bounded request body into dst, rejecting unknown
// fields.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

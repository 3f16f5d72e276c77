// Package server exposes the relationship engine over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lazypower/affinity/internal/engine"
	"github.com/lazypower/affinity/internal/metrics"
	"github.com/lazypower/affinity/internal/store"
)

// Server is the affinity HTTP API server.
type Server struct {
	eng     *engine.Engine
	db      *store.DB
	metrics *metrics.Collector
	log     *zap.Logger
	router  chi.Router
	version string
	started time.Time
}

// New creates a new Server. m and log may be nil.
func New(eng *engine.Engine, db *store.DB, m *metrics.Collector, log *zap.Logger, version string) *Server {
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		eng:     eng,
		db:      db,
		metrics: m,
		log:     log,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(s.observe)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/graph", s.handleGraph)
		r.Get("/overview", s.handleOverview)
		r.Get("/score", s.handleScore)
		r.Post("/events", s.handleEvent)

		r.Post("/items", s.handleUpsertItem)
		r.Route("/items/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetItem)
			r.Delete("/", s.handleDeleteItem)
			r.Put("/manual-links", s.handleSetManualLinks)
			r.Get("/links", s.handleLinks)
			r.Get("/stats", s.handleStats)
			r.Post("/recalculate", s.handleRecalculate)
		})

		r.Post("/sweep", s.handleSweep)
		r.Get("/sweep/last", s.handleLastSweep)
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	s.router = r
}

// observe records request counts and latency by route pattern, keeping ids
// out of the label set.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveRequest(r.Method, route, strconv.Itoa(status), time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.PingContext(r.Context()); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// engineError maps engine failures onto HTTP statuses.
func (s *Server) engineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrSelfPair):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrScoring):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// itemID parses the {id} route parameter, writing a 400 when it is not a
// positive integer.
func itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return 0, false
	}
	return id, true
}

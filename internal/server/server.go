// Package server exposes the catalog as a read-only JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-pipeline/internal/identity"
	"github.com/sells-group/deal-pipeline/internal/model"
	"github.com/sells-group/deal-pipeline/internal/store"
)

// Page size bounds for /deals.
const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Server serves the read API.
type Server struct {
	store   store.Store
	origins []string
}

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigins sets the CORS origins. The default allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// New creates a Server over st.
func New(st store.Store, opts ...Option) *Server {
	s := &Server{store: st, origins: []string{"*"}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Route("/deals", func(r chi.Router) {
		r.Get("/", s.listDeals)
		r.Get("/{uid}", s.getDeal)
		r.Get("/{uid}/history", s.dealHistory)
	})
	r.Route("/snapshots", func(r chi.Router) {
		r.Get("/", s.listSnapshots)
		r.Get("/{key}", s.getSnapshot)
	})
	r.Get("/runs", s.listRuns)
	return r
}

// ListenAndServe serves on port until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Error("server: shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("server: listening", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listDeals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.DealFilter{
		Source:   q.Get("source"),
		Industry: q.Get("industry"),
		Limit:    defaultLimit,
	}
	if v := q.Get("status"); v != "" {
		st := model.Status(v)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(v))
			return
		}
		filter.Status = &st
	}
	if v := q.Get("decision"); v != "" {
		d := model.Decision(v)
		if !validDecision(d) {
			writeError(w, http.StatusBadRequest, "unknown decision "+strconv.Quote(v))
			return
		}
		filter.Decision = &d
	}
	var ok bool
	if filter.Limit, ok = intParam(w, q.Get("limit"), defaultLimit, "limit"); !ok {
		return
	}
	if filter.Offset, ok = intParam(w, q.Get("offset"), 0, "offset"); !ok {
		return
	}
	if filter.Limit <= 0 || filter.Limit > maxLimit {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxLimit))
		return
	}

	deals, err := s.store.ListDeals(r.Context(), filter)
	if err != nil {
		s.internal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deals":  dealViews(deals),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (s *Server) getDeal(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newDealView(d))
}

func (s *Server) dealHistory(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookup(w, r)
	if !ok {
		return
	}
	history, err := s.store.ListStatusHistory(r.Context(), d.ID)
	if err != nil {
		s.internal(w, err)
		return
	}
	if history == nil {
		history = []model.StatusChange{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deal_uid": d.UID(), "history": history})
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	keys, err := s.store.ListSnapshotKeys(r.Context())
	if err != nil {
		s.internal(w, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	rows, err := s.store.ListSnapshot(r.Context(), key)
	if err != nil {
		s.internal(w, err)
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "snapshot "+key+" not found")
		return
	}
	total := 0
	for _, row := range rows {
		total += row.DealCount
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "total": total, "rows": rows})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r.URL.Query().Get("limit"), 50, "limit")
	if !ok {
		return
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.internal(w, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// lookup resolves the {uid} path parameter, writing the error response itself.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*model.Deal, bool) {
	id, err := identity.ParseUID(chi.URLParam(r, "uid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	d, err := s.store.GetDealByIdentity(r.Context(), id)
	if errors.Is(err, store.ErrDealNotFound) {
		writeError(w, http.StatusNotFound, "deal "+id.UID()+" not found")
		return nil, false
	}
	if err != nil {
		s.internal(w, err)
		return nil, false
	}
	return d, true
}

func (s *Server) internal(w http.ResponseWriter, err error) {
	zap.L().Error("server: request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func intParam(w http.ResponseWriter, raw string, def int, name string) (int, bool) {
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return v, true
}

func validDecision(d model.Decision) bool {
	for _, v := range model.Decisions {
		if v == d {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

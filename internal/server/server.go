// Package server exposes a small ops API over the failed-query queue.
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
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/aminoscout/internal/config"
	"github.com/sells-group/aminoscout/internal/metrics"
	"github.com/sells-group/aminoscout/internal/model"
	"github.com/sells-group/aminoscout/internal/pipeline"
	"github.com/sells-group/aminoscout/internal/query"
	"github.com/sells-group/aminoscout/internal/store"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	reviewLimit      = 50
	maxBodyBytes     = 1 << 16
)

// Options configures a Server.
type Options struct {
	Store       store.Store
	Pipeline    *pipeline.Pipeline
	Metrics     *metrics.Metrics
	CORSOrigins []string
}

// Server serves the ops API.
type Server struct {
	store       store.Store
	logger      *query.Logger
	pipeline    *pipeline.Pipeline
	metrics     *metrics.Metrics
	corsOrigins []string
}

// New creates a Server.
func New(opts Options) *Server {
	m := opts.Metrics
	if m == nil {
		m = metrics.New(true)
	}
	p := opts.Pipeline
	if p == nil {
		p = pipeline.New(config.PipelineConfig{}, pipeline.Deps{Store: opts.Store, Metrics: m})
	}
	return &Server{
		store:       opts.Store,
		logger:      query.NewLogger(opts.Store),
		pipeline:    p,
		metrics:     m,
		corsOrigins: opts.CORSOrigins,
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)

	origins := s.corsOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.health)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Get("/status", s.status)
		api.Route("/failed-queries", func(fq chi.Router) {
			fq.Get("/", s.listFailedQueries)
			fq.Post("/", s.logFailedQuery)
			fq.Get("/{id}", s.getFailedQuery)
		})
	})
	return r
}

// Run serves on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		zap.L().Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	rep, err := s.pipeline.Status(r.Context(), reviewLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type logRequest struct {
	Query string `json:"query"`
}

type logResponse struct {
	Logged bool               `json:"logged"`
	Reason string             `json:"reason,omitempty"`
	Query  *model.FailedQuery `json:"failed_query,omitempty"`
}

func (s *Server) logFailedQuery(w http.ResponseWriter, r *http.Request) {
	var req logRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	fq, err := s.logger.Log(r.Context(), req.Query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if fq == nil {
		writeJSON(w, http.StatusOK, logResponse{Logged: false, Reason: "query too short"})
		return
	}

	code := http.StatusOK
	if fq.SeenCount == 1 {
		code = http.StatusCreated
	}
	writeJSON(w, code, logResponse{Logged: true, Query: fq})
}

func (s *Server) listFailedQueries(w http.ResponseWriter, r *http.Request) {
	filter := store.QueryFilter{Limit: defaultListLimit}

	if raw := r.URL.Query().Get("status"); raw != "" {
		st := model.QueryStatus(raw)
		if !st.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status " + strconv.Quote(raw)})
			return
		}
		filter.Status = st
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		filter.Limit = min(n, maxListLimit)
	}

	rows, err := s.store.ListFailedQueries(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rows == nil {
		rows = []model.FailedQuery{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) getFailedQuery(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	fq, err := s.store.GetFailedQuery(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if fq == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, fq)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	zap.L().Error("request failed", zap.Error(err))
	writeJSON(w, code, map[string]string{"error": http.StatusText(code)})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

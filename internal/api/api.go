// Package api exposes the n-gram engine over HTTP with JSON responses.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verte-zerg/typegram/internal/model"
	"github.com/verte-zerg/typegram/internal/ngram"
	"github.com/verte-zerg/typegram/internal/store"
)

// Analyzer runs the per-session n-gram pipeline.
type Analyzer interface {
	AnalyzeSession(ctx context.Context, sessionID string) (model.AnalysisReport, error)
}

// Summarizer runs one aggregation pass.
type Summarizer interface {
	Run(ctx context.Context) (model.SummaryReport, error)
}

// Ranker answers the ranking queries.
type Ranker interface {
	SlowestNGrams(ctx context.Context, q model.RankQuery) ([]model.RankedNGram, error)
	MostErrorProneNGrams(ctx context.Context, q model.RankQuery) ([]model.RankedNGram, error)
	SlowestSummaries(ctx context.Context, q model.RankQuery) ([]model.RankedNGram, error)
}

// Config wires the handler collaborators.
type Config struct {
	Analyzer   Analyzer
	Summarizer Summarizer
	Ranker     Ranker
	// Defaults fill ranking parameters missing from the query string.
	Defaults model.RankConfig
	// Gatherer backs GET /metrics; nil disables the route.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

type server struct {
	Config
}

// NewHandler returns the HTTP routes of the engine.
func NewHandler(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &server{Config: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Post("/sessions/{sessionID}/analyze", s.handleAnalyze)
	r.Post("/summaries", s.handleSummarize)
	r.Get("/summaries/slowest", s.handleRank(cfg.Ranker.SlowestSummaries))
	r.Route("/ngrams", func(r chi.Router) {
		r.Get("/slowest", s.handleRank(cfg.Ranker.SlowestNGrams))
		r.Get("/errors", s.handleRank(cfg.Ranker.MostErrorProneNGrams))
	})
	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.Logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(started),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type sizeResponse struct {
	Size      int    `json:"size"`
	SpeedRows int    `json:"speed_rows"`
	ErrorRows int    `json:"error_rows"`
	Error     string `json:"error,omitempty"`
}

type analyzeResponse struct {
	SessionID  string         `json:"session_id"`
	Keystrokes int            `json:"keystrokes"`
	Skipped    int            `json:"skipped"`
	Sizes      []sizeResponse `json:"sizes"`
	Failed     int            `json:"failed_sizes"`
}

func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	report, err := s.Analyzer.AnalyzeSession(r.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusGatewayTimeout, err)
		default:
			s.Logger.Error("analyze failed", "session_id", sessionID, "err", err)
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	resp := analyzeResponse{
		SessionID:  report.SessionID,
		Keystrokes: report.Keystrokes,
		Skipped:    report.Skipped,
		Sizes:      make([]sizeResponse, 0, len(report.Sizes)),
		Failed:     len(report.Failed()),
	}
	for _, sz := range report.Sizes {
		out := sizeResponse{Size: sz.Size, SpeedRows: sz.SpeedRows, ErrorRows: sz.ErrorRows}
		if sz.Err != nil {
			out.Error = sz.Err.Error()
		}
		resp.Sizes = append(resp.Sizes, out)
	}
	writeJSON(w, http.StatusOK, resp)
}

type failureResponse struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
}

type summaryResponse struct {
	Sessions []string          `json:"sessions"`
	Rows     int               `json:"rows"`
	Failures []failureResponse `json:"failures"`
	Empty    []string          `json:"empty"`
}

func (s *server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	report, err := s.Summarizer.Run(r.Context())
	if err != nil {
		s.Logger.Error("summary pass failed", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := summaryResponse{
		Sessions: report.Sessions,
		Rows:     report.Rows,
		Failures: make([]failureResponse, 0, len(report.Failures)),
		Empty:    report.Empty,
	}
	if resp.Sessions == nil {
		resp.Sessions = []string{}
	}
	if resp.Empty == nil {
		resp.Empty = []string{}
	}
	for _, f := range report.Failures {
		resp.Failures = append(resp.Failures, failureResponse{SessionID: f.SessionID, Error: f.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

type rankFunc func(ctx context.Context, q model.RankQuery) ([]model.RankedNGram, error)

func (s *server) handleRank(rank rankFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := s.rankQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		ranked, err := rank(r.Context(), q)
		if err != nil {
			s.Logger.Error("ranking failed", "path", r.URL.Path, "err", err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ngrams": ranked})
	}
}

func (s *server) rankQuery(r *http.Request) (model.RankQuery, error) {
	values := r.URL.Query()
	q := model.RankQuery{
		Size:           s.Defaults.Size,
		MinOccurrences: s.Defaults.MinOccurrences,
		Limit:          s.Defaults.Limit,
		SessionID:      values.Get("session_id"),
		KeyboardID:     values.Get("keyboard_id"),
	}
	if q.Size <= 0 {
		q.Size = ngram.DefaultMinSize
	}
	ints := []struct {
		key    string
		target *int
		lowest int
	}{
		{"size", &q.Size, 1},
		{"min_occurrences", &q.MinOccurrences, 0},
		{"limit", &q.Limit, 0},
	}
	for _, p := range ints {
		raw := values.Get(p.key)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < p.lowest {
			return q, fmt.Errorf("invalid %s %q", p.key, raw)
		}
		*p.target = v
	}
	return q, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already sent.
		_ = err
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// ListenAndServe serves h on addr until ctx is canceled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("http server stopping")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

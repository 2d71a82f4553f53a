package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/typegram/internal/analysis"
	"github.com/verte-zerg/typegram/internal/metrics"
	"github.com/verte-zerg/typegram/internal/model"
	"github.com/verte-zerg/typegram/internal/sessionlock"
	"github.com/verte-zerg/typegram/internal/store"
	"github.com/verte-zerg/typegram/internal/summary"
)

var baseTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	store   *store.Store
	handler http.Handler
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "typegram.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = st.Close()
	})

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	locks := &sessionlock.Locker{}
	an, err := analysis.New(st, model.EngineConfig{MinSize: 2, MaxSize: 3, Timeout: 5 * time.Second, Workers: 1},
		analysis.Options{Metrics: m, Locks: locks})
	require.NoError(t, err)
	agg := summary.New(st, summary.Options{Metrics: m, Locks: locks})

	return testEnv{
		store: st,
		handler: NewHandler(Config{
			Analyzer:   an,
			Summarizer: agg,
			Ranker:     st,
			Defaults:   model.RankConfig{Size: 2, MinOccurrences: 1, Limit: 10},
			Gatherer:   reg,
		}),
	}
}

func (e testEnv) seed(t *testing.T, id string, text string, deltas ...int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.UpsertKeyboard(ctx, model.Keyboard{ID: "kb1", UserID: "u1", TargetSpeedMs: 180}))
	keys := make([]model.Keystroke, 0, len(deltas))
	at := baseTime
	for i, r := range []rune(text) {
		at = at.Add(time.Duration(deltas[i]) * time.Millisecond)
		k := model.Keystroke{Index: i, Time: at, Typed: string(r), Expected: string(r), Correct: true}
		if i > 0 {
			d := deltas[i]
			k.SincePrevMs = &d
		}
		keys = append(keys, k)
	}
	require.NoError(t, e.store.InsertSession(ctx, model.Session{
		ID: id, UserID: "u1", KeyboardID: "kb1", StartedAt: baseTime, EndedAt: at,
	}, keys))
}

func (e testEnv) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestAnalyzeSummarizeRank(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "s1", "then", 0, 100, 300, 200)

	rec := env.do(t, http.MethodPost, "/sessions/s1/analyze")
	require.Equal(t, http.StatusOK, rec.Code)
	analyzed := decode[analyzeResponse](t, rec)
	assert.Equal(t, "s1", analyzed.SessionID)
	assert.Equal(t, 4, analyzed.Keystrokes)
	assert.Zero(t, analyzed.Failed)
	require.Len(t, analyzed.Sizes, 2)
	assert.Equal(t, sizeResponse{Size: 2, SpeedRows: 3}, analyzed.Sizes[0])
	assert.Equal(t, sizeResponse{Size: 3, SpeedRows: 2}, analyzed.Sizes[1])

	rec = env.do(t, http.MethodGet, "/ngrams/slowest?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	ranked := decode[map[string][]model.RankedNGram](t, rec)["ngrams"]
	require.Len(t, ranked, 2)
	assert.Equal(t, "he", ranked[0].Text)
	assert.Equal(t, 150.0, ranked[0].Metric)
	assert.Equal(t, "en", ranked[1].Text)

	rec = env.do(t, http.MethodGet, "/ngrams/errors")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[map[string][]model.RankedNGram](t, rec)["ngrams"])

	rec = env.do(t, http.MethodPost, "/summaries")
	require.Equal(t, http.StatusOK, rec.Code)
	summarized := decode[summaryResponse](t, rec)
	assert.Equal(t, []string{"s1"}, summarized.Sessions)
	assert.Empty(t, summarized.Failures)

	rec = env.do(t, http.MethodGet, "/summaries/slowest?size=1&keyboard_id=kb1")
	require.Equal(t, http.StatusOK, rec.Code)
	ranked = decode[map[string][]model.RankedNGram](t, rec)["ngrams"]
	require.Len(t, ranked, 3)
	assert.Equal(t, "e", ranked[0].Text)
	assert.Equal(t, int64(180), ranked[0].TargetSpeedMs)

	rec = env.do(t, http.MethodPost, "/summaries")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[summaryResponse](t, rec).Sessions)
}

func TestAnalyzeUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/sessions/nope/analyze")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "session not found")
}

func TestRankRejectsBadQuery(t *testing.T) {
	env := newTestEnv(t)
	for _, target := range []string{
		"/ngrams/slowest?size=0",
		"/ngrams/errors?limit=-1",
		"/summaries/slowest?min_occurrences=many",
	} {
		rec := env.do(t, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "s1", "ab", 0, 100)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/sessions/s1/analyze").Code)

	rec := env.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])

	rec = env.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `typegram_analyzed_sessions_total{outcome="ok"} 1`), body)
	assert.Contains(t, body, `typegram_ngram_windows_total{class="clean",size="2"} 1`)
}

type stubSummarizer struct{}

func (stubSummarizer) Run(context.Context) (model.SummaryReport, error) {
	return model.SummaryReport{
		Failures: []model.SessionFailure{{SessionID: "s2", Err: errors.New(`keyboard "kb9" not found`)}},
	}, nil
}

func TestSummarizeReportsFailures(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(Config{Summarizer: stubSummarizer{}, Ranker: env.store})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/summaries", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[summaryResponse](t, rec)
	assert.Equal(t, []string{}, resp.Sessions)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, failureResponse{SessionID: "s2", Error: `keyboard "kb9" not found`}, resp.Failures[0])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

package summary

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/typegram/internal/analysis"
	"github.com/verte-zerg/typegram/internal/metrics"
	"github.com/verte-zerg/typegram/internal/model"
	"github.com/verte-zerg/typegram/internal/sessionlock"
	"github.com/verte-zerg/typegram/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "typegram.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

// seedAnalyzed stores a fully correct session typed with the given deltas
// and runs the n-gram analysis over it.
func seedAnalyzed(t *testing.T, st *store.Store, id, keyboardID, text string, deltas []int64) {
	t.Helper()
	ctx := context.Background()
	runes := []rune(text)
	require.Len(t, deltas, len(runes))

	keys := make([]model.Keystroke, len(runes))
	at := sessionAt
	for i, r := range runes {
		at = at.Add(time.Duration(deltas[i]) * time.Millisecond)
		keys[i] = model.Keystroke{Index: i, Time: at, Typed: string(r), Expected: string(r), Correct: true}
		if i > 0 {
			keys[i].SincePrevMs = delta(deltas[i])
		}
	}
	require.NoError(t, st.InsertSession(ctx, model.Session{
		ID: id, UserID: "u1", KeyboardID: keyboardID, StartedAt: sessionAt, EndedAt: at, Content: text,
	}, keys))

	a, err := analysis.New(st, model.EngineConfig{MinSize: 2, MaxSize: 3, Workers: 1}, analysis.Options{})
	require.NoError(t, err)
	_, err = a.AnalyzeSession(ctx, id)
	require.NoError(t, err)
}

func newAggregator(st Store, reg prometheus.Registerer) *Aggregator {
	return New(st, Options{
		Metrics: metrics.New(reg),
		Timeout: 5 * time.Second,
		Now:     func() time.Time { return updatedAt },
	})
}

func TestRunBuildsSummaryRows(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertKeyboard(ctx, model.Keyboard{ID: "kb1", UserID: "u1", Name: "ortho", TargetSpeedMs: 180}))
	seedAnalyzed(t, st, "s1", "kb1", "the", []int64{0, 100, 200})

	agg := newAggregator(st, prometheus.NewRegistry())
	report, err := agg.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, report.Sessions)
	assert.Empty(t, report.Failures)
	assert.Equal(t, 5, report.Rows)

	rows, err := st.Summaries(ctx, "s1")
	require.NoError(t, err)
	got := map[string]model.SessionSummary{}
	for _, r := range rows {
		got[r.Text] = r
		assert.Equal(t, int64(180), r.TargetSpeedMs)
		assert.Equal(t, "kb1", r.KeyboardID)
		assert.True(t, r.SessionAt.Equal(sessionAt))
	}
	require.Len(t, got, 5)
	assert.NotContains(t, got, "t")
	assert.Equal(t, 100.0, got["h"].AvgMsPerKeystroke)
	assert.Equal(t, 200.0, got["e"].AvgMsPerKeystroke)
	assert.Equal(t, 50.0, got["th"].AvgMsPerKeystroke)
	assert.Equal(t, 100.0, got["he"].AvgMsPerKeystroke)
	assert.Equal(t, 100.0, got["the"].AvgMsPerKeystroke)
	assert.Equal(t, 3, got["the"].Size)
}

func TestRunTwiceAddsNothing(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertKeyboard(ctx, model.Keyboard{ID: "kb1", UserID: "u1", TargetSpeedMs: 180}))
	seedAnalyzed(t, st, "s1", "kb1", "abc", []int64{0, 100, 100})

	agg := newAggregator(st, prometheus.NewRegistry())
	_, err := agg.Run(ctx)
	require.NoError(t, err)
	first, err := st.Summaries(ctx, "s1")
	require.NoError(t, err)

	report, err := agg.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Sessions)
	assert.Zero(t, report.Rows)

	n, err := agg.SummarizeSession(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, n)

	second, err := st.Summaries(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, float64(updatedAt.Unix()), testutil.ToFloat64(agg.metrics.SummaryLastRunAt))
	assert.Equal(t, 1.0, testutil.ToFloat64(agg.metrics.SummarySessions.WithLabelValues("ok")))
}

func TestRunReportsSessionWithoutKeyboard(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertKeyboard(ctx, model.Keyboard{ID: "kb1", UserID: "u1", TargetSpeedMs: 180}))
	seedAnalyzed(t, st, "s1", "kb1", "abc", []int64{0, 100, 100})
	seedAnalyzed(t, st, "s2", "kb-missing", "abc", []int64{0, 100, 100})

	report, err := newAggregator(st, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, report.Sessions)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "s2", report.Failures[0].SessionID)

	rows, err := st.Summaries(ctx, "s2")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

type brokenStore struct {
	Store
}

func (brokenStore) PendingSummaries(context.Context) ([]string, error) {
	return nil, errors.New("database is locked")
}

func TestRunFailsWhenListingFails(t *testing.T) {
	_, err := New(brokenStore{}, Options{}).Run(context.Background())
	assert.ErrorContains(t, err, "database is locked")
}

func TestConcurrentAggregatorsInsertOnce(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertKeyboard(ctx, model.Keyboard{ID: "kb1", UserID: "u1", TargetSpeedMs: 180}))
	ids := []string{"s1", "s2", "s3"}
	for _, id := range ids {
		seedAnalyzed(t, st, id, "kb1", "the", []int64{0, 100, 200})
	}

	// Separate lockers stand in for separate processes sharing the database.
	var (
		wg      sync.WaitGroup
		reports [2]model.SummaryReport
		errs    [2]error
	)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			agg := New(st, Options{Locks: &sessionlock.Locker{}, Timeout: 5 * time.Second})
			reports[i], errs[i] = agg.Run(ctx)
		}(i)
	}
	wg.Wait()

	total := 0
	for i := range reports {
		require.NoError(t, errs[i])
		assert.Empty(t, reports[i].Failures)
		total += reports[i].Rows
	}
	assert.Equal(t, 5*len(ids), total)
	for _, id := range ids {
		rows, err := st.Summaries(ctx, id)
		require.NoError(t, err)
		assert.Len(t, rows, 5, id)
	}
}

type stalledStore struct {
	*store.Store
}

func (stalledStore) Keystrokes(ctx context.Context, _ string) ([]model.Keystroke, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSummarizeDeadlineLeavesNoRows(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertKeyboard(ctx, model.Keyboard{ID: "kb1", UserID: "u1", TargetSpeedMs: 180}))
	seedAnalyzed(t, st, "s1", "kb1", "the", []int64{0, 100, 200})

	agg := New(stalledStore{st}, Options{Timeout: 20 * time.Millisecond})
	_, err := agg.SummarizeSession(ctx, "s1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = New(st, Options{}).SummarizeSession(canceled, "s1")
	assert.ErrorIs(t, err, context.Canceled)

	rows, err := st.Summaries(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, rows)

	pending, err := st.PendingSummaries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, pending)
}

func TestRunReportsSessionWithoutRows(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertKeyboard(ctx, model.Keyboard{ID: "kb1", UserID: "u1", TargetSpeedMs: 180}))
	keys := []model.Keystroke{
		{Index: 0, Time: sessionAt, Typed: "a", Expected: "a", Correct: true},
		{Index: 1, Time: sessionAt, Typed: "x", Expected: "b", SincePrevMs: delta(0)},
	}
	require.NoError(t, st.InsertSession(ctx, model.Session{
		ID: "s1", UserID: "u1", KeyboardID: "kb1", StartedAt: sessionAt, EndedAt: sessionAt,
	}, keys))
	a, err := analysis.New(st, model.EngineConfig{MinSize: 2, MaxSize: 2, Workers: 1}, analysis.Options{})
	require.NoError(t, err)
	_, err = a.AnalyzeSession(ctx, "s1")
	require.NoError(t, err)

	agg := newAggregator(st, prometheus.NewRegistry())
	for range 2 {
		report, err := agg.Run(ctx)
		require.NoError(t, err)
		assert.Empty(t, report.Sessions)
		assert.Empty(t, report.Failures)
		assert.Equal(t, []string{"s1"}, report.Empty)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(agg.metrics.SummarySessions.WithLabelValues("empty")))
}

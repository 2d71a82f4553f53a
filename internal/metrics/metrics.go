// Package metrics exposes Prometheus collectors for the n-gram engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/verte-zerg/typegram/internal/model"
)

const namespace = "typegram"

// Metrics holds the engine collectors.
type Metrics struct {
	Windows          *prometheus.CounterVec
	Sessions         *prometheus.CounterVec
	SizeFailures     prometheus.Counter
	MalformedKeys    prometheus.Counter
	AnalyzeDuration  prometheus.Histogram
	SummarySessions  *prometheus.CounterVec
	SummaryRows      prometheus.Counter
	SummaryLastRunAt prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Windows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ngram_windows_total",
			Help:      "Usable n-gram windows produced, by class and size.",
		}, []string{"class", "size"}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyzed_sessions_total",
			Help:      "Sessions analyzed, by outcome.",
		}, []string{"outcome"}),
		SizeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ngram_size_write_failures_total",
			Help:      "Per-size n-gram writes that were rolled back.",
		}),
		MalformedKeys: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_keystrokes_total",
			Help:      "Keystrokes skipped because of missing fields.",
		}),
		AnalyzeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analyze_duration_seconds",
			Help:      "Time spent analyzing one session.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		SummarySessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summarized_sessions_total",
			Help:      "Sessions processed by the aggregator, by outcome.",
		}, []string{"outcome"}),
		SummaryRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_rows_total",
			Help:      "Summary rows inserted.",
		}),
		SummaryLastRunAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "summary_last_run_timestamp_seconds",
			Help:      "Unix time of the last completed aggregation pass.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Windows,
			m.Sessions,
			m.SizeFailures,
			m.MalformedKeys,
			m.AnalyzeDuration,
			m.SummarySessions,
			m.SummaryRows,
			m.SummaryLastRunAt,
		)
	}
	return m
}

// ObserveAnalysis records one analyzed session.
func (m *Metrics) ObserveAnalysis(groups []model.SizeWindows, report model.AnalysisReport, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.AnalyzeDuration.Observe(elapsed.Seconds())
	m.MalformedKeys.Add(float64(report.Skipped))
	for _, g := range groups {
		size := strconv.Itoa(g.Size)
		m.Windows.WithLabelValues(model.Clean.String(), size).Add(float64(len(g.Clean)))
		m.Windows.WithLabelValues(model.ErrorOnLast.String(), size).Add(float64(len(g.Errors)))
	}
	failed := len(report.Failed())
	m.SizeFailures.Add(float64(failed))
	switch {
	case err != nil:
		m.Sessions.WithLabelValues("error").Inc()
	case failed > 0:
		m.Sessions.WithLabelValues("partial").Inc()
	default:
		m.Sessions.WithLabelValues("ok").Inc()
	}
}

// ObserveSummary records one aggregation pass.
func (m *Metrics) ObserveSummary(report model.SummaryReport, now time.Time) {
	if m == nil {
		return
	}
	m.SummarySessions.WithLabelValues("ok").Add(float64(len(report.Sessions)))
	m.SummarySessions.WithLabelValues("error").Add(float64(len(report.Failures)))
	m.SummarySessions.WithLabelValues("empty").Add(float64(len(report.Empty)))
	m.SummaryRows.Add(float64(report.Rows))
	m.SummaryLastRunAt.Set(float64(now.Unix()))
}

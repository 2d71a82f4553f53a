// Package summary aggregates per-session n-gram records, single-character
// timings and the keyboard target speed into session summary rows.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/verte-zerg/typegram/internal/metrics"
	"github.com/verte-zerg/typegram/internal/model"
	"github.com/verte-zerg/typegram/internal/ngram"
	"github.com/verte-zerg/typegram/internal/sessionlock"
)

// Store is the storage the aggregator reads from and writes to.
type Store interface {
	PendingSummaries(ctx context.Context) ([]string, error)
	HasSummary(ctx context.Context, sessionID string) (bool, error)
	Session(ctx context.Context, id string) (model.Session, error)
	TargetSpeed(ctx context.Context, keyboardID string) (int64, error)
	SpeedRecords(ctx context.Context, sessionID string) ([]model.SpeedRecord, error)
	ErrorRecords(ctx context.Context, sessionID string) ([]model.ErrorRecord, error)
	Keystrokes(ctx context.Context, sessionID string) ([]model.Keystroke, error)
	InsertSummaries(ctx context.Context, rows []model.SessionSummary) (int, error)
}

// Options configures optional aggregator collaborators.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Locks   *sessionlock.Locker
	// Timeout bounds the work on a single session.
	Timeout time.Duration
	Now     func() time.Time
}

// Aggregator builds summary rows for sessions that do not have any yet.
type Aggregator struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	locks   *sessionlock.Locker
	timeout time.Duration
	now     func() time.Time
}

// New returns an Aggregator.
func New(st Store, opts Options) *Aggregator {
	a := &Aggregator{
		store:   st,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		locks:   opts.Locks,
		timeout: opts.Timeout,
		now:     opts.Now,
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.locks == nil {
		a.locks = &sessionlock.Locker{}
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// Run summarizes every pending session. Failing to list pending sessions
// is returned as an error; failures on individual sessions are collected
// in the report and do not stop the pass.
func (a *Aggregator) Run(ctx context.Context) (model.SummaryReport, error) {
	var report model.SummaryReport
	ids, err := a.store.PendingSummaries(ctx)
	if err != nil {
		return report, fmt.Errorf("list pending sessions: %w", err)
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := a.summarize(ctx, id)
		if err != nil {
			a.logger.Error("session summary failed", "session_id", id, "err", err)
			report.Failures = append(report.Failures, model.SessionFailure{SessionID: id, Err: err})
			continue
		}
		switch {
		case res.empty:
			report.Empty = append(report.Empty, id)
		case res.inserted > 0:
			report.Sessions = append(report.Sessions, id)
			report.Rows += res.inserted
		}
	}
	a.metrics.ObserveSummary(report, a.now())
	a.logger.Info("summary pass complete",
		"pending", len(ids),
		"summarized", len(report.Sessions),
		"rows", report.Rows,
		"failed", len(report.Failures),
		"empty", len(report.Empty),
	)
	return report, nil
}

// SummarizeSession builds and inserts the summary rows of one session and
// returns how many were inserted. A session that already has a summary is
// left alone.
func (a *Aggregator) SummarizeSession(ctx context.Context, sessionID string) (int, error) {
	res, err := a.summarize(ctx, sessionID)
	return res.inserted, err
}

type outcome struct {
	inserted int
	empty    bool
}

func (a *Aggregator) summarize(ctx context.Context, sessionID string) (outcome, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	unlock, err := a.locks.Lock(ctx, sessionID)
	if err != nil {
		return outcome{}, err
	}
	defer unlock()

	done, err := a.store.HasSummary(ctx, sessionID)
	if err != nil {
		return outcome{}, fmt.Errorf("check summary: %w", err)
	}
	if done {
		return outcome{}, nil
	}

	src, err := a.load(ctx, sessionID)
	if err != nil {
		return outcome{}, err
	}
	rows := BuildRows(src, a.now())
	if len(rows) == 0 {
		a.logger.Debug("session has no timed rows to summarize",
			"session_id", sessionID,
			"speed_records", len(src.Speed),
			"error_records", len(src.Errors),
		)
		return outcome{empty: true}, nil
	}
	n, err := a.store.InsertSummaries(ctx, rows)
	if err != nil {
		return outcome{}, fmt.Errorf("insert summaries: %w", err)
	}
	return outcome{inserted: n}, nil
}

func (a *Aggregator) load(ctx context.Context, sessionID string) (Source, error) {
	var src Source
	var err error
	if src.Session, err = a.store.Session(ctx, sessionID); err != nil {
		return src, err
	}
	if src.TargetSpeedMs, err = a.store.TargetSpeed(ctx, src.Session.KeyboardID); err != nil {
		return src, fmt.Errorf("target speed: %w", err)
	}
	if src.Speed, err = a.store.SpeedRecords(ctx, sessionID); err != nil {
		return src, fmt.Errorf("speed records: %w", err)
	}
	if src.Errors, err = a.store.ErrorRecords(ctx, sessionID); err != nil {
		return src, fmt.Errorf("error records: %w", err)
	}
	keys, err := a.store.Keystrokes(ctx, sessionID)
	if err != nil {
		return src, fmt.Errorf("keystrokes: %w", err)
	}
	valid, _ := ngram.Sanitize(keys)
	src.Chars = CharTimings(valid)
	return src, nil
}

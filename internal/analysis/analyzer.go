// Package analysis turns a session's keystroke log into persisted n-gram
// speed and error records.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/verte-zerg/typegram/internal/metrics"
	"github.com/verte-zerg/typegram/internal/model"
	"github.com/verte-zerg/typegram/internal/ngram"
	"github.com/verte-zerg/typegram/internal/sessionlock"
)

// Store is the storage the analyzer reads from and writes to.
type Store interface {
	Keystrokes(ctx context.Context, sessionID string) ([]model.Keystroke, error)
	SaveSessionNGrams(ctx context.Context, sessionID string, groups []model.SizeRecords) ([]model.SizeResult, error)
	PendingAnalysis(ctx context.Context) ([]string, error)
}

// Options configures optional analyzer collaborators.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Locks is shared with other components touching the same sessions.
	Locks *sessionlock.Locker
}

// Analyzer runs the per-session pipeline.
type Analyzer struct {
	store   Store
	cfg     model.EngineConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	locks   *sessionlock.Locker
}

// New returns an Analyzer.
func New(st Store, cfg model.EngineConfig, opts Options) (*Analyzer, error) {
	if err := ngram.ValidateRange(cfg.MinSize, cfg.MaxSize); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	locks := opts.Locks
	if locks == nil {
		locks = &sessionlock.Locker{}
	}
	return &Analyzer{
		store:   st,
		cfg:     cfg,
		logger:  logger,
		metrics: opts.Metrics,
		locks:   locks,
	}, nil
}

// AnalyzeSession classifies one session and persists its records. Storage
// failures of individual sizes are reported in the result, not returned.
func (a *Analyzer) AnalyzeSession(ctx context.Context, sessionID string) (model.AnalysisReport, error) {
	report := model.AnalysisReport{SessionID: sessionID}
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}
	unlock, err := a.locks.Lock(ctx, sessionID)
	if err != nil {
		return report, fmt.Errorf("lock session %s: %w", sessionID, err)
	}
	defer unlock()

	started := time.Now()
	report, groups, err := a.analyze(ctx, sessionID)
	a.metrics.ObserveAnalysis(groups, report, time.Since(started), err)
	return report, err
}

func (a *Analyzer) analyze(ctx context.Context, sessionID string) (model.AnalysisReport, []model.SizeWindows, error) {
	report := model.AnalysisReport{SessionID: sessionID}
	keys, err := a.store.Keystrokes(ctx, sessionID)
	if err != nil {
		return report, nil, fmt.Errorf("load keystrokes: %w", err)
	}
	report.Keystrokes = len(keys)

	res, err := ngram.Generate(keys, a.cfg.MinSize, a.cfg.MaxSize)
	if err != nil {
		return report, nil, err
	}
	report.Skipped = len(res.Malformed)
	for _, m := range res.Malformed {
		a.logger.Warn("skipping malformed keystroke",
			"session_id", sessionID,
			"index", m.Index,
			"reason", m.Reason,
		)
	}
	groups := make([]model.SizeWindows, 0, len(res.BySize))
	for _, size := range res.Sizes() {
		groups = append(groups, res.BySize[size])
	}

	sizes, err := a.store.SaveSessionNGrams(ctx, sessionID, BuildRecords(sessionID, res))
	report.Sizes = sizes
	if err != nil {
		return report, groups, fmt.Errorf("save n-grams: %w", err)
	}
	for _, s := range report.Failed() {
		a.logger.Error("n-gram write failed",
			"session_id", sessionID,
			"size", s.Size,
			"err", s.Err,
		)
	}
	a.logger.Debug("session analyzed",
		"session_id", sessionID,
		"keystrokes", report.Keystrokes,
		"skipped", report.Skipped,
		"failed_sizes", len(report.Failed()),
	)
	return report, groups, nil
}

// AnalyzeSessions analyzes the given sessions in parallel, bounded by the
// configured worker count. Every session is attempted; the returned error
// joins the per-session failures.
func (a *Analyzer) AnalyzeSessions(ctx context.Context, sessionIDs []string) ([]model.AnalysisReport, error) {
	reports := make([]model.AnalysisReport, len(sessionIDs))
	errs := make([]error, len(sessionIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)
	for i, id := range sessionIDs {
		g.Go(func() error {
			report, err := a.AnalyzeSession(gctx, id)
			reports[i] = report
			if err != nil {
				errs[i] = fmt.Errorf("session %s: %w", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, errors.Join(errs...)
}

// AnalyzePending analyzes every session that has keystrokes but no n-gram
// rows yet.
func (a *Analyzer) AnalyzePending(ctx context.Context) ([]model.AnalysisReport, error) {
	ids, err := a.store.PendingAnalysis(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	a.logger.Info("analyzing pending sessions", "count", len(ids), "workers", a.cfg.Workers)
	return a.AnalyzeSessions(ctx, ids)
}

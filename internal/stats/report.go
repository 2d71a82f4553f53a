package stats

import (
	"context"
	"io"

	"github.com/verte-zerg/typegram/internal/model"
)

// Ranker answers the ranking queries.
type Ranker interface {
	SlowestNGrams(ctx context.Context, q model.RankQuery) ([]model.RankedNGram, error)
	MostErrorProneNGrams(ctx context.Context, q model.RankQuery) ([]model.RankedNGram, error)
	SlowestSummaries(ctx context.Context, q model.RankQuery) ([]model.RankedNGram, error)
}

// Report contains precomputed rankings for one n-gram size.
type Report struct {
	Query      model.RankQuery
	Slowest    []model.RankedNGram
	ErrorProne []model.RankedNGram
	// VsTarget ranks summary rows, which also cover single characters.
	VsTarget []model.RankedNGram
}

// BuildReport loads every ranking for the query.
func BuildReport(ctx context.Context, r Ranker, q model.RankQuery) (Report, error) {
	slowest, err := r.SlowestNGrams(ctx, q)
	if err != nil {
		return Report{}, err
	}
	errorProne, err := r.MostErrorProneNGrams(ctx, q)
	if err != nil {
		return Report{}, err
	}
	vsTarget, err := r.SlowestSummaries(ctx, q)
	if err != nil {
		return Report{}, err
	}
	return Report{
		Query:      q,
		Slowest:    slowest,
		ErrorProne: errorProne,
		VsTarget:   vsTarget,
	}, nil
}

// RenderReport prints every ranking of a report.
func RenderReport(w io.Writer, rep Report, useColor bool) error {
	sections := []struct {
		title  string
		metric string
		ranked []model.RankedNGram
	}{
		{"Slowest n-grams", "ms/key", rep.Slowest},
		{"Most error-prone n-grams", "Errors", rep.ErrorProne},
		{"Slowest vs target (summaries)", "ms/key", rep.VsTarget},
	}
	for i, s := range sections {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if err := RenderRanking(w, s.title, s.metric, s.ranked, useColor); err != nil {
			return err
		}
	}
	return nil
}

package store

import (
	"context"

	"github.com/verte-zerg/typegram/internal/model"
)

// SlowestNGrams ranks clean n-grams by average ms per keystroke, weighted
// by occurrences across the selected sessions.
func (s *Store) SlowestNGrams(ctx context.Context, q model.RankQuery) ([]model.RankedNGram, error) {
	query := `SELECT ngram_text, ngram_size,
			SUM(ms_per_keystroke * occurrences) / SUM(occurrences) AS metric,
			SUM(occurrences) AS occ,
			0 AS target
		FROM session_ngram_speed
		WHERE ngram_size = ? AND (? = '' OR session_id = ?)
		GROUP BY ngram_text, ngram_size
		HAVING SUM(occurrences) >= ? AND SUM(occurrences) > 0
		ORDER BY metric DESC, occ DESC, ngram_text ASC
		LIMIT ?`
	return s.queryRanked(ctx, query, q.Size, q.SessionID, q.SessionID, q.MinOccurrences, sqlLimit(q.Limit))
}

// MostErrorProneNGrams ranks n-grams by number of error occurrences.
func (s *Store) MostErrorProneNGrams(ctx context.Context, q model.RankQuery) ([]model.RankedNGram, error) {
	query := `SELECT ngram_text, ngram_size,
			SUM(error_count) AS metric,
			SUM(error_count) AS occ,
			0 AS target
		FROM session_ngram_errors
		WHERE ngram_size = ? AND (? = '' OR session_id = ?)
		GROUP BY ngram_text, ngram_size
		HAVING SUM(error_count) >= ?
		ORDER BY metric DESC, occ DESC, ngram_text ASC
		LIMIT ?`
	return s.queryRanked(ctx, query, q.Size, q.SessionID, q.SessionID, q.MinOccurrences, sqlLimit(q.Limit))
}

// SlowestSummaries ranks summary rows by average ms per keystroke, with
// the keyboard target speed alongside. Size 1 covers single characters.
func (s *Store) SlowestSummaries(ctx context.Context, q model.RankQuery) ([]model.RankedNGram, error) {
	query := `SELECT ngram_text, ngram_size,
			SUM(avg_ms_per_keystroke * instance_count) / SUM(instance_count) AS metric,
			SUM(instance_count) AS occ,
			MAX(target_speed_ms) AS target
		FROM session_ngram_summary
		WHERE ngram_size = ?
			AND (? = '' OR session_id = ?)
			AND (? = '' OR keyboard_id = ?)
		GROUP BY ngram_text, ngram_size
		HAVING SUM(instance_count) >= ? AND SUM(instance_count) > 0
		ORDER BY metric DESC, occ DESC, ngram_text ASC
		LIMIT ?`
	return s.queryRanked(ctx, query, q.Size, q.SessionID, q.SessionID, q.KeyboardID, q.KeyboardID, q.MinOccurrences, sqlLimit(q.Limit))
}

func (s *Store) queryRanked(ctx context.Context, query string, args ...any) ([]model.RankedNGram, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	result := []model.RankedNGram{}
	for rows.Next() {
		var r model.RankedNGram
		if err := rows.Scan(&r.Text, &r.Size, &r.Metric, &r.Occurrences, &r.TargetSpeedMs); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

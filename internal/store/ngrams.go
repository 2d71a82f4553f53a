package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/verte-zerg/typegram/internal/model"
)

// SaveSessionNGrams writes the speed and error records of one session in
// a single transaction. Each size runs inside its own savepoint: a failed
// size is rolled back and reported while the other sizes still commit.
// Rows whose (session, size, text) key already exists are left as is, so
// re-running the same session is a no-op.
func (s *Store) SaveSessionNGrams(ctx context.Context, sessionID string, groups []model.SizeRecords) (results []model.SizeResult, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			rollback(tx)
			for i := range results {
				if results[i].Err == nil {
					results[i].Err = err
				}
			}
		}
	}()

	results = make([]model.SizeResult, 0, len(groups))
	for _, group := range groups {
		res := model.SizeResult{Size: group.Size}
		savepoint := fmt.Sprintf("ngram_size_%d", group.Size)
		if _, err = tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
			return results, err
		}
		res.SpeedRows, res.ErrorRows, res.Err = writeSize(ctx, tx, sessionID, group)
		if res.Err != nil {
			res.SpeedRows, res.ErrorRows = 0, 0
			if _, err = tx.ExecContext(ctx, "ROLLBACK TO "+savepoint); err != nil {
				results = append(results, res)
				return results, err
			}
		}
		if _, err = tx.ExecContext(ctx, "RELEASE "+savepoint); err != nil {
			results = append(results, res)
			return results, err
		}
		results = append(results, res)
	}

	if err = ctx.Err(); err != nil {
		return results, err
	}
	if err = tx.Commit(); err != nil {
		return results, err
	}
	return results, nil
}

func writeSize(ctx context.Context, tx *sql.Tx, sessionID string, group model.SizeRecords) (speedRows, errorRows int, err error) {
	for _, rec := range group.Speed {
		if rec.Size != group.Size {
			return 0, 0, fmt.Errorf("speed record %q has size %d, want %d", rec.Text, rec.Size, group.Size)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO session_ngram_speed (session_id, ngram_size, ngram_text, avg_time_ms, ms_per_keystroke, occurrences)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(session_id, ngram_size, ngram_text) DO NOTHING`,
			sessionID, rec.Size, rec.Text, rec.AvgTimeMs, rec.MsPerKeystroke, rec.Occurrences)
		if err != nil {
			return 0, 0, fmt.Errorf("speed %q: %w", rec.Text, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, 0, err
		}
		speedRows += int(n)
	}
	for _, rec := range group.Errors {
		if rec.Size != group.Size {
			return 0, 0, fmt.Errorf("error record %q has size %d, want %d", rec.Text, rec.Size, group.Size)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO session_ngram_errors (session_id, ngram_size, ngram_text, error_count)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(session_id, ngram_size, ngram_text) DO NOTHING`,
			sessionID, rec.Size, rec.Text, rec.ErrorCount)
		if err != nil {
			return 0, 0, fmt.Errorf("error %q: %w", rec.Text, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, 0, err
		}
		errorRows += int(n)
	}
	return speedRows, errorRows, nil
}

// SpeedRecords returns the speed rows of a session.
func (s *Store) SpeedRecords(ctx context.Context, sessionID string) ([]model.SpeedRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ngram_size, ngram_text, avg_time_ms, ms_per_keystroke, occurrences
		 FROM session_ngram_speed
		 WHERE session_id = ?
		 ORDER BY ngram_size ASC, ngram_text ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var result []model.SpeedRecord
	for rows.Next() {
		rec := model.SpeedRecord{SessionID: sessionID}
		if err := rows.Scan(&rec.Size, &rec.Text, &rec.AvgTimeMs, &rec.MsPerKeystroke, &rec.Occurrences); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ErrorRecords returns the error rows of a session.
func (s *Store) ErrorRecords(ctx context.Context, sessionID string) ([]model.ErrorRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ngram_size, ngram_text, error_count
		 FROM session_ngram_errors
		 WHERE session_id = ?
		 ORDER BY ngram_size ASC, ngram_text ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var result []model.ErrorRecord
	for rows.Next() {
		rec := model.ErrorRecord{SessionID: sessionID}
		if err := rows.Scan(&rec.Size, &rec.Text, &rec.ErrorCount); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

package store

import (
	"context"
	"time"

	"github.com/verte-zerg/typegram/internal/model"
)

// PendingSummaries lists sessions that have speed or error rows but no
// summary rows.
func (s *Store) PendingSummaries(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `WITH analyzed AS (
		SELECT session_id FROM session_ngram_speed
		UNION
		SELECT session_id FROM session_ngram_errors
	)
	SELECT a.session_id
	FROM analyzed a
	WHERE NOT EXISTS (SELECT 1 FROM session_ngram_summary sm WHERE sm.session_id = a.session_id)
	ORDER BY a.session_id ASC`)
}

// HasSummary reports whether a session already has summary rows.
func (s *Store) HasSummary(ctx context.Context, sessionID string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_ngram_summary WHERE session_id = ?`, sessionID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertSummaries writes summary rows for one session in one transaction.
// Rows already present for (session, text, size) are kept unchanged; the
// number of newly inserted rows is returned.
func (s *Store) InsertSummaries(ctx context.Context, rows []model.SessionSummary) (inserted int, err error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			rollback(tx)
		}
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO session_ngram_summary (session_id, ngram_text, ngram_size, user_id, keyboard_id,
			avg_ms_per_keystroke, target_speed_ms, instance_count, error_count, session_dt, updated_dt)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, ngram_text, ngram_size) DO NOTHING`)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := stmt.Close(); cerr != nil {
			// Best-effort statement close.
			_ = cerr
		}
	}()

	for _, row := range rows {
		res, err := stmt.ExecContext(ctx,
			row.SessionID,
			row.Text,
			row.Size,
			row.UserID,
			row.KeyboardID,
			row.AvgMsPerKeystroke,
			row.TargetSpeedMs,
			row.InstanceCount,
			row.ErrorCount,
			row.SessionAt.Format(time.RFC3339Nano),
			row.UpdatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// Summaries returns the summary rows of a session.
func (s *Store) Summaries(ctx context.Context, sessionID string) ([]model.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, ngram_text, ngram_size, user_id, keyboard_id, avg_ms_per_keystroke,
			target_speed_ms, instance_count, error_count, session_dt, updated_dt
		 FROM session_ngram_summary
		 WHERE session_id = ?
		 ORDER BY ngram_size ASC, ngram_text ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var result []model.SessionSummary
	for rows.Next() {
		var row model.SessionSummary
		var sessionAt, updatedAt string
		if err := rows.Scan(&row.SessionID, &row.Text, &row.Size, &row.UserID, &row.KeyboardID,
			&row.AvgMsPerKeystroke, &row.TargetSpeedMs, &row.InstanceCount, &row.ErrorCount,
			&sessionAt, &updatedAt); err != nil {
			return nil, err
		}
		if row.SessionAt, err = time.Parse(time.RFC3339Nano, sessionAt); err != nil {
			return nil, err
		}
		if row.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

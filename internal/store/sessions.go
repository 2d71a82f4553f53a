package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/verte-zerg/typegram/internal/model"
)

// UpsertKeyboard stores a keyboard and its target speed.
func (s *Store) UpsertKeyboard(ctx context.Context, kb model.Keyboard) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO keyboards (keyboard_id, user_id, keyboard_name, target_ms_per_keystroke)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(keyboard_id) DO UPDATE SET
			user_id = excluded.user_id,
			keyboard_name = excluded.keyboard_name,
			target_ms_per_keystroke = excluded.target_ms_per_keystroke`,
		kb.ID, kb.UserID, kb.Name, kb.TargetSpeedMs)
	return err
}

// InsertSession stores a completed session and its keystroke log. A
// session that already exists is left untouched.
func (s *Store) InsertSession(ctx context.Context, sess model.Session, keys []model.Keystroke) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			rollback(tx)
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO practice_sessions (session_id, user_id, keyboard_id, start_time, end_time, content)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sess.ID,
		sess.UserID,
		sess.KeyboardID,
		sess.StartedAt.Format(time.RFC3339Nano),
		sess.EndedAt.Format(time.RFC3339Nano),
		sess.Content,
	)
	if err != nil {
		return err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		return tx.Commit()
	}

	if len(keys) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO session_keystrokes (session_id, keystroke_id, keystroke_time, keystroke_char, expected_char, is_error, time_since_previous)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := stmt.Close(); cerr != nil {
				// Best-effort statement close.
				_ = cerr
			}
		}()
		for _, k := range keys {
			var at any
			if !k.Time.IsZero() {
				at = k.Time.Format(time.RFC3339Nano)
			}
			var since any
			if k.SincePrevMs != nil {
				since = *k.SincePrevMs
			}
			if _, err := stmt.ExecContext(ctx, sess.ID, k.Index, at, k.Typed, k.Expected, !k.Correct, since); err != nil {
				return fmt.Errorf("keystroke %d: %w", k.Index, err)
			}
		}
	}

	return tx.Commit()
}

// Session returns a session by id.
func (s *Store) Session(ctx context.Context, id string) (model.Session, error) {
	var sess model.Session
	var startedAt, endedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, keyboard_id, start_time, end_time, content
		 FROM practice_sessions WHERE session_id = ?`, id).
		Scan(&sess.ID, &sess.UserID, &sess.KeyboardID, &startedAt, &endedAt, &sess.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return model.Session{}, err
	}
	if sess.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return model.Session{}, err
	}
	if sess.EndedAt, err = time.Parse(time.RFC3339Nano, endedAt); err != nil {
		return model.Session{}, err
	}
	return sess, nil
}

// Keystrokes returns the ordered keystroke log of a session. Rows with a
// missing or unparsable timestamp come back with a zero Time so the
// classifier can skip them.
func (s *Store) Keystrokes(ctx context.Context, sessionID string) ([]model.Keystroke, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM practice_sessions WHERE session_id = ?`, sessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT keystroke_id, keystroke_time, keystroke_char, expected_char, is_error, time_since_previous
		 FROM session_keystrokes
		 WHERE session_id = ?
		 ORDER BY keystroke_id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var keys []model.Keystroke
	for rows.Next() {
		var k model.Keystroke
		var at sql.NullString
		var isError bool
		var since sql.NullInt64
		if err := rows.Scan(&k.Index, &at, &k.Typed, &k.Expected, &isError, &since); err != nil {
			return nil, err
		}
		k.SessionID = sessionID
		k.Correct = !isError
		if at.Valid {
			if parsed, perr := time.Parse(time.RFC3339Nano, at.String); perr == nil {
				k.Time = parsed
			}
		}
		if since.Valid {
			v := since.Int64
			k.SincePrevMs = &v
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// TargetSpeed returns the configured target ms per keystroke of a keyboard.
func (s *Store) TargetSpeed(ctx context.Context, keyboardID string) (int64, error) {
	var target int64
	err := s.db.QueryRowContext(ctx,
		`SELECT target_ms_per_keystroke FROM keyboards WHERE keyboard_id = ?`, keyboardID).Scan(&target)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("keyboard %q not found", keyboardID)
	}
	if err != nil {
		return 0, err
	}
	return target, nil
}

// PendingAnalysis lists sessions with keystrokes but no n-gram rows yet.
func (s *Store) PendingAnalysis(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `SELECT p.session_id
		FROM practice_sessions p
		WHERE EXISTS (SELECT 1 FROM session_keystrokes k WHERE k.session_id = p.session_id)
		AND NOT EXISTS (SELECT 1 FROM session_ngram_speed sp WHERE sp.session_id = p.session_id)
		AND NOT EXISTS (SELECT 1 FROM session_ngram_errors se WHERE se.session_id = p.session_id)
		AND NOT EXISTS (SELECT 1 FROM session_ngram_summary sm WHERE sm.session_id = p.session_id)
		ORDER BY p.start_time ASC, p.session_id ASC`)
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Package importer loads keyboards and recorded typing sessions from YAML
// or JSON files into the store.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/verte-zerg/typegram/internal/model"
)

// Store receives the imported records.
type Store interface {
	UpsertKeyboard(ctx context.Context, kb model.Keyboard) error
	InsertSession(ctx context.Context, sess model.Session, keys []model.Keystroke) error
}

// File is the on-disk layout. JSON files use the same keys.
type File struct {
	Keyboards []Keyboard `yaml:"keyboards"`
	Sessions  []Session  `yaml:"sessions"`
}

// Keyboard describes a keyboard and its target speed.
type Keyboard struct {
	ID            string `yaml:"id"`
	UserID        string `yaml:"user_id"`
	Name          string `yaml:"name"`
	TargetSpeedMs int64  `yaml:"target_ms_per_keystroke"`
}

// Session is one recorded typing session.
type Session struct {
	ID         string      `yaml:"id"`
	UserID     string      `yaml:"user_id"`
	KeyboardID string      `yaml:"keyboard_id"`
	StartedAt  string      `yaml:"started_at"`
	EndedAt    string      `yaml:"ended_at"`
	Content    string      `yaml:"content"`
	Keystrokes []Keystroke `yaml:"keystrokes"`
}

// Keystroke is one recorded key press. Correct defaults to typed ==
// expected, and SincePrevMs defaults to the gap between consecutive
// timestamps.
type Keystroke struct {
	At          string `yaml:"at"`
	Typed       string `yaml:"typed"`
	Expected    string `yaml:"expected"`
	Correct     *bool  `yaml:"correct"`
	SincePrevMs *int64 `yaml:"since_prev_ms"`
}

// Result summarizes an import.
type Result struct {
	Keyboards int
	Sessions  []string
}

// Importer writes decoded files to a store.
type Importer struct {
	store  Store
	logger *slog.Logger
	newID  func() string
}

// New returns an Importer. A nil logger uses slog.Default.
func New(st Store, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: st, logger: logger, newID: uuid.NewString}
}

// ImportFile decodes and imports the file at path.
func (im *Importer) ImportFile(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open import file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			// Best-effort close for read-only file.
			_ = cerr
		}
	}()
	return im.Import(ctx, f)
}

// Import decodes r and writes its keyboards and sessions. Sessions already
// present in the store keep their stored keystrokes.
func (im *Importer) Import(ctx context.Context, r io.Reader) (Result, error) {
	file, err := Decode(r)
	if err != nil {
		return Result{}, err
	}
	var res Result
	for _, kb := range file.Keyboards {
		if kb.ID == "" {
			return res, errors.New("keyboard without id")
		}
		if err := im.store.UpsertKeyboard(ctx, model.Keyboard{
			ID:            kb.ID,
			UserID:        kb.UserID,
			Name:          kb.Name,
			TargetSpeedMs: kb.TargetSpeedMs,
		}); err != nil {
			return res, fmt.Errorf("keyboard %s: %w", kb.ID, err)
		}
		res.Keyboards++
	}
	for i, s := range file.Sessions {
		sess, keys, err := im.convert(s)
		if err != nil {
			return res, fmt.Errorf("session %d: %w", i, err)
		}
		if err := im.store.InsertSession(ctx, sess, keys); err != nil {
			return res, fmt.Errorf("session %s: %w", sess.ID, err)
		}
		im.logger.Debug("session imported", "session_id", sess.ID, "keystrokes", len(keys))
		res.Sessions = append(res.Sessions, sess.ID)
	}
	return res, nil
}

// Decode parses a YAML or JSON import document.
func Decode(r io.Reader) (File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var file File
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("decode import file: %w", err)
	}
	return file, nil
}

func (im *Importer) convert(s Session) (model.Session, []model.Keystroke, error) {
	sess := model.Session{
		ID:         strings.TrimSpace(s.ID),
		UserID:     s.UserID,
		KeyboardID: s.KeyboardID,
		Content:    s.Content,
	}
	if sess.ID == "" {
		sess.ID = im.newID()
	}
	if sess.KeyboardID == "" {
		return sess, nil, errors.New("missing keyboard_id")
	}
	var err error
	if sess.StartedAt, err = parseTime(s.StartedAt); err != nil {
		return sess, nil, fmt.Errorf("started_at: %w", err)
	}
	if sess.EndedAt, err = parseTime(s.EndedAt); err != nil {
		return sess, nil, fmt.Errorf("ended_at: %w", err)
	}

	keys := make([]model.Keystroke, len(s.Keystrokes))
	for i, k := range s.Keystrokes {
		at, err := parseTime(k.At)
		if err != nil {
			return sess, nil, fmt.Errorf("keystroke %d: %w", i, err)
		}
		correct := k.Typed == k.Expected
		if k.Correct != nil {
			correct = *k.Correct
		}
		keys[i] = model.Keystroke{
			SessionID:   sess.ID,
			Index:       i,
			Time:        at,
			Typed:       k.Typed,
			Expected:    k.Expected,
			Correct:     correct,
			SincePrevMs: k.SincePrevMs,
		}
		if keys[i].SincePrevMs == nil && i > 0 && !at.IsZero() && !keys[i-1].Time.IsZero() {
			gap := at.Sub(keys[i-1].Time).Milliseconds()
			keys[i].SincePrevMs = &gap
		}
	}
	if sess.StartedAt.IsZero() && len(keys) > 0 {
		sess.StartedAt = keys[0].Time
	}
	if sess.EndedAt.IsZero() && len(keys) > 0 {
		sess.EndedAt = keys[len(keys)-1].Time
	}
	return sess, keys, nil
}

// parseTime accepts RFC 3339 timestamps; an empty value is the zero time.
func parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

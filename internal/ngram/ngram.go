// Package ngram slides fixed-size windows over a keystroke log and
// classifies each window as clean, error-on-last or excluded.
package ngram

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/verte-zerg/typegram/internal/model"
)

// Default size range. LegacyMaxSize is the wider range older histories
// were analyzed with.
const (
	DefaultMinSize = 2
	DefaultMaxSize = 8
	LegacyMaxSize  = 10
)

// Backspace is the typed value logged for correction events.
const Backspace = "\b"

// ErrInvalidRange is returned for unusable size ranges.
var ErrInvalidRange = errors.New("invalid n-gram size range")

// Malformed describes a keystroke dropped before windowing.
type Malformed struct {
	Index  int
	Reason string
}

// Result holds classified windows keyed by size.
type Result struct {
	BySize    map[int]model.SizeWindows
	Malformed []Malformed
}

// Sizes returns the sizes present in the result in ascending order.
func (r Result) Sizes() []int {
	sizes := make([]int, 0, len(r.BySize))
	for size := range r.BySize {
		sizes = append(sizes, size)
	}
	sort.Ints(sizes)
	return sizes
}

// ValidateRange checks a [minSize, maxSize] range.
func ValidateRange(minSize, maxSize int) error {
	if minSize < 1 {
		return fmt.Errorf("%w: min size %d < 1", ErrInvalidRange, minSize)
	}
	if maxSize < minSize {
		return fmt.Errorf("%w: max size %d < min size %d", ErrInvalidRange, maxSize, minSize)
	}
	return nil
}

// IsBackspace reports whether a typed value is a correction event.
func IsBackspace(s string) bool {
	return s == Backspace || s == "\x7f"
}

// IsWhitespace reports whether s contains a whitespace rune.
func IsWhitespace(s string) bool {
	return strings.IndexFunc(s, unicode.IsSpace) >= 0
}

// Run is a stretch of consecutive well-formed keystrokes. Offset is the
// position of its first keystroke in the original log.
type Run struct {
	Offset int
	Keys   []model.Keystroke
}

func malformedReason(k model.Keystroke) string {
	switch {
	case k.Time.IsZero():
		return "missing timestamp"
	case k.Typed == "":
		return "missing typed character"
	case !utf8.ValidString(k.Typed):
		return "invalid utf-8"
	}
	return ""
}

// Sanitize drops keystrokes that lack a timestamp or a typed value.
func Sanitize(keystrokes []model.Keystroke) ([]model.Keystroke, []Malformed) {
	runs, malformed := Split(keystrokes)
	valid := make([]model.Keystroke, 0, len(keystrokes)-len(malformed))
	for _, r := range runs {
		valid = append(valid, r.Keys...)
	}
	return valid, malformed
}

// Split cuts the log at every malformed keystroke. The keystrokes on
// either side of a dropped one end up in different runs.
func Split(keystrokes []model.Keystroke) ([]Run, []Malformed) {
	var runs []Run
	var malformed []Malformed
	start := 0
	for i, k := range keystrokes {
		reason := malformedReason(k)
		if reason == "" {
			continue
		}
		malformed = append(malformed, Malformed{Index: k.Index, Reason: reason})
		if i > start {
			runs = append(runs, Run{Offset: start, Keys: keystrokes[start:i]})
		}
		start = i + 1
	}
	if start < len(keystrokes) {
		runs = append(runs, Run{Offset: start, Keys: keystrokes[start:]})
	}
	return runs, malformed
}

// Generate classifies every window of every size in [minSize, maxSize].
// Malformed keystrokes are skipped and reported. No window spans one.
func Generate(keystrokes []model.Keystroke, minSize, maxSize int) (Result, error) {
	if err := ValidateRange(minSize, maxSize); err != nil {
		return Result{}, err
	}
	runs, malformed := Split(keystrokes)
	res := Result{
		BySize:    make(map[int]model.SizeWindows, maxSize-minSize+1),
		Malformed: malformed,
	}
	for size := minSize; size <= maxSize; size++ {
		group := model.SizeWindows{Size: size}
		for _, run := range runs {
			for start := 0; start+size <= len(run.Keys); start++ {
				w := Classify(run.Keys[start : start+size])
				w.Start = run.Offset + start
				switch w.Class {
				case model.Clean:
					group.Clean = append(group.Clean, w)
				case model.ErrorOnLast:
					group.Errors = append(group.Errors, w)
				}
			}
		}
		res.BySize[size] = group
	}
	return res, nil
}

// Classify tags a single window.
func Classify(keys []model.Keystroke) model.Window {
	w := model.Window{
		Size:        len(keys),
		Text:        Text(keys),
		TotalTimeMs: TotalTimeMs(keys),
		Keystrokes:  keys,
		Class:       model.Excluded,
	}
	if len(keys) == 0 {
		return w
	}
	for _, k := range keys[1:] {
		if k.SincePrevMs == nil {
			return w
		}
	}
	allCorrect := true
	for _, k := range keys {
		if IsWhitespace(k.Typed) || IsBackspace(k.Typed) {
			return w
		}
		if !k.Correct {
			allCorrect = false
		}
	}
	switch {
	case allCorrect:
		if w.TotalTimeMs > 0 || w.Size == 1 {
			w.Class = model.Clean
		}
	case !keys[len(keys)-1].Correct:
		w.Class = model.ErrorOnLast
	}
	return w
}

// Text joins the typed characters of a window.
func Text(keys []model.Keystroke) string {
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k.Typed)
	}
	return b.String()
}

// TotalTimeMs sums the deltas of keystrokes 2..n. The first keystroke's
// delta belongs to the transition into the window and is never counted.
// Classify excludes windows where one of the summed deltas is unknown.
func TotalTimeMs(keys []model.Keystroke) int64 {
	var total int64
	for i := 1; i < len(keys); i++ {
		total += keys[i].DeltaMs()
	}
	return total
}

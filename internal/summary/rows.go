package summary

import (
	"sort"
	"time"

	"github.com/verte-zerg/typegram/internal/model"
	"github.com/verte-zerg/typegram/internal/ngram"
)

// CharTimings derives single-character rows from a keystroke log, grouped
// by expected character. Whitespace and correction events are left out,
// as they are for multi-character windows. The average only covers
// keystrokes that carry a time since the previous one.
func CharTimings(keys []model.Keystroke) []model.CharTiming {
	type acc struct {
		sumMs     int64
		timed     int
		instances int
		errors    int
	}
	byChar := map[string]*acc{}
	for _, k := range keys {
		if k.Expected == "" || ngram.IsWhitespace(k.Expected) || ngram.IsBackspace(k.Typed) || ngram.IsWhitespace(k.Typed) {
			continue
		}
		a, ok := byChar[k.Expected]
		if !ok {
			a = &acc{}
			byChar[k.Expected] = a
		}
		a.instances++
		if !k.Correct {
			a.errors++
		}
		if k.SincePrevMs != nil {
			a.sumMs += *k.SincePrevMs
			a.timed++
		}
	}
	out := make([]model.CharTiming, 0, len(byChar))
	for ch, a := range byChar {
		t := model.CharTiming{
			Char:          ch,
			InstanceCount: a.instances,
			ErrorCount:    a.errors,
		}
		if a.timed > 0 {
			t.AvgMs = float64(a.sumMs) / float64(a.timed)
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Char < out[j].Char
	})
	return out
}

// Source bundles everything one session contributes to its summary.
type Source struct {
	Session       model.Session
	TargetSpeedMs int64
	Speed         []model.SpeedRecord
	Errors        []model.ErrorRecord
	Chars         []model.CharTiming
}

type rowKey struct {
	size int
	text string
}

// BuildRows merges speed and error records on (size, text), adds the
// single-character rows, and drops rows without a positive average time
// or instance count.
func BuildRows(src Source, now time.Time) []model.SessionSummary {
	merged := map[rowKey]*model.SessionSummary{}
	get := func(size int, text string) *model.SessionSummary {
		k := rowKey{size: size, text: text}
		row, ok := merged[k]
		if !ok {
			row = &model.SessionSummary{
				SessionID:     src.Session.ID,
				UserID:        src.Session.UserID,
				KeyboardID:    src.Session.KeyboardID,
				Text:          text,
				Size:          size,
				TargetSpeedMs: src.TargetSpeedMs,
				SessionAt:     src.Session.StartedAt,
				UpdatedAt:     now,
			}
			merged[k] = row
		}
		return row
	}

	for _, rec := range src.Speed {
		row := get(rec.Size, rec.Text)
		row.AvgMsPerKeystroke = rec.MsPerKeystroke
		row.InstanceCount += rec.Occurrences
	}
	for _, rec := range src.Errors {
		row := get(rec.Size, rec.Text)
		row.InstanceCount += rec.ErrorCount
		row.ErrorCount += rec.ErrorCount
	}
	for _, ch := range src.Chars {
		if _, ok := merged[rowKey{size: 1, text: ch.Char}]; ok {
			continue
		}
		row := get(1, ch.Char)
		row.AvgMsPerKeystroke = ch.AvgMs
		row.InstanceCount = ch.InstanceCount
		row.ErrorCount = ch.ErrorCount
	}

	rows := make([]model.SessionSummary, 0, len(merged))
	for _, row := range merged {
		if row.AvgMsPerKeystroke <= 0 || row.InstanceCount <= 0 {
			continue
		}
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Size == rows[j].Size {
			return rows[i].Text < rows[j].Text
		}
		return rows[i].Size < rows[j].Size
	})
	return rows
}

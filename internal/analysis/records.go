package analysis

import (
	"sort"

	"github.com/verte-zerg/typegram/internal/model"
	"github.com/verte-zerg/typegram/internal/ngram"
)

// BuildRecords folds classified windows into one speed record per distinct
// clean (size, text) and one error record per distinct error (size, text).
// Repeated clean occurrences are averaged; repeated errors are counted.
func BuildRecords(sessionID string, res ngram.Result) []model.SizeRecords {
	sizes := res.Sizes()
	out := make([]model.SizeRecords, 0, len(sizes))
	for _, size := range sizes {
		group := res.BySize[size]
		out = append(out, model.SizeRecords{
			Size:   size,
			Speed:  speedRecords(sessionID, size, group.Clean),
			Errors: errorRecords(sessionID, size, group.Errors),
		})
	}
	return out
}

func speedRecords(sessionID string, size int, windows []model.Window) []model.SpeedRecord {
	type acc struct {
		totalMs int64
		count   int
	}
	byText := map[string]*acc{}
	for _, w := range windows {
		a, ok := byText[w.Text]
		if !ok {
			a = &acc{}
			byText[w.Text] = a
		}
		a.totalMs += w.TotalTimeMs
		a.count++
	}
	records := make([]model.SpeedRecord, 0, len(byText))
	for text, a := range byText {
		avg := float64(a.totalMs) / float64(a.count)
		records = append(records, model.SpeedRecord{
			SessionID:      sessionID,
			Size:           size,
			Text:           text,
			AvgTimeMs:      avg,
			MsPerKeystroke: avg / float64(size),
			Occurrences:    a.count,
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Text < records[j].Text
	})
	return records
}

func errorRecords(sessionID string, size int, windows []model.Window) []model.ErrorRecord {
	counts := map[string]int{}
	for _, w := range windows {
		counts[w.Text]++
	}
	records := make([]model.ErrorRecord, 0, len(counts))
	for text, n := range counts {
		records = append(records, model.ErrorRecord{
			SessionID:  sessionID,
			Size:       size,
			Text:       text,
			ErrorCount: n,
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Text < records[j].Text
	})
	return records
}

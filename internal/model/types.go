// Package model defines shared data structures.
package model

import "time"

// EngineConfig defines n-gram analysis settings.
type EngineConfig struct {
	MinSize int
	MaxSize int
	Timeout time.Duration
	Workers int
}

// RankConfig defines defaults for ranking queries.
type RankConfig struct {
	Size           int
	MinOccurrences int
	Limit          int
}

// Keyboard is a configured keyboard with its target speed.
type Keyboard struct {
	ID            string
	UserID        string
	Name          string
	TargetSpeedMs int64
}

// Session is one completed practice attempt.
type Session struct {
	ID         string
	UserID     string
	KeyboardID string
	StartedAt  time.Time
	EndedAt    time.Time
	Content    string
}

// Keystroke is one logged key event, including backspace events.
type Keystroke struct {
	SessionID string
	Index     int
	Time      time.Time
	Typed     string
	Expected  string
	Correct   bool
	// SincePrevMs is nil for the first event of a session.
	SincePrevMs *int64
}

// DeltaMs returns the time since the previous keystroke, or 0 when unknown.
func (k Keystroke) DeltaMs() int64 {
	if k.SincePrevMs == nil {
		return 0
	}
	return *k.SincePrevMs
}

// Class is the classification of an n-gram window.
type Class int

const (
	// Excluded windows carry no trustworthy signal.
	Excluded Class = iota
	// Clean windows were typed entirely correctly.
	Clean
	// ErrorOnLast windows end with a mistyped keystroke.
	ErrorOnLast
)

func (c Class) String() string {
	switch c {
	case Clean:
		return "clean"
	case ErrorOnLast:
		return "error"
	default:
		return "excluded"
	}
}

// Window is a classified run of consecutive keystrokes.
type Window struct {
	Start       int
	Size        int
	Text        string
	TotalTimeMs int64
	Class       Class
	Keystrokes  []Keystroke
}

// SizeWindows groups the usable windows of one size.
type SizeWindows struct {
	Size   int
	Clean  []Window
	Errors []Window
}

// SpeedRecord is the per-session timing of one clean n-gram.
type SpeedRecord struct {
	SessionID      string
	Size           int
	Text           string
	AvgTimeMs      float64
	MsPerKeystroke float64
	Occurrences    int
}

// ErrorRecord is the per-session error count of one n-gram.
type ErrorRecord struct {
	SessionID  string
	Size       int
	Text       string
	ErrorCount int
}

// SizeRecords holds the records of one size for one session.
type SizeRecords struct {
	Size   int
	Speed  []SpeedRecord
	Errors []ErrorRecord
}

// SizeResult reports the outcome of persisting one size.
type SizeResult struct {
	Size      int
	SpeedRows int
	ErrorRows int
	Err       error
}

// OK reports whether the size was written.
func (r SizeResult) OK() bool {
	return r.Err == nil
}

// AnalysisReport is the outcome of analyzing one session.
type AnalysisReport struct {
	SessionID  string
	Keystrokes int
	Skipped    int
	Sizes      []SizeResult
}

// Failed returns the sizes that could not be written.
func (r AnalysisReport) Failed() []SizeResult {
	var out []SizeResult
	for _, s := range r.Sizes {
		if !s.OK() {
			out = append(out, s)
		}
	}
	return out
}

// SessionSummary is one aggregated row per (session, text, size).
type SessionSummary struct {
	SessionID         string
	UserID            string
	KeyboardID        string
	Text              string
	Size              int
	AvgMsPerKeystroke float64
	TargetSpeedMs     int64
	InstanceCount     int
	ErrorCount        int
	SessionAt         time.Time
	UpdatedAt         time.Time
}

// CharTiming is a single-character timing derived from the keystroke log.
type CharTiming struct {
	Char          string
	AvgMs         float64
	InstanceCount int
	ErrorCount    int
}

// SessionFailure records a session the aggregator could not summarize.
type SessionFailure struct {
	SessionID string
	Err       error
}

// SummaryReport is the outcome of one aggregation pass.
type SummaryReport struct {
	Sessions []string
	Rows     int
	Failures []SessionFailure
	// Empty lists sessions that yielded no summary rows. They stay pending
	// and are selected again by the next pass.
	Empty []string
}

// RankQuery selects ranked n-grams.
type RankQuery struct {
	Size           int
	MinOccurrences int
	Limit          int
	// SessionID restricts the ranking to one session when set.
	SessionID string
	// KeyboardID restricts summary rankings to one keyboard when set.
	KeyboardID string
}

// RankedNGram is one entry of a ranking.
type RankedNGram struct {
	Text          string  `json:"text"`
	Size          int     `json:"size"`
	Metric        float64 `json:"metric"`
	Occurrences   int     `json:"occurrences"`
	TargetSpeedMs int64   `json:"target_speed_ms,omitempty"`
}

// Package stats renders n-gram rankings and analysis outcomes for the
// terminal.
package stats

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/verte-zerg/typegram/internal/model"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#C89A3A"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
)

// ShouldUseColor reports whether w is a terminal that accepts colors.
func ShouldUseColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}

func style(s lipgloss.Style, text string, useColor bool) string {
	if !useColor {
		return text
	}
	return s.Render(text)
}

// RenderRanking prints a ranked n-gram table. metricLabel names the
// metric column.
func RenderRanking(w io.Writer, title, metricLabel string, ranked []model.RankedNGram, useColor bool) error {
	if _, err := fmt.Fprintln(w, style(titleStyle, title, useColor)); err != nil {
		return err
	}
	if len(ranked) == 0 {
		_, err := fmt.Fprintln(w, "No n-grams found.")
		return err
	}
	withTarget := false
	for _, r := range ranked {
		if r.TargetSpeedMs > 0 {
			withTarget = true
			break
		}
	}
	tbl := table{
		headers:    []string{"#", "N-gram", metricLabel, "Count"},
		rightAlign: map[int]bool{0: true, 2: true, 3: true, 4: true},
	}
	if withTarget {
		tbl.headers = append(tbl.headers, "Target")
	}
	for i, r := range ranked {
		row := []string{
			strconv.Itoa(i + 1),
			displayText(r.Text),
			formatMetric(r.Metric),
			strconv.Itoa(r.Occurrences),
		}
		if withTarget {
			row = append(row, strconv.FormatInt(r.TargetSpeedMs, 10))
		}
		tbl.rows = append(tbl.rows, row)
	}
	for i, line := range tbl.lines() {
		if i == 0 {
			line = style(headerStyle, line, useColor)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// RenderAnalysis prints the per-size outcome of analyzed sessions.
func RenderAnalysis(w io.Writer, reports []model.AnalysisReport, useColor bool) error {
	if len(reports) == 0 {
		_, err := fmt.Fprintln(w, "No sessions analyzed.")
		return err
	}
	tbl := table{
		headers:    []string{"Session", "Keys", "Skipped", "Size", "Speed", "Errors", "Status"},
		rightAlign: map[int]bool{1: true, 2: true, 3: true, 4: true, 5: true},
	}
	for _, r := range reports {
		if len(r.Sizes) == 0 {
			tbl.rows = append(tbl.rows, []string{r.SessionID, strconv.Itoa(r.Keystrokes), strconv.Itoa(r.Skipped), "-", "-", "-", "no data"})
			continue
		}
		for i, s := range r.Sizes {
			session, keys, skipped := "", "", ""
			if i == 0 {
				session, keys, skipped = r.SessionID, strconv.Itoa(r.Keystrokes), strconv.Itoa(r.Skipped)
			}
			status := "ok"
			if !s.OK() {
				status = style(failStyle, "failed: "+s.Err.Error(), useColor)
			}
			tbl.rows = append(tbl.rows, []string{
				session, keys, skipped,
				strconv.Itoa(s.Size),
				strconv.Itoa(s.SpeedRows),
				strconv.Itoa(s.ErrorRows),
				status,
			})
		}
	}
	for i, line := range tbl.lines() {
		if i == 0 {
			line = style(headerStyle, line, useColor)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// RenderSummaryReport prints the outcome of an aggregation pass.
func RenderSummaryReport(w io.Writer, report model.SummaryReport, useColor bool) error {
	if _, err := fmt.Fprintf(w, "Summarized sessions: %d\n", len(report.Sessions)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Rows inserted: %d\n", report.Rows); err != nil {
		return err
	}
	if len(report.Empty) > 0 {
		if _, err := fmt.Fprintf(w, "Nothing to summarize: %s\n", strings.Join(report.Empty, ", ")); err != nil {
			return err
		}
	}
	for _, f := range report.Failures {
		line := fmt.Sprintf("Failed %s: %v", f.SessionID, f.Err)
		if _, err := fmt.Fprintln(w, style(failStyle, line, useColor)); err != nil {
			return err
		}
	}
	return nil
}

func formatMetric(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// displayText makes control characters visible.
func displayText(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch {
		case r == '\b' || r == 0x7f:
			b.WriteString("<bs>")
		case r == ' ':
			b.WriteString("<space>")
		case r < 0x20:
			b.WriteString(fmt.Sprintf("<%#x>", r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

package replay

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/stewardworks/steward/internal/session"
)

// Stats aggregates one transcript.
type Stats struct {
	// Wall-clock span between the first and last event.
	TotalDurationMs int64

	// Planning rounds and executed actions.
	Planned  int
	Executed int

	// Executed action outcomes.
	Succeeded     int
	Failed        int
	TotalAttempts int
	RetriedSteps  int

	// Per-tool execution time and call counts.
	ToolCalls map[string]int
	ToolMs    map[string]int64

	// Gate rulings by decision.
	Verdicts map[string]int

	// Operator interactions.
	Confirmations int
	Approved      int
	Denied        int
	TimedOut      int
}

// ComputeStats walks the timeline once and aggregates it.
func ComputeStats(tr *session.Transcript) *Stats {
	stats := &Stats{
		ToolCalls: make(map[string]int),
		ToolMs:    make(map[string]int64),
		Verdicts:  make(map[string]int),
	}

	var first, last time.Time
	for i := range tr.Events {
		ev := &tr.Events[i]
		if first.IsZero() || ev.Timestamp.Before(first) {
			first = ev.Timestamp
		}
		if last.IsZero() || ev.Timestamp.After(last) {
			last = ev.Timestamp
		}

		switch ev.Type {
		case session.EventPlan:
			stats.Planned++

		case session.EventVerdict:
			stats.Verdicts[ev.Decision]++

		case session.EventConfirmResolved:
			stats.Confirmations++
			switch ev.Decision {
			case "approved":
				stats.Approved++
			case "denied":
				stats.Denied++
			case "timed_out":
				stats.TimedOut++
			}

		case session.EventResult:
			stats.Executed++
			if ev.Success != nil && *ev.Success {
				stats.Succeeded++
			} else {
				stats.Failed++
			}
			stats.TotalAttempts += ev.Attempts
			if ev.Attempts > 1 {
				stats.RetriedSteps++
			}
			stats.ToolCalls[ev.Tool]++
			stats.ToolMs[ev.Tool] += ev.DurationMs
		}
	}

	if !first.IsZero() && !last.IsZero() {
		stats.TotalDurationMs = last.Sub(first).Milliseconds()
	}
	return stats
}

// PrintStats writes the aggregate view.
func PrintStats(w io.Writer, stats *Stats) {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	labelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("15"))

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("TASK STATISTICS"))
	fmt.Fprintln(w, divider)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s %s\n",
		labelStyle.Render("Duration:"),
		valueStyle.Render(formatDuration(stats.TotalDurationMs)))
	fmt.Fprintf(w, "%s %s planned, %s executed\n",
		labelStyle.Render("Steps:   "),
		valueStyle.Render(fmt.Sprintf("%d", stats.Planned)),
		valueStyle.Render(fmt.Sprintf("%d", stats.Executed)))
	if stats.Executed > 0 {
		fmt.Fprintf(w, "%s %s ok, %s failed, %s retried\n",
			labelStyle.Render("Outcomes:"),
			valueStyle.Render(fmt.Sprintf("%d", stats.Succeeded)),
			valueStyle.Render(fmt.Sprintf("%d", stats.Failed)),
			valueStyle.Render(fmt.Sprintf("%d", stats.RetriedSteps)))
	}
	fmt.Fprintln(w)

	if len(stats.ToolCalls) > 0 {
		fmt.Fprintln(w, headerStyle.Render("Tools:"))
		tools := make([]string, 0, len(stats.ToolCalls))
		for name := range stats.ToolCalls {
			tools = append(tools, name)
		}
		sort.Strings(tools)
		for _, name := range tools {
			fmt.Fprintf(w, "  %s %s calls, %s\n",
				labelStyle.Render(name+":"),
				valueStyle.Render(fmt.Sprintf("%d", stats.ToolCalls[name])),
				valueStyle.Render(formatDuration(stats.ToolMs[name])))
		}
		fmt.Fprintln(w)
	}

	if len(stats.Verdicts) > 0 {
		fmt.Fprintln(w, headerStyle.Render("Gate:"))
		decisions := make([]string, 0, len(stats.Verdicts))
		for d := range stats.Verdicts {
			decisions = append(decisions, d)
		}
		sort.Strings(decisions)
		for _, d := range decisions {
			fmt.Fprintf(w, "  %s %s\n",
				labelStyle.Render(d+":"),
				valueStyle.Render(fmt.Sprintf("%d", stats.Verdicts[d])))
		}
		fmt.Fprintln(w)
	}

	if stats.Confirmations > 0 {
		fmt.Fprintln(w, headerStyle.Render("Confirmations:"))
		fmt.Fprintf(w, "  %s %s approved, %s denied, %s timed out\n",
			labelStyle.Render(fmt.Sprintf("%d total:", stats.Confirmations)),
			valueStyle.Render(fmt.Sprintf("%d", stats.Approved)),
			valueStyle.Render(fmt.Sprintf("%d", stats.Denied)),
			valueStyle.Render(fmt.Sprintf("%d", stats.TimedOut)))
		fmt.Fprintln(w)
	}
}

// formatDuration renders milliseconds for humans.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.2fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm%ds", mins, secs)
}

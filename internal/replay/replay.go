// Package replay renders recorded transcripts as forensic timelines
// for inspecting what a task actually did.
package replay

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/stewardworks/steward/internal/session"
)

// Replayer reads and formats one transcript.
type Replayer struct {
	output        io.Writer
	verbosity     int // 0=normal, 1=verbose (-v), 2=very verbose (-vv)
	maxOutputSize int // cap on rendered tool output, 0 = unlimited
}

// Option configures a Replayer.
type Option func(*Replayer)

// WithMaxOutputSize caps how much of each tool output is rendered.
func WithMaxOutputSize(size int) Option {
	return func(r *Replayer) {
		r.maxOutputSize = size
	}
}

// New creates a Replayer writing to output.
func New(output io.Writer, verbosity int, opts ...Option) *Replayer {
	r := &Replayer{
		output:        output,
		verbosity:     verbosity,
		maxOutputSize: 16 * 1024,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReplayFile loads a transcript and renders its timeline.
func (r *Replayer) ReplayFile(path string) error {
	tr, err := session.Load(path)
	if err != nil {
		return err
	}
	return r.Replay(tr)
}

// ReplayFileInteractive renders the timeline inside the pager.
func (r *Replayer) ReplayFileInteractive(path string) error {
	tr, err := session.Load(path)
	if err != nil {
		return err
	}
	content, err := r.render(tr)
	if err != nil {
		return err
	}
	return runPager("Task: "+tr.TaskID, content)
}

// ReplayFileLive renders inside the pager and re-renders whenever the
// transcript grows, for watching a running task.
func (r *Replayer) ReplayFileLive(path string) error {
	render := func() (string, error) {
		tr, err := session.Load(path)
		if err != nil {
			return "", err
		}
		return r.render(tr)
	}

	tr, err := session.Load(path)
	if err != nil {
		return err
	}
	return runLivePager("Task: "+tr.TaskID+" (LIVE)", path, render)
}

// render captures the timeline as a string for the pager.
func (r *Replayer) render(tr *session.Transcript) (string, error) {
	var buf strings.Builder
	old := r.output
	r.output = &buf
	err := r.Replay(tr)
	r.output = old
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Replay writes the full timeline: header, events, terminal state.
func (r *Replayer) Replay(tr *session.Transcript) error {
	fmt.Fprintln(r.output)
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("TASK"), valueStyle.Render(tr.TaskID))
	fmt.Fprintln(r.output, divider)
	fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Goal:     "), valueStyle.Render(tr.Goal))
	fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Workspace:"), valueStyle.Render(tr.Workspace))
	fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Status:   "), r.statusStyle(tr.Status).Render(tr.Status))
	fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Started:  "), valueStyle.Render(tr.StartedAt.Format(time.RFC3339)))
	fmt.Fprintln(r.output)

	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("TIMELINE"), dimStyle.Render(fmt.Sprintf("(%d events)", len(tr.Events))))
	fmt.Fprintln(r.output, divider)

	lastStep := -1
	for i := range tr.Events {
		r.formatEvent(&tr.Events[i], &lastStep)
	}

	fmt.Fprintln(r.output)
	fmt.Fprintln(r.output, divider)
	switch {
	case !tr.Complete:
		fmt.Fprintln(r.output, warnStyle.Render("RUNNING")+dimStyle.Render(" (no footer; live or crashed)"))
	case tr.Status == session.StatusDone:
		fmt.Fprintf(r.output, "%s %s\n", successStyle.Render("COMPLETED:"), valueStyle.Render(tr.Summary))
	default:
		fmt.Fprintf(r.output, "%s %s\n", errorStyle.Render("FAILED:"), valueStyle.Render(tr.Summary))
		if tr.Issue != "" {
			fmt.Fprintf(r.output, "%s %s %s %s\n",
				labelStyle.Render("Issue:"), valueStyle.Render(tr.Issue),
				labelStyle.Render("Fix:"), valueStyle.Render(tr.Fix))
		}
	}
	fmt.Fprintln(r.output)
	return nil
}

func (r *Replayer) statusStyle(status string) lipgloss.Style {
	switch status {
	case session.StatusDone:
		return successStyle
	case session.StatusFailed:
		return errorStyle
	default:
		return warnStyle
	}
}

// formatEvent renders one timeline row, with a blank separator when a
// new step begins.
func (r *Replayer) formatEvent(ev *session.Event, lastStep *int) {
	if ev.Type != session.EventNote && ev.Step != *lastStep {
		fmt.Fprintln(r.output)
		*lastStep = ev.Step
	}

	ts := timeStyle.Render(ev.Timestamp.Format("15:04:05"))
	seq := seqStyle.Render(fmt.Sprintf("%d", ev.Seq))

	switch ev.Type {
	case session.EventPlan:
		hint := r.argsHint(ev.Tool, ev.Args)
		risk := ""
		if ev.Risk != "" {
			risk = dimStyle.Render(fmt.Sprintf(" risk_hint=%s", ev.Risk))
		}
		fmt.Fprintf(r.output, "%s │ %s │ %s %s%s%s\n", seq, ts,
			planStyle.Render("PLAN:"), toolStyle.Render(ev.Tool), hint, risk)
		if r.verbosity >= 1 && len(ev.Args) > 0 {
			r.printArgs(ev.Args)
		}

	case session.EventCompletion:
		fmt.Fprintf(r.output, "%s │ %s │ %s\n", seq, ts, planStyle.Render("COMPLETION"))
		if ev.Content != "" {
			r.printIndented(ev.Content, valueStyle)
		}

	case session.EventVerdict:
		decision := decisionStyle(ev.Decision).Render(ev.Decision)
		fmt.Fprintf(r.output, "%s │ %s │ %s %s %s\n", seq, ts,
			gateStyle.Render("GATE:"), decision, dimStyle.Render("["+ev.Risk+"]"))
		if ev.Decision != "approve" || r.verbosity >= 1 {
			r.printIndented(ev.Content, dimStyle)
		}

	case session.EventConfirmRequest:
		fmt.Fprintf(r.output, "%s │ %s │ %s\n", seq, ts, confirmStyle.Render("CONFIRM?"))
		r.printIndented(ev.Content, valueStyle)

	case session.EventConfirmResolved:
		state := confirmStateStyle(ev.Decision).Render(ev.Decision)
		note := ""
		if ev.Content != "" {
			note = dimStyle.Render(" " + quoteHint(ev.Content))
		}
		fmt.Fprintf(r.output, "%s │ %s │ %s %s%s\n", seq, ts,
			confirmStyle.Render("CONFIRM:"), state, note)

	case session.EventResult:
		r.formatResult(seq, ts, ev)

	case session.EventConclusion:
		fmt.Fprintf(r.output, "%s │ %s │ %s %s %s %s\n", seq, ts,
			warnStyle.Render("CONCLUSION:"),
			valueStyle.Render(ev.Decision),
			dimStyle.Render("fix:"),
			valueStyle.Render(ev.Content))

	case session.EventNote:
		fmt.Fprintf(r.output, "%s │ %s │ %s %s\n", seq, ts,
			dimStyle.Render("NOTE"), dimStyle.Render(ev.Content))

	default:
		fmt.Fprintf(r.output, "%s │ %s │ %s\n", seq, ts, dimStyle.Render(ev.Type))
	}
}

// formatResult renders an executed action's outcome with its retry and
// timing context.
func (r *Replayer) formatResult(seq, ts string, ev *session.Event) {
	outcome := successStyle.Render("ok")
	if ev.Success == nil || !*ev.Success {
		outcome = errorStyle.Render("FAILED")
	}

	attempts := ""
	if ev.Attempts > 1 {
		attempts = warnStyle.Render(fmt.Sprintf(" x%d", ev.Attempts))
	}
	duration := ""
	if ev.DurationMs > 0 {
		duration = dimStyle.Render(fmt.Sprintf(" (%s)", formatDuration(ev.DurationMs)))
	}

	fmt.Fprintf(r.output, "%s │ %s │ %s %s %s%s%s\n", seq, ts,
		toolStyle.Render("RESULT:"), valueStyle.Render(ev.Tool), outcome, attempts, duration)

	if ev.Error != "" {
		r.printIndented(ev.Error, errorStyle)
	}
	if r.verbosity >= 1 && ev.Output != "" {
		r.printOutput(ev.Output)
	}
}

// printIndented prints content inside the timeline gutter.
func (r *Replayer) printIndented(content string, style lipgloss.Style) {
	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(r.output, "      │          │   %s\n", style.Render(line))
	}
}

// printOutput prints tool output, truncated to ten lines at normal
// verbosity and capped by byte size always.
func (r *Replayer) printOutput(output string) {
	if r.maxOutputSize > 0 && len(output) > r.maxOutputSize {
		output = output[:r.maxOutputSize] + fmt.Sprintf("\n... [%d bytes total]", len(output))
	}
	lines := strings.Split(output, "\n")
	maxLines := 10
	if r.verbosity >= 2 {
		maxLines = len(lines)
	}
	for i, line := range lines {
		if i >= maxLines {
			fmt.Fprintf(r.output, "      │          │   %s\n",
				dimStyle.Render(fmt.Sprintf("... (%d more lines)", len(lines)-maxLines)))
			break
		}
		fmt.Fprintf(r.output, "      │          │   %s\n", dimStyle.Render(line))
	}
}

func (r *Replayer) printArgs(args map[string]interface{}) {
	for k, v := range args {
		fmt.Fprintf(r.output, "      │          │   %s %v\n", labelStyle.Render(k+":"), v)
	}
}

// argsHint surfaces the one parameter that identifies the action.
func (r *Replayer) argsHint(toolName string, args map[string]interface{}) string {
	if args == nil {
		return ""
	}
	var hint string
	switch toolName {
	case "run_shell":
		if cmd, ok := args["command"].(string); ok {
			hint = truncateHint(cmd, 60)
		}
	case "read_file", "write_file", "list_dir":
		if p, ok := args["path"].(string); ok {
			hint = truncateHint(p, 80)
		}
	case "find_files":
		if p, ok := args["pattern"].(string); ok {
			hint = truncateHint(p, 60)
		}
	case "fetch_url":
		if u, ok := args["url"].(string); ok {
			hint = truncateHint(u, 80)
		}
	}
	if hint == "" {
		return ""
	}
	return dimStyle.Render(fmt.Sprintf(" [%s]", hint))
}

func truncateHint(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func quoteHint(s string) string {
	return "“" + truncateHint(s, 60) + "”"
}

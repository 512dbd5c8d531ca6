// Package tui renders a running task as a live console and answers
// confirmation prompts from the keyboard.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/stewardworks/steward/internal/events"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")) // purple

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")) // bright white

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // gray

	normalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")) // light gray

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")) // blue

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10")) // green

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")) // red

	refuseStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")) // red

	confirmStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("11")) // yellow
)

// Resolver answers pending confirmations. The confirmation broker
// satisfies it.
type Resolver interface {
	Resolve(id string, approved bool, note string) error
}

// Sink adapts the event bus to the console. Accept never blocks;
// when the console stops draining, events are dropped the same way
// the bus drops them.
type Sink struct {
	ch chan events.Event
}

// NewSink creates a sink with the given buffer. A buffer of zero
// selects a default large enough for interactive drains.
func NewSink(buffer int) *Sink {
	if buffer <= 0 {
		buffer = 256
	}
	return &Sink{ch: make(chan events.Event, buffer)}
}

func (s *Sink) Accept(ev events.Event) {
	select {
	case s.ch <- ev:
	default:
	}
}

// Close ends the stream. The console quits when it drains the last
// event. The bus only calls Close after its dispatcher has finished,
// so Close never races Accept.
func (s *Sink) Close() error {
	close(s.ch)
	return nil
}

// Events exposes the stream for the console model.
func (s *Sink) Events() <-chan events.Event {
	return s.ch
}

// Messages
type eventMsg struct {
	ev events.Event
}

type streamDoneMsg struct{}

type tickMsg time.Time

func waitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamDoneMsg{}
		}
		return eventMsg{ev}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type pendingConfirm struct {
	id     string
	prompt string
	risk   string
}

// Model is the bubbletea model for the live console.
type Model struct {
	taskID   string
	goal     string
	events   <-chan events.Event
	resolver Resolver

	lines       []string
	pending     *pendingConfirm
	finished    bool
	failed      bool
	summary     string
	interrupted bool
	startedAt   time.Time

	width  int
	height int
}

// New creates a console for one task. The resolver answers y/n
// keypresses while a confirmation is pending.
func New(taskID, goal string, evs <-chan events.Event, resolver Resolver) Model {
	return Model{
		taskID:    taskID,
		goal:      goal,
		events:    evs,
		resolver:  resolver,
		startedAt: time.Now(),
	}
}

// Interrupted reports whether the user quit before the run finished.
func (m Model) Interrupted() bool {
	return m.interrupted
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), tick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		m.ingest(msg.ev)
		return m, waitForEvent(m.events)

	case streamDoneMsg:
		return m, tea.Quit

	case tickMsg:
		if m.finished {
			return m, nil
		}
		return m, tick()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if !m.finished {
				m.interrupted = true
			}
			return m, tea.Quit
		case "y", "Y":
			return m.answer(true), nil
		case "n", "N":
			return m.answer(false), nil
		}
	}

	return m, nil
}

// answer resolves the pending confirmation from the keyboard.
func (m Model) answer(approved bool) Model {
	if m.pending == nil || m.resolver == nil {
		return m
	}
	note := "denied at console"
	if approved {
		note = "approved at console"
	}
	if err := m.resolver.Resolve(m.pending.id, approved, note); err != nil {
		m.lines = append(m.lines, "    "+failStyle.Render("✗ "+err.Error()))
	} else if approved {
		m.lines = append(m.lines, "    "+okStyle.Render("✓ approved"))
	} else {
		m.lines = append(m.lines, "    "+failStyle.Render("✗ denied"))
	}
	m.pending = nil
	return m
}

// ingest turns one bus event into timeline lines.
func (m *Model) ingest(ev events.Event) {
	f := ev.Fields
	switch ev.Type {
	case events.TypeProgress:
		if fieldBool(f, "done") {
			m.finished = true
			m.pending = nil
			m.summary = fieldString(f, "summary")
			m.lines = append(m.lines, "    "+okStyle.Render("✓ "+m.summary))
			return
		}
		m.pending = nil
		gutter := dimStyle.Render(fmt.Sprintf("%3d ", fieldInt(f, "step")))
		tool := toolStyle.Render(fieldString(f, "tool"))
		if decision := fieldString(f, "decision"); decision != "" {
			m.lines = append(m.lines, gutter+refuseStyle.Render("⊘ ")+tool+" "+dimStyle.Render(clip(fieldString(f, "reason"), 80)))
			return
		}
		if fieldBool(f, "success") {
			line := gutter + okStyle.Render("✓ ") + tool
			if attempts := fieldInt(f, "attempts"); attempts > 1 {
				line += dimStyle.Render(fmt.Sprintf(" x%d", attempts))
			}
			m.lines = append(m.lines, line)
			return
		}
		m.lines = append(m.lines, gutter+failStyle.Render("✗ ")+tool+" "+failStyle.Render(clip(fieldString(f, "error"), 80)))

	case events.TypeConfirmRequest:
		m.pending = &pendingConfirm{
			id:     fieldString(f, "id"),
			prompt: fieldString(f, "prompt"),
			risk:   fieldString(f, "risk"),
		}
		m.lines = append(m.lines, "    "+confirmStyle.Render("? confirmation required")+" "+dimStyle.Render("["+m.pending.risk+"]"))

	case events.TypeFailureReport:
		m.finished = true
		m.failed = true
		m.pending = nil
		m.summary = fieldString(f, "summary")
		m.lines = append(m.lines, "    "+failStyle.Render("✗ "+m.summary))
		if issue := fieldString(f, "issue"); issue != "" {
			m.lines = append(m.lines, "    "+dimStyle.Render("issue: "+issue+"  fix: "+fieldString(f, "fix")))
		}
	}
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("steward") + dimStyle.Render(" │ ") + headerStyle.Render(m.goal) + "\n")
	s.WriteString(dimStyle.Render(m.taskID+" · "+formatElapsed(time.Since(m.startedAt))+" · "+m.statusWord()) + "\n\n")

	for _, line := range m.visibleLines() {
		s.WriteString(line + "\n")
	}

	if m.pending != nil {
		prompt := m.pending.prompt
		if m.width > 8 {
			prompt = wordwrap.String(prompt, m.width-4)
		}
		s.WriteString("\n" + confirmStyle.Render("CONFIRM") + " " + dimStyle.Render("["+m.pending.risk+"]") + "\n")
		s.WriteString(normalStyle.Render(prompt) + "\n")
		s.WriteString(confirmStyle.Render("y") + normalStyle.Render(" approve  ") + confirmStyle.Render("n") + normalStyle.Render(" deny") + "\n")
	}

	s.WriteString("\n" + dimStyle.Render(m.helpLine()) + "\n")
	return s.String()
}

func (m Model) statusWord() string {
	switch {
	case m.failed:
		return "failed"
	case m.finished:
		return "succeeded"
	case m.pending != nil:
		return "awaiting confirmation"
	default:
		return "running"
	}
}

func (m Model) helpLine() string {
	if m.pending != nil {
		return "y approve · n deny · q quit"
	}
	return "q quit"
}

// visibleLines tails the timeline to fit the window.
func (m Model) visibleLines() []string {
	visible := 30
	if m.height > 0 {
		chrome := 6
		if m.pending != nil {
			chrome += 4
		}
		visible = max(m.height-chrome, 5)
	}
	if len(m.lines) <= visible {
		return m.lines
	}
	return m.lines[len(m.lines)-visible:]
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func fieldString(f map[string]interface{}, key string) string {
	if v, ok := f[key].(string); ok {
		return v
	}
	return ""
}

func fieldBool(f map[string]interface{}, key string) bool {
	if v, ok := f[key].(bool); ok {
		return v
	}
	return false
}

// fieldInt tolerates the numeric types a JSON round trip produces.
func fieldInt(f map[string]interface{}, key string) int {
	switch v := f[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Run drives the console until the event stream closes or the user
// quits. It reports whether the user quit while the run was still
// going, so the caller can cancel it.
func Run(taskID, goal string, sink *Sink, resolver Resolver) (bool, error) {
	p := tea.NewProgram(New(taskID, goal, sink.Events(), resolver), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return false, err
	}
	if m, ok := final.(Model); ok {
		return m.Interrupted(), nil
	}
	return false, nil
}

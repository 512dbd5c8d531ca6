package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/stewardworks/steward/internal/events"
)

type recordingResolver struct {
	id       string
	approved bool
	note     string
	calls    int
	err      error
}

func (r *recordingResolver) Resolve(id string, approved bool, note string) error {
	r.calls++
	r.id = id
	r.approved = approved
	r.note = note
	return r.err
}

func newConsole(resolver Resolver) Model {
	ch := make(chan events.Event)
	return New("task-1", "tidy the workspace", ch, resolver)
}

func feed(t *testing.T, m Model, ev events.Event) Model {
	t.Helper()
	next, _ := m.Update(eventMsg{ev})
	return next.(Model)
}

func press(t *testing.T, m Model, key string) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)})
	return next.(Model), cmd
}

func progress(fields map[string]interface{}) events.Event {
	return events.Event{Type: events.TypeProgress, TaskID: "task-1", Fields: fields}
}

func TestTimelineRendersStepResults(t *testing.T) {
	m := newConsole(nil)

	m = feed(t, m, progress(map[string]interface{}{
		"step": 0, "tool": "run_shell", "success": true, "attempts": 2, "error": "",
	}))
	m = feed(t, m, progress(map[string]interface{}{
		"step": 1, "tool": "fetch_url", "success": false, "attempts": 3, "error": "connection reset by peer",
	}))

	view := m.View()
	for _, want := range []string{"tidy the workspace", "run_shell", "x2", "fetch_url", "connection reset by peer", "running"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestRefusalShowsTheReason(t *testing.T) {
	m := newConsole(nil)
	m = feed(t, m, progress(map[string]interface{}{
		"step": 0, "tool": "run_shell", "decision": "refuse", "reason": "path /etc/shadow is outside the workspace",
	}))

	if view := m.View(); !strings.Contains(view, "outside the workspace") {
		t.Errorf("view missing refusal reason:\n%s", view)
	}
}

func TestConfirmRequestOffersKeys(t *testing.T) {
	m := newConsole(&recordingResolver{})
	m = feed(t, m, events.Event{Type: events.TypeConfirmRequest, TaskID: "task-1", Fields: map[string]interface{}{
		"id": "c-1", "prompt": "Approve run_shell: sudo make install?", "risk": "elevated_execution", "reason": "sudo requests elevated execution",
	}})

	view := m.View()
	for _, want := range []string{"CONFIRM", "elevated_execution", "sudo make install", "approve", "deny", "awaiting confirmation"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestApproveKeyResolvesThePending(t *testing.T) {
	res := &recordingResolver{}
	m := newConsole(res)
	m = feed(t, m, events.Event{Type: events.TypeConfirmRequest, Fields: map[string]interface{}{
		"id": "c-1", "prompt": "Approve?", "risk": "elevated_execution",
	}})

	m, _ = press(t, m, "y")

	if res.calls != 1 || res.id != "c-1" || !res.approved {
		t.Fatalf("resolve = %d calls, id %q, approved %v", res.calls, res.id, res.approved)
	}
	if res.note != "approved at console" {
		t.Errorf("note = %q", res.note)
	}
	if strings.Contains(m.View(), "CONFIRM") {
		t.Error("prompt still showing after approval")
	}
}

func TestDenyKeyResolvesThePending(t *testing.T) {
	res := &recordingResolver{}
	m := newConsole(res)
	m = feed(t, m, events.Event{Type: events.TypeConfirmRequest, Fields: map[string]interface{}{
		"id": "c-2", "prompt": "Approve?", "risk": "elevated_execution",
	}})

	m, _ = press(t, m, "n")

	if res.calls != 1 || res.id != "c-2" || res.approved {
		t.Fatalf("resolve = %d calls, id %q, approved %v", res.calls, res.id, res.approved)
	}
	if res.note != "denied at console" {
		t.Errorf("note = %q", res.note)
	}
}

func TestAnswerKeysDoNothingWithoutAPending(t *testing.T) {
	res := &recordingResolver{}
	m := newConsole(res)

	m, _ = press(t, m, "y")
	if res.calls != 0 {
		t.Fatalf("resolver called %d times with nothing pending", res.calls)
	}
	_ = m
}

func TestResolveErrorSurfacesInTheTimeline(t *testing.T) {
	res := &recordingResolver{err: errors.New("no pending confirmation c-3")}
	m := newConsole(res)
	m = feed(t, m, events.Event{Type: events.TypeConfirmRequest, Fields: map[string]interface{}{
		"id": "c-3", "prompt": "Approve?", "risk": "elevated_execution",
	}})

	m, _ = press(t, m, "y")

	if !strings.Contains(m.View(), "no pending confirmation") {
		t.Errorf("resolve error not shown:\n%s", m.View())
	}
}

func TestCompletionFinishesTheConsole(t *testing.T) {
	m := newConsole(nil)
	m = feed(t, m, progress(map[string]interface{}{
		"done": true, "summary": "workspace tidy", "steps": 3,
	}))

	view := m.View()
	if !strings.Contains(view, "workspace tidy") || !strings.Contains(view, "succeeded") {
		t.Errorf("completion not rendered:\n%s", view)
	}

	next, cmd := m.Update(streamDoneMsg{})
	if cmd == nil {
		t.Fatal("no quit after stream close")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("stream close did not quit")
	}
	if next.(Model).Interrupted() {
		t.Error("clean finish marked interrupted")
	}
}

func TestFailureReportShowsIssueAndFix(t *testing.T) {
	m := newConsole(nil)
	m = feed(t, m, events.Event{Type: events.TypeFailureReport, Fields: map[string]interface{}{
		"summary": "deploy failed repeatedly: connection reset by peer",
		"steps":   2, "failures": 2, "issue": "defect", "fix": "hotfix",
	}})

	view := m.View()
	for _, want := range []string{"failed", "deploy failed repeatedly", "defect", "hotfix"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestQuittingMidRunReportsInterrupted(t *testing.T) {
	m := newConsole(nil)
	m = feed(t, m, progress(map[string]interface{}{
		"step": 0, "tool": "run_shell", "success": true, "attempts": 1,
	}))

	next, cmd := press(t, m, "q")
	if cmd == nil {
		t.Fatal("q did not quit")
	}
	if !next.Interrupted() {
		t.Error("mid-run quit not marked interrupted")
	}

	done := feed(t, m, progress(map[string]interface{}{"done": true, "summary": "ok"}))
	after, _ := press(t, done, "q")
	if after.Interrupted() {
		t.Error("quit after completion marked interrupted")
	}
}

func TestSinkDropsInsteadOfBlocking(t *testing.T) {
	s := NewSink(1)
	s.Accept(events.Event{Type: events.TypeProgress})
	s.Accept(events.Event{Type: events.TypeProgress})

	if len(s.ch) != 1 {
		t.Fatalf("buffered %d events, want 1", len(s.ch))
	}

	s.Close()
	if msg := waitForEvent(s.Events())(); msg == nil {
		t.Fatal("buffered event lost")
	} else if _, ok := msg.(eventMsg); !ok {
		t.Fatalf("first message = %T", msg)
	}
	if _, ok := waitForEvent(s.Events())().(streamDoneMsg); !ok {
		t.Fatal("closed stream did not end")
	}
}

func TestFieldHelpersTolerateWireNumbers(t *testing.T) {
	f := map[string]interface{}{"step": float64(7), "attempts": int64(2), "success": true}
	if fieldInt(f, "step") != 7 {
		t.Errorf("float64 step = %d", fieldInt(f, "step"))
	}
	if fieldInt(f, "attempts") != 2 {
		t.Errorf("int64 attempts = %d", fieldInt(f, "attempts"))
	}
	if !fieldBool(f, "success") {
		t.Error("bool lost")
	}
	if fieldInt(f, "missing") != 0 {
		t.Error("missing key not zero")
	}
}

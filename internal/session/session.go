// Package session records task runs as append-only JSONL transcripts,
// one file per run. The file is streamed as the run progresses, so a
// crash leaves a readable prefix instead of a corrupt document.
package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/stewardworks/steward/internal/task"
)

// Transcript statuses. A transcript with no footer reads as running:
// either the run is live or it crashed mid-flight.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Event types, in the order a step emits them.
const (
	EventPlan            = "plan"             // oracle proposed an action
	EventCompletion      = "completion"       // oracle declared the goal met
	EventVerdict         = "verdict"          // gate ruling on a proposed action
	EventConfirmRequest  = "confirm_request"  // escalation went to the operator
	EventConfirmResolved = "confirm_resolved" // operator answer, timeout, or cancellation
	EventResult          = "result"           // executed action outcome
	EventConclusion      = "conclusion"       // failure classification
	EventNote            = "note"             // loop housekeeping (recovery, ceilings)
)

// Event is one line of the forensic record. Every analysis surface
// (replay, history) reads from here.
type Event struct {
	Seq       uint64    `json:"seq"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Step int `json:"step,omitempty"`

	// Action context.
	Tool string                 `json:"tool,omitempty"`
	Args map[string]interface{} `json:"args,omitempty"`
	Risk string                 `json:"risk,omitempty"`

	// Ruling context: verdict decision or confirmation state.
	Decision string `json:"decision,omitempty"`

	// Free text: completion summary, verdict reason, confirmation
	// note, or loop note.
	Content string `json:"content,omitempty"`

	// Outcome, for result events.
	Success    *bool  `json:"success,omitempty"`
	Error      string `json:"error,omitempty"`
	Output     string `json:"output,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// JSONL record discrimination.
const (
	recordHeader = "header"
	recordEvent  = "event"
	recordFooter = "footer"
)

type record struct {
	RecordType string `json:"_type"`

	// Header fields.
	TaskID    string    `json:"task_id,omitempty"`
	Goal      string    `json:"goal,omitempty"`
	Workspace string    `json:"workspace,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`

	*Event `json:",omitempty"`

	// Footer fields.
	Status     string    `json:"status,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	Issue      string    `json:"issue_nature,omitempty"`
	Fix        string    `json:"fix_class,omitempty"`
	Steps      int       `json:"steps,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Recorder streams one run's transcript to disk. Safe for concurrent
// use; every line is flushed so readers and crash recovery see
// complete records.
type Recorder struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	seq    uint64
	path   string
	closed bool
}

// NewRecorder opens a transcript for a task and writes the header.
func NewRecorder(dir string, t *task.Task, workspace string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	path := filepath.Join(dir, t.ID+".jsonl")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript: %w", err)
	}
	r := &Recorder{f: f, w: bufio.NewWriter(f), path: path}
	header := record{
		RecordType: recordHeader,
		TaskID:     t.ID,
		Goal:       t.Goal,
		Workspace:  workspace,
		StartedAt:  t.CreatedAt,
	}
	if err := r.writeLine(header); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// Path returns the transcript location on disk.
func (r *Recorder) Path() string { return r.path }

// Record appends one event, assigning its sequence number and
// timestamp. Recording to a closed transcript is a silent no-op so
// late goroutines cannot corrupt the footer.
func (r *Recorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.seq++
	e.Seq = r.seq
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_ = r.writeLine(record{RecordType: recordEvent, Event: &e})
}

// CloseWith writes the footer and closes the file. The footer is what
// promotes a transcript from running to terminal.
func (r *Recorder) CloseWith(status, summary string, conclusion *task.Conclusion, steps int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	footer := record{
		RecordType: recordFooter,
		Status:     status,
		Summary:    summary,
		Steps:      steps,
		FinishedAt: time.Now(),
	}
	if conclusion != nil {
		footer.Issue = conclusion.Issue
		footer.Fix = conclusion.Fix
	}
	if err := r.writeLine(footer); err != nil {
		r.f.Close()
		return err
	}
	return r.f.Close()
}

// Close abandons the transcript without a footer, leaving it in the
// running state. Used on error paths where no outcome is known.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.w.Flush()
	return r.f.Close()
}

func (r *Recorder) writeLine(rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript record: %w", err)
	}
	if _, err := r.w.Write(data); err != nil {
		return err
	}
	if err := r.w.WriteByte('\n'); err != nil {
		return err
	}
	return r.w.Flush()
}

// Event constructors keep field conventions in one place.

// PlanEvent records an oracle-proposed action.
func PlanEvent(step int, a *task.Action) Event {
	return Event{Type: EventPlan, Step: step, Tool: a.Tool, Args: a.Parameters, Risk: a.RiskHint}
}

// CompletionEvent records the oracle declaring the goal met.
func CompletionEvent(step int, summary string) Event {
	return Event{Type: EventCompletion, Step: step, Content: summary}
}

// VerdictEvent records the gate's ruling.
func VerdictEvent(step int, v task.Verdict) Event {
	return Event{Type: EventVerdict, Step: step, Decision: v.Decision, Risk: v.Risk, Content: v.Reason}
}

// ConfirmRequestEvent records an escalation reaching the operator.
func ConfirmRequestEvent(step int, c *task.Confirmation) Event {
	return Event{Type: EventConfirmRequest, Step: step, Content: c.Prompt}
}

// ConfirmResolvedEvent records how an escalation resolved.
func ConfirmResolvedEvent(step int, c *task.Confirmation) Event {
	return Event{Type: EventConfirmResolved, Step: step, Decision: c.State, Content: c.Note}
}

// ResultEvent records an executed action's outcome. The caller times
// the execution; the executor itself only counts attempts.
func ResultEvent(step int, a task.Action, res *task.Result, elapsed time.Duration) Event {
	success := res.Success
	return Event{
		Type:       EventResult,
		Step:       step,
		Tool:       a.Tool,
		Success:    &success,
		Error:      res.Error,
		Output:     clipOutput(res.Output),
		Attempts:   res.Meta.Attempts,
		DurationMs: elapsed.Milliseconds(),
	}
}

// ConclusionEvent records a failure classification.
func ConclusionEvent(step int, c *task.Conclusion) Event {
	return Event{Type: EventConclusion, Step: step, Decision: c.Issue, Content: c.Fix}
}

// NoteEvent records loop housekeeping.
func NoteEvent(content string) Event {
	return Event{Type: EventNote, Content: content}
}

// clipOutput caps stored output so one chatty tool cannot balloon the
// transcript. Replay shows the clip marker when it hits.
func clipOutput(s string) string {
	const maxStored = 8 * 1024
	if len(s) <= maxStored {
		return s
	}
	return s[:maxStored] + "\n[clipped]"
}

// Transcript is one loaded run.
type Transcript struct {
	TaskID    string
	Goal      string
	Workspace string
	StartedAt time.Time

	Events []Event

	// Footer state. Complete is false when the footer is missing,
	// which means the run is live or crashed.
	Complete   bool
	Status     string
	Summary    string
	Issue      string
	Fix        string
	Steps      int
	FinishedAt time.Time
}

// Load reads a transcript, tolerating a missing footer.
func Load(path string) (*Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tr := &Transcript{Status: StatusRunning}

	// bufio.Reader, not Scanner: transcript lines can exceed any
	// fixed token limit.
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("error reading transcript: %w", err)
		}
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			if parseErr := parseLine(trimmed, tr); parseErr != nil {
				return nil, parseErr
			}
		}
		if err == io.EOF {
			break
		}
	}
	return tr, nil
}

func parseLine(line []byte, tr *Transcript) error {
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return fmt.Errorf("failed to parse transcript line: %w", err)
	}
	switch rec.RecordType {
	case recordHeader:
		tr.TaskID = rec.TaskID
		tr.Goal = rec.Goal
		tr.Workspace = rec.Workspace
		tr.StartedAt = rec.StartedAt
	case recordEvent:
		if rec.Event != nil {
			tr.Events = append(tr.Events, *rec.Event)
		}
	case recordFooter:
		tr.Complete = true
		tr.Status = rec.Status
		tr.Summary = rec.Summary
		tr.Issue = rec.Issue
		tr.Fix = rec.Fix
		tr.Steps = rec.Steps
		tr.FinishedAt = rec.FinishedAt
	}
	return nil
}

// Find resolves a task ID, or a unique prefix of one, to a transcript
// path inside dir.
func Find(dir, id string) (string, error) {
	exact := filepath.Join(dir, id+".jsonl")
	if _, err := os.Stat(exact); err == nil {
		return exact, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("no transcript for %q: %w", id, err)
	}
	var matches []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, id) && strings.HasSuffix(name, ".jsonl") {
			matches = append(matches, filepath.Join(dir, name))
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no transcript for %q", id)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q matches %d transcripts, use a longer prefix", id, len(matches))
	}
}

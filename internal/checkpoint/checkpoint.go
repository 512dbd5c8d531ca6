// Package checkpoint journals step intent and outcome for crash
// diagnosis. Every gated action writes a pre record before execution
// and a post record after; a pre without a post marks the step that
// died with the process.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/stewardworks/steward/internal/task"
)

// Pre is written after the gate approves an action, before execution.
type Pre struct {
	Step        int       `json:"step"`
	Tool        string    `json:"tool"`
	Fingerprint string    `json:"fingerprint"`
	Risk        string    `json:"risk_category"`
	Confirmed   bool      `json:"confirmed,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Post is written once the executor returns, success or not.
type Post struct {
	Step      int       `json:"step"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Record pairs the two halves of one step.
type Record struct {
	Pre  *Pre  `json:"pre,omitempty"`
	Post *Post `json:"post,omitempty"`
}

// journalFile is the on-disk shape: one JSON document per task.
type journalFile struct {
	TaskID string    `json:"task_id"`
	Goal   string    `json:"goal,omitempty"`
	Steps  []*Record `json:"steps"`
}

// Journal holds one task's checkpoint trail and mirrors it to disk on
// every save.
type Journal struct {
	mu      sync.Mutex
	path    string
	taskID  string
	goal    string
	records map[int]*Record
}

// Open creates or resumes the journal for a task.
func Open(dir, taskID, goal string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	j := &Journal{
		path:    filepath.Join(dir, taskID+".json"),
		taskID:  taskID,
		goal:    goal,
		records: make(map[int]*Record),
	}

	data, err := os.ReadFile(j.path)
	if os.IsNotExist(err) {
		return j, nil
	}
	if err != nil {
		return nil, err
	}
	var file journalFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint journal %s: %w", j.path, err)
	}
	for _, rec := range file.Steps {
		j.records[stepOf(rec)] = rec
	}
	return j, nil
}

func stepOf(rec *Record) int {
	if rec.Pre != nil {
		return rec.Pre.Step
	}
	if rec.Post != nil {
		return rec.Post.Step
	}
	return -1
}

// Path returns the journal location on disk.
func (j *Journal) Path() string { return j.path }

// SavePre journals intent for a step and flushes.
func (j *Journal) SavePre(p Pre) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	j.record(p.Step).Pre = &p
	return j.flush()
}

// SavePost journals the outcome for a step and flushes.
func (j *Journal) SavePost(p Post) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	j.record(p.Step).Post = &p
	return j.flush()
}

func (j *Journal) record(step int) *Record {
	if _, ok := j.records[step]; !ok {
		j.records[step] = &Record{}
	}
	return j.records[step]
}

// Get retrieves one step's record, or nil.
func (j *Journal) Get(step int) *Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.records[step]
}

// Incomplete returns the pre records with no matching post, ascending:
// the steps that were in flight when the process died.
func (j *Journal) Incomplete() []Pre {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Pre
	for _, rec := range j.records {
		if rec.Pre != nil && rec.Post == nil {
			out = append(out, *rec.Pre)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Step < out[b].Step })
	return out
}

// flush writes the whole journal. Caller holds the lock.
func (j *Journal) flush() error {
	file := journalFile{TaskID: j.taskID, Goal: j.goal}
	steps := make([]int, 0, len(j.records))
	for step := range j.records {
		steps = append(steps, step)
	}
	sort.Ints(steps)
	for _, step := range steps {
		file.Steps = append(file.Steps, j.records[step])
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(j.path, data, 0644)
}

// PreFor builds the pre record for a gated action.
func PreFor(step int, a task.Action, v task.Verdict, confirmed bool) Pre {
	return Pre{
		Step:        step,
		Tool:        a.Tool,
		Fingerprint: a.Fingerprint(),
		Risk:        v.Risk,
		Confirmed:   confirmed,
	}
}

// PostFor builds the post record from an execution result.
func PostFor(step int, res *task.Result) Post {
	return Post{
		Step:     step,
		Success:  res.Success,
		Error:    res.Error,
		Attempts: res.Meta.Attempts,
	}
}

package task

import (
	"sort"
	"time"
)

// reportTail bounds how many trailing steps a report carries.
const reportTail = 10

// StepDigest is the compact step view embedded in reports.
type StepDigest struct {
	Index    int    `json:"index"`
	Tool     string `json:"tool"`
	Decision string `json:"decision"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}

// FailureStats aggregates failure signatures across a task so a report
// is diagnosable without access to internal logs.
type FailureStats struct {
	Total      int            `json:"total"`
	ByKind     map[string]int `json:"by_kind,omitempty"`
	ByTool     map[string]int `json:"by_tool,omitempty"`
	MostCommon string         `json:"most_common,omitempty"`
}

// Report is the terminal artifact of a task. Steps carries only the
// trailing digests; StepCount is the true total.
type Report struct {
	TaskID     string       `json:"task_id"`
	Goal       string       `json:"goal"`
	Status     string       `json:"status"`
	Summary    string       `json:"summary,omitempty"`
	Conclusion *Conclusion  `json:"conclusion,omitempty"`
	StepCount  int          `json:"step_count"`
	Steps      []StepDigest `json:"steps,omitempty"`
	Failures   FailureStats `json:"failures"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// BuildReport assembles the report for a finished task: the step tail,
// the failure-pattern stats, and the conclusion when one exists.
func BuildReport(t *Task, summary string, conclusion *Conclusion) *Report {
	r := &Report{
		TaskID:     t.ID,
		Goal:       t.Goal,
		Status:     t.Status,
		Summary:    summary,
		Conclusion: conclusion,
		StepCount:  len(t.Steps),
		StartedAt:  t.CreatedAt,
		FinishedAt: time.Now(),
	}

	start := 0
	if len(t.Steps) > reportTail {
		start = len(t.Steps) - reportTail
	}
	for i := start; i < len(t.Steps); i++ {
		s := &t.Steps[i]
		d := StepDigest{Index: s.Index, Tool: s.Action.Tool, Decision: s.Verdict.Decision}
		if s.Result != nil {
			d.Success = s.Result.Success
			d.Error = s.Result.Error
			d.Attempts = s.Result.Meta.Attempts
		}
		r.Steps = append(r.Steps, d)
	}
	r.Failures = CollectFailures(t.Steps)
	return r
}

// CollectFailures tallies failure signatures by kind and by tool and
// names the most common kind, ties broken alphabetically.
func CollectFailures(steps []Step) FailureStats {
	st := FailureStats{ByKind: make(map[string]int), ByTool: make(map[string]int)}
	record := func(kind, tool string) {
		st.Total++
		st.ByKind[kind]++
		st.ByTool[tool]++
	}

	for i := range steps {
		s := &steps[i]
		switch {
		case s.Verdict.Refused():
			record("refused", s.Action.Tool)
		case s.Confirmation != nil && s.Confirmation.State == ConfirmDenied:
			record("denied", s.Action.Tool)
		case s.Confirmation != nil && s.Confirmation.State == ConfirmTimedOut:
			record("confirmation_timeout", s.Action.Tool)
		case s.Result != nil && !s.Result.Success:
			kind := s.Result.Meta.FailureKind
			if kind == "" {
				kind = FailTransient
			}
			record(kind, s.Action.Tool)
		}
	}

	if st.Total > 0 {
		kinds := make([]string, 0, len(st.ByKind))
		for k := range st.ByKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		best := kinds[0]
		for _, k := range kinds[1:] {
			if st.ByKind[k] > st.ByKind[best] {
				best = k
			}
		}
		st.MostCommon = best
	}
	return st
}

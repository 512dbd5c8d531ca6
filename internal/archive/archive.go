// Package archive persists the final report of every terminal task.
// One JSON document per task; transcripts carry the step-by-step
// record, the archive carries the outcome.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/stewardworks/steward/internal/task"
)

// Store is a directory of archived reports.
type Store struct {
	dir string
}

// NewStore opens an archive directory, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes a report under its task ID.
func (s *Store) Save(r *task.Report) error {
	if r.TaskID == "" {
		return fmt.Errorf("report has no task id")
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	return os.WriteFile(s.path(r.TaskID), data, 0644)
}

// Load reads one archived report.
func (s *Store) Load(taskID string) (*task.Report, error) {
	data, err := os.ReadFile(s.path(taskID))
	if err != nil {
		return nil, err
	}
	var r task.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("corrupt report %s: %w", taskID, err)
	}
	return &r, nil
}

// List loads every archived report, newest finish first. Corrupt
// entries are skipped so one bad write cannot hide the rest.
func (s *Store) List() ([]*task.Report, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var reports []*task.Report
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		r, err := s.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		reports = append(reports, r)
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].FinishedAt.After(reports[j].FinishedAt)
	})
	return reports, nil
}

func (s *Store) path(taskID string) string {
	return filepath.Join(s.dir, taskID+".json")
}

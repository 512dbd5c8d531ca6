package confirm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Card is the on-disk face of a pending confirmation. The run process
// writes one per request and removes it on resolution, so the pending
// subcommand can list open requests from outside the process.
type Card struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	Tool        string    `json:"tool"`
	Prompt      string    `json:"prompt"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

func writeCard(dir string, c Card) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create requests directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, c.ID+".json"), data, 0644)
}

func removeCard(dir, id string) {
	os.Remove(filepath.Join(dir, id+".json"))
}

// ListCards returns the open request cards, oldest first. A missing
// directory reads as empty. Cards from a run that crashed while
// awaiting an answer stay behind; their age makes them recognizable.
func ListCards(dir string) ([]Card, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read requests directory: %w", err)
	}

	var cards []Card
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var c Card
		if err := json.Unmarshal(data, &c); err != nil || c.ID == "" {
			continue
		}
		cards = append(cards, c)
	}
	sort.Slice(cards, func(i, j int) bool {
		return cards[i].RequestedAt.Before(cards[j].RequestedAt)
	})
	return cards, nil
}

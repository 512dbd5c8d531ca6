package confirm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/vinayprograms/agentkit/logging"
)

// Watcher resolves confirmations from answer files dropped into a
// directory, so a second terminal can answer a loop running in the
// first. Each file is named by confirmation ID; the first line is the
// verdict, the rest is an optional note.
type Watcher struct {
	broker    *Broker
	dir       string
	fw        *fsnotify.Watcher
	logger    *logging.Logger
	done      chan struct{}
	closeOnce sync.Once
}

// NewWatcher creates a watcher over the answers directory, creating it
// if needed.
func NewWatcher(b *Broker, dir string) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create answers directory: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	return &Watcher{
		broker: b,
		dir:    dir,
		fw:     fw,
		logger: logging.New().WithComponent("confirm-watcher"),
		done:   make(chan struct{}),
	}, nil
}

// Start sweeps answers already on disk, then watches for new ones.
func (w *Watcher) Start() {
	w.sweep()
	go w.loop()
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	return w.fw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				// Debounce: wait a bit for writes to settle
				time.Sleep(100 * time.Millisecond)
				w.consume(ev.Name)
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", map[string]interface{}{"error": err.Error()})
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) sweep() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.consume(filepath.Join(w.dir, e.Name()))
		}
	}
}

// consume reads one answer file and delivers it. Files are removed
// once delivered; answers for unknown IDs are left alone so a broker
// started later can still sweep them.
func (w *Watcher) consume(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	id := filepath.Base(path)
	approved, note, ok := parseAnswer(string(data))
	if !ok {
		w.logger.Warn("unreadable answer file", map[string]interface{}{"path": path})
		return
	}
	if err := w.broker.Resolve(id, approved, note); err != nil {
		w.logger.Warn("answer for unknown confirmation", map[string]interface{}{
			"confirmation_id": id,
		})
		return
	}
	os.Remove(path)
}

func parseAnswer(s string) (approved bool, note string, ok bool) {
	line, rest, _ := strings.Cut(strings.TrimSpace(s), "\n")
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "approve", "approved", "yes", "y":
		return true, strings.TrimSpace(rest), true
	case "deny", "denied", "no", "n":
		return false, strings.TrimSpace(rest), true
	}
	return false, "", false
}

// WriteAnswer drops an answer file for a confirmation into the answers
// directory. The resolve subcommand uses this to reach a loop running
// in another process.
func WriteAnswer(dir, id string, approved bool, note string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create answers directory: %w", err)
	}
	verdict := "deny"
	if approved {
		verdict = "approve"
	}
	body := verdict
	if note != "" {
		body += "\n" + note
	}
	if err := os.WriteFile(filepath.Join(dir, id), []byte(body), 0644); err != nil {
		return fmt.Errorf("failed to write answer: %w", err)
	}
	return nil
}

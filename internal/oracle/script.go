package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/stewardworks/steward/internal/task"
)

// Script replays a fixed sequence of proposals. It backs loop tests
// and dry runs that must not touch a provider.
type Script struct {
	mu        sync.Mutex
	proposals []*Proposal
	calls     int
}

// NewScript builds a scripted oracle that serves proposals in order.
func NewScript(proposals ...*Proposal) *Script {
	return &Script{proposals: proposals}
}

// Propose returns the next scripted proposal. Asking past the end of
// the script is an error so tests catch loops that run long.
func (s *Script) Propose(ctx context.Context, goal string, mem *task.Memory, history []task.Step) (*Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.proposals) {
		return nil, fmt.Errorf("scripted oracle exhausted after %d proposals", s.calls)
	}
	p := s.proposals[s.calls]
	s.calls++
	return p, nil
}

// Calls reports how many proposals were served.
func (s *Script) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

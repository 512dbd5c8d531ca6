// Package confirm brokers human approval for escalated actions. A
// request stays pending until it is resolved exactly once: approved,
// denied, or timed out.
package confirm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/stewardworks/steward/internal/task"
)

// DefaultTimeout bounds how long an unanswered request waits before it
// is treated as denied.
const DefaultTimeout = 5 * time.Minute

type resolution struct {
	approved bool
	note     string
}

// pendingRequest lives from Request until Await consumes the answer,
// so a resolution that lands before Await starts is not lost.
type pendingRequest struct {
	conf *task.Confirmation
	ch   chan resolution
}

// Broker tracks pending confirmations and routes resolutions to the
// waiting caller. At most one confirmation may be pending per task.
type Broker struct {
	mu         sync.Mutex
	requests   map[string]*pendingRequest
	byTask     map[string]string
	resolved   map[string]bool
	timeout    time.Duration
	requestDir string
	logger     *logging.Logger
}

// New creates a broker. A zero timeout selects DefaultTimeout.
func New(timeout time.Duration) *Broker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Broker{
		requests: make(map[string]*pendingRequest),
		byTask:   make(map[string]string),
		resolved: make(map[string]bool),
		timeout:  timeout,
		logger:   logging.New().WithComponent("confirm"),
	}
}

// PersistTo mirrors pending requests as cards under dir, so other
// processes can list them. Set it before the first Request.
func (b *Broker) PersistTo(dir string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requestDir = dir
}

// Request registers a pending confirmation for an escalated action.
// It fails when the task already has one pending.
func (b *Broker) Request(taskID string, a task.Action, reason string) (*task.Confirmation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id, ok := b.byTask[taskID]; ok {
		return nil, fmt.Errorf("task %s already has pending confirmation %s", taskID, id)
	}

	conf := &task.Confirmation{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		State:       task.ConfirmPending,
		Prompt:      fmt.Sprintf("approval needed for %s: %s", a.Fingerprint(), reason),
		RequestedAt: time.Now(),
	}
	b.requests[conf.ID] = &pendingRequest{
		conf: conf,
		ch:   make(chan resolution, 1),
	}
	b.byTask[taskID] = conf.ID

	if b.requestDir != "" {
		card := Card{
			ID:          conf.ID,
			TaskID:      taskID,
			Tool:        a.Tool,
			Prompt:      conf.Prompt,
			Reason:      reason,
			RequestedAt: conf.RequestedAt,
		}
		if err := writeCard(b.requestDir, card); err != nil {
			b.logger.Warn("failed to persist request card", map[string]interface{}{
				"confirmation_id": conf.ID, "error": err.Error(),
			})
		}
	}

	b.logger.Info("confirmation requested", map[string]interface{}{
		"confirmation_id": conf.ID,
		"task_id":         taskID,
		"tool":            a.Tool,
		"reason":          reason,
	})
	return conf, nil
}

// Resolve delivers the human's answer. Resolving an already-resolved
// confirmation is a no-op; resolving an unknown ID is an error.
func (b *Broker) Resolve(id string, approved bool, note string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.resolved[id] {
		return nil
	}
	p, ok := b.requests[id]
	if !ok {
		return fmt.Errorf("no pending confirmation %s", id)
	}

	b.resolved[id] = true
	delete(b.byTask, p.conf.TaskID)
	if b.requestDir != "" {
		removeCard(b.requestDir, id)
	}
	p.ch <- resolution{approved: approved, note: note}
	return nil
}

// Await blocks until the confirmation is resolved, the broker timeout
// elapses, or ctx is cancelled. The returned error is nil only for an
// approval. Timeouts and cancellations both deny the action but are
// recorded distinctly through State and Note.
func (b *Broker) Await(ctx context.Context, conf *task.Confirmation) error {
	b.mu.Lock()
	p, ok := b.requests[conf.ID]
	b.mu.Unlock()
	if !ok {
		if conf.Resolved() {
			return b.errorFor(conf)
		}
		return fmt.Errorf("confirmation %s is not pending", conf.ID)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case res := <-p.ch:
		b.finish(conf.ID)
		b.apply(conf, res)

	case <-timer.C:
		b.expire(p, conf, "request timed out")

	case <-ctx.Done():
		b.expire(p, conf, "cancelled")
	}
	return b.errorFor(conf)
}

// expire marks a confirmation as timed out. A resolution delivered
// concurrently wins: resolution is exactly-once, so expiry never
// overwrites an answer that was already given.
func (b *Broker) expire(p *pendingRequest, conf *task.Confirmation, note string) {
	b.mu.Lock()
	if b.resolved[conf.ID] {
		// Resolve got here first; its send completed before it
		// released the lock, so the channel holds the answer.
		delete(b.requests, conf.ID)
		b.mu.Unlock()
		b.apply(conf, <-p.ch)
		return
	}
	b.resolved[conf.ID] = true
	delete(b.requests, conf.ID)
	delete(b.byTask, conf.TaskID)
	if b.requestDir != "" {
		removeCard(b.requestDir, conf.ID)
	}
	b.mu.Unlock()

	now := time.Now()
	conf.State = task.ConfirmTimedOut
	conf.Note = note
	conf.ResolvedAt = &now

	b.logger.Warn("confirmation expired", map[string]interface{}{
		"confirmation_id": conf.ID,
		"task_id":         conf.TaskID,
		"note":            note,
	})
}

func (b *Broker) finish(id string) {
	b.mu.Lock()
	delete(b.requests, id)
	b.mu.Unlock()
}

// apply copies a delivered resolution onto the confirmation.
func (b *Broker) apply(conf *task.Confirmation, res resolution) {
	now := time.Now()
	conf.Note = res.note
	conf.ResolvedAt = &now
	if res.approved {
		conf.State = task.ConfirmApproved
	} else {
		conf.State = task.ConfirmDenied
	}
	b.logger.Info("confirmation resolved", map[string]interface{}{
		"confirmation_id": conf.ID,
		"task_id":         conf.TaskID,
		"state":           string(conf.State),
	})
}

// errorFor maps a resolved confirmation to the loop's error taxonomy.
func (b *Broker) errorFor(conf *task.Confirmation) error {
	switch conf.State {
	case task.ConfirmApproved:
		return nil
	case task.ConfirmDenied:
		return task.ErrConfirmationDenied
	case task.ConfirmTimedOut:
		return task.ErrConfirmationTimedOut
	default:
		return fmt.Errorf("confirmation %s in unexpected state %s", conf.ID, conf.State)
	}
}

// Pending returns a snapshot of unresolved confirmations, for the
// operator-facing listing.
func (b *Broker) Pending() []*task.Confirmation {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*task.Confirmation
	for id, p := range b.requests {
		if b.resolved[id] {
			continue
		}
		c := *p.conf
		out = append(out, &c)
	}
	return out
}

// PendingFor returns the pending confirmation of a task, if any.
func (b *Broker) PendingFor(taskID string) *task.Confirmation {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.byTask[taskID]
	if !ok {
		return nil
	}
	c := *b.requests[id].conf
	return &c
}

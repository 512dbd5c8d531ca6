// Package events carries progress, confirmation, and failure
// notifications out of the loop without ever blocking it. Slow or
// absent consumers cost dropped events, not stalled steps.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/agentkit/logging"
)

// Event types published by the loop.
const (
	TypeProgress       = "progress"
	TypeConfirmRequest = "confirm_request"
	TypeFailureReport  = "failure_report"
)

// Event is one notification.
type Event struct {
	Type      string                 `json:"type"`
	TaskID    string                 `json:"task_id"`
	Timestamp time.Time              `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Sink consumes events off the bus, in dispatch order.
type Sink interface {
	Accept(ev Event)
	Close() error
}

const defaultBuffer = 64

// Bus fans events out to sinks through a bounded buffer. Publish
// never blocks: when the buffer is full the event is counted and
// dropped.
type Bus struct {
	mu      sync.RWMutex
	ch      chan Event
	closed  bool
	sinks   []Sink
	dropped atomic.Uint64
	wg      sync.WaitGroup
}

// NewBus creates a bus and starts its dispatcher. A buffer of zero
// selects the default.
func NewBus(buffer int, sinks ...Sink) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	b := &Bus{
		ch:    make(chan Event, buffer),
		sinks: sinks,
	}
	b.wg.Add(1)
	go b.dispatch()
	return b
}

func (b *Bus) dispatch() {
	defer b.wg.Done()
	for ev := range b.ch {
		for _, s := range b.sinks {
			s.Accept(ev)
		}
	}
}

// Publish enqueues an event, stamping the time if unset. Events
// published after Close or into a full buffer are dropped.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.dropped.Add(1)
		return
	}
	select {
	case b.ch <- ev:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close drains the buffer through the sinks, then closes them.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.ch)
	b.mu.Unlock()

	b.wg.Wait()
	var firstErr error
	for _, s := range b.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a sink backed by the component logger.
func NewLogSink() *LogSink {
	return &LogSink{logger: logging.New().WithComponent("events")}
}

func (s *LogSink) Accept(ev Event) {
	fields := map[string]interface{}{
		"task_id": ev.TaskID,
	}
	for k, v := range ev.Fields {
		fields[k] = v
	}
	switch ev.Type {
	case TypeFailureReport:
		s.logger.Warn(ev.Type, fields)
	default:
		s.logger.Info(ev.Type, fields)
	}
}

func (s *LogSink) Close() error { return nil }

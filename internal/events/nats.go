package events

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/vinayprograms/agentkit/logging"
)

// NATS subjects. Events mirror to steward.events.<type>; answers for
// pending confirmations arrive on the resolve subject.
const (
	SubjectPrefix  = "steward.events."
	SubjectResolve = "steward.confirm.resolve"
)

// Resolver receives confirmation answers arriving over the wire.
type Resolver interface {
	Resolve(id string, approved bool, note string) error
}

type resolveMsg struct {
	ID       string `json:"id"`
	Approved bool   `json:"approved"`
	Note     string `json:"note"`
}

// NATSSink mirrors events onto a NATS server and, when given a
// resolver, accepts confirmation answers published by other processes.
type NATSSink struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	logger *logging.Logger
}

// DialNATS connects to a NATS server. A nil resolver disables the
// answer subscription.
func DialNATS(url string, resolver Resolver) (*NATSSink, error) {
	nc, err := nats.Connect(url, nats.Name("steward"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	s := &NATSSink{
		nc:     nc,
		logger: logging.New().WithComponent("nats"),
	}
	if resolver != nil {
		s.sub, err = nc.Subscribe(SubjectResolve, func(m *nats.Msg) {
			s.handleResolve(resolver, m.Data)
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", SubjectResolve, err)
		}
	}
	return s, nil
}

func (s *NATSSink) handleResolve(resolver Resolver, data []byte) {
	msg, err := parseResolve(data)
	if err != nil {
		s.logger.Warn("bad resolve message", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := resolver.Resolve(msg.ID, msg.Approved, msg.Note); err != nil {
		s.logger.Warn("resolve failed", map[string]interface{}{
			"confirmation_id": msg.ID,
			"error":           err.Error(),
		})
	}
}

func parseResolve(data []byte) (resolveMsg, error) {
	var msg resolveMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	if msg.ID == "" {
		return msg, fmt.Errorf("resolve message has no id")
	}
	return msg, nil
}

// Accept publishes the event on its type subject. Publish failures
// are logged and dropped; the mirror is best effort.
func (s *NATSSink) Accept(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.nc.Publish(SubjectPrefix+ev.Type, data); err != nil {
		s.logger.Warn("publish failed", map[string]interface{}{
			"subject": SubjectPrefix + ev.Type,
			"error":   err.Error(),
		})
	}
}

// Close unsubscribes and drains the connection.
func (s *NATSSink) Close() error {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Warn("unsubscribe failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return s.nc.Drain()
}

// AnswerData encodes a confirmation answer for the resolve subject.
// The resolve subcommand publishes this when configured for NATS.
func AnswerData(id string, approved bool, note string) []byte {
	data, _ := json.Marshal(resolveMsg{ID: id, Approved: approved, Note: note})
	return data
}

package probe

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// PacketHandler processes one received packet-in event.
type PacketHandler func(in PacketIn)

// DecisionHandler processes one received decision event.
type DecisionHandler func(d DecisionEvent)

// Subscriber consumes packet-in envelopes from a NATS subject.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	logger  *zap.Logger
}

// NewSubscriber connects to NATS.
func NewSubscriber(url, subject string, logger *zap.Logger) (*Subscriber, error) {
	nc, err := nats.Connect(url, nats.Name("go2netqos-subscriber"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Info("Connected to NATS server", zap.String("url", url))
	return &Subscriber{nc: nc, subject: subject, logger: logger}, nil
}

// Start subscribes to the subject and hands every decoded packet-in
// envelope to handler. Undecodable messages are logged and dropped.
func (s *Subscriber) Start(handler PacketHandler) error {
	return s.subscribe(func(msg *nats.Msg) {
		in, err := UnmarshalPacketIn(msg.Data)
		if err != nil {
			s.logger.Warn("Error decoding packet-in envelope", zap.Error(err))
			return
		}
		handler(in)
	})
}

// StartDecisions is like Start for a subject carrying decision events.
func (s *Subscriber) StartDecisions(handler DecisionHandler) error {
	return s.subscribe(func(msg *nats.Msg) {
		d, err := UnmarshalDecision(msg.Data)
		if err != nil {
			s.logger.Warn("Error decoding decision envelope", zap.Error(err))
			return
		}
		handler(d)
	})
}

func (s *Subscriber) subscribe(cb nats.MsgHandler) error {
	sub, err := s.nc.Subscribe(s.subject, cb)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	s.sub = sub
	s.logger.Info("Subscribed. Waiting for messages...", zap.String("subject", s.subject))
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("NATS connection closed.")
	}
}

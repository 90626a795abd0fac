package probe

import (
	"fmt"

	"Go2NetQoS/internal/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher publishes envelopes to a NATS subject. It implements
// model.DecisionSink so that decisions can be handed back to the dataplane.
type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewPublisher connects to NATS and publishes on subject.
func NewPublisher(url, subject string, logger *zap.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("go2netqos-publisher"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Info("Connected to NATS server", zap.String("url", url), zap.String("subject", subject))
	return &Publisher{nc: nc, subject: subject, logger: logger}, nil
}

// PublishPacketIn publishes one captured frame.
func (p *Publisher) PublishPacketIn(in PacketIn) error {
	data, err := MarshalPacketIn(in)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

// Publish implements model.DecisionSink.
func (p *Publisher) Publish(d *model.Decision) error {
	data, err := MarshalDecision(NewDecisionEvent(d))
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	err := p.nc.Drain()
	p.logger.Info("NATS connection drained and closed.", zap.String("subject", p.subject))
	return err
}

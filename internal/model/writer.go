package model

import "time"

// Writer defines a generic interface for persisting batches of decisions.
type Writer interface {
	// Write persists one batch. timestamp identifies the flush that produced it.
	Write(batch []*Decision, timestamp string) error

	// GetInterval returns the configured flush interval for this writer.
	GetInterval() time.Duration

	Close() error
}

// DecisionSink receives every decision as soon as it is made, e.g. to hand
// it back to the dataplane.
type DecisionSink interface {
	Publish(d *Decision) error
	Close() error
}

package model

// Pipeline defines the common interface for a packet classification engine,
// allowing a live stream consumer and an offline replay to drive it the same way.
type Pipeline interface {
	// Start launches the pipeline's processing workers.
	Start()

	// Stop gracefully shuts down the pipeline, ensuring all queued packets are classified and flushed.
	Stop()

	// Input returns the channel to which decoded packets should be sent for processing.
	Input() chan<- *Packet
}

package kafka

import "errors"

var (
	// ErrCrashed is returned by Run when the session could not be recovered.
	// A new Run call reconnects.
	ErrCrashed = errors.New("stream consumer crashed")
	// ErrStaleAssignment is returned by Batch.Heartbeat once a rebalance has
	// moved the batch's partition away.
	ErrStaleAssignment = errors.New("partition assignment is stale")

	ErrInvalidTransition = errors.New("invalid consumer state transition")
	ErrAlreadyRunning    = errors.New("stream consumer is already running")
)

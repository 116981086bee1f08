package contract

import "errors"

var (
	// ErrModelInvoke wraps failures of the model call itself (timeout,
	// quota, transport). Always recovered locally into a terminal message.
	ErrModelInvoke = errors.New("model invoke failed")

	// ErrSchemaViolation marks model output that does not satisfy the
	// constrained schema it was asked for.
	ErrSchemaViolation = errors.New("model response violates schema")

	// ErrToolNotFound marks a tool call naming no registered descriptor.
	ErrToolNotFound = errors.New("tool not found")

	// ErrCheckpoint wraps checkpoint persistence failures. Never recovered
	// locally: a step whose checkpoint did not persist must fail the run.
	ErrCheckpoint = errors.New("checkpoint persistence failed")

	// ErrProtocol marks a violated sub-loop invariant (for example a tool
	// result whose correlation id matches no pending call). Indicates an
	// integration bug; fails fast.
	ErrProtocol = errors.New("protocol violation")

	// ErrThreadTerminated is returned when a turn is submitted for a
	// thread that was explicitly closed.
	ErrThreadTerminated = errors.New("thread is terminated")

	ErrValidation = errors.New("validation failed")
)

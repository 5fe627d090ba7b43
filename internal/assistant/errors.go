package assistant

import (
	"fmt"

	"github.com/af-corp/convo-gateway/internal/types"
)

// ValidationError means the caller sent an unusable request. Nothing was
// sent upstream.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// UpstreamError wraps a failed call to the upstream API. Message is the
// caller-facing summary; Err carries the upstream's own error text.
type UpstreamError struct {
	Message string
	Op      string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// UnexpectedStateError is returned when a run stops in a state the gateway
// cannot turn into an answer.
type UnexpectedStateError struct {
	Status types.RunStatus
	Reason string
}

func (e *UnexpectedStateError) Error() string {
	return fmt.Sprintf("run ended in state %s: %s", e.Status, e.Reason)
}

func validationErr(msg string) error { return &ValidationError{Message: msg} }

func upstreamErr(msg, op string, err error) error {
	return &UpstreamError{Message: msg, Op: op, Err: err}
}

package orchestrator

import "fmt"

// InvalidHandle is returned when a call names a stream id the Orchestrator
// does not recognize (never issued by CreateStream).
type InvalidHandle struct {
	StreamID int32
}

func (e *InvalidHandle) Error() string {
	return fmt.Sprintf("orchestrator: invalid stream handle %d", e.StreamID)
}

// NotActive is returned by AddAudio when the stream's VAD has not been
// started (or has already been stopped).
type NotActive struct {
	StreamID int32
}

func (e *NotActive) Error() string {
	return fmt.Sprintf("orchestrator: stream %d is not active", e.StreamID)
}

// InferenceError wraps a failure returned by a Transcriber or embedding
// model run, carrying the underlying runtime error string.
type InferenceError struct {
	Underlying error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("orchestrator: inference failed: %v", e.Underlying)
}

func (e *InferenceError) Unwrap() error { return e.Underlying }

// Internal marks a library-internal precondition violation: a shape
// mismatch, a NaN propagated from inference, or any other invariant a
// caller cannot have caused directly.
type Internal struct {
	Reason string
}

func (e *Internal) Error() string {
	return fmt.Sprintf("orchestrator: internal error: %s", e.Reason)
}

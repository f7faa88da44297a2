package orchestrator

import "fmt"

// Kind is the design-level error taxonomy used by the orchestrator to
// decide retry vs fail vs fatal.
type Kind string

const (
	KindTransientTransport Kind = "transient_transport"
	KindRateLimit          Kind = "rate_limit"
	KindMalformedResponse  Kind = "malformed_response"
	KindMalformedInput     Kind = "malformed_input"
	KindResourceExhaustion Kind = "resource_exhaustion"
	KindConfiguration      Kind = "configuration"
	KindInvariantViolation Kind = "invariant_violation"
)

// StageError is the typed error every stage function returns, generalizing
// PipelineError with an explicit Kind so the orchestrator
// can match on it instead of string-sniffing.
type StageError struct {
	Stage   string
	Kind    Kind
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Kind, e.Message)
}

func (e *StageError) Unwrap() error { return e.Err }

// Recoverable reports whether the orchestrator should retry the stage
// rather than fail the episode outright.
func (e *StageError) Recoverable() bool {
	return e.Kind == KindTransientTransport || e.Kind == KindRateLimit
}

// Fatal reports whether the error should abort the run rather than just
// failing the current episode.
func (e *StageError) Fatal() bool {
	return e.Kind == KindConfiguration
}

package judge

import "fmt"

// Outcome says how a Layer B evaluation ended. It is one of OK,
// *SchemaError, *TransportFailure or *InsufficientGrounding.
type Outcome interface {
	outcome()
	// Kind is a stable name for logs and storage.
	Kind() string
}

// OK means the model answered with a valid response.
type OK struct{}

// SchemaError means the model answered but the response was not valid JSON
// or did not match the response schema. Not retried.
type SchemaError struct {
	Raw string
	Err error
}

// TransportFailure means no usable response was obtained after retries.
type TransportFailure struct {
	Attempts int
	Err      error
}

// InsufficientGrounding means no check was possible so the model was not
// called.
type InsufficientGrounding struct {
	Missing []string
}

func (OK) outcome()                     {}
func (*SchemaError) outcome()           {}
func (*TransportFailure) outcome()      {}
func (*InsufficientGrounding) outcome() {}

func (OK) Kind() string                     { return "ok" }
func (*SchemaError) Kind() string           { return "schema_error" }
func (*TransportFailure) Kind() string      { return "transport_error" }
func (*InsufficientGrounding) Kind() string { return "insufficient_grounding" }

func (e *SchemaError) Error() string { return fmt.Sprintf("invalid judge response: %v", e.Err) }
func (e *SchemaError) Unwrap() error { return e.Err }

func (e *TransportFailure) Error() string {
	return fmt.Sprintf("judge call failed after %d attempt(s): %v", e.Attempts, e.Err)
}
func (e *TransportFailure) Unwrap() error { return e.Err }

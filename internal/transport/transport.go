// Package transport defines the dispatch engine's view of the external
// delivery collaborator: a stateless "POST one payload, get one response"
// operation. Concrete transports (httptransport.New, or a test stub) supply
// the implementation; the core never constructs a request body itself.
package transport

import "context"

// ErrorOK, ErrorTooManyRequests mirror the two response.error codes the
// dispatcher's response policy (spec.md §4.2.4) branches on explicitly.
// Any other non-zero code is treated generically as an API error.
const (
	ErrorOK              = 0
	ErrorTooManyRequests = 429
)

// Response is what a successful round trip to the ingestion service
// produces, whether or not the server-side outcome was itself an error.
type Response struct {
	// Error is the server's reported error code: 0 for success, 429 for
	// rate-limited, any other non-zero value for a generic API error.
	Error int
	// Body is the opaque response payload, kept only for observers.
	Body []byte
}

// Kind classifies a transport-level failure (one that never reached a
// Response) so the retry policy can tell a retryable network hiccup from a
// caller mistake.
type Kind int

const (
	// Network covers dial/timeout/connection-reset class failures:
	// retryable against the dispatcher's retry budget.
	Network Kind = iota
	// Argument covers malformed-request construction failures: never
	// retryable, the request will never succeed unmodified.
	Argument
	// Other covers anything else: treated as non-retryable per spec.md
	// §4.2.3's "any other error" row.
	Other
)

// ClassifiedError is a transport failure tagged with its Kind. Concrete
// Transport implementations should return one of these (or a plain error,
// which Classify treats as Other) instead of panicking or blocking forever.
type ClassifiedError struct {
	Kind Kind
	Err  error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classify extracts the Kind tag of err, defaulting to Other for any error
// that didn't come wrapped as a ClassifiedError.
func Classify(err error) Kind {
	var ce *ClassifiedError
	if as, ok := err.(*ClassifiedError); ok {
		ce = as
		return ce.Kind
	}
	return Other
}

// NetworkError wraps err as a retryable, network-class transport failure.
func NetworkError(err error) error { return &ClassifiedError{Kind: Network, Err: err} }

// ArgumentError wraps err as a non-retryable, caller-mistake failure.
func ArgumentError(err error) error { return &ClassifiedError{Kind: Argument, Err: err} }

// OtherError wraps err as a non-retryable failure of unspecified cause.
func OtherError(err error) error { return &ClassifiedError{Kind: Other, Err: err} }

// Transport performs one payload delivery. Implementations must be safe for
// concurrent use by multiple dispatcher ticks (the default HTTP transport
// is; a test stub typically guards its state with its own mutex).
type Transport interface {
	PostAsJSON(ctx context.Context, payload []byte, scrubFields []string) (Response, error)
}

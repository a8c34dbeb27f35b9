// Package orcherr defines the stable error taxonomy of the orchestration
// core (spec §7). Every error that crosses a component boundary is one of
// these kinds; the Code string is what the RPC surface serializes on the
// wire and must never change once released.
package orcherr

import "fmt"

// Kind is a stable error classification. Wire names (Code) are derived
// from it but kept as an explicit string field so sub-codes (e.g.
// ValidationError/BlockedTable) can share a Kind.
type Kind int

const (
	KindUnknown Kind = iota
	KindDatabaseNotFound
	KindAmbiguousDatabase
	KindValidationError
	KindGenerationError
	KindGenerationExhausted
	KindTimeout
	KindRowCapExceeded
	KindSQLExecutionError
	KindDriverTransient
	KindConnectionLost
	KindInvalidSessionParameter
	KindCircuitOpen
	KindRateLimitTimeout
	KindInternalError
)

var kindCodes = map[Kind]string{
	KindDatabaseNotFound:        "DatabaseNotFound",
	KindAmbiguousDatabase:       "AmbiguousDatabase",
	KindValidationError:        "ValidationError",
	KindGenerationError:        "GenerationError",
	KindGenerationExhausted:    "GenerationExhausted",
	KindTimeout:                "Timeout",
	KindRowCapExceeded:         "RowCapExceeded",
	KindSQLExecutionError:      "SQLExecutionError",
	KindDriverTransient:        "DriverTransient",
	KindConnectionLost:         "ConnectionLost",
	KindInvalidSessionParameter: "InvalidSessionParameter",
	KindCircuitOpen:            "CircuitOpen",
	KindRateLimitTimeout:       "RateLimitTimeout",
	KindInternalError:          "InternalError",
}

// Retryable reports whether errors of this kind are, on their own,
// candidates for the retry engine. Sub-codes of GenerationError and
// ValidationError override this per-instance via Error.retryable.
func (k Kind) Retryable() bool {
	switch k {
	case KindDriverTransient, KindConnectionLost:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return "InternalError"
}

// Error is the concrete error type returned across component boundaries.
// Sub carries the finer-grained sub-code (e.g. "BlockedTable" under
// ValidationError); it is empty when Kind alone is specific enough.
type Error struct {
	Kind      Kind
	Sub       string
	Message   string
	Details   map[string]string
	retryable bool
	cause     error
}

func (e *Error) Error() string {
	if e.Sub != "" {
		return fmt.Sprintf("%s/%s: %s", e.Kind, e.Sub, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether this specific error instance should be
// retried. It defaults to the Kind's class-level answer unless overridden
// at construction (e.g. GenerationError/LLMTransient is retryable even
// though GenerationError's zero-value default is not).
func (e *Error) Retryable() bool { return e.retryable }

// Code is the wire-stable top-level code serialized in RPC error bodies
// (spec §6's {code, message, details} envelope — e.g. "ValidationError").
// It never changes once released; finer-grained detail lives in SubCode.
func (e *Error) Code() string { return e.Kind.String() }

// SubCode is the finer-grained sub-code within Code's family (e.g.
// "BlockedTable" under "ValidationError"), or "" when Kind alone is
// specific enough. RPC callers use Code to tell error families apart and
// SubCode for the precise reason.
func (e *Error) SubCode() string { return e.Sub }

// Reason is the most specific single string identifying this error: Sub
// when set, otherwise Code. Used where only one granular label fits, such
// as the sql_rejected_total metric's per-reason counter.
func (e *Error) Reason() string {
	if e.Sub != "" {
		return e.Sub
	}
	return e.Kind.String()
}

type option func(*Error)

// Retryable marks the constructed error as retryable regardless of the
// Kind's default.
func Retryable() option { return func(e *Error) { e.retryable = true } }

// WithCause attaches an underlying error for errors.Is/As unwrapping.
func WithCause(err error) option { return func(e *Error) { e.cause = err } }

// WithDetails attaches a details map. Callers must ensure no secret ever
// lands here; the observability redaction filter does not run on error
// Details, only on log fields.
func WithDetails(d map[string]string) option { return func(e *Error) { e.Details = d } }

// New constructs an Error of the given kind with an optional sub-code.
func New(kind Kind, sub, message string, opts ...option) *Error {
	e := &Error{Kind: kind, Sub: sub, Message: message, retryable: kind.Retryable()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func DatabaseNotFound(id string) *Error {
	return New(KindDatabaseNotFound, "", fmt.Sprintf("database not found: %s", id))
}

func AmbiguousDatabase() *Error {
	return New(KindAmbiguousDatabase, "", "database id required: more than one database configured")
}

// Validation sub-codes per §7: MultipleStatements, StatementKindRejected,
// BlockedTable, BlockedColumn, BlockedFunction, SubqueryTooDeep,
// InvalidLimit.
func Validation(sub, message string) *Error {
	return New(KindValidationError, sub, message)
}

func GenerationTransient(message string, cause error) *Error {
	return New(KindGenerationError, "LLMTransient", message, Retryable(), WithCause(cause))
}

func GenerationMalformed(message string) *Error {
	return New(KindGenerationError, "MalformedOutput", message)
}

func GenerationExhausted() *Error {
	return New(KindGenerationExhausted, "", "generation retries exhausted without an accepted result")
}

func Timeout(message string) *Error { return New(KindTimeout, "", message) }

func RowCapExceeded(cap int) *Error {
	return New(KindRowCapExceeded, "", fmt.Sprintf("result exceeded row cap of %d", cap))
}

func SQLExecutionError(message string, cause error) *Error {
	return New(KindSQLExecutionError, "", message, WithCause(cause))
}

func DriverTransient(message string, cause error) *Error {
	return New(KindDriverTransient, "", message, WithCause(cause))
}

func ConnectionLost(message string, cause error) *Error {
	return New(KindConnectionLost, "", message, WithCause(cause))
}

func InvalidSessionParameter(param string) *Error {
	return New(KindInvalidSessionParameter, "", fmt.Sprintf("invalid characters in session parameter: %s", param))
}

func CircuitBreakerOpen() *Error {
	return New(KindCircuitOpen, "", "circuit breaker open")
}

func RateLimitTimeout(class string) *Error {
	return New(KindRateLimitTimeout, "", fmt.Sprintf("timed out waiting for a %q rate-limit slot", class))
}

func Internal(message string, cause error) *Error {
	return New(KindInternalError, "", message, WithCause(cause))
}

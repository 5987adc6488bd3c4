package eventcache

import "fmt"

// Kind classifies a CacheError per the error handling taxonomy.
type Kind string

const (
	KindConfigInvalid   Kind = "CONFIG_INVALID"
	KindQueryInvalid    Kind = "QUERY_INVALID"
	KindQueryTimeout    Kind = "QUERY_TIMEOUT"
	KindIoError         Kind = "IO_ERROR"
	KindMemoryCritical  Kind = "MEMORY_CRITICAL"
	KindInternal        Kind = "INTERNAL"
)

// CacheError is the error type returned across the public API. Context
// carries where the error happened (e.g. "spillover-init", "query") so
// callers and the error{} notification can report it without parsing
// the message string.
type CacheError struct {
	Kind    Kind
	Context string
	Message string
	Cause   error
}

func (e *CacheError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Context, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Context, e.Message)
}

func (e *CacheError) Unwrap() error {
	return e.Cause
}

func newError(kind Kind, context, message string, cause error) *CacheError {
	return &CacheError{Kind: kind, Context: context, Message: message, Cause: cause}
}

// Sentinel errors for the common, static conditions callers check with
// errors.Is.
var (
	ErrGroupNotFound   = newError(KindQueryInvalid, "query", "group not found", nil)
	ErrQueryTimeout    = newError(KindQueryTimeout, "query", "deadline exceeded", nil)
	ErrQueryCancelled  = newError(KindQueryInvalid, "query", "query cancelled", nil)
	ErrInvalidOperator = newError(KindQueryInvalid, "query", "unknown value filter operator", nil)
	ErrInvalidTimeRange = newError(KindQueryInvalid, "query", "start_time_ms must be <= end_time_ms", nil)
	ErrSpilloverDisabled = newError(KindIoError, "spillover", "spillover is disabled", nil)
)

// IsNotFound reports whether err represents a "group not found" condition.
func IsNotFound(err error) bool {
	ce, ok := err.(*CacheError)
	return ok && ce == ErrGroupNotFound
}

// QueryFailed wraps a lower-level IoError (typically a spill-file read
// failure) as surfaced to query() callers per §4.1.3.
func QueryFailed(context string, cause error) *CacheError {
	return newError(KindIoError, context, "query failed", cause)
}

// ConfigInvalid wraps a configuration validation failure (C7).
func ConfigInvalid(message string) *CacheError {
	return newError(KindConfigInvalid, "config-validate", message, nil)
}

// InternalError wraps an unexpected internal condition (index desync,
// counter overflow) that should be logged and surfaced via last_error but
// never propagated to the ingest producer.
func InternalError(context, message string, cause error) *CacheError {
	return newError(KindInternal, context, message, cause)
}

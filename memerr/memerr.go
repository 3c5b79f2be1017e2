// Package memerr provides the structured error taxonomy shared by all
// memory tiers.
//
// Every failure surfaced by the brain falls into one of a small set of
// kinds. Validation and integrity errors are returned synchronously to the
// caller; throttled and corruption conditions are handled internally with
// graceful degradation and carry enough context for the owning tier to
// recover. The Error type integrates with the standard errors package, so
// errors.Is and errors.As work across wrapping boundaries.
package memerr

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Error kinds categorize failures by their nature.
const (
	// KindValidation indicates malformed input. Fail fast, returned to the caller.
	KindValidation = "validation"

	// KindIntegrity indicates a broken reference or uniqueness violation.
	// The write is rejected and no partial state is persisted.
	KindIntegrity = "integrity"

	// KindThrottled indicates maintenance was requested too soon. The error
	// carries the prior cached result and is not an exceptional path.
	KindThrottled = "throttled"

	// KindCorruption indicates an unreadable store file. The owning tier
	// performs local recovery; the condition never propagates as a crash.
	KindCorruption = "corruption"

	// KindNotFound indicates a requested record does not exist.
	KindNotFound = "not_found"

	// KindTimeout indicates a tier exceeded its read budget.
	KindTimeout = "timeout"

	// KindInternal indicates an unexpected storage or runtime failure.
	KindInternal = "internal"
)

// Sentinel errors for common conditions. Use with errors.Is.
var (
	// ErrNotFound indicates the requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate indicates a uniqueness constraint was violated.
	ErrDuplicate = errors.New("duplicate record")

	// ErrMissingReference indicates a referenced record does not exist.
	ErrMissingReference = errors.New("referenced record does not exist")

	// ErrThrottled indicates the operation ran inside its throttle interval.
	ErrThrottled = errors.New("throttled: previous result still current")

	// ErrCorrupt indicates the backing store file is unreadable.
	ErrCorrupt = errors.New("store file is corrupt")

	// ErrInvalidInput indicates the caller supplied malformed input.
	ErrInvalidInput = errors.New("invalid input")
)

// Error is the structured error type used across the memory subsystem.
// It wraps an underlying error with the operation that failed, the error
// kind, and optional key-value context.
//
// Error implements the error interface and supports unwrapping, so it is
// compatible with errors.Is and errors.As.
type Error struct {
	// Op is the operation that failed (e.g., "knowledge.LinkPatterns").
	Op string

	// Kind categorizes the error (e.g., KindIntegrity).
	Kind string

	// Err is the underlying cause.
	Err error

	// Context holds additional debugging context (record ids, table names).
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("brain: %s: %s", e.Op, e.Kind)
	}
	if len(e.Context) > 0 {
		return fmt.Sprintf("brain: %s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}
	return fmt.Sprintf("brain: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches either another *Error with the same Kind (and Op, when the
// target sets one) or the underlying cause chain.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if t, ok := target.(*Error); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}
	return errors.Is(e.Err, target)
}

// WithContext returns a copy of the error with the provided context merged in.
func (e *Error) WithContext(ctx map[string]any) *Error {
	clone := *e
	if clone.Context == nil {
		clone.Context = make(map[string]any, len(ctx))
	}
	for k, v := range ctx {
		clone.Context[k] = v
	}
	return &clone
}

// Kind extracts the error kind from err, unwrapping as needed.
// Returns an empty string when err carries no kind.
func Kind(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind string) bool {
	return Kind(err) == kind
}

// NewValidationError creates an Error with KindValidation.
func NewValidationError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindValidation, Err: err}
}

// NewIntegrityError creates an Error with KindIntegrity.
func NewIntegrityError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindIntegrity, Err: err}
}

// NewThrottledError creates an Error with KindThrottled.
func NewThrottledError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindThrottled, Err: err}
}

// NewCorruptionError creates an Error with KindCorruption.
func NewCorruptionError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindCorruption, Err: err}
}

// NewNotFoundError creates an Error with KindNotFound.
func NewNotFoundError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindNotFound, Err: err}
}

// NewTimeoutError creates an Error with KindTimeout.
func NewTimeoutError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindTimeout, Err: err}
}

// NewInternalError creates an Error with KindInternal.
func NewInternalError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindInternal, Err: err}
}

// CloseWithLog closes the resource and logs any error at warning level.
// Intended for defer statements so cleanup errors are not silently dropped.
// If logger is nil, slog.Default() is used.
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}

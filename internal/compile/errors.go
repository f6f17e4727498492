package compile

import "errors"

// Sentinel errors for locally-recoverable rejections. These never reach the
// error banner; callers get them back directly and the guard is untouched
// (or was never taken).
var (
	// ErrCompileInFlight is returned when a compile is attempted while
	// another is outstanding.
	ErrCompileInFlight = errors.New("a compilation is already in progress")

	// ErrEmptyContent is returned by preview compiles with no content.
	ErrEmptyContent = errors.New("no content to compile")
)

// FailureKind labels terminal, user-visible failures for metrics and logs.
type FailureKind string

const (
	FailureTransport FailureKind = "transport" // network error or non-2xx status
	FailureTimeout   FailureKind = "timeout"   // client deadline fired
	FailureService   FailureKind = "service"   // 2xx with success=false
)

// Error is a terminal compile failure with its taxonomy label. Message is
// what the user sees.
type Error struct {
	Kind    FailureKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// KindOf extracts the failure kind from an error, defaulting to transport
// for unclassified errors.
func KindOf(err error) FailureKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return FailureTransport
}

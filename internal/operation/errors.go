package operation

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrIncompatibleTrace reports a trace file written in another format or
	// version, or one that is not a trace file at all.
	ErrIncompatibleTrace = errors.New("incompatible operation trace")

	// ErrCorruptTrace reports a trace file whose records cannot be decoded.
	ErrCorruptTrace = errors.New("corrupt operation trace")
)

// ProtocolViolation is the panic value raised when events break the
// start-before-finish contract: a finish for an unknown id, a second finish,
// or a reused id.
type ProtocolViolation struct {
	ID  ID
	Msg string
}

func (p *ProtocolViolation) Error() string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("operation %s: protocol violation: %s", p.ID, p.Msg)
}

// IOError is returned when the trace file cannot be created, written or read.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s operation trace %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// PayloadError reports a details or result payload that could not be encoded
// on persist or decoded on load. It is attached to the affected operation and
// never aborts the rest of the trace.
type PayloadError struct {
	Operation ID
	Field     string // "details" or "result"
	Type      string // declared payload type name
	Err       error
}

func (e *PayloadError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("operation %s: %s payload of type %s: %v", e.Operation, e.Field, e.Type, e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

// RecordedFailure is an operation failure as read back from a trace file.
type RecordedFailure struct {
	Type    string
	Message string
}

func (f *RecordedFailure) Error() string { return f.Message }

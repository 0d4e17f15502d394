// Package operation records the tree of nested operations performed during a
// build and makes it durable for postmortem inspection.
//
// Producers report each operation through a Listener: OnStart when it begins
// and OnFinish, exactly once, when it ends. A Recorder buffers those events in
// start order, reduces every details/result payload to a portable Document and
// persists the whole tree to a trace file that Load reads back.
package operation

import "time"

// ID identifies an operation. IDs are unique within a build.
type ID string

func (id ID) String() string { return string(id) }

// Descriptor describes an operation when it starts. Details is operation
// specific and may be nil.
type Descriptor struct {
	ID          ID
	ParentID    ID // empty for a root operation
	Name        string
	DisplayName string
	Details     any
}

// StartEvent is delivered with OnStart.
type StartEvent struct {
	StartTime int64 // unix milliseconds
}

// FinishEvent is delivered with OnFinish. Result may be nil.
type FinishEvent struct {
	EndTime int64 // unix milliseconds
	Result  any
	Failure error
}

// Listener observes operations. Implementations must accept calls from any
// goroutine: an operation may finish on a different goroutine than the one
// that started it.
type Listener interface {
	OnStart(d Descriptor, e StartEvent)
	OnFinish(d Descriptor, e FinishEvent)
}

// Nop discards all events.
type Nop struct{}

func (Nop) OnStart(Descriptor, StartEvent)   {}
func (Nop) OnFinish(Descriptor, FinishEvent) {}

// Multi fans events out to several listeners in order.
type Multi []Listener

func (m Multi) OnStart(d Descriptor, e StartEvent) {
	for _, l := range m {
		l.OnStart(d, e)
	}
}

func (m Multi) OnFinish(d Descriptor, e FinishEvent) {
	for _, l := range m {
		l.OnFinish(d, e)
	}
}

// Now returns the current time in the unit used by events.
func Now() int64 { return time.Now().UnixMilli() }

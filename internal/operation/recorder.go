package operation

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// PendingOperation is the recorder's mutable entry for one operation. It
// holds payloads in their original form until the trace is reduced.
type PendingOperation struct {
	ID          ID
	ParentID    ID
	Name        string
	DisplayName string
	StartTime   int64
	EndTime     int64
	Details     any
	Result      any
	Failure     error
	Finished    bool
}

// CompleteOperation is the immutable, portable view of a recorded operation.
// Details and Result are null when absent; DetailsType and ResultType are
// then empty.
type CompleteOperation struct {
	ID          ID
	ParentID    ID
	Name        string
	DisplayName string
	StartTime   int64
	EndTime     int64
	DetailsType string
	Details     Document
	ResultType  string
	Result      Document
	Failure     error
	Finished    bool

	// PayloadErrors lists payloads that could not be encoded or decoded.
	PayloadErrors []*PayloadError
}

// Duration returns EndTime-StartTime, or 0 for an unfinished operation.
func (c CompleteOperation) Duration() int64 {
	if !c.Finished {
		return 0
	}
	return c.EndTime - c.StartTime
}

// Recorder is a Listener that buffers every operation of a build in start
// order. It is safe for concurrent use.
type Recorder struct {
	reducer *Reducer

	mu    sync.Mutex
	order []*PendingOperation
	byID  map[ID]*PendingOperation
}

// NewRecorder returns an empty Recorder. A nil reducer selects a Reducer with
// no extra rules.
func NewRecorder(reducer *Reducer) *Recorder {
	if reducer == nil {
		reducer = NewReducer()
	}
	return &Recorder{
		reducer: reducer,
		byID:    make(map[ID]*PendingOperation),
	}
}

// OnStart buffers a new pending operation. Reusing an id panics with a
// *ProtocolViolation. Invalid UTF-8 in Name and DisplayName is replaced with
// U+FFFD, the form in which a trace file stores them.
func (r *Recorder) OnStart(d Descriptor, e StartEvent) {
	r.mu.Lock()
	if _, exists := r.byID[d.ID]; exists {
		r.mu.Unlock()
		panic(&ProtocolViolation{ID: d.ID, Msg: "started twice"})
	}
	op := &PendingOperation{
		ID:          d.ID,
		ParentID:    d.ParentID,
		Name:        strings.ToValidUTF8(d.Name, "\uFFFD"),
		DisplayName: strings.ToValidUTF8(d.DisplayName, "\uFFFD"),
		StartTime:   e.StartTime,
		Details:     d.Details,
	}
	r.byID[d.ID] = op
	r.order = append(r.order, op)
	r.mu.Unlock()
}

// OnFinish completes a pending operation. Finishing an id that was never
// started, or finishing it twice, panics with a *ProtocolViolation.
func (r *Recorder) OnFinish(d Descriptor, e FinishEvent) {
	r.mu.Lock()
	op, ok := r.byID[d.ID]
	if !ok {
		r.mu.Unlock()
		panic(&ProtocolViolation{ID: d.ID, Msg: "finished without being started"})
	}
	if op.Finished {
		r.mu.Unlock()
		panic(&ProtocolViolation{ID: d.ID, Msg: "finished twice"})
	}
	op.EndTime = e.EndTime
	op.Result = e.Result
	op.Failure = e.Failure
	op.Finished = true
	r.mu.Unlock()
}

// FailPending finishes every operation still pending with err and returns how
// many were affected. It is used when a build is cancelled or aborts before
// its producers could report completion.
func (r *Recorder) FailPending(err error, endTime int64) int {
	if err == nil {
		err = errors.New("operation did not complete")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, op := range r.order {
		if op.Finished {
			continue
		}
		op.EndTime = endTime
		op.Failure = err
		op.Finished = true
		n++
	}
	return n
}

// Len reports how many operations have started.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Pending returns copies of all entries in start order.
func (r *Recorder) Pending() []PendingOperation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PendingOperation, len(r.order))
	for i, op := range r.order {
		out[i] = *op
	}
	return out
}

// Trace reduces the buffered operations into a Trace. Operations still
// pending are included with Finished false.
func (r *Recorder) Trace() *Trace {
	pending := r.Pending()
	ops := make([]CompleteOperation, len(pending))
	for i, p := range pending {
		ops[i] = r.complete(p)
	}
	return newTrace(ops)
}

// Operations is Trace().Operations(): the reduced operations in start order.
func (r *Recorder) Operations() []CompleteOperation {
	return r.Trace().Operations()
}

// Persist writes the recorded operations to path, replacing any previous
// trace atomically.
func (r *Recorder) Persist(path string) error {
	return r.Trace().WriteFile(path)
}

func (r *Recorder) complete(p PendingOperation) CompleteOperation {
	c := CompleteOperation{
		ID:          p.ID,
		ParentID:    p.ParentID,
		Name:        p.Name,
		DisplayName: p.DisplayName,
		StartTime:   p.StartTime,
		EndTime:     p.EndTime,
		Failure:     p.Failure,
		Finished:    p.Finished,
	}
	c.DetailsType, c.Details = r.reducePayload(&c, "details", p.Details)
	c.ResultType, c.Result = r.reducePayload(&c, "result", p.Result)
	return c
}

func (r *Recorder) reducePayload(c *CompleteOperation, field string, v any) (string, Document) {
	if isNil(v) {
		return "", Null()
	}
	typ := TypeName(v)
	if d, ok := v.(Document); ok {
		return typ, d
	}
	doc, err := r.reducer.Reduce(v)
	if err != nil {
		c.PayloadErrors = append(c.PayloadErrors, &PayloadError{Operation: c.ID, Field: field, Type: typ, Err: err})
		return typ, Null()
	}
	return typ, doc
}

// Trace is a read-only, start-ordered set of operations with parent/child
// navigation.
type Trace struct {
	ops      []CompleteOperation
	index    map[ID]int
	children map[ID][]int
}

func newTrace(ops []CompleteOperation) *Trace {
	t := &Trace{
		ops:      ops,
		index:    make(map[ID]int, len(ops)),
		children: make(map[ID][]int),
	}
	for i, op := range ops {
		t.index[op.ID] = i
		if op.ParentID != "" {
			t.children[op.ParentID] = append(t.children[op.ParentID], i)
		}
	}
	return t
}

func (t *Trace) Len() int { return len(t.ops) }

// Operations returns every operation in start order.
func (t *Trace) Operations() []CompleteOperation {
	return append([]CompleteOperation(nil), t.ops...)
}

func (t *Trace) Get(id ID) (CompleteOperation, bool) {
	i, ok := t.index[id]
	if !ok {
		return CompleteOperation{}, false
	}
	return t.ops[i], true
}

// Children returns the direct children of id in start order.
func (t *Trace) Children(id ID) []CompleteOperation {
	idx := t.children[id]
	out := make([]CompleteOperation, len(idx))
	for i, j := range idx {
		out[i] = t.ops[j]
	}
	return out
}

// Roots returns operations without a parent in this trace, in start order.
// An operation whose parent was never recorded counts as a root.
func (t *Trace) Roots() []CompleteOperation {
	var out []CompleteOperation
	for _, op := range t.ops {
		if op.ParentID == "" {
			out = append(out, op)
			continue
		}
		if _, ok := t.index[op.ParentID]; !ok {
			out = append(out, op)
		}
	}
	return out
}

// Find returns operations with the given name in start order.
func (t *Trace) Find(name string) []CompleteOperation {
	var out []CompleteOperation
	for _, op := range t.ops {
		if op.Name == name {
			out = append(out, op)
		}
	}
	return out
}

// PayloadErrors collects the payload errors of all operations.
func (t *Trace) PayloadErrors() []*PayloadError {
	var out []*PayloadError
	for _, op := range t.ops {
		out = append(out, op.PayloadErrors...)
	}
	return out
}

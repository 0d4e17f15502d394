package operation

import (
	"encoding/json"
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// TaskPayload is implemented by details and results that stand for a task.
// Such payloads reduce to {"task": "<path>"} rather than their full structure,
// which usually holds live build state that does not serialize.
type TaskPayload interface {
	TaskPath() string
}

// Reducer turns arbitrary payload values into Documents. Rules registered for
// a concrete type take precedence over the TaskPayload rule, which takes
// precedence over plain JSON encoding.
//
// Reduction is idempotent: reducing a Document returns it unchanged.
type Reducer struct {
	mu    sync.RWMutex
	rules map[reflect.Type]func(any) (any, error)
}

func NewReducer() *Reducer {
	return &Reducer{rules: make(map[reflect.Type]func(any) (any, error))}
}

// Register installs a reduction for values of type T. The function may return
// a Document or any value encoding/json can marshal.
func Register[T any](r *Reducer, fn func(T) (any, error)) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[t] = func(v any) (any, error) { return fn(v.(T)) }
}

// Reduce converts v into a Document. A nil value, including a typed nil
// pointer, reduces to null.
func (r *Reducer) Reduce(v any) (Document, error) {
	if isNil(v) {
		return Null(), nil
	}
	if d, ok := v.(Document); ok {
		return d, nil
	}
	if r != nil {
		r.mu.RLock()
		rule, ok := r.rules[reflect.TypeOf(v)]
		r.mu.RUnlock()
		if ok {
			out, err := rule(v)
			if err != nil {
				return Document{}, errors.Wrapf(err, "reduce %s", TypeName(v))
			}
			return r.encode(out)
		}
	}
	if tp, ok := v.(TaskPayload); ok {
		return Map(F("task", String(tp.TaskPath()))), nil
	}
	return r.encode(v)
}

func (r *Reducer) encode(v any) (Document, error) {
	if d, ok := v.(Document); ok {
		return d, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Document{}, errors.Wrapf(err, "reduce %s", TypeName(v))
	}
	return ParseDocument(data)
}

// TypeName returns the package-qualified name of v's type, dereferencing
// pointers, or "" for nil.
func TypeName(v any) string {
	if v == nil {
		return ""
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" || t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

package task

// Once holds a value that can be assigned at most once.
//
// The zero value is empty. Once is not safe for concurrent use; State guards it.
type Once[T any] struct {
	value T
	set   bool
}

// TrySet assigns v if nothing was assigned yet and reports whether it did.
func (o *Once[T]) TrySet(v T) bool {
	if o.set {
		return false
	}
	o.value = v
	o.set = true
	return true
}

// Get returns the assigned value, if any.
func (o *Once[T]) Get() (T, bool) {
	return o.value, o.set
}

// IsSet reports whether a value was assigned.
func (o *Once[T]) IsSet() bool { return o.set }

package sim

// Trampoline owns a callback handed across the engine boundary.
//
// The engine holds on to Call (a method value) for as long as it is
// registered. Release detaches the Go function so that an invocation arriving
// after the owner has unregistered is dropped instead of reaching a stale target.
type Trampoline[T any] struct {
	fn       func(T)
	released bool
}

// NewTrampoline wraps fn.
func NewTrampoline[T any](fn func(T)) *Trampoline[T] {
	return &Trampoline[T]{fn: fn}
}

// Call forwards v to the wrapped function unless the trampoline was released.
func (t *Trampoline[T]) Call(v T) {
	if t == nil || t.released || t.fn == nil {
		return
	}
	t.fn(v)
}

// Release detaches the wrapped function. Safe to call more than once.
func (t *Trampoline[T]) Release() {
	if t == nil {
		return
	}
	t.released = true
	t.fn = nil
}

// Released reports whether Release was called.
func (t *Trampoline[T]) Released() bool {
	return t == nil || t.released
}

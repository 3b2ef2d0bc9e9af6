package testutil

// Recorder collects values in the order they are handed to Record. It stands
// in for downstream consumers such as sinks and discard hooks.
type Recorder[T any] struct {
	values []T
}

// NewRecorder creates an empty Recorder.
func NewRecorder[T any]() *Recorder[T] {
	return &Recorder[T]{}
}

// Record appends v.
func (r *Recorder[T]) Record(v T) {
	r.values = append(r.values, v)
}

// Len returns the number of recorded values.
func (r *Recorder[T]) Len() int {
	return len(r.values)
}

// Values returns a copy of the recorded values.
func (r *Recorder[T]) Values() []T {
	out := make([]T, len(r.values))
	copy(out, r.values)
	return out
}

// Reset discards recorded values.
func (r *Recorder[T]) Reset() {
	r.values = r.values[:0]
}

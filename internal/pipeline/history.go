package pipeline

// Sample is one timestamped history point. Time is unix milliseconds.
type Sample struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// Ring is a fixed-capacity circular buffer. Once full, each Push evicts the
// oldest value.
type Ring[T any] struct {
	buf   []T
	pos   int
	count int
}

// NewRing creates a ring with the given capacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		buf: make([]T, capacity),
	}
}

// Push adds a value, evicting the oldest one when full.
func (r *Ring[T]) Push(val T) {
	r.buf[r.pos] = val
	r.pos = (r.pos + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Values returns all stored values in chronological order. Never nil, so an
// empty history encodes as [] rather than null.
func (r *Ring[T]) Values() []T {
	result := make([]T, r.count)
	if r.count < len(r.buf) {
		copy(result, r.buf[:r.count])
	} else {
		n := copy(result, r.buf[r.pos:])
		copy(result[n:], r.buf[:r.pos])
	}
	return result
}

func (r *Ring[T]) Len() int {
	return r.count
}

package numeric

import "encoding/json"

// Ring is a bounded float history. The oldest value is dropped once full.
type Ring struct {
	buf   []float64
	start int
	size  int
}

// NewRing creates a ring holding at most capacity values (minimum 1).
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]float64, capacity)}
}

// Push appends a value, evicting the oldest when full.
func (r *Ring) Push(x float64) {
	if len(r.buf) == 0 {
		r.buf = make([]float64, 1)
	}
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = x
		r.size++
		return
	}
	r.buf[r.start] = x
	r.start = (r.start + 1) % len(r.buf)
}

// Len returns the number of stored values.
func (r *Ring) Len() int { return r.size }

// Cap returns the ring capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// At returns the i-th oldest value.
func (r *Ring) At(i int) float64 {
	return r.buf[(r.start+i)%len(r.buf)]
}

// Last returns the most recent value, or fallback when empty.
func (r *Ring) Last(fallback float64) float64 {
	if r.size == 0 {
		return fallback
	}
	return r.At(r.size - 1)
}

// Back returns the value n steps before the most recent one, or fallback.
func (r *Ring) Back(n int, fallback float64) float64 {
	if n < 0 || n >= r.size {
		return fallback
	}
	return r.At(r.size - 1 - n)
}

// Tail returns a copy of the last n values, oldest first.
func (r *Ring) Tail(n int) []float64 {
	if n > r.size {
		n = r.size
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = r.At(r.size - n + i)
	}
	return out
}

// Values returns a copy of all stored values, oldest first.
func (r *Ring) Values() []float64 {
	return r.Tail(r.size)
}

// Clone returns an independent copy. A nil ring clones to nil.
func (r *Ring) Clone() *Ring {
	if r == nil {
		return nil
	}
	return &Ring{buf: append([]float64(nil), r.buf...), start: r.start, size: r.size}
}

// Reset empties the ring.
func (r *Ring) Reset() {
	r.start, r.size = 0, 0
}

// MarshalJSON encodes the ring as its values, oldest first.
func (r *Ring) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Values())
}

// UnmarshalJSON restores values; the capacity grows to fit if needed.
func (r *Ring) UnmarshalJSON(data []byte) error {
	var vals []float64
	if err := json.Unmarshal(data, &vals); err != nil {
		return err
	}
	if len(r.buf) < len(vals) {
		r.buf = make([]float64, len(vals))
	}
	r.Reset()
	for _, v := range vals {
		r.Push(v)
	}
	return nil
}

package sensor

import (
	"errors"
	"strconv"
	"strings"
)

var ErrEmptyBuffer = errors.New("sensor: no positive samples recorded")

// Ring is a fixed-capacity circular buffer of samples. Once full, each
// push overwrites the oldest slot. Ring is not safe for concurrent use.
type Ring struct {
	slots []int
	next  int
	full  bool
}

// NewRing returns a ring holding capacity samples (minimum 1).
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{slots: make([]int, capacity)}
}

func (r *Ring) Capacity() int {
	return len(r.slots)
}

// Len reports how many slots have been written since the last reset.
func (r *Ring) Len() int {
	if r.full {
		return len(r.slots)
	}
	return r.next
}

func (r *Ring) Push(v int) {
	r.slots[r.next] = v
	r.next = (r.next + 1) % len(r.slots)
	if r.next == 0 {
		r.full = true
	}
}

// Average returns the integer mean of the positive samples currently held.
func (r *Ring) Average() (int, error) {
	sum, count := 0, 0
	for _, v := range r.slots[:r.Len()] {
		if v > 0 {
			sum += v
			count++
		}
	}
	if count == 0 {
		return 0, ErrEmptyBuffer
	}
	return sum / count, nil
}

// Values returns the held samples from oldest to newest.
func (r *Ring) Values() []int {
	if !r.full {
		out := make([]int, r.next)
		copy(out, r.slots[:r.next])
		return out
	}
	out := make([]int, 0, len(r.slots))
	out = append(out, r.slots[r.next:]...)
	out = append(out, r.slots[:r.next]...)
	return out
}

func (r *Ring) Reset() {
	clear(r.slots)
	r.next = 0
	r.full = false
}

// Resize drops every sample and changes the capacity.
func (r *Ring) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	r.slots = make([]int, capacity)
	r.next = 0
	r.full = false
}

func (r *Ring) String() string {
	var sb strings.Builder
	sb.WriteString("[ ")
	for _, v := range r.slots {
		sb.WriteString(strconv.Itoa(v))
		sb.WriteString(" | ")
	}
	sb.WriteString("]")
	return sb.String()
}

// Package ringbuf provides a fixed-size overwrite ring of price bars used to
// hold the rolling history of one instrument. The newest bar always replaces
// the oldest once the ring is full.
package ringbuf

import "candlescan/internal/model"

// History is a bounded history of bars. It is not safe for concurrent use;
// the scanner owns one per instrument and timeframe on a single goroutine.
type History struct {
	buf   []model.Bar
	mask  uint64
	limit int    // logical capacity
	head  uint64 // total bars ever pushed

	dropped uint64
}

// NewHistory creates a history keeping the most recent limit bars. The
// backing slice is rounded up to the next power of two for bitwise modulo.
// Minimum limit is 1.
func NewHistory(limit int) *History {
	if limit < 1 {
		limit = 1
	}
	size := nextPow2(limit)
	return &History{
		buf:   make([]model.Bar, size),
		mask:  uint64(size - 1),
		limit: limit,
	}
}

// Push appends a bar, discarding the oldest when the history is full.
func (h *History) Push(b model.Bar) {
	if h.Len() == h.limit {
		h.dropped++
	}
	h.buf[h.head&h.mask] = b
	h.head++
}

// Len returns the number of bars held.
func (h *History) Len() int {
	if h.head < uint64(h.limit) {
		return int(h.head)
	}
	return h.limit
}

// Cap returns the logical capacity.
func (h *History) Cap() int {
	return h.limit
}

// Dropped returns how many bars aged out of the history.
func (h *History) Dropped() uint64 {
	return h.dropped
}

// Latest returns the newest bar.
func (h *History) Latest() (model.Bar, bool) {
	if h.head == 0 {
		return model.Bar{}, false
	}
	return h.buf[(h.head-1)&h.mask], true
}

// Window copies the held bars into a newest-first window. The returned
// window does not alias the ring, so it stays valid after further pushes.
func (h *History) Window() model.Window {
	n := h.Len()
	out := make([]model.Bar, n)
	for i := 0; i < n; i++ {
		out[i] = h.buf[(h.head-1-uint64(i))&h.mask]
	}
	return model.NewWindow(out)
}

// Reset empties the history.
func (h *History) Reset() {
	h.head = 0
	h.dropped = 0
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

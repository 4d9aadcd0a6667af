package feed

import "candlescan/internal/model"

// defaultBacklog is the number of recent envelopes kept for reconnect backfill.
const defaultBacklog = 1000

// backlogEntry is one broadcast envelope kept for replay.
type backlogEntry struct {
	seq   int64
	match model.PatternMatch
	data  []byte
}

// backlog is a fixed-size circular buffer of recent envelopes in sequence
// order. Not safe for concurrent use; the hub guards it with its own lock.
type backlog struct {
	buf  []backlogEntry
	pos  int // next write position
	full bool
}

func newBacklog(capacity int) *backlog {
	if capacity <= 0 {
		capacity = defaultBacklog
	}
	return &backlog{buf: make([]backlogEntry, capacity)}
}

// push appends an entry, overwriting the oldest when full.
func (b *backlog) push(e backlogEntry) {
	b.buf[b.pos] = e
	b.pos = (b.pos + 1) % len(b.buf)
	if b.pos == 0 {
		b.full = true
	}
}

func (b *backlog) len() int {
	if b.full {
		return len(b.buf)
	}
	return b.pos
}

// since returns the entries with seq > after, oldest first.
func (b *backlog) since(after int64) []backlogEntry {
	var out []backlogEntry
	n := b.len()
	for i := 0; i < n; i++ {
		idx := i
		if b.full {
			idx = (b.pos + i) % len(b.buf)
		}
		if e := b.buf[idx]; e.seq > after {
			out = append(out, e)
		}
	}
	return out
}

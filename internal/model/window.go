package model

// Window is a read-only, newest-first view over a bar sequence: At(0) is the
// current bar and larger indexes are older. A Window built with NewWindow
// shares the caller's slice, so the caller must not modify it while the view
// is in use.
type Window struct {
	bars []Bar
}

// NewWindow wraps bars, which must already be ordered newest first.
func NewWindow(bars []Bar) Window {
	return Window{bars: bars}
}

// WindowFromOldest copies an oldest-first sequence (the order storage and
// replay produce) into a newest-first window.
func WindowFromOldest(bars []Bar) Window {
	out := make([]Bar, len(bars))
	for i, b := range bars {
		out[len(bars)-1-i] = b
	}
	return Window{bars: out}
}

// Len returns the number of bars in the window.
func (w Window) Len() int { return len(w.bars) }

// Empty reports whether the window has no bars.
func (w Window) Empty() bool { return len(w.bars) == 0 }

// At returns the bar i positions back from the current one. It panics when i
// is out of range, like a slice index.
func (w Window) At(i int) Bar { return w.bars[i] }

// Current returns the newest bar.
func (w Window) Current() Bar { return w.bars[0] }

// Shift returns the older sub-window in which bar k becomes the current bar.
// Shifting past the end yields an empty window.
func (w Window) Shift(k int) Window {
	if k <= 0 {
		return w
	}
	if k >= len(w.bars) {
		return Window{}
	}
	return Window{bars: w.bars[k:]}
}

// Head returns the n most recent bars.
func (w Window) Head(n int) Window {
	if n >= len(w.bars) {
		return w
	}
	if n <= 0 {
		return Window{}
	}
	return Window{bars: w.bars[:n]}
}

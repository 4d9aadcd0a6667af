package ringbuf

import (
	"testing"

	"candlescan/internal/model"
)

func closes(w model.Window) []float64 {
	out := make([]float64, w.Len())
	for i := range out {
		out[i] = w.At(i).Close
	}
	return out
}

func TestHistory_BasicPush(t *testing.T) {
	h := NewHistory(4)

	if _, ok := h.Latest(); ok {
		t.Fatal("empty history should have no latest bar")
	}
	if !h.Window().Empty() {
		t.Fatal("empty history should yield an empty window")
	}

	h.Push(model.Bar{Close: 1})
	h.Push(model.Bar{Close: 2})

	if h.Len() != 2 {
		t.Fatalf("expected len=2, got %d", h.Len())
	}
	b, ok := h.Latest()
	if !ok || b.Close != 2 {
		t.Fatalf("expected latest close=2, got %v ok=%v", b.Close, ok)
	}

	got := closes(h.Window())
	if len(got) != 2 || got[0] != 2 || got[1] != 1 {
		t.Fatalf("expected newest-first [2 1], got %v", got)
	}
}

func TestHistory_OverwritesOldest(t *testing.T) {
	h := NewHistory(3) // backing size 4, logical limit 3

	for i := 1; i <= 5; i++ {
		h.Push(model.Bar{Close: float64(i)})
	}

	if h.Len() != 3 || h.Cap() != 3 {
		t.Fatalf("expected len=cap=3, got len=%d cap=%d", h.Len(), h.Cap())
	}
	if h.Dropped() != 2 {
		t.Fatalf("expected dropped=2, got %d", h.Dropped())
	}
	got := closes(h.Window())
	want := []float64{5, 4, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestHistory_Wraparound(t *testing.T) {
	h := NewHistory(4)

	// Push many rounds to wrap the backing slice several times.
	for i := 0; i < 103; i++ {
		h.Push(model.Bar{Close: float64(i)})
	}
	got := closes(h.Window())
	want := []float64{102, 101, 100, 99}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestHistory_WindowDoesNotAlias(t *testing.T) {
	h := NewHistory(2)
	h.Push(model.Bar{Close: 1})
	h.Push(model.Bar{Close: 2})
	w := h.Window()

	h.Push(model.Bar{Close: 3})
	if w.Current().Close != 2 || w.At(1).Close != 1 {
		t.Fatalf("window changed after push: %v", closes(w))
	}
}

func TestHistory_Reset(t *testing.T) {
	h := NewHistory(2)
	h.Push(model.Bar{Close: 1})
	h.Push(model.Bar{Close: 2})
	h.Push(model.Bar{Close: 3})
	h.Reset()

	if h.Len() != 0 || h.Dropped() != 0 {
		t.Fatalf("expected empty history, got len=%d dropped=%d", h.Len(), h.Dropped())
	}
}

func TestHistory_MinimumLimit(t *testing.T) {
	h := NewHistory(0)
	h.Push(model.Bar{Close: 1})
	h.Push(model.Bar{Close: 2})
	if h.Len() != 1 || h.Window().Current().Close != 2 {
		t.Fatalf("expected single newest bar, got %v", closes(h.Window()))
	}
}

func TestNextPow2(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {5, 8}, {7, 8}, {8, 8}, {9, 16}, {1023, 1024},
	}
	for _, tc := range cases {
		got := nextPow2(tc.in)
		if got != tc.want {
			t.Errorf("nextPow2(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

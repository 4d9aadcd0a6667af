package candle

import "candlescan/internal/model"

// Predicate tests a series at its current bar. Predicates never fail: a
// series too short for the test yields false.
type Predicate func(s Series) bool

// BarPredicate tests a single bar.
type BarPredicate func(b model.Bar) bool

// And returns a predicate true when both p and q hold.
func (p Predicate) And(q Predicate) Predicate {
	return func(s Series) bool { return p(s) && q(s) }
}

// Or returns a predicate true when p or q holds.
func (p Predicate) Or(q Predicate) Predicate {
	return func(s Series) bool { return p(s) || q(s) }
}

// Not negates p.
func (p Predicate) Not() Predicate {
	return func(s Series) bool { return !p(s) }
}

// All holds when every predicate holds. All() with no arguments is true.
func All(ps ...Predicate) Predicate {
	return func(s Series) bool {
		for _, p := range ps {
			if !p(s) {
				return false
			}
		}
		return true
	}
}

// Any holds when at least one predicate holds. Any() with no arguments is false.
func Any(ps ...Predicate) Predicate {
	return func(s Series) bool {
		for _, p := range ps {
			if p(s) {
				return true
			}
		}
		return false
	}
}

// Not negates p.
func Not(p Predicate) Predicate { return p.Not() }

// Ago evaluates p on the series as it was k bars ago. When fewer than k+1
// bars exist the result is false.
func Ago(k int, p Predicate) Predicate {
	return func(s Series) bool {
		if k >= s.Len() {
			return false
		}
		return p(s.Shift(k))
	}
}

// MinBars guards p so that it is false on series shorter than n.
func MinBars(n int, p Predicate) Predicate {
	return func(s Series) bool {
		if s.Len() < n {
			return false
		}
		return p(s)
	}
}

// And returns a bar predicate true when both p and q hold.
func (p BarPredicate) And(q BarPredicate) BarPredicate {
	return func(b model.Bar) bool { return p(b) && q(b) }
}

// Or returns a bar predicate true when p or q holds.
func (p BarPredicate) Or(q BarPredicate) BarPredicate {
	return func(b model.Bar) bool { return p(b) || q(b) }
}

// Not negates p.
func (p BarPredicate) Not() BarPredicate {
	return func(b model.Bar) bool { return !p(b) }
}

// At lifts p to test bar i of a series. It is false when bar i does not exist.
func (p BarPredicate) At(i int) Predicate {
	return func(s Series) bool {
		if i < 0 || i >= s.Len() {
			return false
		}
		return p(s.Bar(i))
	}
}

// Current lifts p to test the current bar.
func (p BarPredicate) Current() Predicate { return p.At(0) }

// At lifts a bar test to bar i. It is shorthand for BarPredicate(p).At(i).
func At(i int, p BarPredicate) Predicate { return p.At(i) }

// Is lifts a bar test to the current bar.
func Is(p BarPredicate) Predicate { return p.At(0) }

package model

import (
	"fmt"
	"time"
)

// Bar is one period of OHLC prices. It is a value type: copies are independent
// and nothing in the engine mutates a bar once constructed.
type Bar struct {
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
	TS    time.Time `json:"ts"` // bucket start time
}

// NewBar builds a bar and rejects one whose high is below its low.
func NewBar(open, high, low, close float64, ts time.Time) (Bar, error) {
	b := Bar{Open: open, High: high, Low: low, Close: close, TS: ts}
	if err := b.Validate(); err != nil {
		return Bar{}, err
	}
	return b, nil
}

// Validate checks the minimal structural invariant high >= low. The stricter
// containment of open and close inside [low, high] is left to the caller.
func (b Bar) Validate() error {
	if b.High < b.Low {
		return fmt.Errorf("%w: high %.6f below low %.6f", ErrInvalidArgument, b.High, b.Low)
	}
	return nil
}

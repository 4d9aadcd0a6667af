package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// TFCandle is a resampled OHLC candle for one instrument and timeframe as
// published by the market-data pipeline. TF is the timeframe in seconds.
// Prices are in paise (int64) to avoid floating-point drift on the wire.
type TFCandle struct {
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"`      // timeframe in seconds
	TS       time.Time `json:"ts"`      // bucket start time (UTC, TF-aligned)
	Open     int64     `json:"open"`    // paise
	High     int64     `json:"high"`    // paise
	Low      int64     `json:"low"`     // paise
	Close    int64     `json:"close"`   // paise
	Volume   int64     `json:"volume"`  // cumulative quantity
	Count    int       `json:"count"`   // number of 1s candles merged
	Forming  bool      `json:"forming"` // true if bucket is still open
}

// Key returns "exchange:token".
func (c *TFCandle) Key() string {
	return c.Exchange + ":" + c.Token
}

// StreamKey returns the Redis stream key: "candle:{TF}s:{exchange}:{token}".
func (c *TFCandle) StreamKey() string {
	return "candle:" + strconv.Itoa(c.TF) + "s:" + c.Exchange + ":" + c.Token
}

// JSON returns the JSON-encoded TF candle.
func (c *TFCandle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Bar converts the candle into a price bar (paise → rupees) and validates it.
func (c *TFCandle) Bar() (Bar, error) {
	return NewBar(
		float64(c.Open)/100.0,
		float64(c.High)/100.0,
		float64(c.Low)/100.0,
		float64(c.Close)/100.0,
		c.TS,
	)
}

// PatternMatch records one candlestick formation detected on the closing bar
// of an instrument's window.
type PatternMatch struct {
	Pattern   string    `json:"pattern"`   // e.g. "LONG_WHITE_CANDLE"
	Direction string    `json:"direction"` // "bullish", "bearish" or "neutral"
	Token     string    `json:"token"`
	Exchange  string    `json:"exchange"`
	TF        int       `json:"tf"` // timeframe in seconds
	TS        time.Time `json:"ts"` // timestamp of the bar that completed the pattern
	Close     float64   `json:"close"`
	Live      bool      `json:"live,omitempty"` // evaluated on a still-forming bar
}

// Key returns "exchange:token".
func (m *PatternMatch) Key() string {
	return m.Exchange + ":" + m.Token
}

// StreamKey returns the Redis stream key: "pat:{TF}s:{exchange}:{token}".
func (m *PatternMatch) StreamKey() string {
	return "pat:" + strconv.Itoa(m.TF) + "s:" + m.Exchange + ":" + m.Token
}

// LatestKey returns the Redis key holding the newest match of this pattern.
func (m *PatternMatch) LatestKey() string {
	return "pat:" + m.Pattern + ":" + strconv.Itoa(m.TF) + "s:latest:" + m.Exchange + ":" + m.Token
}

// PubSubChannel returns the channel live subscribers listen on.
func (m *PatternMatch) PubSubChannel() string {
	return "pub:" + m.StreamKey()
}

// JSON returns the JSON-encoded match.
func (m *PatternMatch) JSON() []byte {
	b, _ := json.Marshal(m)
	return b
}

package patengine

import "time"

const (
	latencyAlpha         = 0.2
	latencyPublishPeriod = 2 * time.Second
)

// latencyTracker keeps an EWMA of scan latency in milliseconds and rate
// limits how often it is published.
type latencyTracker struct {
	ewmaMs      float64
	samples     int
	lastPublish time.Time
}

func (l *latencyTracker) observe(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0
	if l.samples == 0 {
		l.ewmaMs = ms
	} else {
		l.ewmaMs = l.ewmaMs*(1.0-latencyAlpha) + ms*latencyAlpha
	}
	l.samples++
}

func (l *latencyTracker) value() float64 { return l.ewmaMs }

// due reports whether a publish is owed at now and, if so, records it.
func (l *latencyTracker) due(now time.Time) bool {
	if l.samples == 0 || now.Sub(l.lastPublish) < latencyPublishPeriod {
		return false
	}
	l.lastPublish = now
	return true
}

package notification

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultQueueSize = 256
	deliverTimeout   = 15 * time.Second
)

// Dispatcher delivers alerts on its own goroutine so callers never wait on
// a remote endpoint. Alerts are dropped when the queue is full.
type Dispatcher struct {
	n  Notifier
	ch chan Alert

	// OnError is called for every failed delivery (for metrics).
	OnError func(err error)
}

// NewDispatcher creates a dispatcher in front of n.
func NewDispatcher(n Notifier, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{n: n, ch: make(chan Alert, queueSize)}
}

// Notify queues an alert and reports whether it was accepted.
func (d *Dispatcher) Notify(a Alert) bool {
	select {
	case d.ch <- a:
		return true
	default:
		slog.Warn("alert queue full, dropping", slog.String("title", a.Title))
		return false
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-d.ch:
			sctx, cancel := context.WithTimeout(ctx, deliverTimeout)
			err := d.n.Send(sctx, a)
			cancel()
			if err != nil {
				slog.Error("alert delivery failed",
					slog.String("title", a.Title), slog.String("error", err.Error()))
				if d.OnError != nil {
					d.OnError(err)
				}
			}
		}
	}
}

// Package notification delivers alerts about detected patterns and engine
// incidents to external channels (webhooks, Telegram).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"candlescan/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel          `json:"level"`
	Title   string              `json:"title"`
	Message string              `json:"message"`
	At      time.Time           `json:"at"`
	Match   *model.PatternMatch `json:"match,omitempty"` // set for pattern alerts
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	slog.Info("alert",
		slog.String("level", string(alert.Level)),
		slog.String("title", alert.Title),
		slog.String("message", alert.Message))
	return nil
}

// Multi sends every alert to all of its notifiers.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MatchAlert describes a closed-bar pattern match.
func MatchAlert(m model.PatternMatch) Alert {
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("%s on %s (%ds)", m.Pattern, m.Key(), m.TF),
		Message: fmt.Sprintf("%s %s at %s, close %.2f",
			strings.ToLower(m.Direction), m.Pattern, m.TS.UTC().Format("2006-01-02 15:04"), m.Close),
		At:    m.TS,
		Match: &m,
	}
}

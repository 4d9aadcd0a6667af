package patengine

import (
	"fmt"

	"candlescan/config"
	"candlescan/internal/model"
	"candlescan/internal/notification"
	"candlescan/internal/pattern"
)

// newAlerts builds the alert dispatcher. Alerts always go to the log and
// additionally to every configured webhook or Telegram chat.
func newAlerts(cfg *config.Config, catalog *pattern.Catalog) (*notification.Dispatcher, map[string]bool, error) {
	on := make(map[string]bool)
	for _, name := range cfg.ParseAlertPatterns() {
		if _, ok := catalog.Lookup(name); !ok {
			return nil, nil, fmt.Errorf("ALERT_PATTERNS: %w: %s", pattern.ErrUnknownPattern, name)
		}
		on[name] = true
	}

	notifiers := notification.Multi{notification.NewLogNotifier()}
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	if cfg.TelegramBotToken != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	return notification.NewDispatcher(notifiers, 0), on, nil
}

// alert raises a notification for every closed match of an alerting pattern.
func (svc *Service) alert(matches []model.PatternMatch) {
	if svc.alerts == nil || len(svc.alertOn) == 0 {
		return
	}
	for _, m := range matches {
		if !m.Live && svc.alertOn[m.Pattern] {
			svc.alerts.Notify(notification.MatchAlert(m))
		}
	}
}

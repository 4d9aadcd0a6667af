package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier sends alerts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  telegramAPI,
		client:   newHTTPClient(),
	}
}

// RateLimitError is returned when Telegram answers 429.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	url := t.apiBase + "/bot" + t.botToken + "/sendMessage"
	body, err := postJSON(ctx, t.client, url, map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       formatTelegram(alert),
		"parse_mode": "MarkdownV2",
	})

	var resp telegramResponse
	if len(body) > 0 {
		json.Unmarshal(body, &resp)
	}
	var se *StatusError
	switch {
	case errors.As(err, &se) && se.Status == http.StatusTooManyRequests:
		return fmt.Errorf("telegram: %w", &RateLimitError{RetryAfter: time.Duration(resp.Parameters.RetryAfter) * time.Second})
	case err != nil && resp.Description != "":
		return fmt.Errorf("telegram: %s: %w", resp.Description, err)
	case err != nil:
		return fmt.Errorf("telegram: %w", err)
	case len(body) > 0 && !resp.OK:
		return fmt.Errorf("telegram: %s", resp.Description)
	}

	slog.Debug("telegram alert sent", slog.String("title", alert.Title))
	return nil
}

// formatTelegram renders an alert as MarkdownV2. Pattern alerts get a
// marker for their direction, others one for their level.
func formatTelegram(a Alert) string {
	marker := "🔔"
	switch {
	case a.Match != nil && a.Match.Direction == "bullish":
		marker = "🟢"
	case a.Match != nil && a.Match.Direction == "bearish":
		marker = "🔴"
	case a.Level == AlertWarning:
		marker = "⚠️"
	case a.Level == AlertCritical:
		marker = "🚨"
	}
	return marker + " *" + escapeMarkdown(a.Title) + "*\n\n" + escapeMarkdown(a.Message)
}

var markdownEscaper = strings.NewReplacer(
	"_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`,
	"~", `\~`, "`", "\\`", ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`,
	"=", `\=`, "|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
)

// escapeMarkdown escapes the characters MarkdownV2 reserves.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

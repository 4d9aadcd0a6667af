package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the pattern engine configuration, read from the environment.
type Config struct {
	// Endpoints
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	FeedAddr      string

	// Subscription (comma-separated "EXCHANGE:TOKEN" pairs, e.g. "NSE:2885,NSE:1594")
	SubscribeTokens string

	// Scanned timeframes in seconds, comma-separated, e.g. "60,300,900"
	EnabledTFs string

	// Redis consumer group identity
	ConsumerGroup string
	ConsumerName  string

	// Scanning
	WindowSize    int
	CacheCapacity int
	Patterns      string // comma-separated pattern names; empty = all

	// Alerts (all optional)
	AlertWebhookURL  string
	TelegramBotToken string
	TelegramChatID   string
	AlertPatterns    string // comma-separated pattern names that trigger alerts; empty = none

	LogLevel string
}

// Load reads the environment, falling back to defaults.
// Variables from a .env file in the working directory are applied first
// unless already set in the environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env file", slog.String("error", err.Error()))
	}

	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/candles.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9091"),
		FeedAddr:      getEnv("FEED_ADDR", ":9092"),

		SubscribeTokens: getEnv("SUBSCRIBE_TOKENS", "NSE:99926000"),

		EnabledTFs: getEnv("ENABLED_TFS", "60,300,900"),

		ConsumerGroup: getEnv("CONSUMER_GROUP", "patengine"),
		ConsumerName:  getEnv("CONSUMER_NAME", hostname()),

		WindowSize:    getEnvInt("WINDOW_SIZE", 50),
		CacheCapacity: getEnvInt("CACHE_CAPACITY", 20),
		Patterns:      getEnv("PATTERNS", ""),

		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		AlertPatterns:    getEnv("ALERT_PATTERNS", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// ParseTFs parses the EnabledTFs string into a slice of timeframe durations in seconds.
func (c *Config) ParseTFs() []int {
	parts := strings.Split(c.EnabledTFs, ",")
	tfs := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			slog.Warn("skipping invalid TF value", slog.String("value", p))
			continue
		}
		tfs = append(tfs, n)
	}
	return tfs
}

// ParseTokenKeys parses SubscribeTokens into "EXCHANGE:TOKEN" keys.
func (c *Config) ParseTokenKeys() []string {
	parts := strings.Split(c.SubscribeTokens, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		ex, tok, ok := strings.Cut(p, ":")
		if !ok || ex == "" || tok == "" {
			slog.Warn("skipping invalid token key", slog.String("value", p))
			continue
		}
		keys = append(keys, strings.ToUpper(ex)+":"+tok)
	}
	return keys
}

// ParsePatterns parses the Patterns filter. An empty result means all patterns.
func (c *Config) ParsePatterns() []string {
	return parseNames(c.Patterns)
}

// ParseAlertPatterns parses the patterns that raise alerts.
func (c *Config) ParseAlertPatterns() []string {
	return parseNames(c.AlertPatterns)
}

func parseNames(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// StreamKeys returns the candle stream for every configured TF and token:
// "candle:{tf}s:{exchange}:{token}".
func (c *Config) StreamKeys() []string {
	tfs := c.ParseTFs()
	keys := c.ParseTokenKeys()
	out := make([]string, 0, len(tfs)*len(keys))
	for _, tf := range tfs {
		for _, k := range keys {
			out = append(out, "candle:"+strconv.Itoa(tf)+"s:"+k)
		}
	}
	return out
}

// Validate reports configuration that would keep the engine from running.
func (c *Config) Validate() error {
	var errs []error
	if len(c.ParseTFs()) == 0 {
		errs = append(errs, fmt.Errorf("ENABLED_TFS %q has no valid timeframe", c.EnabledTFs))
	}
	if len(c.ParseTokenKeys()) == 0 {
		errs = append(errs, fmt.Errorf("SUBSCRIBE_TOKENS %q has no valid EXCHANGE:TOKEN pair", c.SubscribeTokens))
	}
	if c.WindowSize < 1 {
		errs = append(errs, fmt.Errorf("WINDOW_SIZE must be positive, got %d", c.WindowSize))
	}
	if c.CacheCapacity < 1 {
		errs = append(errs, fmt.Errorf("CACHE_CAPACITY must be positive, got %d", c.CacheCapacity))
	}
	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together"))
	}
	if c.ConsumerGroup == "" {
		errs = append(errs, errors.New("CONSUMER_GROUP must not be empty"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		slog.Warn("invalid integer env var, using default",
			slog.String("key", key), slog.String("value", v), slog.Int("default", fallback))
		return fallback
	}
	return n
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "patengine-1"
	}
	return h
}

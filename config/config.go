// Package config centralises runtime configuration for the bridge.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/tradewire/alpacabridge/errs"
)

// Environment identifies the runtime environment where the bridge operates.
type Environment string

const (
	// EnvPaper targets the venue's paper-trading endpoints.
	EnvPaper Environment = "paper"
	// EnvLive targets the venue's live-trading endpoints.
	EnvLive Environment = "live"
)

// Credentials captures venue credentials. Either the key/secret pair or the
// OAuth access token must be present.
type Credentials struct {
	APIKey      string
	APISecret   string
	AccessToken string
}

// Validate enforces the credential contract.
func (c Credentials) Validate() error {
	hasKeyPair := strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.APISecret) != ""
	hasToken := strings.TrimSpace(c.AccessToken) != ""
	if !hasKeyPair && !hasToken {
		return errs.Config("either an API key/secret pair or an access token is required")
	}
	return nil
}

// Settings contains the bridge configuration tree loaded from defaults and overrides.
type Settings struct {
	Environment Environment
	Credentials Credentials

	TradingBaseURL string
	DataBaseURL    string
	TradingWSURL   string
	DataWSBaseURL  string

	// Feed tiers per market-data channel, tried in priority order.
	EquityFeeds []string
	OptionFeeds []string
	CryptoFeeds []string

	HTTPTimeout      time.Duration
	HandshakeTimeout time.Duration
	ConfirmTimeout   time.Duration

	JournalDSN   string
	LogLevel     string
	OTLPEndpoint string
}

// Default returns the default bridge configuration.
func Default() Settings {
	return Settings{
		Environment:      EnvLive,
		Credentials:      Credentials{APIKey: "", APISecret: "", AccessToken: ""},
		TradingBaseURL:   "https://api.alpaca.markets",
		DataBaseURL:      "https://data.alpaca.markets",
		TradingWSURL:     "wss://api.alpaca.markets/stream",
		DataWSBaseURL:    "wss://stream.data.alpaca.markets",
		EquityFeeds:      []string{"sip", "iex"},
		OptionFeeds:      []string{"opra", "indicative"},
		CryptoFeeds:      []string{"us"},
		HTTPTimeout:      10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		ConfirmTimeout:   10 * time.Second,
		JournalDSN:       "",
		LogLevel:         "info",
		OTLPEndpoint:     "",
	}
}

// FromEnv loads configuration values from environment variables, overriding defaults.
func FromEnv() Settings {
	cfg := Default()
	if env := strings.TrimSpace(os.Getenv("BRIDGE_ENV")); env != "" {
		cfg.Environment = Environment(strings.ToLower(env))
	}
	if cfg.Environment == EnvPaper {
		cfg.TradingBaseURL = "https://paper-api.alpaca.markets"
		cfg.TradingWSURL = "wss://paper-api.alpaca.markets/stream"
	}

	if v := strings.TrimSpace(os.Getenv("APCA_API_KEY_ID")); v != "" {
		cfg.Credentials.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("APCA_API_SECRET_KEY")); v != "" {
		cfg.Credentials.APISecret = v
	}
	if v := strings.TrimSpace(os.Getenv("APCA_ACCESS_TOKEN")); v != "" {
		cfg.Credentials.AccessToken = v
	}
	if v := strings.TrimSpace(os.Getenv("APCA_TRADING_BASE_URL")); v != "" {
		cfg.TradingBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("APCA_DATA_BASE_URL")); v != "" {
		cfg.DataBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("APCA_TRADING_WS_URL")); v != "" {
		cfg.TradingWSURL = v
	}
	if v := strings.TrimSpace(os.Getenv("APCA_DATA_WS_URL")); v != "" {
		cfg.DataWSBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("APCA_EQUITY_FEEDS")); v != "" {
		cfg.EquityFeeds = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("APCA_OPTION_FEEDS")); v != "" {
		cfg.OptionFeeds = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("APCA_CRYPTO_FEEDS")); v != "" {
		cfg.CryptoFeeds = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("APCA_HTTP_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.HTTPTimeout = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("APCA_CONFIRM_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.ConfirmTimeout = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("BRIDGE_JOURNAL_DSN")); v != "" {
		cfg.JournalDSN = v
	}
	if v := strings.TrimSpace(os.Getenv("BRIDGE_LOG_LEVEL")); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("BRIDGE_OTLP_ENDPOINT")); v != "" {
		cfg.OTLPEndpoint = v
	}
	return cfg
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig captures the optional YAML configuration tree.
type FileConfig struct {
	Environment string            `yaml:"environment"`
	Trading     TradingConfig     `yaml:"trading"`
	MarketData  MarketDataConfig  `yaml:"marketData"`
	Journal     JournalConfig     `yaml:"journal"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Timeouts    TimeoutConfig     `yaml:"timeouts"`
	Credentials CredentialsConfig `yaml:"credentials"`
}

// TradingConfig declares trading-surface endpoints.
type TradingConfig struct {
	BaseURL string `yaml:"baseUrl"`
	WSURL   string `yaml:"wsUrl"`
}

// MarketDataConfig declares market-data endpoints and feed tiers per channel.
type MarketDataConfig struct {
	BaseURL     string   `yaml:"baseUrl"`
	WSBaseURL   string   `yaml:"wsBaseUrl"`
	EquityFeeds []string `yaml:"equityFeeds"`
	OptionFeeds []string `yaml:"optionFeeds"`
	CryptoFeeds []string `yaml:"cryptoFeeds"`
}

// JournalConfig controls the optional order-event journal.
type JournalConfig struct {
	DSN string `yaml:"dsn"`
}

// TelemetryConfig controls metric export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// TimeoutConfig bounds blocking operations.
type TimeoutConfig struct {
	HTTP      Duration `yaml:"http"`
	Handshake Duration `yaml:"handshake"`
	Confirm   Duration `yaml:"confirm"`
}

// Duration decodes Go duration strings ("10s") from YAML scalars.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// CredentialsConfig mirrors Credentials for file-based configuration.
type CredentialsConfig struct {
	APIKey      string `yaml:"apiKey"`
	APISecret   string `yaml:"apiSecret"`
	AccessToken string `yaml:"accessToken"`
}

// LoadFile merges the YAML file at path over base. A missing file is not an
// error; the second return reports whether a file was loaded.
func LoadFile(path string, base Settings) (Settings, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, false, nil
		}
		return base, false, fmt.Errorf("read config %s: %w", path, err)
	}
	var file FileConfig
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return base, false, fmt.Errorf("parse config %s: %w", path, err)
	}
	return merge(base, file), true, nil
}

func merge(cfg Settings, file FileConfig) Settings {
	if file.Environment != "" {
		cfg.Environment = Environment(file.Environment)
	}
	if file.Trading.BaseURL != "" {
		cfg.TradingBaseURL = file.Trading.BaseURL
	}
	if file.Trading.WSURL != "" {
		cfg.TradingWSURL = file.Trading.WSURL
	}
	if file.MarketData.BaseURL != "" {
		cfg.DataBaseURL = file.MarketData.BaseURL
	}
	if file.MarketData.WSBaseURL != "" {
		cfg.DataWSBaseURL = file.MarketData.WSBaseURL
	}
	if len(file.MarketData.EquityFeeds) > 0 {
		cfg.EquityFeeds = file.MarketData.EquityFeeds
	}
	if len(file.MarketData.OptionFeeds) > 0 {
		cfg.OptionFeeds = file.MarketData.OptionFeeds
	}
	if len(file.MarketData.CryptoFeeds) > 0 {
		cfg.CryptoFeeds = file.MarketData.CryptoFeeds
	}
	if file.Journal.DSN != "" {
		cfg.JournalDSN = file.Journal.DSN
	}
	if file.Telemetry.OTLPEndpoint != "" {
		cfg.OTLPEndpoint = file.Telemetry.OTLPEndpoint
	}
	if file.Timeouts.HTTP > 0 {
		cfg.HTTPTimeout = time.Duration(file.Timeouts.HTTP)
	}
	if file.Timeouts.Handshake > 0 {
		cfg.HandshakeTimeout = time.Duration(file.Timeouts.Handshake)
	}
	if file.Timeouts.Confirm > 0 {
		cfg.ConfirmTimeout = time.Duration(file.Timeouts.Confirm)
	}
	if file.Credentials.APIKey != "" {
		cfg.Credentials.APIKey = file.Credentials.APIKey
	}
	if file.Credentials.APISecret != "" {
		cfg.Credentials.APISecret = file.Credentials.APISecret
	}
	if file.Credentials.AccessToken != "" {
		cfg.Credentials.AccessToken = file.Credentials.AccessToken
	}
	return cfg
}

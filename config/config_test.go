package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tradewire/alpacabridge/errs"
)

func TestCredentialsValidation(t *testing.T) {
	require.NoError(t, Credentials{APIKey: "key", APISecret: "secret"}.Validate())
	require.NoError(t, Credentials{AccessToken: "token"}.Validate())

	err := Credentials{}.Validate()
	require.Error(t, err)
	require.Equal(t, errs.CodeConfig, errs.CodeOf(err))

	// A key without its secret is not a usable pair.
	err = Credentials{APIKey: "key"}.Validate()
	require.Error(t, err)
}

func TestDefaultFeedTiers(t *testing.T) {
	cfg := Default()
	require.Equal(t, []string{"sip", "iex"}, cfg.EquityFeeds)
	require.Equal(t, []string{"opra", "indicative"}, cfg.OptionFeeds)
	require.Equal(t, []string{"us"}, cfg.CryptoFeeds)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("BRIDGE_ENV", "paper")
	t.Setenv("APCA_API_KEY_ID", "key")
	t.Setenv("APCA_API_SECRET_KEY", "secret")
	t.Setenv("APCA_EQUITY_FEEDS", "iex")
	t.Setenv("APCA_CONFIRM_TIMEOUT", "5s")

	cfg := FromEnv()
	require.Equal(t, EnvPaper, cfg.Environment)
	require.Equal(t, "https://paper-api.alpaca.markets", cfg.TradingBaseURL)
	require.Equal(t, "key", cfg.Credentials.APIKey)
	require.Equal(t, []string{"iex"}, cfg.EquityFeeds)
	require.Equal(t, 5*time.Second, cfg.ConfirmTimeout)
}

func TestLoadFileMissingIsNotError(t *testing.T) {
	cfg, loaded, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), Default())
	require.NoError(t, err)
	require.False(t, loaded)
	require.Equal(t, Default().TradingBaseURL, cfg.TradingBaseURL)
}

func TestLoadFileMerges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	body := `
environment: paper
trading:
  baseUrl: https://paper-api.alpaca.markets
marketData:
  equityFeeds: [iex]
timeouts:
  confirm: 3s
journal:
  dsn: postgres://localhost/bridge
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, loaded, err := LoadFile(path, Default())
	require.NoError(t, err)
	require.True(t, loaded)
	require.Equal(t, EnvPaper, cfg.Environment)
	require.Equal(t, []string{"iex"}, cfg.EquityFeeds)
	require.Equal(t, 3*time.Second, cfg.ConfirmTimeout)
	require.Equal(t, "postgres://localhost/bridge", cfg.JournalDSN)
	// Untouched keys keep their defaults.
	require.Equal(t, []string{"opra", "indicative"}, cfg.OptionFeeds)
}

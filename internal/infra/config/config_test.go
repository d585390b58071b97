package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
telegram:
  bot_token: "123:abc"
  admin_chat_ids: [100, 200]
chain:
  kind: solana
  token_address: "So11111111111111111111111111111111111111112"
  fetch_limit: 50
  poll_interval: 3s
settings:
  backend: bunt
  path: settings.db
`

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0644))
	return dir
}

func TestLoadConfigFromYAML(t *testing.T) {
	dir := writeYAML(t, sampleYAML)

	cfg, err := LoadConfig(nil, dir)
	require.NoError(t, err)

	require.Equal(t, "123:abc", cfg.Telegram.BotToken)
	require.Equal(t, []int64{100, 200}, cfg.Telegram.AdminChatIDs)
	require.Equal(t, 50, cfg.Chain.FetchLimit)
	require.Equal(t, 3*time.Second, cfg.Chain.PollInterval)
	require.Equal(t, cfg.Chain.TokenAddress, cfg.Chain.WatchAddress)
	require.Equal(t, "bunt", cfg.Settings.Backend)
	require.Equal(t, 5, cfg.RateLimit.PlatformPerInterval)
	require.Equal(t, time.Second, cfg.RateLimit.Interval)
}

func TestEnvOverridesYAML(t *testing.T) {
	dir := writeYAML(t, sampleYAML)
	t.Setenv("BUYBOT_CHAIN_FETCH_LIMIT", "7")
	t.Setenv("ADMIN_CHAT_IDS", "1, 2,3")

	cfg, err := LoadConfig(nil, dir)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Chain.FetchLimit)
	require.Equal(t, []int64{1, 2, 3}, cfg.Telegram.AdminChatIDs)
}

func TestChangedFlagWins(t *testing.T) {
	dir := writeYAML(t, sampleYAML)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--settings.backend=sqlite"}))

	cfg, err := LoadConfig(fs, dir)
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Settings.Backend)
	// unchanged flags do not mask the file
	require.Equal(t, 3*time.Second, cfg.Chain.PollInterval)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing token address", "chain:\n  kind: solana\n"},
		{"unknown chain", "chain:\n  kind: tron\n  token_address: x\n"},
		{"evm without pair", "chain:\n  kind: evm\n  token_address: '0xabc'\n  rpc_url: http://localhost:8545\n"},
		{"bad backend", "chain:\n  token_address: x\nsettings:\n  backend: mongo\n"},
		{"bad fetch limit", "chain:\n  token_address: x\n  fetch_limit: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(nil, writeYAML(t, tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestParseChatIDsRejectsGarbage(t *testing.T) {
	_, err := parseChatIDs("12,abc")
	require.Error(t, err)
}

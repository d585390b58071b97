package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"buybot/internal/infra/config"
	"buybot/internal/infra/faults"
	"buybot/internal/infra/metrics"

	"github.com/stretchr/testify/require"
)

func TestOpenStoreBackends(t *testing.T) {
	for _, backend := range []string{"file", "sqlite", "bunt"} {
		t.Run(backend, func(t *testing.T) {
			cfg := &config.Config{Settings: config.SettingsConfig{
				Backend: backend,
				Path:    filepath.Join(t.TempDir(), "settings."+backend),
			}}
			ctx := context.Background()

			store, p, err := openStore(ctx, cfg, metrics.New())
			require.NoError(t, err)
			_, err = store.AddChat(ctx, -100123)
			require.NoError(t, err)
			require.NoError(t, p.Close())

			store, p, err = openStore(ctx, cfg, metrics.New())
			require.NoError(t, err)
			defer p.Close()
			require.Equal(t, []int64{-100123}, store.Chats())
		})
	}
}

func TestOpenStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot_settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	cfg := &config.Config{Settings: config.SettingsConfig{Backend: "file", Path: path}}
	_, _, err := openStore(context.Background(), cfg, metrics.New())
	require.ErrorIs(t, err, faults.ErrStartup)

	cfg.Settings.FallbackOnCorrupt = true
	store, p, err := openStore(context.Background(), cfg, metrics.New())
	require.NoError(t, err)
	defer p.Close()
	require.Empty(t, store.Chats())
}

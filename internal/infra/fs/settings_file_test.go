package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"buybot/internal/settings"

	"github.com/stretchr/testify/require"
)

func TestSettingsFileMissingIsNotFound(t *testing.T) {
	f := NewSettingsFile(filepath.Join(t.TempDir(), "bot_settings.json"))
	_, err := f.Load(context.Background())
	require.ErrorIs(t, err, settings.ErrNotFound)
}

func TestSettingsFileRoundTripThroughStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "bot_settings.json")
	st := settings.NewStore(NewSettingsFile(path), nil)

	_, err := st.SetTracking(ctx, true)
	require.NoError(t, err)
	_, err = st.AddChat(ctx, -100123)
	require.NoError(t, err)

	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))

	again := settings.NewStore(NewSettingsFile(path), nil)
	require.NoError(t, again.Load(ctx, false))
	require.Equal(t, st.Snapshot(), again.Snapshot())
}

func TestSettingsFileReadsLegacyLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot_settings.json")
	legacy := `{"trackingEnabled":true,"buyStep":5,"minBuyAmount":0,"tokenSupply":100000000000,` +
		`"buyImageFileId":"","customEmojis":["🐾"],"dexScreenerUrl":"","holders":[111,222]}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0644))

	st := settings.NewStore(NewSettingsFile(path), nil)
	require.NoError(t, st.Load(context.Background(), false))

	got := st.Snapshot()
	require.True(t, got.TrackingEnabled)
	require.Equal(t, 5.0, got.BuyStep)
	require.Equal(t, []string{"🐾"}, got.CustomEmojis)
	require.Equal(t, []int64{111, 222}, got.Chats())
}

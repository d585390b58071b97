package log

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitWritesFileLines(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(Options{Dir: dir, Level: "debug"}))
	t.Cleanup(func() { _ = Init(Options{}) })

	LogWarn("settings persist failed", zap.Int64("chat_id", 42), zap.Error(errors.New("disk full")))
	LogDebug("poll finished", zap.Int("records", 3))
	Sync()

	data, err := os.ReadFile(filepath.Join(dir, "app.log"))
	require.NoError(t, err)

	out := string(data)
	require.Contains(t, out, "WARN settings persist failed")
	require.Contains(t, out, `"chat_id":42`)
	require.Contains(t, out, `"error":"disk full"`)
	require.Contains(t, out, "DEBUG poll finished")
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	require.Error(t, Init(Options{Level: "loud"}))
}

func TestGenerateRequestID(t *testing.T) {
	a, b := GenerateRequestID(), GenerateRequestID()
	require.Len(t, a, 16)
	require.NotEqual(t, a, b)
}

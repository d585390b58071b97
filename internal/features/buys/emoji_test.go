package buys

import (
	"math"
	"math/rand/v2"
	"strings"
	"testing"
	"unicode/utf8"

	"buybot/internal/settings"

	"github.com/stretchr/testify/require"
)

func TestEmojiCount(t *testing.T) {
	tests := []struct {
		amount, step float64
		want         int
	}{
		{25, 10, 2},
		{9, 10, 0},
		{10, 10, 1},
		{0, 10, 0},
		{-5, 10, 0},
		{3.99, 1, 3},
		{5, 0, 0},
		{math.Inf(1), 1, 0},
		{1e300, 1, math.MaxInt32},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, EmojiCount(tt.amount, tt.step), "amount=%v step=%v", tt.amount, tt.step)
	}
}

func TestEmojiLineCustomEmojisRepeatAsGroup(t *testing.T) {
	st := settings.Defaults()
	st.CustomEmojis = []string{"🐶", "🚀"}
	require.Equal(t, "🐶🚀🐶🚀", EmojiLine(2, st, 200, nil))
	require.Empty(t, EmojiLine(0, st, 200, nil))
}

func TestEmojiLineCyclesLayoutWithoutCustomEmojis(t *testing.T) {
	st := settings.Defaults()
	st.CustomEmojis = nil
	st.SelectedEmojiLayout = settings.LayoutFestive
	require.Equal(t, "🎉🚀🔥🎉", EmojiLine(4, st, 200, nil))

	st.SelectedEmojiLayout = settings.LayoutDefault
	require.Equal(t, "🟢🟢🟢", EmojiLine(3, st, 200, nil))
}

func TestEmojiLineFallsBackToDefaultGlyph(t *testing.T) {
	st := settings.Defaults()
	st.CustomEmojis = nil
	st.SelectedEmojiLayout = "unknown"
	require.Equal(t, strings.Repeat(settings.DefaultGlyph, 2), EmojiLine(2, st, 200, nil))
}

func TestEmojiLineIsCapped(t *testing.T) {
	st := settings.Defaults()
	st.CustomEmojis = []string{"🎉"}
	require.Equal(t, 10, utf8.RuneCountInString(EmojiLine(1_000_000, st, 10, nil)))
	require.Equal(t, DefaultMaxEmojis, utf8.RuneCountInString(EmojiLine(1_000_000, st, 0, nil)))
}

func TestEmojiLineShuffleKeepsGlyphs(t *testing.T) {
	st := settings.Defaults()
	st.CustomEmojis = []string{"a", "b", "c", "d"}
	st.Shuffle = true

	line := EmojiLine(3, st, 200, rand.New(rand.NewPCG(1, 2)))
	require.Len(t, line, 12)
	for _, g := range st.CustomEmojis {
		require.Equal(t, 3, strings.Count(line, g))
	}
}

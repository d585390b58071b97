package buys

import (
	"math"
	"math/rand/v2"
	"strings"

	"buybot/internal/settings"
)

// EmojiCount is floor(amount / step), never negative.
func EmojiCount(amount, step float64) int {
	if step <= 0 || amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0
	}
	n := math.Floor(amount / step)
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}

// DefaultMaxEmojis keeps the emoji line well inside the Telegram caption limit.
const DefaultMaxEmojis = 200

// EmojiLine renders count emoji units. Custom emojis are repeated as a group;
// without them the layout glyphs are cycled. At most maxGlyphs glyphs are
// emitted (<= 0 means DefaultMaxEmojis). rnd is used only when shuffle is on.
func EmojiLine(count int, st settings.Settings, maxGlyphs int, rnd *rand.Rand) string {
	if count <= 0 {
		return ""
	}
	if maxGlyphs <= 0 {
		maxGlyphs = DefaultMaxEmojis
	}

	set := st.CustomEmojis
	total := count
	if len(set) > 0 {
		total = count * len(set)
	} else {
		set = st.SelectedEmojiLayout.Glyphs()
		if len(set) == 0 {
			set = []string{settings.DefaultGlyph}
		}
	}
	total = min(total, maxGlyphs)

	glyphs := make([]string, total)
	for i := range glyphs {
		glyphs[i] = set[i%len(set)]
	}

	if st.Shuffle && rnd != nil {
		rnd.Shuffle(len(glyphs), func(i, j int) { glyphs[i], glyphs[j] = glyphs[j], glyphs[i] })
	}
	return strings.Join(glyphs, "")
}

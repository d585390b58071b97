// Package settings holds the operator-controlled configuration of the bot.
package settings

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"buybot/internal/infra/faults"

	"github.com/samber/lo"
)

type Layout string

const (
	LayoutDefault Layout = "default"
	LayoutFestive Layout = "festive"
	LayoutSimple  Layout = "simple"
)

// DefaultGlyph is used when neither custom emojis nor a layout yield anything.
const DefaultGlyph = "🟢"

var layoutGlyphs = map[Layout][]string{
	LayoutDefault: {"🟢"},
	LayoutFestive: {"🎉", "🚀", "🔥"},
	LayoutSimple:  {"•"},
}

// Layouts lists the layout names in menu order.
func Layouts() []Layout {
	return []Layout{LayoutDefault, LayoutFestive, LayoutSimple}
}

// Glyphs returns a copy of the layout's emoji cycle, or nil for an unknown layout.
func (l Layout) Glyphs() []string {
	return slices.Clone(layoutGlyphs[l])
}

func ParseLayout(s string) (Layout, error) {
	l := Layout(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := layoutGlyphs[l]; !ok {
		return "", faults.Invalid(fmt.Sprintf("Unknown layout %q. Choose one of: default, festive, simple.", s))
	}
	return l, nil
}

const (
	DefaultBuyStep     = 1.0
	DefaultTokenSupply = 100_000_000_000.0
)

// DefaultEmojis is the emoji set a fresh install starts with.
var DefaultEmojis = []string{"🎉"}

type Settings struct {
	TrackingEnabled     bool
	MinBuyAmount        float64 // quote units, >= 0
	BuyStep             float64 // quote units per emoji, > 0
	TokenSupply         float64
	CustomEmojis        []string
	SelectedEmojiLayout Layout
	BuyImageFileID      string
	DexScreenerURL      string
	SubscribedChats     map[int64]struct{}
	Shuffle             bool
}

func Defaults() Settings {
	return Settings{
		BuyStep:             DefaultBuyStep,
		TokenSupply:         DefaultTokenSupply,
		CustomEmojis:        slices.Clone(DefaultEmojis),
		SelectedEmojiLayout: LayoutDefault,
		SubscribedChats:     map[int64]struct{}{},
	}
}

// Clone returns a deep copy; callers may mutate it freely.
func (s Settings) Clone() Settings {
	out := s
	out.CustomEmojis = slices.Clone(s.CustomEmojis)
	out.SubscribedChats = make(map[int64]struct{}, len(s.SubscribedChats))
	for id := range s.SubscribedChats {
		out.SubscribedChats[id] = struct{}{}
	}
	return out
}

// Chats returns the subscribed chat ids in ascending order.
func (s Settings) Chats() []int64 {
	ids := lo.Keys(s.SubscribedChats)
	slices.Sort(ids)
	return ids
}

func (s Settings) IsSubscribed(chatID int64) bool {
	_, ok := s.SubscribedChats[chatID]
	return ok
}

// Validate checks the invariants every stored Settings value must hold.
func (s Settings) Validate() error {
	if !(s.BuyStep > 0) {
		return faults.Invalid("Buy step must be a number greater than 0.")
	}
	if !(s.MinBuyAmount >= 0) {
		return faults.Invalid("Minimum buy must be 0 or more.")
	}
	if !(s.TokenSupply >= 0) {
		return faults.Invalid("Token supply must be 0 or more.")
	}
	if _, ok := layoutGlyphs[s.SelectedEmojiLayout]; !ok {
		return faults.Invalid(fmt.Sprintf("Unknown layout %q.", s.SelectedEmojiLayout))
	}
	if s.DexScreenerURL != "" {
		if err := ValidateChartURL(s.DexScreenerURL); err != nil {
			return err
		}
	}
	return nil
}

// ValidateChartURL accepts absolute https URLs only.
func ValidateChartURL(raw string) error {
	if !strings.HasPrefix(raw, "https://") {
		return faults.Invalid("Invalid URL format. The chart URL must start with https://")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return faults.Invalid("Invalid URL format. Please enter a valid URL.")
	}
	return nil
}

// CleanEmojis trims entries and drops blanks, keeping order.
func CleanEmojis(in []string) []string {
	return lo.FilterMap(in, func(e string, _ int) (string, bool) {
		e = strings.TrimSpace(e)
		return e, e != ""
	})
}

package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// ErrCorrupt means stored settings exist but are not valid JSON.
var ErrCorrupt = errors.New("stored settings are corrupt")

// record is the stored shape: flat camelCase JSON with the chat set as a sorted list.
// Pointer fields distinguish "absent" from zero so older files pick up defaults.
type record struct {
	TrackingEnabled     *bool    `json:"trackingEnabled,omitempty"`
	MinBuyAmount        *float64 `json:"minBuyAmount,omitempty"`
	BuyStep             *float64 `json:"buyStep,omitempty"`
	TokenSupply         *float64 `json:"tokenSupply,omitempty"`
	CustomEmojis        []string `json:"customEmojis"`
	SelectedEmojiLayout string   `json:"selectedEmojiLayout,omitempty"`
	BuyImageFileID      string   `json:"buyImageFileId"`
	DexScreenerURL      string   `json:"dexScreenerUrl"`
	SubscribedChats     []int64  `json:"subscribedChats"`
	Holders             []int64  `json:"holders,omitempty"` // written by older releases
	Shuffle             bool     `json:"shuffle"`
}

// Encode serializes s into the stored format.
func Encode(s Settings) ([]byte, error) {
	emojis := s.CustomEmojis
	if emojis == nil {
		emojis = []string{}
	}
	rec := record{
		TrackingEnabled:     &s.TrackingEnabled,
		MinBuyAmount:        &s.MinBuyAmount,
		BuyStep:             &s.BuyStep,
		TokenSupply:         &s.TokenSupply,
		CustomEmojis:        emojis,
		SelectedEmojiLayout: string(s.SelectedEmojiLayout),
		BuyImageFileID:      s.BuyImageFileID,
		DexScreenerURL:      s.DexScreenerURL,
		SubscribedChats:     s.Chats(),
		Shuffle:             s.Shuffle,
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	return data, nil
}

// Decode parses stored settings. Values that break an invariant are replaced
// with defaults and reported in repairs; malformed JSON yields ErrCorrupt.
func Decode(data []byte) (s Settings, repairs []string, err error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Settings{}, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	s = Defaults()
	if rec.TrackingEnabled != nil {
		s.TrackingEnabled = *rec.TrackingEnabled
	}
	if rec.MinBuyAmount != nil {
		if *rec.MinBuyAmount >= 0 {
			s.MinBuyAmount = *rec.MinBuyAmount
		} else {
			repairs = append(repairs, fmt.Sprintf("minBuyAmount %v is negative, using 0", *rec.MinBuyAmount))
		}
	}
	if rec.BuyStep != nil {
		if *rec.BuyStep > 0 {
			s.BuyStep = *rec.BuyStep
		} else {
			repairs = append(repairs, fmt.Sprintf("buyStep %v is not positive, using %v", *rec.BuyStep, DefaultBuyStep))
		}
	}
	if rec.TokenSupply != nil {
		if *rec.TokenSupply >= 0 {
			s.TokenSupply = *rec.TokenSupply
		} else {
			repairs = append(repairs, fmt.Sprintf("tokenSupply %v is negative, using default", *rec.TokenSupply))
		}
	}
	if rec.CustomEmojis != nil {
		s.CustomEmojis = CleanEmojis(rec.CustomEmojis)
	}
	if rec.SelectedEmojiLayout != "" {
		if l, err := ParseLayout(rec.SelectedEmojiLayout); err == nil {
			s.SelectedEmojiLayout = l
		} else {
			repairs = append(repairs, fmt.Sprintf("layout %q is unknown, using default", rec.SelectedEmojiLayout))
		}
	}
	s.BuyImageFileID = rec.BuyImageFileID
	if rec.DexScreenerURL != "" {
		if err := ValidateChartURL(rec.DexScreenerURL); err == nil {
			s.DexScreenerURL = rec.DexScreenerURL
		} else {
			repairs = append(repairs, fmt.Sprintf("dexScreenerUrl %q is not an https URL, dropping it", rec.DexScreenerURL))
		}
	}
	for _, id := range slices.Concat(rec.SubscribedChats, rec.Holders) {
		s.SubscribedChats[id] = struct{}{}
	}
	s.Shuffle = rec.Shuffle
	return s, repairs, nil
}

package settings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"buybot/internal/infra/faults"
	log "buybot/internal/infra/log"
	"buybot/internal/infra/metrics"

	"go.uber.org/zap"
)

// ErrNotFound is returned by a Persister that has nothing stored yet.
var ErrNotFound = errors.New("settings not found")

// Persister stores the encoded settings blob.
type Persister interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Close() error
}

// Store is the single owner of Settings. Reads return copies; every change
// goes through Update, is validated, applied in memory, then persisted.
type Store struct {
	mu  sync.RWMutex
	cur Settings

	writeMu   sync.Mutex // serializes mutations and their saves
	persister Persister
	metrics   *metrics.Metrics
	timeout   time.Duration
}

func NewStore(p Persister, m *metrics.Metrics) *Store {
	return &Store{
		cur:       Defaults(),
		persister: p,
		metrics:   m,
		timeout:   5 * time.Second,
	}
}

// Load replaces the in-memory settings with the stored ones. A missing record
// yields defaults. Corrupt data is a startup failure unless fallbackOnCorrupt
// is set; the stored data is never deleted either way.
func (s *Store) Load(ctx context.Context, fallbackOnCorrupt bool) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := s.persister.Load(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		log.LogInfo("No stored settings, starting with defaults")
		s.replace(Defaults())
		return nil
	case err != nil:
		return fmt.Errorf("%w: load settings: %v", faults.ErrStartup, err)
	}

	loaded, repairs, err := Decode(data)
	if err != nil {
		if !fallbackOnCorrupt {
			return fmt.Errorf("%w: %v", faults.ErrStartup, err)
		}
		log.LogWarn("Stored settings are corrupt, starting with defaults", zap.Error(err))
		s.replace(Defaults())
		return nil
	}
	for _, r := range repairs {
		log.LogWarn("Repaired stored setting", zap.String("detail", r))
	}

	s.replace(loaded)
	log.LogSuccess("Settings loaded",
		zap.Bool("tracking", loaded.TrackingEnabled),
		zap.Int("chats", len(loaded.SubscribedChats)))
	return nil
}

func (s *Store) replace(next Settings) {
	s.mu.Lock()
	s.cur = next
	s.mu.Unlock()
	s.metrics.Subscribers(len(next.SubscribedChats))
}

// Snapshot returns a deep copy of the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Clone()
}

// Chats returns the subscribed chats in ascending order.
func (s *Store) Chats() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Chats()
}

// Update applies mutate to a copy, validates it, swaps it in and persists it.
// Validation errors leave the state untouched. A failed save is logged and
// counted but the change stays in memory; the returned error is nil then.
func (s *Store) Update(ctx context.Context, mutate func(*Settings) error) (Settings, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.Snapshot()
	if err := mutate(&next); err != nil {
		return s.Snapshot(), err
	}
	if err := next.Validate(); err != nil {
		return s.Snapshot(), err
	}

	s.replace(next)

	if err := s.save(ctx, next); err != nil {
		s.metrics.PersistFailure()
		log.LogWarn("Settings changed in memory but could not be saved", zap.Error(err))
	}
	return next.Clone(), nil
}

// Flush writes the current settings, e.g. on shutdown.
func (s *Store) Flush(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.save(ctx, s.Snapshot())
}

func (s *Store) save(ctx context.Context, cur Settings) error {
	data, err := Encode(cur)
	if err != nil {
		return fmt.Errorf("%w: %v", faults.ErrPersistence, err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.persister.Save(ctx, data); err != nil {
		return fmt.Errorf("%w: %v", faults.ErrPersistence, err)
	}
	return nil
}

func (s *Store) SetTracking(ctx context.Context, enabled bool) (Settings, error) {
	return s.Update(ctx, func(cur *Settings) error {
		cur.TrackingEnabled = enabled
		return nil
	})
}

// ParseAmount parses operator input like "0.5" or "1,000".
func ParseAmount(raw string) (float64, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, faults.Invalid(fmt.Sprintf("%q is not a number.", raw))
	}
	return v, nil
}

func (s *Store) SetBuyStep(ctx context.Context, step float64) (Settings, error) {
	if !(step > 0) {
		return s.Snapshot(), faults.Invalid("Buy step must be a number greater than 0.")
	}
	return s.Update(ctx, func(cur *Settings) error {
		cur.BuyStep = step
		return nil
	})
}

func (s *Store) SetMinBuy(ctx context.Context, amount float64) (Settings, error) {
	if !(amount >= 0) {
		return s.Snapshot(), faults.Invalid("Minimum buy must be 0 or more.")
	}
	return s.Update(ctx, func(cur *Settings) error {
		cur.MinBuyAmount = amount
		return nil
	})
}

func (s *Store) SetSupply(ctx context.Context, supply float64) (Settings, error) {
	if !(supply > 0) || supply != float64(int64(supply)) {
		return s.Snapshot(), faults.Invalid("Token supply must be a positive whole number.")
	}
	return s.Update(ctx, func(cur *Settings) error {
		cur.TokenSupply = supply
		return nil
	})
}

func (s *Store) SetEmojis(ctx context.Context, emojis []string) (Settings, error) {
	clean := CleanEmojis(emojis)
	if len(clean) == 0 {
		return s.Snapshot(), faults.Invalid("Send at least one emoji, e.g. /setemojis 🚀 🌕")
	}
	return s.Update(ctx, func(cur *Settings) error {
		cur.CustomEmojis = clean
		return nil
	})
}

// SetLayout selects a layout and clears the custom emojis so the layout is what renders.
func (s *Store) SetLayout(ctx context.Context, layout Layout) (Settings, error) {
	if _, ok := layoutGlyphs[layout]; !ok {
		return s.Snapshot(), faults.Invalid(fmt.Sprintf("Unknown layout %q.", layout))
	}
	return s.Update(ctx, func(cur *Settings) error {
		cur.SelectedEmojiLayout = layout
		cur.CustomEmojis = []string{}
		return nil
	})
}

func (s *Store) SetChartURL(ctx context.Context, raw string) (Settings, error) {
	raw = strings.TrimSpace(raw)
	if err := ValidateChartURL(raw); err != nil {
		return s.Snapshot(), err
	}
	return s.Update(ctx, func(cur *Settings) error {
		cur.DexScreenerURL = raw
		return nil
	})
}

func (s *Store) SetBuyImage(ctx context.Context, fileID string) (Settings, error) {
	return s.Update(ctx, func(cur *Settings) error {
		cur.BuyImageFileID = strings.TrimSpace(fileID)
		return nil
	})
}

// AddChat subscribes chatID; added is false when it was already subscribed.
func (s *Store) AddChat(ctx context.Context, chatID int64) (added bool, err error) {
	_, err = s.Update(ctx, func(cur *Settings) error {
		if _, ok := cur.SubscribedChats[chatID]; ok {
			return nil
		}
		cur.SubscribedChats[chatID] = struct{}{}
		added = true
		return nil
	})
	return added, err
}

// RemoveChat unsubscribes chatID; removed is false when it was not subscribed.
func (s *Store) RemoveChat(ctx context.Context, chatID int64) (removed bool, err error) {
	_, err = s.Update(ctx, func(cur *Settings) error {
		if _, ok := cur.SubscribedChats[chatID]; !ok {
			return nil
		}
		delete(cur.SubscribedChats, chatID)
		removed = true
		return nil
	})
	return removed, err
}

func (s *Store) ToggleShuffle(ctx context.Context) (Settings, error) {
	return s.Update(ctx, func(cur *Settings) error {
		cur.Shuffle = !cur.Shuffle
		return nil
	})
}

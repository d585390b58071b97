package buys

import (
	"sync"

	"buybot/internal/clients_api/chain"
	"buybot/internal/settings"
)

// Filter turns raw records (newest first) into accepted buy events, oldest first.
// Non-transfer records and transfers under the minimum are dropped, and nothing
// passes while tracking is off.
func Filter(records []chain.Record, st settings.Settings) []BuyEvent {
	if !st.TrackingEnabled {
		return nil
	}
	var out []BuyEvent
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if r.Transfer == nil {
			continue
		}
		if r.Transfer.Amount < st.MinBuyAmount {
			continue
		}
		out = append(out, BuyEvent{
			Signature:   r.Signature,
			Amount:      r.Transfer.Amount,
			TokenAmount: r.Transfer.TokenAmount,
			Buyer:       r.Transfer.Buyer,
			Timestamp:   r.Timestamp,
			Origin:      OriginChain,
		})
	}
	return out
}

// Seen remembers the last N signatures. Pushed and manual events bypass the
// polling cursor, so they go through Seen instead.
type Seen struct {
	mu    sync.Mutex
	size  int
	ring  []string
	next  int
	index map[string]struct{}
}

func NewSeen(size int) *Seen {
	if size <= 0 {
		size = 1024
	}
	return &Seen{
		size:  size,
		ring:  make([]string, size),
		index: make(map[string]struct{}, size),
	}
}

// MarkNew records sig and reports whether it was not seen before.
func (s *Seen) MarkNew(sig string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[sig]; ok {
		return false
	}
	if old := s.ring[s.next]; old != "" {
		delete(s.index, old)
	}
	s.ring[s.next] = sig
	s.index[sig] = struct{}{}
	s.next = (s.next + 1) % s.size
	return true
}

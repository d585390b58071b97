package buys

import (
	"context"
	"fmt"
	"sync"

	"buybot/internal/clients_api/chain"
	log "buybot/internal/infra/log"
	"buybot/internal/infra/metrics"

	"go.uber.org/zap"
)

// Source polls the chain client and returns only records newer than the
// cursor. The first successful poll sets a baseline and returns nothing.
type Source struct {
	client  chain.Client
	address string
	limit   int
	metrics *metrics.Metrics

	// mu covers fetch and cursor update so overlapping polls never see the same window
	mu     sync.Mutex
	cursor string
}

func NewSource(client chain.Client, address string, limit int, m *metrics.Metrics) *Source {
	if limit <= 0 {
		limit = 20
	}
	return &Source{client: client, address: address, limit: limit, metrics: m}
}

// Cursor returns the newest processed signature, "" before the first poll.
func (s *Source) Cursor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Poll returns the new records, newest first. On error the cursor is unchanged.
func (s *Source) Poll(ctx context.Context) ([]chain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor == "" {
		if latest, ok := s.client.(chain.LatestSignatureFetcher); ok {
			return nil, s.baseline(ctx, latest)
		}
	}

	records, err := s.client.FetchRecentTransactions(ctx, s.address, s.limit)
	if err != nil {
		s.metrics.PollResult("error")
		return nil, fmt.Errorf("failed to fetch transactions for %s: %w", s.address, err)
	}
	if len(records) == 0 {
		s.metrics.PollResult("empty")
		return nil, nil
	}

	newest := records[0].Signature
	if s.cursor == "" {
		s.setBaseline(newest)
		return nil, nil
	}

	fresh := records
	found := false
	for i, r := range records {
		if r.Signature == s.cursor {
			fresh = records[:i]
			found = true
			break
		}
	}
	if !found {
		s.metrics.CursorMiss()
		log.LogWarn("Cursor not in fetched window, treating all records as new",
			zap.String("cursor", s.cursor),
			zap.Int("fetched", len(records)))
	}

	s.cursor = newest
	s.metrics.PollResult("ok")
	s.metrics.NewRecords(len(fresh))

	out := make([]chain.Record, len(fresh))
	copy(out, fresh)
	return out, nil
}

// baseline records the newest signature without fetching the full window.
func (s *Source) baseline(ctx context.Context, latest chain.LatestSignatureFetcher) error {
	sig, err := latest.LatestSignature(ctx, s.address)
	if err != nil {
		s.metrics.PollResult("error")
		return fmt.Errorf("failed to fetch latest signature for %s: %w", s.address, err)
	}
	if sig == "" {
		s.metrics.PollResult("empty")
		return nil
	}
	s.setBaseline(sig)
	return nil
}

func (s *Source) setBaseline(sig string) {
	s.cursor = sig
	s.metrics.PollResult("baseline")
	log.LogInfo("Polling baseline established", zap.String("cursor", sig))
}

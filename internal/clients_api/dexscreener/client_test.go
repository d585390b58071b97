package dexscreener

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"buybot/internal/infra/faults"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokenAddr = "CoonMint1111111111111111111111111111111111"

const pairsBody = `{
  "schemaVersion": "1.0.0",
  "pairs": [
    {
      "chainId": "solana", "dexId": "raydium", "url": "https://dexscreener.com/solana/small",
      "pairAddress": "small",
      "baseToken": {"address": "CoonMint1111111111111111111111111111111111", "name": "Coon", "symbol": "COON"},
      "quoteToken": {"symbol": "SOL"},
      "priceNative": "0.0001", "priceUsd": "0.015",
      "volume": {"h24": 1000}, "liquidity": {"usd": 5000}, "fdv": 900000
    },
    {
      "chainId": "solana", "dexId": "orca", "url": "https://dexscreener.com/solana/big",
      "pairAddress": "big",
      "baseToken": {"address": "coonmint1111111111111111111111111111111111", "name": "Coon", "symbol": "COON"},
      "quoteToken": {"symbol": "SOL"},
      "priceNative": "0.0001", "priceUsd": "0.0150",
      "volume": {"h24": 250000.7}, "liquidity": {"usd": 120000.4}, "fdv": 1500000, "marketCap": 1400000
    },
    {
      "chainId": "solana", "dexId": "raydium", "url": "https://dexscreener.com/solana/other",
      "pairAddress": "other",
      "baseToken": {"address": "So11111111111111111111111111111111111111112", "name": "Wrapped SOL", "symbol": "SOL"},
      "quoteToken": {"symbol": "COON"},
      "priceNative": "10000", "priceUsd": "150",
      "liquidity": {"usd": 9000000}
    }
  ]
}`

func TestFetchSnapshotPicksMostLiquidBasePair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest/dex/tokens/"+tokenAddr, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(pairsBody))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL})
	snap, err := c.FetchSnapshot(context.Background(), tokenAddr)
	require.NoError(t, err)

	require.Equal(t, "big", snap.PairAddress)
	require.Equal(t, "COON", snap.TokenSymbol)
	require.Equal(t, "SOL", snap.QuoteTokenSymbol)
	require.InDelta(t, 0.015, snap.PriceUSD, 1e-12)
	require.InDelta(t, 150.0, snap.QuotePriceUSD, 1e-9)
	require.Equal(t, 1400000.0, snap.MarketCapUSD)
	require.Equal(t, 120000.4, snap.LiquidityUSD)
	require.Equal(t, 250000.7, snap.Volume24hUSD)
}

func TestFetchSnapshotFallsBackToFDV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pairs":[{"baseToken":{"address":"` + tokenAddr + `"},"priceUsd":"1","fdv":42}]}`))
	}))
	defer srv.Close()

	snap, err := NewClient(Options{BaseURL: srv.URL}).FetchSnapshot(context.Background(), tokenAddr)
	require.NoError(t, err)
	require.Equal(t, 42.0, snap.MarketCapUSD)
	require.Zero(t, snap.QuotePriceUSD)
	require.Zero(t, snap.LiquidityUSD)
}

func TestFetchSnapshotNoPairs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"schemaVersion":"1.0.0","pairs":null}`))
	}))
	defer srv.Close()

	_, err := NewClient(Options{BaseURL: srv.URL}).FetchSnapshot(context.Background(), tokenAddr)
	require.ErrorIs(t, err, ErrNoPairs)
}

func TestFetchSnapshotRetriesThenFailsTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(Options{BaseURL: srv.URL, MaxRetries: 2}).FetchSnapshot(context.Background(), tokenAddr)
	require.ErrorIs(t, err, faults.ErrTransientIO)
	require.Equal(t, int32(3), calls.Load())
}

type denyAll struct{}

func (denyAll) Acquire(context.Context) error { return faults.ErrRateLimitExceeded }

func TestFetchSnapshotRespectsLimiter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	_, err := NewClient(Options{BaseURL: srv.URL, Limiter: denyAll{}}).FetchSnapshot(context.Background(), tokenAddr)
	require.ErrorIs(t, err, faults.ErrRateLimitExceeded)
	require.Zero(t, calls.Load())
}

// Package chain holds the chain-neutral record shape the chain clients produce.
package chain

import (
	"context"
	"time"
)

// Record is one transaction touching the watched address.
type Record struct {
	Signature string
	Timestamp time.Time
	// Transfer is nil for records that are not a buy of the tracked token
	// (failed transactions, sells, unrelated instructions).
	Transfer *Transfer
}

// Transfer describes a buy: Amount is what the buyer spent in quote units
// (SOL, WETH, ...), TokenAmount what they received.
type Transfer struct {
	Buyer       string
	Amount      float64
	TokenAmount float64
}

// Client fetches the most recent records for an address, newest first.
type Client interface {
	FetchRecentTransactions(ctx context.Context, address string, limit int) ([]Record, error)
}

// LatestSignatureFetcher is implemented by clients that can report the newest
// signature without decoding records. It returns "" for an empty history.
type LatestSignatureFetcher interface {
	LatestSignature(ctx context.Context, address string) (string, error)
}

package solanarpc

// Solana chain client: lists recent signatures for the watched account and
// decodes each transaction into a buy of the tracked mint, if it is one.

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"buybot/internal/clients_api/chain"
	"buybot/internal/infra/faults"
	log "buybot/internal/infra/log"
	"buybot/internal/infra/retry"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type rpcAPI interface {
	GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	GetTransaction(ctx context.Context, txSig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

type Client struct {
	rpc            rpcAPI
	mint           solana.PublicKey
	requestTimeout time.Duration
	circuitBreaker *gobreaker.CircuitBreaker
	retry          retry.Options

	// decoded remembers transfers by signature so overlapping windows are decoded once
	mu      sync.Mutex
	decoded map[string]*chain.Transfer
	order   []string
}

const decodedCacheSize = 512

func NewClient(rpcURL, mintAddress string, requestTimeout time.Duration) (*Client, error) {
	return newClient(rpc.New(rpcURL), mintAddress, requestTimeout)
}

func newClient(api rpcAPI, mintAddress string, requestTimeout time.Duration) (*Client, error) {
	mint, err := solana.PublicKeyFromBase58(mintAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid mint address %q: %w", mintAddress, err)
	}
	if requestTimeout <= 0 {
		requestTimeout = 15 * time.Second
	}
	return &Client{
		rpc:            api,
		mint:           mint,
		requestTimeout: requestTimeout,
		circuitBreaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "SolanaRPC",
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
		retry: retry.Options{
			MaxRetries: 2,
			BaseDelay:  300 * time.Millisecond,
			MaxDelay:   3 * time.Second,
			Retryable:  retryableRPC,
		},
		decoded: make(map[string]*chain.Transfer),
	}, nil
}

// LatestSignature returns the newest signature for address without decoding
// any transaction; "" when the account has no history.
func (c *Client) LatestSignature(ctx context.Context, address string) (string, error) {
	account, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return "", fmt.Errorf("invalid watch address %q: %w", address, err)
	}
	sigs, err := c.signatures(ctx, account, 1)
	if err != nil {
		return "", err
	}
	if len(sigs) == 0 {
		return "", nil
	}
	return sigs[0].Signature.String(), nil
}

func (c *Client) signatures(ctx context.Context, account solana.PublicKey, limit int) ([]*rpc.TransactionSignature, error) {
	var sigs []*rpc.TransactionSignature
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		sigs, err = c.rpc.GetSignaturesForAddressWithOpts(ctx, account, &rpc.GetSignaturesForAddressOpts{
			Limit:      &limit,
			Commitment: rpc.CommitmentConfirmed,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get signatures: %v", faults.ErrTransientIO, err)
	}
	return sigs, nil
}

// FetchRecentTransactions returns up to limit records for address, newest first.
// Any RPC failure fails the whole call so the caller's cursor stays put.
func (c *Client) FetchRecentTransactions(ctx context.Context, address string, limit int) ([]chain.Record, error) {
	account, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid watch address %q: %w", address, err)
	}

	sigs, err := c.signatures(ctx, account, limit)
	if err != nil {
		return nil, err
	}

	records := make([]chain.Record, 0, len(sigs))
	for _, sig := range sigs {
		rec := chain.Record{Signature: sig.Signature.String()}
		if sig.BlockTime != nil {
			rec.Timestamp = sig.BlockTime.Time()
		}
		if sig.Err == nil {
			transfer, err := c.transferFor(ctx, sig.Signature)
			if err != nil {
				return nil, err
			}
			rec.Transfer = transfer
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *Client) transferFor(ctx context.Context, sig solana.Signature) (*chain.Transfer, error) {
	key := sig.String()
	c.mu.Lock()
	cached, ok := c.decoded[key]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	var res *rpc.GetTransactionResult
	maxVersion := uint64(0)
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		res, err = c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get transaction %s: %v", faults.ErrTransientIO, key, err)
	}

	var transfer *chain.Transfer
	if res != nil && res.Meta != nil {
		transfer = decodeBuy(res.Meta, feePayer(res), c.mint)
	}

	c.mu.Lock()
	c.decoded[key] = transfer
	c.order = append(c.order, key)
	if len(c.order) > decodedCacheSize {
		delete(c.decoded, c.order[0])
		c.order = c.order[1:]
	}
	c.mu.Unlock()
	return transfer, nil
}

// call runs fn through the breaker with a per-attempt timeout, retrying
// throttled and 5xx responses.
func (c *Client) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, c.retry, func() error {
		_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
			defer cancel()
			return nil, fn(ctx)
		})
		return err
	})
}

// retryableRPC leaves breaker rejections alone; gobreaker's half-open error
// text would otherwise read as a throttled response.
func retryableRPC(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	return retry.IsTransientRPC(err)
}

func feePayer(res *rpc.GetTransactionResult) solana.PublicKey {
	if res.Transaction == nil {
		return solana.PublicKey{}
	}
	tx, err := res.Transaction.GetTransaction()
	if err != nil || tx == nil || len(tx.Message.AccountKeys) == 0 {
		log.LogDebug("Could not decode transaction envelope", zap.Error(err))
		return solana.PublicKey{}
	}
	return tx.Message.AccountKeys[0]
}

// decodeBuy reports a buy when the payer's balance of mint went up. The
// amount spent is the payer's SOL balance drop net of the network fee.
// With a zero payer the owner with the largest gain is taken as the buyer.
func decodeBuy(meta *rpc.TransactionMeta, payer, mint solana.PublicKey) *chain.Transfer {
	if meta == nil || meta.Err != nil {
		return nil
	}

	deltas := map[solana.PublicKey]decimal.Decimal{}
	for _, b := range meta.PreTokenBalances {
		if b.Mint.Equals(mint) && b.Owner != nil {
			deltas[*b.Owner] = deltas[*b.Owner].Sub(uiAmount(b.UiTokenAmount))
		}
	}
	for _, b := range meta.PostTokenBalances {
		if b.Mint.Equals(mint) && b.Owner != nil {
			deltas[*b.Owner] = deltas[*b.Owner].Add(uiAmount(b.UiTokenAmount))
		}
	}

	buyer := payer
	if buyer.IsZero() {
		best := decimal.Zero
		for owner, d := range deltas {
			if d.GreaterThan(best) {
				best, buyer = d, owner
			}
		}
	}

	received, ok := deltas[buyer]
	if !ok || !received.IsPositive() {
		return nil
	}

	spent := decimal.Zero
	if len(meta.PreBalances) > 0 && len(meta.PostBalances) > 0 {
		lamports := int64(meta.PreBalances[0]) - int64(meta.PostBalances[0]) - int64(meta.Fee)
		if lamports > 0 {
			spent = decimal.NewFromInt(lamports).Shift(-9)
		}
	}

	return &chain.Transfer{
		Buyer:       buyer.String(),
		Amount:      spent.InexactFloat64(),
		TokenAmount: received.InexactFloat64(),
	}
}

func uiAmount(a *rpc.UiTokenAmount) decimal.Decimal {
	if a == nil {
		return decimal.Zero
	}
	raw, err := decimal.NewFromString(a.Amount)
	if err != nil {
		return decimal.Zero
	}
	return raw.Shift(-int32(a.Decimals))
}

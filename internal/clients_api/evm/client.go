package evm

// EVM chain client: reads Uniswap V2 style Swap logs of one pair and reports
// swaps that bought the tracked token.

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"buybot/internal/clients_api/chain"
	"buybot/internal/infra/faults"
	"buybot/internal/infra/retry"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// SwapTopic is the topic0 of Swap(address,uint256,uint256,uint256,uint256,address).
var SwapTopic = crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)"))

type logAPI interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

type Options struct {
	RPCURL         string
	TokenIsToken0  bool
	TokenDecimals  int32
	QuoteDecimals  int32
	LookbackBlocks uint64
	RequestTimeout time.Duration
}

type Client struct {
	api            logAPI
	opts           Options
	circuitBreaker *gobreaker.CircuitBreaker
	retry          retry.Options

	mu         sync.Mutex
	blockTimes map[uint64]time.Time
}

func Dial(ctx context.Context, opts Options) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", opts.RPCURL, err)
	}
	return newClient(ec, opts), nil
}

func newClient(api logAPI, opts Options) *Client {
	if opts.LookbackBlocks == 0 {
		opts.LookbackBlocks = 500
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	return &Client{
		api:  api,
		opts: opts,
		circuitBreaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "EVMRPC",
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
		blockTimes: make(map[uint64]time.Time),
	}
}

// FetchRecentTransactions returns up to limit Swap records of the pair at
// address from the last LookbackBlocks blocks, newest first. The record
// signature is "txhash:logindex" since one transaction may swap several times.
func (c *Client) FetchRecentTransactions(ctx context.Context, address string, limit int) ([]chain.Record, error) {
	live, err := c.recentSwaps(ctx, address)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(live) > limit {
		live = live[:limit]
	}

	records := make([]chain.Record, 0, len(live))
	for _, l := range live {
		ts, err := c.blockTime(ctx, l.BlockNumber)
		if err != nil {
			return nil, err
		}
		records = append(records, chain.Record{
			Signature: swapSignature(l),
			Timestamp: ts,
			Transfer:  c.decodeSwap(l),
		})
	}
	return records, nil
}

// LatestSignature returns the signature of the newest Swap of the pair without
// looking up block times; "" when the lookback window has no swaps.
func (c *Client) LatestSignature(ctx context.Context, address string) (string, error) {
	live, err := c.recentSwaps(ctx, address)
	if err != nil || len(live) == 0 {
		return "", err
	}
	return swapSignature(live[0]), nil
}

// recentSwaps returns the non-removed Swap logs of the lookback window, newest first.
func (c *Client) recentSwaps(ctx context.Context, address string) ([]types.Log, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid pair address %q", address)
	}
	pair := common.HexToAddress(address)

	var head uint64
	if err := c.call(ctx, func(ctx context.Context) error {
		var err error
		head, err = c.api.BlockNumber(ctx)
		return err
	}); err != nil {
		return nil, fmt.Errorf("%w: block number: %v", faults.ErrTransientIO, err)
	}

	from := uint64(0)
	if head > c.opts.LookbackBlocks {
		from = head - c.opts.LookbackBlocks
	}

	var logs []types.Log
	if err := c.call(ctx, func(ctx context.Context) error {
		var err error
		logs, err = c.api.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(head),
			Addresses: []common.Address{pair},
			Topics:    [][]common.Hash{{SwapTopic}},
		})
		return err
	}); err != nil {
		return nil, fmt.Errorf("%w: filter logs: %v", faults.ErrTransientIO, err)
	}

	live := make([]types.Log, 0, len(logs))
	for _, l := range logs {
		if !l.Removed {
			live = append(live, l)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].BlockNumber != live[j].BlockNumber {
			return live[i].BlockNumber > live[j].BlockNumber
		}
		return live[i].Index > live[j].Index
	})
	return live, nil
}

func swapSignature(l types.Log) string {
	return fmt.Sprintf("%s:%d", l.TxHash.Hex(), l.Index)
}

func (c *Client) blockTime(ctx context.Context, number uint64) (time.Time, error) {
	c.mu.Lock()
	ts, ok := c.blockTimes[number]
	c.mu.Unlock()
	if ok {
		return ts, nil
	}

	var header *types.Header
	if err := c.call(ctx, func(ctx context.Context) error {
		var err error
		header, err = c.api.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		return err
	}); err != nil {
		return time.Time{}, fmt.Errorf("%w: header %d: %v", faults.ErrTransientIO, number, err)
	}
	ts = time.Unix(int64(header.Time), 0)

	c.mu.Lock()
	if len(c.blockTimes) > 4096 {
		clear(c.blockTimes)
	}
	c.blockTimes[number] = ts
	c.mu.Unlock()
	return ts, nil
}

func (c *Client) decodeSwap(l types.Log) *chain.Transfer {
	if len(l.Data) < 128 {
		return nil
	}
	amount0In := new(big.Int).SetBytes(l.Data[0:32])
	amount1In := new(big.Int).SetBytes(l.Data[32:64])
	amount0Out := new(big.Int).SetBytes(l.Data[64:96])
	amount1Out := new(big.Int).SetBytes(l.Data[96:128])

	quoteIn, tokenOut := amount1In, amount0Out
	if !c.opts.TokenIsToken0 {
		quoteIn, tokenOut = amount0In, amount1Out
	}
	if quoteIn.Sign() <= 0 || tokenOut.Sign() <= 0 {
		return nil
	}

	t := &chain.Transfer{
		Amount:      decimal.NewFromBigInt(quoteIn, -c.opts.QuoteDecimals).InexactFloat64(),
		TokenAmount: decimal.NewFromBigInt(tokenOut, -c.opts.TokenDecimals).InexactFloat64(),
	}
	if len(l.Topics) >= 3 {
		t.Buyer = common.BytesToAddress(l.Topics[2].Bytes()).Hex()
	}
	return t
}

func (c *Client) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, c.retry, func() error {
		_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
			defer cancel()
			return nil, fn(ctx)
		})
		return err
	})
}

func retryableRPC(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	return retry.IsTransientRPC(err)
}

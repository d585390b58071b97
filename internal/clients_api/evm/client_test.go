package evm

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"buybot/internal/infra/faults"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	head        uint64
	logs        []types.Log
	query       ethereum.FilterQuery
	headerCalls int
	logsCalls   int
	logsErr     error

	// logsFailures makes that many FilterLogs calls fail with logsErr before succeeding
	logsFailures int
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.query = q
	f.logsCalls++
	if f.logsErr != nil && (f.logsFailures == 0 || f.logsCalls <= f.logsFailures) {
		return nil, f.logsErr
	}
	return f.logs, nil
}

func (f *fakeChain) HeaderByNumber(_ context.Context, n *big.Int) (*types.Header, error) {
	f.headerCalls++
	return &types.Header{Number: n, Time: 1_700_000_000 + n.Uint64()*12}, nil
}

func word(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func swapData(a0In, a1In, a0Out, a1Out *big.Int) []byte {
	var out []byte
	for _, v := range []*big.Int{a0In, a1In, a0Out, a1Out} {
		out = append(out, word(v)...)
	}
	return out
}

func eth(x int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(x), big.NewInt(1e18))
}

const pairHex = "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"

func TestFetchRecentTransactionsDecodesSwaps(t *testing.T) {
	buyer := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	zero := big.NewInt(0)
	f := &fakeChain{
		head: 1000,
		logs: []types.Log{
			{ // buy: quote (token1) in, token0 out
				BlockNumber: 990, Index: 3, TxHash: common.HexToHash("0x01"),
				Topics: []common.Hash{SwapTopic, common.HexToHash("0xaa"), common.BytesToHash(buyer.Bytes())},
				Data:   swapData(zero, eth(2), eth(5000), zero),
			},
			{ // sell: token0 in, quote out
				BlockNumber: 995, Index: 1, TxHash: common.HexToHash("0x02"),
				Topics: []common.Hash{SwapTopic, common.HexToHash("0xaa"), common.HexToHash("0xbb")},
				Data:   swapData(eth(100), zero, zero, eth(1)),
			},
			{ // reorged out
				BlockNumber: 999, Index: 0, TxHash: common.HexToHash("0x03"), Removed: true,
				Data: swapData(zero, eth(1), eth(1), zero),
			},
			{
				BlockNumber: 990, Index: 7, TxHash: common.HexToHash("0x04"),
				Topics: []common.Hash{SwapTopic},
				Data:   swapData(zero, big.NewInt(5e17), eth(10), zero),
			},
		},
	}
	c := newClient(f, Options{TokenIsToken0: true, TokenDecimals: 18, QuoteDecimals: 18, LookbackBlocks: 100})

	records, err := c.FetchRecentTransactions(context.Background(), pairHex, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)

	require.Equal(t, uint64(900), f.query.FromBlock.Uint64())
	require.Equal(t, uint64(1000), f.query.ToBlock.Uint64())
	require.Equal(t, []common.Address{common.HexToAddress(pairHex)}, f.query.Addresses)

	// newest first: block 995, then block 990 index 7, then index 3
	require.Nil(t, records[0].Transfer)
	require.Equal(t, common.HexToHash("0x04").Hex()+":7", records[1].Signature)
	require.InDelta(t, 0.5, records[1].Transfer.Amount, 1e-12)
	require.Empty(t, records[1].Transfer.Buyer)

	buy := records[2]
	require.Equal(t, common.HexToHash("0x01").Hex()+":3", buy.Signature)
	require.InDelta(t, 2.0, buy.Transfer.Amount, 1e-12)
	require.InDelta(t, 5000.0, buy.Transfer.TokenAmount, 1e-9)
	require.Equal(t, buyer.Hex(), buy.Transfer.Buyer)
	require.Equal(t, time.Unix(1_700_000_000+990*12, 0), buy.Timestamp)

	// two distinct blocks, each header fetched once
	require.Equal(t, 2, f.headerCalls)
}

func TestFetchRecentTransactionsRespectsLimit(t *testing.T) {
	var logs []types.Log
	for i := uint64(0); i < 5; i++ {
		logs = append(logs, types.Log{BlockNumber: 10 + i, TxHash: common.BigToHash(new(big.Int).SetUint64(i + 1))})
	}
	c := newClient(&fakeChain{head: 20, logs: logs}, Options{TokenIsToken0: true})

	records, err := c.FetchRecentTransactions(context.Background(), pairHex, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, common.BigToHash(big.NewInt(5)).Hex()+":0", records[0].Signature)
}

func TestTokenAsToken1(t *testing.T) {
	c := newClient(&fakeChain{}, Options{TokenIsToken0: false, TokenDecimals: 9, QuoteDecimals: 6})
	zero := big.NewInt(0)
	tr := c.decodeSwap(types.Log{Data: swapData(big.NewInt(1_500_000), zero, zero, big.NewInt(3_000_000_000))})
	require.NotNil(t, tr)
	require.InDelta(t, 1.5, tr.Amount, 1e-12)
	require.InDelta(t, 3.0, tr.TokenAmount, 1e-12)
}

func TestFetchRecentTransactionsErrors(t *testing.T) {
	c := newClient(&fakeChain{head: 5, logsErr: errors.New("timeout")}, Options{})
	_, err := c.FetchRecentTransactions(context.Background(), pairHex, 5)
	require.ErrorIs(t, err, faults.ErrTransientIO)

	_, err = c.FetchRecentTransactions(context.Background(), "nope", 5)
	require.Error(t, err)
}

func TestLatestSignatureSkipsHeaders(t *testing.T) {
	f := &fakeChain{head: 50, logs: []types.Log{
		{BlockNumber: 40, Index: 2, TxHash: common.HexToHash("0x0a")},
		{BlockNumber: 45, Index: 0, TxHash: common.HexToHash("0x0b")},
		{BlockNumber: 49, Index: 1, TxHash: common.HexToHash("0x0c"), Removed: true},
	}}
	c := newClient(f, Options{TokenIsToken0: true})

	sig, err := c.LatestSignature(context.Background(), pairHex)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0x0b").Hex()+":0", sig)
	require.Zero(t, f.headerCalls)

	// the cursor matches what a later full fetch reports as newest
	records, err := c.FetchRecentTransactions(context.Background(), pairHex, 10)
	require.NoError(t, err)
	require.Equal(t, sig, records[0].Signature)

	sig, err = newClient(&fakeChain{head: 50}, Options{}).LatestSignature(context.Background(), pairHex)
	require.NoError(t, err)
	require.Empty(t, sig)
}

func TestFilterLogsRetriedWhenThrottled(t *testing.T) {
	f := &fakeChain{
		head:         20,
		logs:         []types.Log{{BlockNumber: 15, TxHash: common.HexToHash("0x01")}},
		logsErr:      errors.New("429 Too Many Requests: {\"code\":-32005}"),
		logsFailures: 2,
	}
	c := newClient(f, Options{TokenIsToken0: true})
	c.retry.BaseDelay = time.Millisecond

	records, err := c.FetchRecentTransactions(context.Background(), pairHex, 5)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, 3, f.logsCalls)
}

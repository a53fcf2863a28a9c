package enrich

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopherdex.com/internal/exchange"
	"gopherdex.com/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	os.Exit(m.Run())
}

var user = common.HexToAddress("0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1")

// fakeReader 可编程的链上数据假实现，顺便统计调用次数
type fakeReader struct {
	mu sync.Mutex

	blockTimes     map[uint64]int64
	blockTimeCalls map[uint64]int

	orders        map[string]*exchange.Order // GetOrder 的返回
	orderCalls    int
	placements    map[string]*exchange.Order // OrderFromPlacement 的返回
	placementErrs map[string]error

	tokenAddrs map[uint16]common.Address
	decimals   map[common.Address]int32
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		blockTimes:     map[uint64]int64{},
		blockTimeCalls: map[uint64]int{},
		orders:         map[string]*exchange.Order{},
		placements:     map[string]*exchange.Order{},
		placementErrs:  map[string]error{},
		tokenAddrs:     map[uint16]common.Address{},
		decimals:       map[common.Address]int32{},
	}
}

func (f *fakeReader) GetOrder(_ context.Context, _ common.Address, orderID string) (*exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderCalls++
	if o, ok := f.orders[orderID]; ok {
		return o, nil
	}
	return nil, errors.New("order not found")
}

func (f *fakeReader) OrderFromPlacement(_ context.Context, q PlacementQuery) (*exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.placementErrs[q.OrderID]; ok {
		return nil, err
	}
	if o, ok := f.placements[q.OrderID]; ok {
		return o, nil
	}
	return nil, errors.New("no placement event")
}

func (f *fakeReader) BlockTime(_ context.Context, blockNumber uint64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockTimeCalls[blockNumber]++
	ts, ok := f.blockTimes[blockNumber]
	if !ok {
		return 0, fmt.Errorf("unknown block %d", blockNumber)
	}
	return ts, nil
}

func (f *fakeReader) TokenAddressByID(_ context.Context, tokenID uint16) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	addr, ok := f.tokenAddrs[tokenID]
	if !ok {
		return common.Address{}, fmt.Errorf("unknown token %d", tokenID)
	}
	return addr, nil
}

func (f *fakeReader) TokenDetails(_ context.Context, addr common.Address) (string, string, int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dec, ok := f.decimals[addr]
	if !ok {
		return "", "", 0, errors.New("unknown token address")
	}
	return "TKN", "Token", dec, nil
}

func (f *fakeReader) addToken(id uint16, decimals int32) {
	addr := common.BigToAddress(big.NewInt(int64(id) + 1000))
	f.tokenAddrs[id] = addr
	f.decimals[addr] = decimals
}

func rawEvent(orderID string, block uint64, txIndex uint) *exchange.TradeEvent {
	return &exchange.TradeEvent{
		OrderID:     orderID,
		SellTokenID: 1,
		BuyTokenID:  2,
		SellAmount:  big.NewInt(2000),
		BuyAmount:   big.NewInt(3000),
		TxHash:      common.BigToHash(big.NewInt(int64(block)*100 + int64(txIndex))),
		TxIndex:     txIndex,
		BlockNumber: block,
		EventIndex:  txIndex,
	}
}

func testOrder() *exchange.Order {
	return &exchange.Order{
		BuyTokenID:       2,
		SellTokenID:      1,
		ValidFrom:        100,
		ValidUntil:       200,
		PriceNumerator:   big.NewInt(6000),
		PriceDenominator: big.NewInt(5000),
		RemainingAmount:  big.NewInt(5000),
	}
}

func TestEnrich_BlockLookupsDeduplicated(t *testing.T) {
	f := newFakeReader()
	f.blockTimes[10] = 300_000
	f.blockTimes[11] = 300_300
	f.addToken(1, 18)
	f.addToken(2, 18)
	f.orders["5"] = testOrder()

	svc := NewService(f, NewTokenCache(f))

	// 三个事件落在两个区块上
	events := []*exchange.TradeEvent{
		rawEvent("5", 10, 0),
		rawEvent("5", 10, 1),
		rawEvent("5", 11, 0),
	}

	trades, err := svc.Enrich(context.Background(), events, nil, user)
	require.NoError(t, err)
	require.Len(t, trades, 3)

	assert.Equal(t, 1, f.blockTimeCalls[10], "block 10 must be looked up exactly once")
	assert.Equal(t, 1, f.blockTimeCalls[11], "block 11 must be looked up exactly once")

	// batchId = floor(ts / 300)
	assert.EqualValues(t, 1000, trades[0].BatchID)
	assert.EqualValues(t, 1001, trades[2].BatchID)
	assert.Equal(t, exchange.RevertKey(1000, "5"), trades[0].RevertKey)
	assert.EqualValues(t, exchange.SettlingTime(1000), trades[0].SettlingTimestamp)
}

func TestEnrich_KnownOrderSkipsContract(t *testing.T) {
	f := newFakeReader()
	f.blockTimes[10] = 300_000
	f.addToken(1, 18)
	f.addToken(2, 18)

	known := []exchange.AuctionElement{{Order: *testOrder(), ID: "5"}}
	svc := NewService(f, NewTokenCache(f))

	trades, err := svc.Enrich(context.Background(),
		[]*exchange.TradeEvent{rawEvent("5", 10, 0)}, known, user)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	assert.Zero(t, f.orderCalls, "locally known order must not hit the contract")
	require.NotNil(t, trades[0].LimitPrice)
	// remaining = orderSellTotal(5000) - sellAmount(2000)
	assert.Zero(t, trades[0].RemainingAmount.Cmp(big.NewInt(3000)))
	assert.Zero(t, trades[0].OrderSellAmount.Cmp(big.NewInt(5000)))
}

func TestEnrich_DeletedOrderReconstructedFromPlacement(t *testing.T) {
	f := newFakeReader()
	f.blockTimes[10] = 300_000
	f.addToken(1, 18)
	f.addToken(2, 18)
	// 合约返回全零记录（已删除），placement 能重建
	f.orders["5"] = &exchange.Order{
		PriceNumerator:   big.NewInt(0),
		PriceDenominator: big.NewInt(0),
		RemainingAmount:  big.NewInt(0),
	}
	f.placements["5"] = testOrder()

	svc := NewService(f, NewTokenCache(f))
	trades, err := svc.Enrich(context.Background(),
		[]*exchange.TradeEvent{rawEvent("5", 10, 0)}, nil, user)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	require.NotNil(t, trades[0].LimitPrice, "reconstructed order must still produce a limit price")
	assert.Zero(t, trades[0].RemainingAmount.Cmp(big.NewInt(3000)))
}

func TestEnrich_UnresolvedOrderIsNotFatal(t *testing.T) {
	f := newFakeReader()
	f.blockTimes[10] = 300_000
	f.addToken(1, 18)
	f.addToken(2, 18)
	f.placementErrs["5"] = errors.New("no events in range")

	svc := NewService(f, NewTokenCache(f))
	trades, err := svc.Enrich(context.Background(),
		[]*exchange.TradeEvent{rawEvent("5", 10, 0)}, nil, user)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	got := trades[0]
	assert.Nil(t, got.LimitPrice)
	assert.Nil(t, got.RemainingAmount)
	// 其余字段照常
	assert.NotZero(t, got.BatchID)
	assert.False(t, got.FillPrice.IsZero())
}

func TestEnrich_FillPriceMath(t *testing.T) {
	f := newFakeReader()
	f.blockTimes[10] = 300_000
	f.addToken(1, 0) // sell token 0 位精度
	f.addToken(2, 3) // buy token 3 位精度
	f.orders["5"] = testOrder()

	svc := NewService(f, NewTokenCache(f))
	trades, err := svc.Enrich(context.Background(),
		[]*exchange.TradeEvent{rawEvent("5", 10, 0)}, nil, user)
	require.NoError(t, err)

	// (3000 / 10^3) / (2000 / 10^0) = 3 / 2000 = 0.0015
	want := decimal.RequireFromString("0.0015")
	assert.True(t, trades[0].FillPrice.Equal(want),
		"fill price = %s, want %s", trades[0].FillPrice, want)
}

func TestEnrich_EmptyInput(t *testing.T) {
	svc := NewService(newFakeReader(), NewTokenCache(newFakeReader()))
	trades, err := svc.Enrich(context.Background(), nil, nil, user)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestEnrichReversions(t *testing.T) {
	f := newFakeReader()
	f.blockTimes[10] = 300_000

	svc := NewService(f, NewTokenCache(f))
	reverts, err := svc.EnrichReversions(context.Background(),
		[]*exchange.TradeEvent{rawEvent("5", 10, 2)})
	require.NoError(t, err)
	require.Len(t, reverts, 1)

	got := reverts[0]
	assert.EqualValues(t, 1000, got.BatchID)
	assert.EqualValues(t, 300_000, got.Timestamp)
	assert.Equal(t, exchange.RevertKey(1000, "5"), got.Key())
	assert.EqualValues(t, 2, got.EventIndex)
}

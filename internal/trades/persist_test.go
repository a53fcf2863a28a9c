package trades

import (
	"context"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopherdex.com/internal/exchange"
)

func TestFilePersister_RoundTripNumericPrecision(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trades.json")

	// 超出 64 位范围的金额和带精度的价格，round trip 不能有任何损失
	sellAmount, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)
	limitPrice := decimal.RequireFromString("0.000123")

	trade := testTrade("t1", "5", 1000, 100, 0)
	trade.SellAmount = sellAmount
	trade.LimitPrice = &limitPrice
	trade.FillPrice = decimal.RequireFromString("0.00012299")
	trade.OrderSellAmount = big.NewInt(500)
	trade.RevertID = "r1"
	trade.RevertTimestamp = 123

	pending := make(PendingSet)
	pending.Add(trade)

	state := State{
		AccountKey(1, testAddr): {
			Trades:           []*exchange.Trade{trade},
			PendingTrades:    pending,
			LastCheckedBlock: 42,
		},
	}

	p := NewFilePersister(path)
	require.NoError(t, p.Save(ctx, state))

	loaded, err := p.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	acc := loaded[AccountKey(1, testAddr)]
	require.NotNil(t, acc)
	require.Len(t, acc.Trades, 1)

	got := acc.Trades[0]
	assert.Zero(t, got.SellAmount.Cmp(sellAmount), "sellAmount lost precision")
	require.NotNil(t, got.LimitPrice)
	assert.True(t, got.LimitPrice.Equal(limitPrice), "limitPrice lost precision")
	assert.True(t, got.FillPrice.Equal(trade.FillPrice))
	assert.Equal(t, "r1", got.RevertID)
	assert.EqualValues(t, 42, acc.LastCheckedBlock)

	// pending 集合也要原样回来
	require.Contains(t, acc.PendingTrades, trade.RevertKey)
	assert.Equal(t, 1, acc.PendingTrades.TradeCount())
}

func TestFilePersister_MissingFileIsEmpty(t *testing.T) {
	p := NewFilePersister(filepath.Join(t.TempDir(), "nope.json"))
	state, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestStore_CorruptStateFallsBackToEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trades.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	// 读坏了只告警，启动成空状态
	s := NewStore(ctx, NewFilePersister(path))
	assert.Nil(t, s.Trades(1, testAddr))
}

func TestStore_PersistenceSurvivesRestart(t *testing.T) {
	const batch = int64(1000)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trades.json")

	s := NewStore(ctx, NewFilePersister(path), WithClock(fixedClock(batch)))
	require.NoError(t, s.AppendTrades(ctx, 1, testAddr,
		[]*exchange.Trade{testTrade("t1", "5", batch, 100, 0)}, nil, 50))

	// 模拟重启
	s2 := NewStore(ctx, NewFilePersister(path), WithClock(fixedClock(batch)))
	got := s2.Trades(1, testAddr)
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].ID)

	// 重启后 revert 迟到，依旧能配上 pending 里的成交
	require.NoError(t, s2.AppendTrades(ctx, 1, testAddr, nil,
		[]*exchange.TradeReversion{testRevert("r1", "5", batch, 100, 0)}, 60))
	assert.Equal(t, "r1", findTrade(t, s2.Trades(1, testAddr), "t1").RevertID)
}

func TestPendingSet_JSONRoundTrip(t *testing.T) {
	pending := make(PendingSet)
	pending.Add(testTrade("t1", "5", 1000, 100, 0))
	pending.Add(testTrade("t2", "5", 1000, 100, 1))
	pending.Add(testTrade("t3", "9", 1001, 200, 0))

	data, err := json.Marshal(pending)
	require.NoError(t, err)

	var restored PendingSet
	require.NoError(t, json.Unmarshal(data, &restored))

	assert.Equal(t, 3, restored.TradeCount())
	assert.Len(t, restored[exchange.RevertKey(1000, "5")], 2)
	assert.Len(t, restored[exchange.RevertKey(1001, "9")], 1)
}

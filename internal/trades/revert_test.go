package trades

import (
	"context"
	"math/big"
	"os"
	"testing"

	"go.uber.org/zap"
	"gopherdex.com/internal/exchange"
	"gopherdex.com/pkg/logger"
	"gopherdex.com/pkg/xerr"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	os.Exit(m.Run())
}

// testTrade 构造一笔位于 batchID 的成交，id 和排序字段可控
func testTrade(id, orderID string, batchID, ts int64, eventIndex uint) *exchange.Trade {
	return &exchange.Trade{
		ID:          id,
		OrderID:     orderID,
		SellTokenID: 1,
		BuyTokenID:  2,
		SellAmount:  big.NewInt(1000),
		BuyAmount:   big.NewInt(2000),
		BatchID:     batchID,
		Timestamp:   ts,
		EventIndex:  eventIndex,
		RevertKey:   exchange.RevertKey(batchID, orderID),
	}
}

func testRevert(id, orderID string, batchID, ts int64, eventIndex uint) *exchange.TradeReversion {
	return &exchange.TradeReversion{
		ID:         id,
		OrderID:    orderID,
		BatchID:    batchID,
		Timestamp:  ts,
		EventIndex: eventIndex,
	}
}

func findTrade(t *testing.T, list []*exchange.Trade, id string) *exchange.Trade {
	t.Helper()
	for _, tr := range list {
		if tr.ID == id {
			return tr
		}
	}
	t.Fatalf("trade %s not found", id)
	return nil
}

func TestApplyReverts_MatchByTimeThenPosition(t *testing.T) {
	const batch = int64(1000)
	// T1 和 T2 同一时间戳，eventIndex 0 和 1；只有一个 revert
	t1 := testTrade("t1", "5", batch, 100, 0)
	t2 := testTrade("t2", "5", batch, 100, 1)
	r1 := testRevert("r1", "5", batch, 100, 0)

	merged, _, err := ApplyReverts(context.Background(),
		[]*exchange.Trade{t2, t1}, // 故意乱序传入
		[]*exchange.TradeReversion{r1},
		nil, batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(merged))
	}

	if got := findTrade(t, merged, "t1"); got.RevertID != "r1" {
		t.Fatalf("t1 should carry revert r1, got %q", got.RevertID)
	}
	if got := findTrade(t, merged, "t2"); got.RevertID != "" {
		t.Fatalf("t2 must stay unreverted, got %q", got.RevertID)
	}
}

func TestApplyReverts_ReapplyIsIdempotent(t *testing.T) {
	const batch = int64(1000)
	t1 := testTrade("t1", "5", batch, 100, 0)
	r1 := testRevert("r1", "5", batch, 100, 0)

	merged, pending, err := ApplyReverts(context.Background(),
		[]*exchange.Trade{t1}, []*exchange.TradeReversion{r1}, nil, batch)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}

	// 同一批事件重放，带着上一轮的 pending
	merged2, _, err := ApplyReverts(context.Background(),
		merged, []*exchange.TradeReversion{r1}, pending, batch)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(merged2) != 1 {
		t.Fatalf("expected 1 trade after replay, got %d", len(merged2))
	}
	if merged2[0].RevertID != "r1" {
		t.Fatalf("revert assignment changed on replay: %q", merged2[0].RevertID)
	}
}

func TestApplyReverts_OverflowIsFatal(t *testing.T) {
	const batch = int64(1000)
	t1 := testTrade("t1", "5", batch, 100, 0)
	r1 := testRevert("r1", "5", batch, 100, 0)
	r2 := testRevert("r2", "5", batch, 101, 0)

	_, _, err := ApplyReverts(context.Background(),
		[]*exchange.Trade{t1}, []*exchange.TradeReversion{r1, r2}, nil, batch)
	if err == nil {
		t.Fatal("two reverts for one trade must be a consistency error")
	}
	if !xerr.IsCode(err, xerr.ConsistencyError) {
		t.Fatalf("expected ConsistencyError, got %v", err)
	}
}

func TestApplyReverts_UnmatchedRevertTolerated(t *testing.T) {
	const batch = int64(1000)
	t1 := testTrade("t1", "5", batch, 100, 0)
	// revert 指向另一个 orderId，本轮没有对应成交
	stray := testRevert("r9", "9", batch, 100, 0)

	merged, _, err := ApplyReverts(context.Background(),
		[]*exchange.Trade{t1}, []*exchange.TradeReversion{stray}, nil, batch)
	if err != nil {
		t.Fatalf("stray revert must not error: %v", err)
	}
	if merged[0].RevertID != "" {
		t.Fatalf("t1 must stay unreverted")
	}
}

func TestApplyReverts_PendingWindow(t *testing.T) {
	const current = int64(1000)

	inside := testTrade("in", "1", current-2, 100, 0)
	outside := testTrade("out", "2", current-3, 90, 0)

	merged, pending, err := ApplyReverts(context.Background(),
		[]*exchange.Trade{inside, outside}, nil, nil, current)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("both trades must be in merged output")
	}

	if _, ok := pending[inside.RevertKey]; !ok {
		t.Fatalf("trade at currentBatch-2 must stay pending")
	}
	if _, ok := pending[outside.RevertKey]; ok {
		t.Fatalf("trade at currentBatch-3 must never be pending")
	}
}

func TestApplyReverts_EmptyInputsNoOp(t *testing.T) {
	merged, pending, err := ApplyReverts(context.Background(), nil, nil, nil, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(merged) != 0 || len(pending) != 0 {
		t.Fatalf("empty inputs must yield empty outputs")
	}
}

func TestApplyReverts_DuplicateTradeIgnored(t *testing.T) {
	const batch = int64(1000)
	t1 := testTrade("t1", "5", batch, 100, 0)
	dup := testTrade("t1", "5", batch, 100, 0)

	merged, _, err := ApplyReverts(context.Background(),
		[]*exchange.Trade{t1, dup}, nil, nil, batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("duplicate event must be ignored, got %d trades", len(merged))
	}
}

func TestApplyReverts_PriorStateNotMutatedOnError(t *testing.T) {
	const batch = int64(1000)

	prior := make(PendingSet)
	pendingTrade := testTrade("t1", "5", batch, 100, 0)
	prior.Add(pendingTrade)

	r1 := testRevert("r1", "5", batch, 100, 0)
	r2 := testRevert("r2", "5", batch, 101, 0)

	_, _, err := ApplyReverts(context.Background(), nil,
		[]*exchange.TradeReversion{r1, r2}, prior, batch)
	if err == nil {
		t.Fatal("expected consistency error")
	}
	// 失败的轮次不能污染调用方持有的 pending 状态
	if pendingTrade.RevertID != "" {
		t.Fatalf("prior pending trade was mutated by a failed reconciliation")
	}
}

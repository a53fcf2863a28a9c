package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gopherdex.com/internal/exchange"
	"gopherdex.com/internal/trades"
	"gopherdex.com/pkg/logger"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	logger.Log = zap.NewNop()
	m.Run()
}

var testAddr = ethcommon.HexToAddress("0x000102030405060708090a0b0c0d0e0f10111213")

type fakeOrders struct {
	orders []exchange.AuctionElement
	err    error
}

func (f *fakeOrders) GetOrders(_ context.Context, _ ethcommon.Address) ([]exchange.AuctionElement, error) {
	return f.orders, f.err
}

// 不带 prometheus 中间件，避免测试间重复注册
func newTestRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.GET("/healthz", h.Healthz)
	v1 := r.Group("/api/v1")
	v1.GET("/trades", h.Trades)
	v1.GET("/trades/pending", h.PendingTrades)
	v1.GET("/orders", h.Orders)
	return r
}

func seededStore(t *testing.T) *trades.Store {
	t.Helper()
	store := trades.NewStore(context.Background(), nil,
		trades.WithClock(func() time.Time { return time.Unix(300000, 0) })) // batch 1000

	trade := &exchange.Trade{
		ID:          "0xabc|0",
		OrderID:     "5",
		BatchID:     1000,
		Timestamp:   299990,
		SellAmount:  big.NewInt(2000),
		BuyAmount:   big.NewInt(1000),
		BlockNumber: 123,
	}
	trade.RevertKey = exchange.RevertKey(trade.BatchID, trade.OrderID)
	err := store.AppendTrades(context.Background(), 1, testAddr, []*exchange.Trade{trade}, nil, 123)
	assert.NoError(t, err)
	return store
}

func do(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestTradesEndpoint(t *testing.T) {
	h := NewHandler(seededStore(t), &fakeOrders{}, 1)
	r := newTestRouter(h)

	w := do(r, "/api/v1/trades?address="+testAddr.Hex())
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Code int `json:"code"`
		Data struct {
			Network          int64             `json:"network"`
			LastCheckedBlock uint64            `json:"lastCheckedBlock"`
			Trades           []*exchange.Trade `json:"trades"`
		} `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 200, resp.Code)
	assert.Equal(t, int64(1), resp.Data.Network)
	assert.Equal(t, uint64(123), resp.Data.LastCheckedBlock)
	assert.Len(t, resp.Data.Trades, 1)
	assert.Equal(t, "5", resp.Data.Trades[0].OrderID)
}

func TestTradesEndpoint_BadAddress(t *testing.T) {
	h := NewHandler(seededStore(t), &fakeOrders{}, 1)
	r := newTestRouter(h)

	w := do(r, "/api/v1/trades?address=not-an-address")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, "/api/v1/trades")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTradesEndpoint_NetworkOverride(t *testing.T) {
	h := NewHandler(seededStore(t), &fakeOrders{}, 1)
	r := newTestRouter(h)

	// 换一条链，账本里什么都没有
	w := do(r, "/api/v1/trades?address="+testAddr.Hex()+"&network=4")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Network int64             `json:"network"`
			Trades  []*exchange.Trade `json:"trades"`
		} `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(4), resp.Data.Network)
	assert.Empty(t, resp.Data.Trades)
}

func TestPendingTradesEndpoint(t *testing.T) {
	h := NewHandler(seededStore(t), &fakeOrders{}, 1)
	r := newTestRouter(h)

	// batch 1000 还在回滚窗口内
	w := do(r, "/api/v1/trades/pending?address="+testAddr.Hex())
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Pending []*exchange.Trade `json:"pending"`
		} `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data.Pending, 1)
}

func TestOrdersEndpoint(t *testing.T) {
	orders := &fakeOrders{orders: []exchange.AuctionElement{{
		Order: exchange.Order{
			BuyTokenID:       1,
			SellTokenID:      2,
			PriceNumerator:   big.NewInt(100),
			PriceDenominator: big.NewInt(200),
			RemainingAmount:  big.NewInt(50),
		},
		User: testAddr,
		ID:   "0",
	}}}
	h := NewHandler(seededStore(t), orders, 1)
	r := newTestRouter(h)

	w := do(r, "/api/v1/orders?address="+testAddr.Hex())
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"orders"`)
}

func TestOrdersEndpoint_ChainFailure(t *testing.T) {
	h := NewHandler(seededStore(t), &fakeOrders{err: errors.New("node down")}, 1)
	r := newTestRouter(h)

	w := do(r, "/api/v1/orders?address="+testAddr.Hex())
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHealthz(t *testing.T) {
	h := NewHandler(seededStore(t), &fakeOrders{}, 1)
	r := newTestRouter(h)

	w := do(r, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
}

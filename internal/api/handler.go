package api

import (
	"context"
	"net/http"
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"gopherdex.com/internal/exchange"
	"gopherdex.com/internal/trades"
	"gopherdex.com/pkg/common"
	"gopherdex.com/pkg/xerr"
)

// OrderReader 查询账户当前挂单，由 exchange/client 实现
type OrderReader interface {
	GetOrders(ctx context.Context, userAddress ethcommon.Address) ([]exchange.AuctionElement, error)
}

type Handler struct {
	store     *trades.Store
	orders    OrderReader
	networkID int64
}

func NewHandler(store *trades.Store, orders OrderReader, networkID int64) *Handler {
	return &Handler{store: store, orders: orders, networkID: networkID}
}

func (h *Handler) parseAddress(c *gin.Context) (ethcommon.Address, bool) {
	raw := c.Query("address")
	if !ethcommon.IsHexAddress(raw) {
		common.Fail(c, http.StatusBadRequest, xerr.RequestParamsError, "address 参数缺失或不合法")
		return ethcommon.Address{}, false
	}
	return ethcommon.HexToAddress(raw), true
}

// networkID 默认用服务配置的链，允许 query 覆盖（调试用）
func (h *Handler) parseNetwork(c *gin.Context) int64 {
	raw := c.Query("network")
	if raw == "" {
		return h.networkID
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return h.networkID
	}
	return id
}

// Trades GET /api/v1/trades?address=0x...
func (h *Handler) Trades(c *gin.Context) {
	addr, ok := h.parseAddress(c)
	if !ok {
		return
	}
	network := h.parseNetwork(c)

	list := h.store.Trades(network, addr)
	lastBlock, _ := h.store.LastCheckedBlock(network, addr)
	common.Success(c, gin.H{
		"network":          network,
		"address":          addr.Hex(),
		"lastCheckedBlock": lastBlock,
		"trades":           list,
	})
}

// PendingTrades GET /api/v1/trades/pending?address=0x...
func (h *Handler) PendingTrades(c *gin.Context) {
	addr, ok := h.parseAddress(c)
	if !ok {
		return
	}
	network := h.parseNetwork(c)

	common.Success(c, gin.H{
		"network": network,
		"address": addr.Hex(),
		"pending": h.store.PendingTrades(network, addr),
	})
}

// Orders GET /api/v1/orders?address=0x... 直接读合约，不走本地状态
func (h *Handler) Orders(c *gin.Context) {
	addr, ok := h.parseAddress(c)
	if !ok {
		return
	}

	list, err := h.orders.GetOrders(c.Request.Context(), addr)
	if err != nil {
		common.FailLogged(c, http.StatusBadGateway, xerr.ServerCommonError, "读取链上订单失败", err)
		return
	}
	common.Success(c, gin.H{
		"address": addr.Hex(),
		"orders":  list,
	})
}

// Healthz GET /healthz
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

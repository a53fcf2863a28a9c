package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Order 交易所合约上挂着的限价单快照。客户端只读，按需刷新。
type Order struct {
	BuyTokenID       uint16
	SellTokenID      uint16
	ValidFrom        uint32 // batch id
	ValidUntil       uint32 // batch id
	PriceNumerator   *big.Int
	PriceDenominator *big.Int
	RemainingAmount  *big.Int
}

// AuctionElement 是 Order 加上持有人信息，id 为解码时的位置索引。
type AuctionElement struct {
	Order
	User             common.Address
	SellTokenBalance *big.Int
	ID               string
}

// TokenInfo 代币元数据
type TokenInfo struct {
	ID       uint16         `json:"id"`
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Name     string         `json:"name"`
	Decimals int32          `json:"decimals"`
}

// TradeEvent 合约 Trade / TradeReversion 日志的原始形态，未做任何补全。
type TradeEvent struct {
	OrderID     string
	SellTokenID uint16
	BuyTokenID  uint16
	SellAmount  *big.Int
	BuyAmount   *big.Int
	TxHash      common.Hash
	TxIndex     uint
	BlockNumber uint64
	EventIndex  uint // log index，同一 block 内的排序依据
}

// EventID 全局唯一事件 id: txHash|txIndex
func (e *TradeEvent) EventID() string {
	return fmt.Sprintf("%s|%d", e.TxHash.Hex(), e.TxIndex)
}

// Trade 一笔成交的最终记录。原始字段来自事件日志，
// 其余字段由 enrich 补全；RevertID 非空表示已被回滚。
type Trade struct {
	ID          string
	OrderID     string
	SellTokenID uint16
	BuyTokenID  uint16
	SellAmount  *big.Int
	BuyAmount   *big.Int
	TxHash      common.Hash
	TxIndex     uint
	BlockNumber uint64
	EventIndex  uint

	BatchID           int64
	Timestamp         int64 // unix 秒，所在区块时间
	SettlingTimestamp int64
	RevertKey         string
	BuyToken          *TokenInfo
	SellToken         *TokenInfo
	LimitPrice        *decimal.Decimal
	FillPrice         decimal.Decimal
	OrderBuyAmount    *big.Int // 订单原始 buy 总量 (priceNumerator)
	OrderSellAmount   *big.Int // 订单原始 sell 总量 (priceDenominator)
	RemainingAmount   *big.Int

	RevertID        string
	RevertTimestamp int64
}

// Settled 是否已过回滚窗口（没有 revert 即视为结算）
func (t *Trade) Settled() bool { return t.RevertID == "" && t.BatchID < BatchIDNow()-2 }

// Reverted 是否已被回滚
func (t *Trade) Reverted() bool { return t.RevertID != "" }

// TradeReversion 一次回滚事件，字段刚好够做匹配。
type TradeReversion struct {
	ID          string
	OrderID     string
	BatchID     int64
	Timestamp   int64
	EventIndex  uint
	TxHash      common.Hash
	BlockNumber uint64
}

// RevertKey 回滚匹配的复合键: batchId|orderId
func RevertKey(batchID int64, orderID string) string {
	return fmt.Sprintf("%d|%s", batchID, orderID)
}

// Key 该回滚事件的匹配键
func (r *TradeReversion) Key() string {
	return RevertKey(r.BatchID, r.OrderID)
}

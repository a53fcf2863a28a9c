// Package enrich 把原始成交事件补全成可展示的 Trade 记录：
// 区块时间戳、批次号、订单信息、代币元数据、限价和成交价。
package enrich

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopherdex.com/internal/exchange"
	"gopherdex.com/pkg/logger"
)

// ContractReader enrich 需要的链上只读能力
type ContractReader interface {
	// GetOrder 读取合约当前的订单状态（可能已被删除，返回全零记录）
	GetOrder(ctx context.Context, userAddress common.Address, orderID string) (*exchange.Order, error)
	// OrderFromPlacement 从 OrderPlacement 事件重建订单
	OrderFromPlacement(ctx context.Context, q PlacementQuery) (*exchange.Order, error)
	// BlockTime 区块时间戳 (unix 秒)
	BlockTime(ctx context.Context, blockNumber uint64) (int64, error)
}

// PlacementQuery 限定 OrderPlacement 事件检索范围。
// token id 不是必须的，但能显著缩小 topic 过滤范围。
type PlacementQuery struct {
	UserAddress common.Address
	OrderID     string
	BuyTokenID  uint16
	SellTokenID uint16
	ToBlock     uint64
}

// Service 成交补全服务。缓存对象显式持有，生命周期随应用。
type Service struct {
	reader ContractReader
	tokens *TokenCache

	// 并发拉取上限，防止一次大资产账户把节点打挂
	fanout int
}

func NewService(reader ContractReader, tokens *TokenCache) *Service {
	return &Service{reader: reader, tokens: tokens, fanout: 8}
}

type orderInfo struct {
	buyTokenID  uint16
	sellTokenID uint16
	blockNumber uint64
}

// Enrich 把一批原始成交事件补全成 Trade。
// knownOrders 是调用方手里已有的订单快照，命中则省一次合约调用。
// 单笔订单解析失败不致命，对应 Trade 缺 limitPrice/remainingAmount。
func (s *Service) Enrich(
	ctx context.Context,
	events []*exchange.TradeEvent,
	knownOrders []exchange.AuctionElement,
	userAddress common.Address,
) ([]*exchange.Trade, error) {
	if len(events) == 0 {
		return nil, nil
	}

	// 收集去重后的 block / order / token 维度
	blockSet := make(map[uint64]struct{})
	orderIDs := make(map[string]orderInfo)
	tokenSet := make(map[uint16]struct{})
	for _, ev := range events {
		blockSet[ev.BlockNumber] = struct{}{}
		orderIDs[ev.OrderID] = orderInfo{
			buyTokenID:  ev.BuyTokenID,
			sellTokenID: ev.SellTokenID,
			blockNumber: ev.BlockNumber,
		}
		tokenSet[ev.BuyTokenID] = struct{}{}
		tokenSet[ev.SellTokenID] = struct{}{}
	}

	orders := make(map[string]OrderResolution, len(orderIDs))
	for i := range knownOrders {
		o := &knownOrders[i]
		orders[o.ID] = found(&o.Order)
	}

	blockTimes, err := s.fetchBlockTimes(ctx, blockSet)
	if err != nil {
		return nil, err
	}

	s.resolveOrders(ctx, userAddress, orderIDs, orders)

	tokenIDs := make([]uint16, 0, len(tokenSet))
	for id := range tokenSet {
		tokenIDs = append(tokenIDs, id)
	}
	s.tokens.EnsureLoaded(ctx, tokenIDs)

	// 拼装
	trades := make([]*exchange.Trade, 0, len(events))
	for _, ev := range events {
		timestamp := blockTimes[ev.BlockNumber]
		batchID := exchange.BatchIDFromTime(timestamp)

		trade := &exchange.Trade{
			ID:                ev.EventID(),
			OrderID:           ev.OrderID,
			SellTokenID:       ev.SellTokenID,
			BuyTokenID:        ev.BuyTokenID,
			SellAmount:        ev.SellAmount,
			BuyAmount:         ev.BuyAmount,
			TxHash:            ev.TxHash,
			TxIndex:           ev.TxIndex,
			BlockNumber:       ev.BlockNumber,
			EventIndex:        ev.EventIndex,
			BatchID:           batchID,
			Timestamp:         timestamp,
			SettlingTimestamp: exchange.SettlingTime(batchID),
			RevertKey:         exchange.RevertKey(batchID, ev.OrderID),
			BuyToken:          s.tokens.Get(ev.BuyTokenID),
			SellToken:         s.tokens.Get(ev.SellTokenID),
		}

		buyDecimals := tokenDecimals(trade.BuyToken)
		sellDecimals := tokenDecimals(trade.SellToken)
		trade.FillPrice = calculatePrice(ev.BuyAmount, buyDecimals, ev.SellAmount, sellDecimals)

		if res := orders[ev.OrderID]; res.Kind != ResolutionUnresolved {
			order := res.Order
			limit := calculatePrice(order.PriceNumerator, buyDecimals, order.PriceDenominator, sellDecimals)
			trade.LimitPrice = &limit
			trade.OrderBuyAmount = order.PriceNumerator
			trade.OrderSellAmount = order.PriceDenominator
			trade.RemainingAmount = new(big.Int).Sub(order.PriceDenominator, ev.SellAmount)
		} else {
			logger.Warn(ctx, "order unresolved, trade kept without limit price",
				zap.String("order_id", ev.OrderID),
				zap.String("trade_id", trade.ID))
		}

		trades = append(trades, trade)
	}
	return trades, nil
}

// EnrichReversions 给回滚事件补上时间戳和批次号，产出可匹配的 TradeReversion。
func (s *Service) EnrichReversions(
	ctx context.Context,
	events []*exchange.TradeEvent,
) ([]*exchange.TradeReversion, error) {
	if len(events) == 0 {
		return nil, nil
	}

	blockSet := make(map[uint64]struct{})
	for _, ev := range events {
		blockSet[ev.BlockNumber] = struct{}{}
	}
	blockTimes, err := s.fetchBlockTimes(ctx, blockSet)
	if err != nil {
		return nil, err
	}

	reverts := make([]*exchange.TradeReversion, 0, len(events))
	for _, ev := range events {
		timestamp := blockTimes[ev.BlockNumber]
		reverts = append(reverts, &exchange.TradeReversion{
			ID:          ev.EventID(),
			OrderID:     ev.OrderID,
			BatchID:     exchange.BatchIDFromTime(timestamp),
			Timestamp:   timestamp,
			EventIndex:  ev.EventIndex,
			TxHash:      ev.TxHash,
			BlockNumber: ev.BlockNumber,
		})
	}
	return reverts, nil
}

// fetchBlockTimes 每个不重复的区块只查一次时间戳，并发扇出。
// 时间戳缺了批次号就是错的，所以这里的失败是致命的。
func (s *Service) fetchBlockTimes(ctx context.Context, blockSet map[uint64]struct{}) (map[uint64]int64, error) {
	var mu sync.Mutex
	times := make(map[uint64]int64, len(blockSet))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanout)
	for block := range blockSet {
		g.Go(func() error {
			ts, err := s.reader.BlockTime(gctx, block)
			if err != nil {
				return err
			}
			mu.Lock()
			times[block] = ts
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return times, nil
}

// resolveOrders 并发解析本地没有的订单，结果写回 orders。
// 解析失败不报错：Unresolved 也是合法结果。
func (s *Service) resolveOrders(
	ctx context.Context,
	userAddress common.Address,
	orderIDs map[string]orderInfo,
	orders map[string]OrderResolution,
) {
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanout)
	for orderID, info := range orderIDs {
		mu.Lock()
		_, known := orders[orderID]
		mu.Unlock()
		if known {
			continue
		}

		g.Go(func() error {
			res := s.resolveOrder(gctx, userAddress, orderID, info)
			mu.Lock()
			orders[orderID] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// resolveOrder 三级瀑布：合约现状 -> 下单事件重建 -> Unresolved
func (s *Service) resolveOrder(
	ctx context.Context,
	userAddress common.Address,
	orderID string,
	info orderInfo,
) OrderResolution {
	order, err := s.reader.GetOrder(ctx, userAddress, orderID)
	if err != nil {
		logger.Debug(ctx, "order fetch from contract failed",
			zap.String("order_id", orderID), zap.Error(err))
	} else if !exchange.IsOrderDeleted(order) {
		return found(order)
	}

	// 订单被删了（或没查到），退回 OrderPlacement 事件重建。
	// 用成交自身的 token id 和区块高度缩小检索范围。
	order, err = s.reader.OrderFromPlacement(ctx, PlacementQuery{
		UserAddress: userAddress,
		OrderID:     orderID,
		BuyTokenID:  info.buyTokenID,
		SellTokenID: info.sellTokenID,
		ToBlock:     info.blockNumber,
	})
	if err != nil {
		logger.Debug(ctx, "placement event not found for order",
			zap.String("order_id", orderID), zap.Error(err))
		return unresolved()
	}
	return reconstructed(order)
}

// calculatePrice (buyAmount / 10^buyDecimals) / (sellAmount / 10^sellDecimals)
func calculatePrice(numerator *big.Int, numDecimals int32, denominator *big.Int, denDecimals int32) decimal.Decimal {
	if numerator == nil || denominator == nil || denominator.Sign() == 0 {
		return decimal.Zero
	}
	num := decimal.NewFromBigInt(numerator, -numDecimals)
	den := decimal.NewFromBigInt(denominator, -denDecimals)
	return num.Div(den)
}

func tokenDecimals(t *exchange.TokenInfo) int32 {
	if t == nil {
		return 18 // ERC20 缺省精度
	}
	return t.Decimals
}

// Package poller 周期性拉取链上成交/回滚事件，对账后写入 trades.Store。
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gopherdex.com/internal/enrich"
	"gopherdex.com/internal/exchange"
	"gopherdex.com/internal/exchange/client"
	"gopherdex.com/internal/trades"
	"gopherdex.com/pkg/logger"
	"gopherdex.com/pkg/metrics"
	"gopherdex.com/pkg/safe"
	"gopherdex.com/pkg/xredis"
)

// ChainReader 轮询需要的链上读取能力，由 exchange/client 实现
type ChainReader interface {
	GetOrders(ctx context.Context, userAddress common.Address) ([]exchange.AuctionElement, error)
	PastTrades(ctx context.Context, q client.EventQuery) ([]*exchange.TradeEvent, error)
	PastReversions(ctx context.Context, q client.EventQuery) ([]*exchange.TradeEvent, error)
	CurrentBlock(ctx context.Context) (uint64, error)
}

type Config struct {
	NetworkID int64
	Addresses []common.Address
	Interval  time.Duration // 间隔轮询
	// 单次 FilterLogs 最多跨多少个块，0 表示不限制
	MaxBlockRange uint64
}

type Poller struct {
	config   *Config
	reader   ChainReader
	enricher *enrich.Service
	store    *trades.Store
	lock     *xredis.Lock // 可选，多实例部署时做分布式锁

	mu       sync.Mutex
	inflight map[common.Address]bool
}

func New(cfg *Config, reader ChainReader, enricher *enrich.Service,
	store *trades.Store, r *redis.Client) *Poller {
	// 对默认的配置进行兜底
	if cfg.Interval == 0 {
		cfg.Interval = 15 * time.Second
	}

	var lock *xredis.Lock
	if r != nil {
		lock = xredis.NewLock(r)
	}

	return &Poller{
		config:   cfg,
		reader:   reader,
		enricher: enricher,
		store:    store,
		lock:     lock,
		inflight: make(map[common.Address]bool),
	}
}

func (p *Poller) Start(ctx context.Context) {
	logger.Info(ctx, "poller start",
		zap.Int64("network", p.config.NetworkID),
		zap.Int("accounts", len(p.config.Addresses)),
		zap.Duration("interval", p.config.Interval))

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	// 启动先来一轮，不用干等第一个 tick
	p.pollAll(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "poller stopped", zap.Int64("network", p.config.NetworkID))
			return
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	for _, addr := range p.config.Addresses {
		addr := addr
		// 上一轮还没跑完的账户直接跳过这轮
		p.mu.Lock()
		if p.inflight[addr] {
			p.mu.Unlock()
			logger.Debug(ctx, "account poll still in flight, skip", zap.String("account", addr.Hex()))
			continue
		}
		p.inflight[addr] = true
		p.mu.Unlock()

		safe.GoCtx(ctx, func(ctx context.Context) {
			defer func() {
				p.mu.Lock()
				delete(p.inflight, addr)
				p.mu.Unlock()
			}()
			if err := p.pollAccount(ctx, addr); err != nil {
				logger.Error(ctx, "account poll failed",
					zap.String("account", addr.Hex()), zap.Error(err))
			}
		})
	}
}

func (p *Poller) pollAccount(ctx context.Context, addr common.Address) error {
	started := time.Now()
	network := fmt.Sprintf("%d", p.config.NetworkID)
	defer func() {
		metrics.PollCycleSeconds.WithLabelValues(network).Observe(time.Since(started).Seconds())
	}()

	// 多实例部署时抢账户级别的锁，没抢到说明别的节点在处理
	if p.lock != nil {
		lockKey := fmt.Sprintf("gopherdex:poll:lock:%d:%s", p.config.NetworkID, addr.Hex())
		if !p.lock.TryAcquire(ctx, lockKey, p.config.Interval*2) {
			logger.Debug(ctx, "account locked by another node, skip", zap.String("account", addr.Hex()))
			return nil
		}
		defer p.lock.Release(ctx, lockKey)
	}

	currentBlock, err := p.reader.CurrentBlock(ctx)
	if err != nil {
		return fmt.Errorf("current block: %w", err)
	}

	last, seen := p.store.LastCheckedBlock(p.config.NetworkID, addr)
	if !seen {
		// 第一次见到这个账户，全量同步一遍
		return p.fullResync(ctx, addr, currentBlock)
	}
	if last >= currentBlock {
		return nil
	}

	fromBlock := last + 1
	toBlock := currentBlock
	if p.config.MaxBlockRange > 0 && toBlock-fromBlock+1 > p.config.MaxBlockRange {
		toBlock = fromBlock + p.config.MaxBlockRange - 1
	}

	newTrades, reverts, err := p.fetchRange(ctx, addr, fromBlock, toBlock)
	if err != nil {
		return err
	}

	if len(newTrades) == 0 && len(reverts) == 0 {
		// 这一轮没有新事件，只推进高水位
		p.store.UpdateLastCheckedBlock(ctx, p.config.NetworkID, addr, toBlock)
		return nil
	}

	before := p.revertedCount(addr)
	if err := p.store.AppendTrades(ctx, p.config.NetworkID, addr, newTrades, reverts, toBlock); err != nil {
		return err
	}
	p.observe(ctx, addr, network, before)

	logger.Info(ctx, "account synced",
		zap.String("account", addr.Hex()),
		zap.Uint64("from", fromBlock), zap.Uint64("to", toBlock),
		zap.Int("trades", len(newTrades)), zap.Int("reverts", len(reverts)))
	return nil
}

// fullResync 从创世块扫到当前块，结果整体替换账户状态
func (p *Poller) fullResync(ctx context.Context, addr common.Address, currentBlock uint64) error {
	logger.Info(ctx, "first sight of account, full resync",
		zap.String("account", addr.Hex()), zap.Uint64("to", currentBlock))

	newTrades, reverts, err := p.fetchRange(ctx, addr, 0, currentBlock)
	if err != nil {
		return err
	}

	network := fmt.Sprintf("%d", p.config.NetworkID)
	if err := p.store.OverwriteTrades(ctx, p.config.NetworkID, addr, newTrades, reverts, currentBlock); err != nil {
		return err
	}
	p.observe(ctx, addr, network, 0)

	logger.Info(ctx, "full resync done",
		zap.String("account", addr.Hex()),
		zap.Int("trades", len(newTrades)), zap.Int("reverts", len(reverts)))
	return nil
}

// fetchRange 拉取区间内的 Trade/TradeReversion 日志并补全出领域对象
func (p *Poller) fetchRange(ctx context.Context, addr common.Address,
	fromBlock, toBlock uint64) ([]*exchange.Trade, []*exchange.TradeReversion, error) {
	q := client.EventQuery{UserAddress: addr, FromBlock: fromBlock, ToBlock: toBlock}

	tradeEvents, err := p.reader.PastTrades(ctx, q)
	if err != nil {
		return nil, nil, fmt.Errorf("past trades: %w", err)
	}
	revertEvents, err := p.reader.PastReversions(ctx, q)
	if err != nil {
		return nil, nil, fmt.Errorf("past reversions: %w", err)
	}
	if len(tradeEvents) == 0 && len(revertEvents) == 0 {
		return nil, nil, nil
	}

	network := fmt.Sprintf("%d", p.config.NetworkID)
	metrics.TradeEventsTotal.WithLabelValues(network, "trade").Add(float64(len(tradeEvents)))
	metrics.TradeEventsTotal.WithLabelValues(network, "reversion").Add(float64(len(revertEvents)))

	// 当前挂着的订单基本覆盖正在成交的订单，优先从这里解析，
	// 省掉逐单查合约的开销
	knownOrders, err := p.reader.GetOrders(ctx, addr)
	if err != nil {
		logger.Warn(ctx, "fetch open orders failed, resolve from contract instead",
			zap.String("account", addr.Hex()), zap.Error(err))
		knownOrders = nil
	}

	newTrades, err := p.enricher.Enrich(ctx, tradeEvents, knownOrders, addr)
	if err != nil {
		return nil, nil, fmt.Errorf("enrich trades: %w", err)
	}
	reverts, err := p.enricher.EnrichReversions(ctx, revertEvents)
	if err != nil {
		return nil, nil, fmt.Errorf("enrich reversions: %w", err)
	}
	return newTrades, reverts, nil
}

func (p *Poller) revertedCount(addr common.Address) int {
	count := 0
	for _, t := range p.store.Trades(p.config.NetworkID, addr) {
		if t.Reverted() {
			count++
		}
	}
	return count
}

// observe 一轮对账完成后刷新指标
func (p *Poller) observe(ctx context.Context, addr common.Address, network string, revertedBefore int) {
	if d := p.revertedCount(addr) - revertedBefore; d > 0 {
		metrics.RevertsMatchedTotal.WithLabelValues(network).Add(float64(d))
	}
	pending := len(p.store.PendingTrades(p.config.NetworkID, addr))
	metrics.PendingTrades.WithLabelValues(network, addr.Hex()).Set(float64(pending))

	logger.Debug(ctx, "state after reconcile",
		zap.String("account", addr.Hex()), zap.Int("pending", pending))
}

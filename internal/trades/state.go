package trades

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"gopherdex.com/internal/exchange"
	"gopherdex.com/pkg/logger"
	"gopherdex.com/pkg/metrics"
)

// AccountState 单个 (network, address) 的成交状态。
// Trades 只会整体覆盖或尾部追加，唯一的原地修改是补 revertId。
type AccountState struct {
	Trades           []*exchange.Trade `json:"trades"`
	PendingTrades    PendingSet        `json:"pendingTrades"`
	LastCheckedBlock uint64            `json:"lastCheckedBlock"`
}

// State 全量状态：accountKey -> 账户状态
type State map[string]*AccountState

// AccountKey "networkId|address"，地址统一小写
func AccountKey(networkID int64, userAddress common.Address) string {
	return fmt.Sprintf("%d|%s", networkID, strings.ToLower(userAddress.Hex()))
}

// Persister 状态落盘。失败不回滚内存状态，只记日志。
type Persister interface {
	Save(ctx context.Context, state State) error
	Load(ctx context.Context) (State, error)
}

// Store 持有全部账户的成交状态。
// 状态变更是纯函数（旧状态 + 动作 -> 新状态），落盘是变更之后的副作用。
// 同一账户的 Overwrite/Append 不能并发调用（丢更新），由 poller 串行保证；
// Store 自身的锁只负责读写不互相踩。
type Store struct {
	mu      sync.RWMutex
	state   State
	persist Persister

	now func() time.Time // 测试注入
}

type Option func(*Store)

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore 创建 Store 并尝试从 persister 恢复状态。
// 恢复失败退回空状态，不算致命（本地缓存丢了重新同步即可）。
func NewStore(ctx context.Context, persist Persister, opts ...Option) *Store {
	s := &Store{
		state:   make(State),
		persist: persist,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if persist != nil {
		loaded, err := persist.Load(ctx)
		if err != nil {
			logger.Warn(ctx, "load trade state failed, starting empty", zap.Error(err))
			metrics.PersistFailuresTotal.WithLabelValues("all", "load").Inc()
		} else if loaded != nil {
			s.state = loaded
			logger.Info(ctx, "trade state restored", zap.Int("accounts", len(loaded)))
		}
	}
	return s
}

// OverwriteTrades 全量重算：用一次完整同步的结果替换账户的成交列表，
// 不复用之前的 pending 状态。
func (s *Store) OverwriteTrades(
	ctx context.Context,
	networkID int64, userAddress common.Address,
	newTrades []*exchange.Trade, reverts []*exchange.TradeReversion,
	lastCheckedBlock uint64,
) error {
	currentBatch := exchange.BatchIDFromTime(s.now().Unix())

	merged, pending, err := ApplyReverts(ctx, newTrades, reverts, nil, currentBatch)
	if err != nil {
		return err
	}

	key := AccountKey(networkID, userAddress)
	s.mu.Lock()
	s.state[key] = &AccountState{
		Trades:           merged,
		PendingTrades:    pending,
		LastCheckedBlock: lastCheckedBlock,
	}
	s.mu.Unlock()

	s.persistAfter(ctx)
	return nil
}

// AppendTrades 增量对账：新事件和账户已有的 pending 一起匹配，
// 结果追加到已有成交列表（按 id 去重，旧记录只允许补 revertId）。
func (s *Store) AppendTrades(
	ctx context.Context,
	networkID int64, userAddress common.Address,
	newTrades []*exchange.Trade, reverts []*exchange.TradeReversion,
	lastCheckedBlock uint64,
) error {
	key := AccountKey(networkID, userAddress)
	currentBatch := exchange.BatchIDFromTime(s.now().Unix())

	s.mu.Lock()
	cur, ok := s.state[key]
	if !ok {
		cur = &AccountState{PendingTrades: make(PendingSet)}
	}

	next, err := transitionAppend(ctx, cur, newTrades, reverts, lastCheckedBlock, currentBatch)
	if err != nil {
		// 对账失败，旧状态原样保留
		s.mu.Unlock()
		return err
	}
	s.state[key] = next
	s.mu.Unlock()

	s.persistAfter(ctx)
	return nil
}

// UpdateLastCheckedBlock 只推进高水位，不动成交（这一轮没有新事件时用）。
func (s *Store) UpdateLastCheckedBlock(
	ctx context.Context,
	networkID int64, userAddress common.Address,
	lastCheckedBlock uint64,
) {
	key := AccountKey(networkID, userAddress)

	s.mu.Lock()
	cur, ok := s.state[key]
	if !ok {
		cur = &AccountState{PendingTrades: make(PendingSet)}
	}
	next := *cur
	next.LastCheckedBlock = lastCheckedBlock
	s.state[key] = &next
	s.mu.Unlock()

	s.persistAfter(ctx)
}

// transitionAppend 纯变换：不修改 cur，返回新的账户状态。
func transitionAppend(
	ctx context.Context,
	cur *AccountState,
	newTrades []*exchange.Trade, reverts []*exchange.TradeReversion,
	lastCheckedBlock uint64, currentBatch int64,
) (*AccountState, error) {
	merged, pending, err := ApplyReverts(ctx, newTrades, reverts, cur.PendingTrades, currentBatch)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(cur.Trades))
	list := make([]*exchange.Trade, len(cur.Trades))
	copy(list, cur.Trades)
	for i, t := range list {
		index[t.ID] = i
	}

	for _, t := range merged {
		if i, ok := index[t.ID]; ok {
			// 已有记录只接受首次出现的 revert 标记，之后保持不变
			if list[i].RevertID == "" && t.RevertID != "" {
				cp := *list[i]
				cp.RevertID = t.RevertID
				cp.RevertTimestamp = t.RevertTimestamp
				list[i] = &cp
			}
			continue
		}
		index[t.ID] = len(list)
		list = append(list, t)
	}

	return &AccountState{
		Trades:           list,
		PendingTrades:    pending,
		LastCheckedBlock: lastCheckedBlock,
	}, nil
}

// ---------------------------------------------------------
// 读接口
// ---------------------------------------------------------

// Trades 返回账户成交列表的副本
func (s *Store) Trades(networkID int64, userAddress common.Address) []*exchange.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.state[AccountKey(networkID, userAddress)]
	if !ok {
		return nil
	}
	out := make([]*exchange.Trade, len(acc.Trades))
	copy(out, acc.Trades)
	return out
}

// PendingTrades 返回还在回滚窗口内的成交
func (s *Store) PendingTrades(networkID int64, userAddress common.Address) []*exchange.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.state[AccountKey(networkID, userAddress)]
	if !ok {
		return nil
	}
	return flatten(acc.PendingTrades)
}

// LastCheckedBlock 账户的事件轮询高水位
func (s *Store) LastCheckedBlock(networkID int64, userAddress common.Address) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.state[AccountKey(networkID, userAddress)]
	if !ok {
		return 0, false
	}
	return acc.LastCheckedBlock, true
}

// persistAfter 变更后的落盘副作用。失败只记日志，内存状态仍然权威。
func (s *Store) persistAfter(ctx context.Context) {
	if s.persist == nil {
		return
	}

	s.mu.RLock()
	snapshot := make(State, len(s.state))
	for k, v := range s.state {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	if err := s.persist.Save(ctx, snapshot); err != nil {
		logger.Warn(ctx, "persist trade state failed", zap.Error(err))
		metrics.PersistFailuresTotal.WithLabelValues("all", "save").Inc()
	}
}

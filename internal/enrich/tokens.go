package enrich

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"gopherdex.com/internal/exchange"
	"gopherdex.com/pkg/logger"
)

// TokenReader 代币元数据来源（交易所合约 + ERC20 只读调用）
type TokenReader interface {
	TokenAddressByID(ctx context.Context, tokenID uint16) (common.Address, error)
	TokenDetails(ctx context.Context, addr common.Address) (symbol, name string, decimals int32, err error)
}

// TokenCache 进程级代币元数据缓存。显式对象、随应用生命周期存活，
// 不做模块级单例。
type TokenCache struct {
	mu     sync.RWMutex
	byID   map[uint16]*exchange.TokenInfo
	reader TokenReader
}

func NewTokenCache(reader TokenReader) *TokenCache {
	return &TokenCache{
		byID:   make(map[uint16]*exchange.TokenInfo),
		reader: reader,
	}
}

// Get 缓存命中返回，未命中返回 nil
func (c *TokenCache) Get(id uint16) *exchange.TokenInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byID[id]
}

// EnsureLoaded 把还没见过的 token id 拉取入缓存。
// 单个 token 拉取失败只告警：对应成交照样产出，只是缺元数据。
func (c *TokenCache) EnsureLoaded(ctx context.Context, ids []uint16) {
	for _, id := range ids {
		if c.Get(id) != nil {
			continue
		}

		info, err := c.fetch(ctx, id)
		if err != nil {
			logger.Warn(ctx, "token metadata fetch failed",
				zap.Uint16("token_id", id), zap.Error(err))
			continue
		}

		c.mu.Lock()
		c.byID[id] = info
		c.mu.Unlock()
	}
}

func (c *TokenCache) fetch(ctx context.Context, id uint16) (*exchange.TokenInfo, error) {
	addr, err := c.reader.TokenAddressByID(ctx, id)
	if err != nil {
		return nil, err
	}
	symbol, name, decimals, err := c.reader.TokenDetails(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &exchange.TokenInfo{
		ID:       id,
		Address:  addr,
		Symbol:   symbol,
		Name:     name,
		Decimals: decimals,
	}, nil
}

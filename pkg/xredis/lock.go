package xredis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gopherdex.com/pkg/logger"
)

// Lock 多实例部署时的互斥锁：同一个 key 同时只有一个节点持有。
// 带过期时间，持有者挂了锁会自动释放。
type Lock struct {
	rdb *redis.Client
	id  string // 当前节点的唯一ID
}

func NewLock(rdb *redis.Client) *Lock {
	// 组合随机id
	id := fmt.Sprintf("%s%d", uuid.New().String(), time.Now().Nanosecond())
	return &Lock{rdb: rdb, id: id}
}

// TryAcquire 抢锁。已经是自己的锁就续期。
func (l *Lock) TryAcquire(ctx context.Context, key string, ttl time.Duration) bool {
	success, err := l.rdb.SetNX(ctx, key, l.id, ttl).Result()
	if err != nil {
		logger.Error(ctx, "redis lock error", zap.String("key", key), zap.Error(err))
		return false
	}

	if !success {
		val, _ := l.rdb.Get(ctx, key).Result()
		if val == l.id {
			l.rdb.Expire(ctx, key, ttl)
			return true
		}
	}
	return success
}

// Release 只释放自己持有的锁，别的节点的锁不碰
func (l *Lock) Release(ctx context.Context, key string) {
	val, err := l.rdb.Get(ctx, key).Result()
	if err != nil || val != l.id {
		return
	}
	l.rdb.Del(ctx, key)
}

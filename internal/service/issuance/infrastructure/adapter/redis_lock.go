// internal/service/issuance/infrastructure/adapter/redis_lock.go
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"surge/internal/pkg/logger"
	"surge/internal/pkg/redis"
	"surge/internal/service/issuance/domain/port"
)

const (
	unlockScriptName = "issue_unlock"

	// 抢锁失败后的轮询间隔。锁的持有窗口是毫秒级的库存协议，
	// 间隔太大浪费 wait 预算，太小空转 Redis。
	acquirePollInterval = 20 * time.Millisecond
)

// 只有持有者能释放自己的锁：比对 token 再删除，
// 防止租约过期后误删下一个持有者的锁。
var unlockScript = `
-- KEYS[1]: 锁的 Key
-- ARGV[1]: 当前持有者的 token
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
else
    return 0
end
`

// RedisLockManager 是 port.LockManager 的 Redis 实现。
// SET NX PX 抢锁，PX 即租约：持有者崩溃后锁随租约自动过期，
// 不会饿死其他竞争者。
type RedisLockManager struct {
	redisClient *redis.Client
}

// NewRedisLockManager 创建锁管理器，创建时加载释放脚本
func NewRedisLockManager(redisClient *redis.Client) (*RedisLockManager, error) {
	if err := redisClient.LoadScriptFromContent(unlockScriptName, unlockScript); err != nil {
		return nil, fmt.Errorf("failed to load unlock script: %w", err)
	}
	return &RedisLockManager{redisClient: redisClient}, nil
}

// WithLock 在 wait 时间内轮询抢锁，成功后恰好执行一次 fn。
// fn 的 ctx 带有 lease 上限：执行必须在租约内完成，
// 否则锁可能被回收、由下一个竞争者并发进入。
func (m *RedisLockManager) WithLock(ctx context.Context, key string, wait, lease time.Duration, fn func(ctx context.Context) error) error {
	token := uuid.New().String()
	deadline := time.Now().Add(wait)

	for {
		ok, err := m.redisClient.GetClient().SetNX(ctx, key, token, lease).Result()
		if err != nil {
			return errors.Wrap(err, "redis lock acquire")
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return port.ErrLockAcquireTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(acquirePollInterval):
		}
	}

	defer func() {
		// 释放不复用业务 ctx：即使业务超时，锁也要尽力归还
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := m.redisClient.RunScript(releaseCtx, unlockScriptName, []string{key}, token); err != nil {
			// 释放失败锁会留到租约过期，只记录不升级
			logger.Ctx(ctx).Warn().Err(err).Str("lock_key", key).Msg("Failed to release lock")
		}
	}()

	bodyCtx, cancel := context.WithTimeout(ctx, lease)
	defer cancel()
	return fn(bodyCtx)
}

// internal/service/issuance/domain/port/lock.go
package port

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLockAcquireTimeout 在 wait 时间内没抢到锁。
// 属于瞬时错误：消费侧直接失败，靠队列重投重试，不在锁外自旋退避。
var ErrLockAcquireTimeout = errors.New("lock acquisition timed out")

// LockManager 是分布式互斥的出站端口。
// WithLock 在 wait 时间内尝试获取 key 对应的互斥锁，成功则恰好执行一次 fn，
// 无论 fn 正常返回、出错还是 panic 都必须释放锁；lease 限定锁的最长持有时间，
// 防止崩溃的持有者饿死其他竞争者。fn 的执行时间必须远小于 lease，
// 否则锁可能在执行中途被回收——这是正确性约束，不是调优项。
type LockManager interface {
	WithLock(ctx context.Context, key string, wait, lease time.Duration, fn func(ctx context.Context) error) error
}

// IssueLockKey 生成发放流程的锁键。锁粒度是单个优惠券：
// 不同活动完全并行，同一活动完全串行。
func IssueLockKey(couponID string) string {
	return fmt.Sprintf("coupon-issue:%s", couponID)
}

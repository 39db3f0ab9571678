// internal/service/issuance/domain/port/tx.go
package port

import "context"

// TxManager 把锁内的"写券 + 写计数"放进同一个数据库事务。
// 实现方通过 ctx 向仓储传递事务句柄；测试替身直接执行 fn。
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

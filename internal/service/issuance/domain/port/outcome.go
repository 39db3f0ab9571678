// internal/service/issuance/domain/port/outcome.go
package port

import (
	"context"
	"errors"

	"surge/internal/service/issuance/domain"
)

// ErrOutcomeNotFound 指定 RequestID 还没有产生结果
var ErrOutcomeNotFound = errors.New("issuance outcome not found")

// OutcomeStore 是发放结果的出站端口。
// Publish 写入结果并通知订阅者；已存储的结果同时充当 RequestID 的幂等记录，
// 供消费者做锁外预检查。
type OutcomeStore interface {
	Publish(ctx context.Context, outcome *domain.IssuanceOutcome) error
	Get(ctx context.Context, requestID string) (*domain.IssuanceOutcome, error)
}

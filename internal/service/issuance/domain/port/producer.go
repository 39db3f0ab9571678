// internal/service/issuance/domain/port/producer.go
package port

import (
	"context"

	"surge/internal/service/issuance/domain"
)

// RequestProducer 是发放请求进入异步队列的出站端口。
// 实现必须按 CouponID 作为分区键，保证同一活动的请求汇聚到有界的串行流。
type RequestProducer interface {
	Produce(ctx context.Context, req *domain.IssuanceRequested) error
}

// internal/service/issuance/infrastructure/adapter/request_producer_kafka.go
package adapter

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"surge/internal/pkg/logger"
	"surge/internal/pkg/mq"
	"surge/internal/service/issuance/domain"
)

// RequestProducerAdapter 是 port.RequestProducer 的 Kafka 实现。
// 消息以 CouponID 作为 Key：Hash 分区保证同一活动的请求进入同一分区，
// 被同一个消费者串行拉取，锁竞争因此有界。
type RequestProducerAdapter struct {
	writer *kafka.Writer
}

func NewRequestProducerAdapter(writer *kafka.Writer) *RequestProducerAdapter {
	return &RequestProducerAdapter{writer: writer}
}

func (p *RequestProducerAdapter) Produce(ctx context.Context, req *domain.IssuanceRequested) error {
	payload, err := json.Marshal(req)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Failed to marshal issuance request")
		return err
	}

	if err := mq.ProduceMessage(ctx, p.writer, []byte(req.CouponID), payload); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Failed to produce issuance request to Kafka")
		return err
	}
	return nil
}

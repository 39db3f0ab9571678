// internal/service/issuance/infrastructure/kafka_consumer.go
package infrastructure

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"surge/internal/pkg/logger"
	"surge/internal/pkg/mq"
	"surge/internal/service/issuance/application"
	"surge/internal/service/issuance/domain"
)

// IssuanceConsumerAdapter 是驱动适配器：监听发放请求 Topic 并驱动应用服务。
// 处理与提交的顺序是正确性的一部分：
//   - 处理成功（终态结论已发布）→ 提交 offset；
//   - 处理失败 → FailureHandler 把消息重投/送死信后再提交 offset；
//   - 重投/死信也写不进去 → 不提交，等 Kafka 重新投递；
//   - 提交前崩溃 → 队列重投，幂等检查兜底，不会重复扣减库存。
type IssuanceConsumerAdapter struct {
	reader  *kafka.Reader
	appSvc  *application.IssuanceApplicationService
	wg      sync.WaitGroup
	stopped atomic.Bool

	failureHandler *mq.FailureHandler
}

// NewIssuanceConsumerAdapter 创建一个新的Kafka消费者适配器。
func NewIssuanceConsumerAdapter(reader *kafka.Reader, appSvc *application.IssuanceApplicationService, failureHandler *mq.FailureHandler) *IssuanceConsumerAdapter {
	return &IssuanceConsumerAdapter{
		reader:         reader,
		appSvc:         appSvc,
		failureHandler: failureHandler,
	}
}

// Start 开始监听Kafka主题。这是一个长期运行的方法。
func (a *IssuanceConsumerAdapter) Start(ctx context.Context) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.reader.Config().Topic).Msg("✅ Issuance Consumer Adapter started")
		for {
			if a.stopped.Load() {
				return
			}
			// 用FetchMessage而不是ReadMessage，以便自己控制提交时机
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("🛑 Issuance Consumer Adapter shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("Could not fetch message, retrying")
				time.Sleep(1 * time.Second) // 避免快速失败循环
				continue
			}

			propagator := otel.GetTextMapPropagator()
			headerCarrier := mq.KafkaHeaderCarrier(msg.Headers)
			msgCtx := propagator.Extract(ctx, &headerCarrier)

			if processingErr := a.processMessage(msgCtx, msg); processingErr != nil {
				// 瞬时失败交给FailureHandler：有界重投，超限进死信
				if err := a.failureHandler.Handle(msgCtx, msg, processingErr); err != nil {
					// 重投和死信都没写进去，说明 Kafka 本身在劣化。
					// 此时绝不能提交 offset：不提交，消息还能靠重启/再均衡后的
					// 重新投递活下来；提交了就是无声丢失。
					logger.Ctx(msgCtx).Error().Err(err).Msg("Failure handoff did not land, holding offset")
					continue
				}
			}

			// 消息要么已产出终态结论，要么已移交重投/死信，都可以提交
			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit messages")
			}
		}
	}()
	return nil
}

// Stop 优雅地停止消费者。
func (a *IssuanceConsumerAdapter) Stop(ctx context.Context) {
	a.stopped.Store(true)
	a.reader.Close()
	a.wg.Wait()
	logger.Ctx(ctx).Info().Msg("✅ Issuance Consumer Adapter stopped")
}

// processMessage 反序列化消息并调用应用服务。
func (a *IssuanceConsumerAdapter) processMessage(ctx context.Context, msg kafka.Message) error {
	var req domain.IssuanceRequested
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		// 格式坏掉的消息重试也不会好，直接交给FailureHandler走死信
		return err
	}
	return a.appSvc.HandleIssuanceRequest(ctx, &req)
}

// internal/pkg/mq/failure.go
package mq

import (
	"context"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"surge/internal/pkg/logger"
)

// 死信/重试相关的 Kafka Header 约定
const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionFqcn     = "x-exception-fqcn"
	HeaderExceptionMessage  = "x-exception-message"
	HeaderRetryAttempt      = "x-retry-attempt"
)

// messageWriter 是 FailureHandler 需要的最小写入面，kafka.Writer 满足它
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// FailureHandler 统一处理消费失败的消息：
// 在最大尝试次数以内，把消息重新投递回原 Topic（附带尝试次数 Header）；
// 超过上限后移入死信 Topic，交给人工排查。
// 消费者本身永远不做 sleep 退避——退避期间持有的分布式锁可能超过租约，
// 所以所有重试都交还给队列。
type FailureHandler struct {
	retryWriter messageWriter
	dltWriter   messageWriter
	maxAttempts int
}

func NewFailureHandler(retryWriter, dltWriter *kafka.Writer, maxAttempts int) *FailureHandler {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &FailureHandler{
		retryWriter: retryWriter,
		dltWriter:   dltWriter,
		maxAttempts: maxAttempts,
	}
}

// Handle 根据消息已经历的尝试次数决定重投还是送入死信。
// 返回非 nil 表示消息没能落到任何地方，调用方不得提交 offset，
// 否则这条请求会无声丢失。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) error {
	attempt := RetryAttempt(msg) + 1

	if attempt < h.maxAttempts {
		if err := h.forward(ctx, h.retryWriter, msg, cause, attempt); err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Str("topic", msg.Topic).
				Int("attempt", attempt).
				Msg("Failed to requeue message for retry")
			return fmt.Errorf("requeue for retry: %w", err)
		}
		return nil
	}

	logger.Ctx(ctx).Error().Err(cause).
		Str("topic", msg.Topic).
		Int("attempt", attempt).
		Msg("🚨 Max attempts exhausted, moving message to DLT")

	if err := h.forward(ctx, h.dltWriter, msg, cause, attempt); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("topic", msg.Topic).
			Str("key", string(msg.Key)).
			Msg("CRITICAL: failed to write message to DLT")
		return fmt.Errorf("write to DLT: %w", err)
	}
	return nil
}

func (h *FailureHandler) forward(ctx context.Context, writer messageWriter, msg kafka.Message, cause error, attempt int) error {
	headers := append([]kafka.Header{}, msg.Headers...)
	headers = setHeader(headers, HeaderOriginalTopic, msg.Topic)
	headers = setHeader(headers, HeaderOriginalPartition, strconv.Itoa(msg.Partition))
	headers = setHeader(headers, HeaderOriginalOffset, strconv.FormatInt(msg.Offset, 10))
	headers = setHeader(headers, HeaderExceptionFqcn, fmt.Sprintf("%T", cause))
	headers = setHeader(headers, HeaderExceptionMessage, cause.Error())
	headers = setHeader(headers, HeaderRetryAttempt, strconv.Itoa(attempt))

	return writer.WriteMessages(ctx, kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
}

// RetryAttempt 读取消息已经历的重试次数，没有 Header 时为 0
func RetryAttempt(msg kafka.Message) int {
	for _, h := range msg.Headers {
		if h.Key == HeaderRetryAttempt {
			if n, err := strconv.Atoi(string(h.Value)); err == nil {
				return n
			}
		}
	}
	return 0
}

func setHeader(headers []kafka.Header, key, value string) []kafka.Header {
	for i, h := range headers {
		if h.Key == key {
			headers[i].Value = []byte(value)
			return headers
		}
	}
	return append(headers, kafka.Header{Key: key, Value: []byte(value)})
}

// internal/service/issuance/infrastructure/adapter/outcome_redis.go
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"surge/internal/pkg/logger"
	"surge/internal/pkg/redis"
	"surge/internal/service/issuance/domain"
	"surge/internal/service/issuance/domain/port"
)

// RedisOutcomeStore 是 port.OutcomeStore 的 Redis 实现。
// 结果按 RequestID 落键并带 TTL，同时向对应频道广播一份，
// 供轮询和订阅两种方式消费。落键的那份兼任 RequestID 的幂等记录。
type RedisOutcomeStore struct {
	redisClient *redis.Client
	ttl         time.Duration
}

func NewRedisOutcomeStore(redisClient *redis.Client, ttl time.Duration) *RedisOutcomeStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisOutcomeStore{redisClient: redisClient, ttl: ttl}
}

func outcomeKey(requestID string) string {
	return fmt.Sprintf("issuance:outcome:{%s}", requestID)
}

func outcomeChannel(requestID string) string {
	return fmt.Sprintf("issuance:outcome-events:{%s}", requestID)
}

// Publish 写入结果并通知订阅者
func (s *RedisOutcomeStore) Publish(ctx context.Context, outcome *domain.IssuanceOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return err
	}

	client := s.redisClient.GetClient()
	if err := client.Set(ctx, outcomeKey(outcome.RequestID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("store outcome for %s: %w", outcome.RequestID, err)
	}

	// 广播尽力而为：没有订阅者或发布失败都不影响已落键的结果
	if err := client.Publish(ctx, outcomeChannel(outcome.RequestID), payload).Err(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Str("request_id", outcome.RequestID).
			Msg("Failed to broadcast outcome event")
	}
	return nil
}

// Get 读取某次请求的结果
func (s *RedisOutcomeStore) Get(ctx context.Context, requestID string) (*domain.IssuanceOutcome, error) {
	payload, err := s.redisClient.GetClient().Get(ctx, outcomeKey(requestID)).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, port.ErrOutcomeNotFound
		}
		return nil, err
	}

	var outcome domain.IssuanceOutcome
	if err := json.Unmarshal(payload, &outcome); err != nil {
		return nil, fmt.Errorf("decode outcome for %s: %w", requestID, err)
	}
	return &outcome, nil
}

// Subscribe 订阅某次请求的结果事件，返回接收通道和取消函数。
// WebSocket 推送接口用它把结果实时送达客户端。
func (s *RedisOutcomeStore) Subscribe(ctx context.Context, requestID string) (<-chan *domain.IssuanceOutcome, func(), error) {
	pubsub := s.redisClient.GetClient().Subscribe(ctx, outcomeChannel(requestID))
	// 确认订阅建立，避免先发后订的竞态窗口过大
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, err
	}

	out := make(chan *domain.IssuanceOutcome, 1)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var outcome domain.IssuanceOutcome
			if err := json.Unmarshal([]byte(msg.Payload), &outcome); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Msg("Malformed outcome event, skipping")
				continue
			}
			select {
			case out <- &outcome:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() { pubsub.Close() }
	return out, cancel, nil
}

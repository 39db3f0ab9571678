// internal/service/issuance/infrastructure/kafka_consumer_test.go
package infrastructure

import (
	"context"
	"testing"
	"time"

	"surge/internal/pkg/mq"
)

// Stop 与消费循环并发访问停止标记，循环必须在 Stop 返回前退出。
// Reader 指向一个不存在的 broker，走的是 fetch 失败的重试路径。
func TestConsumerStopTerminatesLoop(t *testing.T) {
	reader := mq.NewKafkaReader([]string{"127.0.0.1:1"}, "requests", "test-group")
	consumer := NewIssuanceConsumerAdapter(reader, nil, nil)

	ctx := context.Background()
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	done := make(chan struct{})
	go func() {
		consumer.Stop(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("consumer loop did not exit after Stop")
	}
}

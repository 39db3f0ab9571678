// cmd/issuance-worker/main.go
package main

import (
	"context"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"surge/internal/pkg/bootstrap"
	"surge/internal/pkg/httpclient"
	"surge/internal/pkg/mq"
	"surge/internal/pkg/redis"
	"surge/internal/service/issuance/application"
	"surge/internal/service/issuance/domain/port"
	"surge/internal/service/issuance/infrastructure"
	"surge/internal/service/issuance/infrastructure/adapter"
	"surge/internal/service/issuance/interfaces"
)

const (
	serviceName = "issuance-worker"
	servicePort = 8081
)

type stoppable interface {
	Stop(ctx context.Context)
}

// main 组装消费侧的全部依赖：数据库、锁、规则引擎、Kafka 消费者与死信链路。
func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()

	tracer := otel.Tracer(serviceName)

	db, err := infrastructure.NewDB(cfg.Infra.Mysql.DSN)
	if err != nil {
		log.Fatalf("failed to initialize mysql: %v", err)
	}
	couponRepo := infrastructure.NewGormCouponRepository(db)
	userCouponRepo := infrastructure.NewGormUserCouponRepository(db)
	txManager := infrastructure.NewGormTxManager(db)

	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addrs)
	if err != nil {
		log.Fatalf("failed to initialize redis client: %v", err)
	}
	defer redisClient.Close()
	outcomes := adapter.NewRedisOutcomeStore(redisClient, cfg.Issuance.OutcomeTTL)

	// 锁后端按配置选择，两种实现满足同一个 port.LockManager 契约
	var lockManager port.LockManager
	switch cfg.Issuance.Lock.Backend {
	case "zookeeper":
		zkLock, err := adapter.NewZkLockManager(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			log.Fatalf("failed to initialize zookeeper lock manager: %v", err)
		}
		defer zkLock.Close()
		lockManager = zkLock
	default:
		redisLock, err := adapter.NewRedisLockManager(redisClient)
		if err != nil {
			log.Fatalf("failed to initialize redis lock manager: %v", err)
		}
		lockManager = redisLock
	}

	eligibility, err := adapter.NewCelEligibilityAdapter(httpclient.NewClient(tracer), cfg.Issuance.AccountServiceURL)
	if err != nil {
		log.Fatalf("failed to initialize eligibility adapter: %v", err)
	}

	// 重投回原 Topic，超限进死信
	retryWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.RequestTopic)
	defer retryWriter.Close()
	dltWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.DltTopic)
	defer dltWriter.Close()
	failureHandler := mq.NewFailureHandler(retryWriter, dltWriter, cfg.Infra.Kafka.MaxAttempts)

	// 消费侧不入队，producer 留空
	appSvc := application.NewIssuanceApplicationService(
		couponRepo, userCouponRepo, outcomes,
		lockManager, eligibility, nil, txManager, tracer,
		cfg.Issuance.Lock.WaitTime, cfg.Issuance.Lock.LeaseTime,
	)

	// 并发度 = 同消费组内的 Reader 数量。
	// 每个 Reader 内部严格串行（处理完才提交），分区间天然并行。
	consumerCtx, cancelConsumers := context.WithCancel(context.Background())
	var consumers []stoppable

	concurrency := cfg.Issuance.Worker.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.RequestTopic, cfg.Infra.Kafka.ConsumerGroup)
		consumer := infrastructure.NewIssuanceConsumerAdapter(reader, appSvc, failureHandler)
		if err := consumer.Start(consumerCtx); err != nil {
			log.Fatalf("failed to start issuance consumer: %v", err)
		}
		consumers = append(consumers, consumer)
	}

	dltReader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.DltTopic, cfg.Infra.Kafka.ConsumerGroup+"-dlt")
	dltConsumer := interfaces.NewDltConsumerAdapter(dltReader)
	if err := dltConsumer.Start(consumerCtx); err != nil {
		log.Fatalf("failed to start DLT consumer: %v", err)
	}
	consumers = append(consumers, dltConsumer)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			// worker 只暴露健康检查和指标，请求受理在 issuance-api
			appCtx.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			appCtx.Mux.Handle("/metrics", promhttp.Handler())
		},
		OnShutdown: func(ctx context.Context) {
			cancelConsumers()
			for _, c := range consumers {
				c.Stop(ctx)
			}
		},
	})
}

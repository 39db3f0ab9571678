// cmd/issuance-api/main.go
package main

import (
	"log"

	"go.opentelemetry.io/otel"

	"surge/internal/pkg/bootstrap"
	"surge/internal/pkg/mq"
	"surge/internal/pkg/redis"
	"surge/internal/service/issuance/application"
	"surge/internal/service/issuance/infrastructure"
	"surge/internal/service/issuance/infrastructure/adapter"
	"surge/internal/service/issuance/interfaces"
)

const (
	serviceName = "issuance-api"
	servicePort = 8080
)

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()

	tracer := otel.Tracer(serviceName)

	// 请求入队的 Writer：以 CouponID 为 Key 做 Hash 分区
	requestWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.RequestTopic)
	defer requestWriter.Close()
	producer := adapter.NewRequestProducerAdapter(requestWriter)

	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addrs)
	if err != nil {
		log.Fatalf("failed to initialize redis client: %v", err)
	}
	defer redisClient.Close()
	outcomes := adapter.NewRedisOutcomeStore(redisClient, cfg.Issuance.OutcomeTTL)

	// 管理路径（创建活动）需要数据库
	db, err := infrastructure.NewDB(cfg.Infra.Mysql.DSN)
	if err != nil {
		log.Fatalf("failed to initialize mysql: %v", err)
	}
	couponRepo := infrastructure.NewGormCouponRepository(db)
	userCouponRepo := infrastructure.NewGormUserCouponRepository(db)
	txManager := infrastructure.NewGormTxManager(db)

	// API 侧不消费队列，锁和资格校验不参与请求路径，留空即可
	appSvc := application.NewIssuanceApplicationService(
		couponRepo, userCouponRepo, outcomes,
		nil, nil, producer, txManager, tracer,
		cfg.Issuance.Lock.WaitTime, cfg.Issuance.Lock.LeaseTime,
	)

	httpHandler := interfaces.NewIssuanceHandler(appSvc)
	wsHandler := interfaces.NewOutcomeWsHandler(outcomes)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			httpHandler.RegisterRoutes(appCtx.Mux)
			wsHandler.RegisterRoutes(appCtx.Mux)
		},
	})
}

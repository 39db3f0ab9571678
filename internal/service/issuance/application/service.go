// internal/service/issuance/application/service.go
package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"surge/internal/pkg/logger"
	"surge/internal/service/issuance/domain"
	"surge/internal/service/issuance/domain/port"
)

// IssuanceApplicationService 编排整个发放流程。
// 它自己不含库存算法——锁内决策是 domain.Decide 纯函数，
// 这里负责幂等预检查、资格校验、锁、事务、结果发布这些副作用的排布。
type IssuanceApplicationService struct {
	couponRepo     domain.CouponRepository
	userCouponRepo domain.UserCouponRepository
	outcomes       port.OutcomeStore
	lock           port.LockManager
	eligibility    port.EligibilityService
	producer       port.RequestProducer
	tx             port.TxManager
	tracer         trace.Tracer

	lockWait  time.Duration
	lockLease time.Duration
}

func NewIssuanceApplicationService(
	couponRepo domain.CouponRepository,
	userCouponRepo domain.UserCouponRepository,
	outcomes port.OutcomeStore,
	lock port.LockManager,
	eligibility port.EligibilityService,
	producer port.RequestProducer,
	tx port.TxManager,
	tracer trace.Tracer,
	lockWait, lockLease time.Duration,
) *IssuanceApplicationService {
	return &IssuanceApplicationService{
		couponRepo: couponRepo, userCouponRepo: userCouponRepo,
		outcomes: outcomes, lock: lock, eligibility: eligibility,
		producer: producer, tx: tx, tracer: tracer,
		lockWait: lockWait, lockLease: lockLease,
	}
}

// RequestIssuance 是暴露给接口层的入队方法。
// 只校验请求形状并把事件发到 Kafka，立即返回 accepted——
// 最终成败由消费端异步产出，通过结果通道获知。
func (s *IssuanceApplicationService) RequestIssuance(ctx context.Context, req *IssueCouponRequest) (*IssueCouponResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.RequestIssuance")
	defer span.End()

	if req.UserID == "" || req.CouponID == "" {
		return nil, errors.New("userId and couponId are required")
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	event := &domain.IssuanceRequested{
		RequestID:   requestID,
		UserID:      req.UserID,
		CouponID:    req.CouponID,
		SubmittedAt: time.Now(),
	}

	span.SetAttributes(
		attribute.String("issuance.request_id", requestID),
		attribute.String("issuance.coupon_id", req.CouponID),
		attribute.String("user.id", req.UserID),
	)

	if err := s.producer.Produce(ctx, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to enqueue issuance request")
		return nil, errors.Wrap(err, "enqueue issuance request")
	}

	logger.Ctx(ctx).Info().
		Str("request_id", requestID).
		Str("coupon_id", req.CouponID).
		Msg("Issuance request enqueued")

	return &IssueCouponResponse{
		RequestID: requestID,
		Status:    "accepted",
		Message:   "Your request is being processed.",
	}, nil
}

// HandleIssuanceRequest 是消费端的核心状态机，处理一条出队的发放请求。
// 返回 error 表示瞬时故障，消息交还给队列的重试机制；
// 返回 nil 表示已产出终态结果（成功、售罄、重复、不合格），可以提交 offset。
func (s *IssuanceApplicationService) HandleIssuanceRequest(ctx context.Context, req *domain.IssuanceRequested) error {
	ctx, span := s.tracer.Start(ctx, "app.HandleIssuanceRequest", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	span.SetAttributes(
		attribute.String("issuance.request_id", req.RequestID),
		attribute.String("issuance.coupon_id", req.CouponID),
		attribute.String("user.id", req.UserID),
	)

	// 1. 幂等预检查（锁外的廉价路径），限制重投消息造成的锁竞争。
	// 预检查的数据源可能暂时不可用或滞后，失败时不阻断流程——
	// 锁内的复查才是权威判定。
	if short, err := s.precheckDuplicate(ctx, req); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Idempotency pre-check unavailable, falling through to lock")
	} else if short {
		span.AddEvent("Short-circuited as duplicate before lock")
		return nil
	}

	// 2. 资格校验（锁外）：用户状态 + 活动规则
	coupon, err := s.couponRepo.FindByIDForUpdate(ctx, req.CouponID)
	if err != nil {
		if errors.Is(err, domain.ErrCouponNotFound) {
			// 活动不存在是终态：重试不会让它出现
			span.AddEvent("Coupon not found, terminal system error")
			return s.publishTerminal(ctx, domain.NewFailureOutcome(req.RequestID, domain.ReasonSystemError))
		}
		span.RecordError(err)
		return errors.Wrap(err, "load coupon")
	}

	if err := s.eligibility.CheckEligibility(ctx, req.UserID, coupon); err != nil {
		if errors.Is(err, domain.ErrUserIneligible) {
			span.AddEvent("User ineligible")
			return s.publishTerminal(ctx, domain.NewFailureOutcome(req.RequestID, domain.ReasonUserIneligible))
		}
		span.RecordError(err)
		return errors.Wrap(err, "eligibility check")
	}

	// 3. 加锁执行发放协议。抢锁超时 → SYSTEM_ERROR，交还队列重投，
	// 本组件不做自己的退避循环。
	var decision domain.Decision
	lockStart := time.Now()
	err = s.lock.WithLock(ctx, port.IssueLockKey(req.CouponID), s.lockWait, s.lockLease, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			// 锁内复查唯一性：防御预检查与加锁之间的并发写
			existing, err := s.userCouponRepo.FindByUserAndCoupon(ctx, req.UserID, req.CouponID)
			if err != nil {
				return errors.Wrap(err, "recheck user coupon")
			}

			// 锁内必须重读权威库存，锁外捕获的任何状态都是竞态
			fresh, err := s.couponRepo.FindByIDForUpdate(ctx, req.CouponID)
			if err != nil {
				return errors.Wrap(err, "reload coupon inside lock")
			}

			decision = domain.Decide(req, fresh, existing, time.Now())
			if !decision.Mutated {
				return nil
			}

			// 先插用户券：唯一索引是 (UserID, CouponID) 的第二道防线，
			// 冲突说明另一个进程也认为自己持有锁（租约/时钟问题），按重复处理
			if err := s.userCouponRepo.Save(ctx, decision.UserCoupon); err != nil {
				if errors.Is(err, domain.ErrConstraintViolation) {
					decision = domain.Decision{Outcome: domain.NewFailureOutcome(req.RequestID, domain.ReasonDuplicate)}
					return nil
				}
				return errors.Wrap(err, "save user coupon")
			}
			return errors.Wrap(s.couponRepo.Save(ctx, fresh), "save coupon count")
		})
	})
	lockHoldSeconds.Observe(time.Since(lockStart).Seconds())

	if err != nil {
		span.RecordError(err)
		if errors.Is(err, port.ErrLockAcquireTimeout) {
			lockTimeoutCounter.Inc()
			span.SetStatus(codes.Error, "Lock acquisition timed out")
			// 发布瞬时的 SYSTEM_ERROR 让订阅方可见，但预检查会忽略它，
			// 重投的消息仍有机会完成发放
			s.publishBestEffort(ctx, domain.NewFailureOutcome(req.RequestID, domain.ReasonSystemError))
		} else {
			span.SetStatus(codes.Error, "Issuance protocol failed")
		}
		return err
	}

	// 4. 结果发布，按 RequestID 关联原始请求
	if err := s.publishTerminal(ctx, decision.Outcome); err != nil {
		return err
	}

	logger.Ctx(ctx).Info().
		Str("request_id", req.RequestID).
		Str("coupon_id", req.CouponID).
		Bool("success", decision.Outcome.Success).
		Str("reason", string(decision.Outcome.Reason)).
		Msg("Issuance request processed")
	return nil
}

// CreateCoupon 创建并激活一个新的活动（管理路径）。
// 非正库存在这里拒绝，发放路径不再校验。
func (s *IssuanceApplicationService) CreateCoupon(ctx context.Context, req *CreateCouponRequest) (*CreateCouponResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.CreateCoupon")
	defer span.End()

	coupon, err := domain.NewCoupon(req.CouponID, req.TotalStock, req.DiscountAmount, req.ExpiresAt)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	// TODO: 在创建时编译校验 EligibilityRule，而不是等到第一次评估才失败
	coupon.EligibilityRule = req.EligibilityRule

	if err := s.couponRepo.Create(ctx, coupon); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to create coupon")
		return nil, errors.Wrap(err, "create coupon")
	}

	logger.Ctx(ctx).Info().
		Str("coupon_id", coupon.CouponID).
		Int("total_stock", coupon.TotalStock).
		Msg("Coupon campaign created")

	return &CreateCouponResponse{
		CouponID:   coupon.CouponID,
		TotalStock: coupon.TotalStock,
		Status:     string(coupon.Status()),
	}, nil
}

// GetOutcome 查询某次请求的最终结果，供轮询接口使用
func (s *IssuanceApplicationService) GetOutcome(ctx context.Context, requestID string) (*domain.IssuanceOutcome, error) {
	return s.outcomes.Get(ctx, requestID)
}

// precheckDuplicate 返回 true 时表示请求已有终态结论，直接短路。
// SYSTEM_ERROR 不是终态，不短路，否则锁超时后重投的消息会被自己的
// 错误记录挡住，永远无法重试。
func (s *IssuanceApplicationService) precheckDuplicate(ctx context.Context, req *domain.IssuanceRequested) (bool, error) {
	out, err := s.outcomes.Get(ctx, req.RequestID)
	if err == nil && out.Reason != domain.ReasonSystemError {
		precheckShortCircuitCounter.Inc()
		return true, nil
	}
	if err != nil && !errors.Is(err, port.ErrOutcomeNotFound) {
		return false, err
	}

	// 结果记录可能在崩溃时丢失，落库的用户券才是幂等判定的根本依据
	existing, err := s.userCouponRepo.FindByUserAndCoupon(ctx, req.UserID, req.CouponID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		if err := s.publishTerminal(ctx, domain.NewFailureOutcome(req.RequestID, domain.ReasonDuplicate)); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (s *IssuanceApplicationService) publishTerminal(ctx context.Context, outcome *domain.IssuanceOutcome) error {
	if err := s.outcomes.Publish(ctx, outcome); err != nil {
		// 结果发布失败 → 整条消息重投；重投会命中幂等检查，不会重复扣减
		return errors.Wrap(err, "publish outcome")
	}
	outcomeCounter.WithLabelValues(string(outcome.Reason)).Inc()
	return nil
}

func (s *IssuanceApplicationService) publishBestEffort(ctx context.Context, outcome *domain.IssuanceOutcome) {
	if err := s.outcomes.Publish(ctx, outcome); err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Str("request_id", outcome.RequestID).
			Msg("Failed to publish transient outcome")
	}
}

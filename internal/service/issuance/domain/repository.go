// internal/service/issuance/domain/repository.go
package domain

import "context"

// CouponRepository 定义了优惠券聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。
type CouponRepository interface {
	// FindByIDForUpdate 读取优惠券的最新状态。
	// 锁内必须通过它重读，任何跨越锁边界缓存的状态都不可信。
	FindByIDForUpdate(ctx context.Context, couponID string) (*Coupon, error)

	// Save 保存优惠券（创建或更新计数）。
	Save(ctx context.Context, coupon *Coupon) error

	// Create 创建一个新的活动，couponID 已存在时报错。
	Create(ctx context.Context, coupon *Coupon) error
}

// UserCouponRepository 定义了用户券的持久化接口。
type UserCouponRepository interface {
	// FindByUserAndCoupon 查找某用户在某活动下已持有的券，没有时返回 (nil, nil)。
	FindByUserAndCoupon(ctx context.Context, userID, couponID string) (*UserCoupon, error)

	// Save 插入一张新发放的券。
	// (UserID, CouponID) 唯一索引冲突时返回 ErrConstraintViolation。
	Save(ctx context.Context, userCoupon *UserCoupon) error

	// CountByCoupon 统计某活动已发放的券数，用于校验发放量与计数一致。
	CountByCoupon(ctx context.Context, couponID string) (int64, error)
}

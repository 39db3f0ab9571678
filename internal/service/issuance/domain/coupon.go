// internal/service/issuance/domain/coupon.go
package domain

import (
	"time"
)

// CouponStatus 定义了优惠券活动的生命周期状态。
// EXHAUSTED 不单独落库，由 IssuedCount/TotalStock 推导，避免两份事实来源。
type CouponStatus string

const (
	StatusActive    CouponStatus = "ACTIVE"
	StatusExhausted CouponStatus = "EXHAUSTED"
	StatusExpired   CouponStatus = "EXPIRED"
)

// Coupon 是活动级的库存聚合根。
// IssuedCount 是整个核心里唯一的共享可变资源，只允许在持有
// 该优惠券的分布式锁时修改。
type Coupon struct {
	CouponID       string
	TotalStock     int
	IssuedCount    int
	DiscountAmount float64

	// EligibilityRule 是可选的 CEL 表达式，为空表示无活动级门槛
	EligibilityRule string

	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewCoupon 创建并激活一个新的活动。库存必须为正。
func NewCoupon(couponID string, totalStock int, discountAmount float64, expiresAt time.Time) (*Coupon, error) {
	if couponID == "" {
		return nil, ErrInvalidCoupon
	}
	if totalStock <= 0 {
		return nil, ErrInvalidStock
	}
	now := time.Now()
	return &Coupon{
		CouponID:       couponID,
		TotalStock:     totalStock,
		DiscountAmount: discountAmount,
		ExpiresAt:      expiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Status 推导当前状态
func (c *Coupon) Status() CouponStatus {
	return c.StatusAt(time.Now())
}

// StatusAt 在给定时刻推导状态，便于测试注入时间
func (c *Coupon) StatusAt(now time.Time) CouponStatus {
	if !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt) {
		return StatusExpired
	}
	if c.IssuedCount >= c.TotalStock {
		return StatusExhausted
	}
	return StatusActive
}

// Remaining 返回剩余可发放数量
func (c *Coupon) Remaining() int {
	if r := c.TotalStock - c.IssuedCount; r > 0 {
		return r
	}
	return 0
}

// Issue 执行一次发放：IssuedCount 加一。
// 调用方必须持有该优惠券的分布式锁，并且 Coupon 必须是锁内新读出的状态。
func (c *Coupon) Issue() error {
	if c.IssuedCount >= c.TotalStock {
		return ErrOutOfStock
	}
	c.IssuedCount++
	c.UpdatedAt = time.Now()
	return nil
}

// internal/service/issuance/domain/usercoupon.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// UserCouponStatus 定义了用户券的生命周期状态。
// USED/EXPIRED 的流转属于核销流程，不在发放核心内发生。
type UserCouponStatus string

const (
	UserCouponIssued  UserCouponStatus = "ISSUED"
	UserCouponUsed    UserCouponStatus = "USED"
	UserCouponExpired UserCouponStatus = "EXPIRED"
)

// UserCoupon 代表发放成功后用户持有的一张券。
// (UserID, CouponID) 全局唯一，持久层用唯一索引兜底。
type UserCoupon struct {
	UserCouponID string
	UserID       string
	CouponID     string
	Status       UserCouponStatus
	IssuedAt     time.Time
}

// NewUserCoupon 为一次成功发放创建用户券实例
func NewUserCoupon(userID, couponID string) *UserCoupon {
	return &UserCoupon{
		UserCouponID: uuid.New().String(),
		UserID:       userID,
		CouponID:     couponID,
		Status:       UserCouponIssued,
		IssuedAt:     time.Now(),
	}
}

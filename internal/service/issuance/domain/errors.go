// internal/service/issuance/domain/errors.go
package domain

import "errors"

var (
	// ErrOutOfStock 库存已发完，业务上的终态结果，不重试
	ErrOutOfStock = errors.New("coupon stock exhausted")

	// ErrDuplicateIssuance 同一用户在同一活动重复领取，幂等无操作
	ErrDuplicateIssuance = errors.New("coupon already issued to this user")

	// ErrUserIneligible 用户不满足领取条件
	ErrUserIneligible = errors.New("user is not eligible for this coupon")

	// ErrCouponNotFound 活动不存在
	ErrCouponNotFound = errors.New("coupon not found")

	// ErrConstraintViolation 持久层唯一索引冲突。
	// 这是 (UserID, CouponID) 唯一性的第二道防线，调用方应将其视为重复领取。
	ErrConstraintViolation = errors.New("unique constraint violation")

	ErrInvalidCoupon = errors.New("coupon id must not be empty")
	ErrInvalidStock  = errors.New("total stock must be positive")
)

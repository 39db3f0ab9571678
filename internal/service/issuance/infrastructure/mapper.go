// internal/service/issuance/infrastructure/mapper.go
package infrastructure

import (
	"gorm.io/gorm"

	"surge/internal/service/issuance/domain"
)

// ToDomainCoupon 将数据库模型转换为领域模型
func ToDomainCoupon(model *CouponModel) *domain.Coupon {
	if model == nil {
		return nil
	}
	return &domain.Coupon{
		CouponID:        model.CouponID,
		TotalStock:      model.TotalStock,
		IssuedCount:     model.IssuedCount,
		DiscountAmount:  model.DiscountAmount,
		EligibilityRule: model.EligibilityRule,
		ExpiresAt:       model.ExpiresAt,
		CreatedAt:       model.CreatedAt,
		UpdatedAt:       model.UpdatedAt,
	}
}

// FromDomainCoupon 将领域模型转换为数据库模型（用于插入）
func FromDomainCoupon(dmn *domain.Coupon) *CouponModel {
	if dmn == nil {
		return nil
	}
	return &CouponModel{
		CouponID:        dmn.CouponID,
		TotalStock:      dmn.TotalStock,
		IssuedCount:     dmn.IssuedCount,
		DiscountAmount:  dmn.DiscountAmount,
		EligibilityRule: dmn.EligibilityRule,
		ExpiresAt:       dmn.ExpiresAt,
	}
}

// ToDomainUserCoupon 将数据库模型转换为领域模型
func ToDomainUserCoupon(model *UserCouponModel) *domain.UserCoupon {
	if model == nil {
		return nil
	}
	return &domain.UserCoupon{
		UserCouponID: model.UserCouponID,
		UserID:       model.UserID,
		CouponID:     model.CouponID,
		Status:       model.Status,
		IssuedAt:     model.IssuedAt,
	}
}

// FromDomainUserCoupon 将领域模型转换为数据库模型（用于插入）
func FromDomainUserCoupon(dmn *domain.UserCoupon) *UserCouponModel {
	if dmn == nil {
		return nil
	}
	return &UserCouponModel{
		Model:        gorm.Model{},
		UserCouponID: dmn.UserCouponID,
		UserID:       dmn.UserID,
		CouponID:     dmn.CouponID,
		Status:       dmn.Status,
		IssuedAt:     dmn.IssuedAt,
	}
}

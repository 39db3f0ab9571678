// internal/service/issuance/infrastructure/gorm_model.go
package infrastructure

import (
	"time"

	"gorm.io/gorm"

	"surge/internal/service/issuance/domain"
)

// CouponModel 对应数据库中的 coupon 表
type CouponModel struct {
	gorm.Model
	CouponID        string  `gorm:"size:64;uniqueIndex"`
	TotalStock      int     `gorm:"not null"`
	IssuedCount     int     `gorm:"not null;default:0"`
	DiscountAmount  float64 `gorm:"type:decimal(10,2)"`
	EligibilityRule string  `gorm:"type:text"`
	ExpiresAt       time.Time
}

// TableName 指定 GORM 应该使用的表名
func (CouponModel) TableName() string {
	return "coupon"
}

// UserCouponModel 对应数据库中的 user_coupon 表。
// (UserID, CouponID) 上的联合唯一索引是防止重复发放的最后一道防线。
type UserCouponModel struct {
	gorm.Model
	UserCouponID string                  `gorm:"size:36;uniqueIndex"`
	UserID       string                  `gorm:"size:64;uniqueIndex:idx_user_coupon,priority:1"`
	CouponID     string                  `gorm:"size:64;uniqueIndex:idx_user_coupon,priority:2"`
	Status       domain.UserCouponStatus `gorm:"size:16;default:'ISSUED'"`
	IssuedAt     time.Time
}

// TableName 指定 GORM 应该使用的表名
func (UserCouponModel) TableName() string {
	return "user_coupon"
}

// internal/service/issuance/infrastructure/mysql.go
package infrastructure

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// NewDB 打开 MySQL 连接并迁移发放核心的两张表
func NewDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&CouponModel{}, &UserCouponModel{}); err != nil {
		return nil, err
	}
	return db, nil
}

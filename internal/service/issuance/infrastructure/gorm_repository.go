// internal/service/issuance/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"surge/internal/service/issuance/domain"
)

type ctxTxKey struct{}

// GormTxManager 实现 port.TxManager。
// 事务句柄通过 ctx 传给同一事务内的仓储调用。
type GormTxManager struct {
	db *gorm.DB
}

func NewGormTxManager(db *gorm.DB) *GormTxManager {
	return &GormTxManager{db: db}
}

func (m *GormTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, ctxTxKey{}, tx))
	})
}

// dbFrom 优先取 ctx 里的事务句柄，锁内的读写因此落在同一个事务上
func dbFrom(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(ctxTxKey{}).(*gorm.DB); ok {
		return tx
	}
	return fallback.WithContext(ctx)
}

// GormCouponRepository 是 CouponRepository 的 GORM 实现
type GormCouponRepository struct {
	db *gorm.DB
}

// NewGormCouponRepository 创建一个新的 GORM 仓储实例
func NewGormCouponRepository(db *gorm.DB) *GormCouponRepository {
	return &GormCouponRepository{db: db}
}

// FindByIDForUpdate 读取优惠券的最新状态。
// 在事务内执行时带 FOR UPDATE 行锁，作为分布式锁之下的数据库级兜底。
func (r *GormCouponRepository) FindByIDForUpdate(ctx context.Context, couponID string) (*domain.Coupon, error) {
	var model CouponModel
	err := dbFrom(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("coupon_id = ?", couponID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCouponNotFound
		}
		return nil, err
	}
	return ToDomainCoupon(&model), nil
}

// Save 把锁内完成的计数变更写回数据库
func (r *GormCouponRepository) Save(ctx context.Context, coupon *domain.Coupon) error {
	updateData := map[string]interface{}{
		"issued_count": coupon.IssuedCount,
	}
	return dbFrom(ctx, r.db).
		Model(&CouponModel{}).
		Where("coupon_id = ?", coupon.CouponID).
		Updates(updateData).Error
}

// Create 创建一个新的活动
func (r *GormCouponRepository) Create(ctx context.Context, coupon *domain.Coupon) error {
	err := dbFrom(ctx, r.db).Create(FromDomainCoupon(coupon)).Error
	if isDuplicateKey(err) {
		return domain.ErrConstraintViolation
	}
	return err
}

// GormUserCouponRepository 是 UserCouponRepository 的 GORM 实现
type GormUserCouponRepository struct {
	db *gorm.DB
}

func NewGormUserCouponRepository(db *gorm.DB) *GormUserCouponRepository {
	return &GormUserCouponRepository{db: db}
}

func (r *GormUserCouponRepository) FindByUserAndCoupon(ctx context.Context, userID, couponID string) (*domain.UserCoupon, error) {
	var model UserCouponModel
	err := dbFrom(ctx, r.db).
		Where("user_id = ? AND coupon_id = ?", userID, couponID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return ToDomainUserCoupon(&model), nil
}

// Save 插入一张新发放的券，唯一索引冲突翻译成领域错误
func (r *GormUserCouponRepository) Save(ctx context.Context, userCoupon *domain.UserCoupon) error {
	err := dbFrom(ctx, r.db).Create(FromDomainUserCoupon(userCoupon)).Error
	if isDuplicateKey(err) {
		return domain.ErrConstraintViolation
	}
	return err
}

func (r *GormUserCouponRepository) CountByCoupon(ctx context.Context, couponID string) (int64, error) {
	var count int64
	err := dbFrom(ctx, r.db).
		Model(&UserCouponModel{}).
		Where("coupon_id = ?", couponID).
		Count(&count).Error
	return count, err
}

// isDuplicateKey 识别唯一索引冲突。
// GORM 开启 TranslateError 后会给出 ErrDuplicatedKey，
// 同时兜底检查 MySQL 驱动的 1062 错误码。
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

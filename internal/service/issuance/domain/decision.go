// internal/service/issuance/domain/decision.go
package domain

import "time"

// Decision 是锁内决策的纯函数产物：要么发放（Coupon 已自增、UserCoupon 非空），
// 要么给出终态结论（Coupon 不变、UserCoupon 为空）。
// 副作用（读库、持久化、发结果）全部由应用层包裹，核心逻辑因此可以脱离
// 任何真实队列和锁做单元测试。
type Decision struct {
	Outcome    *IssuanceOutcome
	UserCoupon *UserCoupon
	Mutated    bool // Coupon 是否被修改，需要持久化
}

// Decide 在持锁状态下对一次发放请求做出决策。
// coupon 必须是锁内从权威存储新读出的状态；existing 是锁内复查到的已有用户券
// （没有则为 nil）。函数不做任何 IO。
func Decide(req *IssuanceRequested, coupon *Coupon, existing *UserCoupon, now time.Time) Decision {
	// 锁内复查：防御预检查与加锁之间滑入的并发写
	if existing != nil {
		return Decision{Outcome: NewFailureOutcome(req.RequestID, ReasonDuplicate)}
	}

	// 过期活动不再发放，对外表现与售罄一致：终态、无变更
	if coupon.StatusAt(now) == StatusExpired {
		return Decision{Outcome: NewFailureOutcome(req.RequestID, ReasonOutOfStock)}
	}

	if err := coupon.Issue(); err != nil {
		return Decision{Outcome: NewFailureOutcome(req.RequestID, ReasonOutOfStock)}
	}

	uc := NewUserCoupon(req.UserID, req.CouponID)
	return Decision{
		Outcome:    NewSuccessOutcome(req.RequestID, uc.UserCouponID),
		UserCoupon: uc,
		Mutated:    true,
	}
}

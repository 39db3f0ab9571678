// internal/service/issuance/domain/event.go
package domain

import "time"

// IssuanceRequested 是发放请求进入队列时的事件载体。
// RequestID 是幂等键，用于识别队列重投的同一条物理消息；
// 它不能替代 (UserID, CouponID) 的唯一性约束。
type IssuanceRequested struct {
	RequestID   string    `json:"requestId"`
	UserID      string    `json:"userId"`
	CouponID    string    `json:"couponId"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// OutcomeReason 标识一次发放的最终结论
type OutcomeReason string

const (
	ReasonNone           OutcomeReason = "NONE"
	ReasonOutOfStock     OutcomeReason = "OUT_OF_STOCK"
	ReasonDuplicate      OutcomeReason = "DUPLICATE"
	ReasonUserIneligible OutcomeReason = "USER_INELIGIBLE"
	ReasonSystemError    OutcomeReason = "SYSTEM_ERROR"
)

// IssuanceOutcome 是异步发放的最终结果，按 RequestID 与原始请求关联。
// 调用方在提交时只拿到 accepted 应答，最终成败通过结果通道获知。
type IssuanceOutcome struct {
	RequestID    string        `json:"requestId"`
	Success      bool          `json:"success"`
	Reason       OutcomeReason `json:"reason"`
	UserCouponID string        `json:"userCouponId,omitempty"`
	DecidedAt    time.Time     `json:"decidedAt"`
}

// NewSuccessOutcome 构造发放成功的结果
func NewSuccessOutcome(requestID, userCouponID string) *IssuanceOutcome {
	return &IssuanceOutcome{
		RequestID:    requestID,
		Success:      true,
		Reason:       ReasonNone,
		UserCouponID: userCouponID,
		DecidedAt:    time.Now(),
	}
}

// NewFailureOutcome 构造发放失败的结果
func NewFailureOutcome(requestID string, reason OutcomeReason) *IssuanceOutcome {
	return &IssuanceOutcome{
		RequestID: requestID,
		Success:   false,
		Reason:    reason,
		DecidedAt: time.Now(),
	}
}

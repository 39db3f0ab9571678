// internal/service/issuance/application/dto.go
package application

import "time"

// IssueCouponRequest 是提交发放请求的请求体。
// RequestID 可由调用方提供用于幂等重提交，缺省时服务端生成。
type IssueCouponRequest struct {
	UserID    string `json:"userId"`
	CouponID  string `json:"couponId"`
	RequestID string `json:"requestId,omitempty"`
}

// IssueCouponResponse 只确认请求已入队，不代表最终发放结果
type IssueCouponResponse struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// CreateCouponRequest 是创建活动的请求体
type CreateCouponRequest struct {
	CouponID        string    `json:"couponId"`
	TotalStock      int       `json:"totalStock"`
	DiscountAmount  float64   `json:"discountAmount"`
	ExpiresAt       time.Time `json:"expiresAt"`
	EligibilityRule string    `json:"eligibilityRule,omitempty"`
}

// CreateCouponResponse 是创建活动的响应体
type CreateCouponResponse struct {
	CouponID   string `json:"couponId"`
	TotalStock int    `json:"totalStock"`
	Status     string `json:"status"`
}

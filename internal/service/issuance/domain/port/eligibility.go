// internal/service/issuance/domain/port/eligibility.go
package port

import (
	"context"

	"surge/internal/service/issuance/domain"
)

// EligibilityService 是用户领取资格校验的出站端口。
// 不满足条件时返回 domain.ErrUserIneligible（可包装），
// 其余错误视为系统故障。
type EligibilityService interface {
	CheckEligibility(ctx context.Context, userID string, coupon *domain.Coupon) error
}

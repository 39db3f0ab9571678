// internal/service/issuance/infrastructure/adapter/eligibility_cel.go
package adapter

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"surge/internal/pkg/httpclient"
	"surge/internal/service/issuance/domain"
)

// CelEligibilityAdapter 是 port.EligibilityService 的实现。
// 两段校验：先调账户服务确认用户有效（外部协作方，只消费布尔结论），
// 再对活动配置的 CEL 规则求值。规则为空的活动只做用户有效性校验。
// 这是典型的适配器：把第三方规则引擎的 API 适配到我们自己的领域接口。
type CelEligibilityAdapter struct {
	httpClient        *httpclient.Client
	accountServiceURL string // 为空时跳过远程校验（比如本地联调）

	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program // 按规则文本缓存编译产物
}

func NewCelEligibilityAdapter(httpClient *httpclient.Client, accountServiceURL string) (*CelEligibilityAdapter, error) {
	env, err := cel.NewEnv(
		cel.Variable("userId", cel.StringType),
		cel.Variable("couponId", cel.StringType),
		cel.Variable("issuedCount", cel.IntType),
		cel.Variable("totalStock", cel.IntType),
		cel.Variable("discountAmount", cel.DoubleType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel environment")
	}
	return &CelEligibilityAdapter{
		httpClient:        httpClient,
		accountServiceURL: accountServiceURL,
		env:               env,
		programs:          make(map[string]cel.Program),
	}, nil
}

// CheckEligibility 实现资格校验。
// 不满足条件返回包装过的 domain.ErrUserIneligible，其余错误视为系统故障。
func (a *CelEligibilityAdapter) CheckEligibility(ctx context.Context, userID string, coupon *domain.Coupon) error {
	active, err := a.isUserActive(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "account service lookup")
	}
	if !active {
		return errors.Wrapf(domain.ErrUserIneligible, "user %s is not active", userID)
	}

	if coupon.EligibilityRule == "" {
		return nil
	}

	program, err := a.compile(coupon.EligibilityRule)
	if err != nil {
		return errors.Wrap(err, "compile eligibility rule")
	}

	out, _, err := program.Eval(map[string]interface{}{
		"userId":         userID,
		"couponId":       coupon.CouponID,
		"issuedCount":    int64(coupon.IssuedCount),
		"totalStock":     int64(coupon.TotalStock),
		"discountAmount": coupon.DiscountAmount,
	})
	if err != nil {
		return errors.Wrap(err, "evaluate eligibility rule")
	}

	passed, ok := out.Value().(bool)
	if !ok {
		return fmt.Errorf("eligibility rule for %s did not evaluate to bool, got %T", coupon.CouponID, out.Value())
	}
	if !passed {
		return errors.Wrapf(domain.ErrUserIneligible, "rule rejected user %s for coupon %s", userID, coupon.CouponID)
	}
	return nil
}

func (a *CelEligibilityAdapter) isUserActive(ctx context.Context, userID string) (bool, error) {
	if a.accountServiceURL == "" {
		return true, nil
	}

	params := url.Values{}
	params.Set("userId", userID)

	var resp struct {
		Active bool `json:"active"`
	}
	if err := a.httpClient.GetJSON(ctx, a.accountServiceURL+"/is_active", params, &resp); err != nil {
		return false, err
	}
	return resp.Active, nil
}

func (a *CelEligibilityAdapter) compile(rule string) (cel.Program, error) {
	a.mu.RLock()
	program, ok := a.programs[rule]
	a.mu.RUnlock()
	if ok {
		return program, nil
	}

	ast, issues := a.env.Compile(rule)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	program, err := a.env.Program(ast)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.programs[rule] = program
	a.mu.Unlock()
	return program, nil
}

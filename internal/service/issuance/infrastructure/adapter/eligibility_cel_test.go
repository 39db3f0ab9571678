// internal/service/issuance/infrastructure/adapter/eligibility_cel_test.go
package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"surge/internal/service/issuance/domain"
)

// accountServiceURL 留空可以跳过远程校验，只测规则求值部分

func testCoupon(t *testing.T, rule string) *domain.Coupon {
	t.Helper()
	c, err := domain.NewCoupon("c1", 100, 9.9, time.Time{})
	if err != nil {
		t.Fatalf("new coupon: %v", err)
	}
	c.EligibilityRule = rule
	return c
}

func TestEmptyRulePasses(t *testing.T) {
	a, err := NewCelEligibilityAdapter(nil, "")
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if err := a.CheckEligibility(context.Background(), "u1", testCoupon(t, "")); err != nil {
		t.Fatalf("empty rule must pass: %v", err)
	}
}

func TestRuleEvaluation(t *testing.T) {
	a, err := NewCelEligibilityAdapter(nil, "")
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	ctx := context.Background()

	// 通过：变量可用且结果为 true
	pass := testCoupon(t, `issuedCount < totalStock && discountAmount > 0.0`)
	if err := a.CheckEligibility(ctx, "u1", pass); err != nil {
		t.Fatalf("rule should pass: %v", err)
	}

	// 拒绝：结果为 false 时必须映射到 ErrUserIneligible
	reject := testCoupon(t, `userId == "vip-only"`)
	err = a.CheckEligibility(ctx, "u1", reject)
	if !errors.Is(err, domain.ErrUserIneligible) {
		t.Fatalf("expected ErrUserIneligible, got %v", err)
	}
}

func TestRuleErrorsAreSystemFailures(t *testing.T) {
	a, err := NewCelEligibilityAdapter(nil, "")
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	ctx := context.Background()
	c := testCoupon(t, `userId +`)

	// 编译失败不是用户不合格，是系统故障
	err = a.CheckEligibility(ctx, "u1", c)
	if err == nil || errors.Is(err, domain.ErrUserIneligible) {
		t.Fatalf("broken rule must be a system failure, got %v", err)
	}

	// 非布尔结果同理
	c2 := testCoupon(t, `couponId`)
	err = a.CheckEligibility(ctx, "u1", c2)
	if err == nil || errors.Is(err, domain.ErrUserIneligible) {
		t.Fatalf("non-bool rule must be a system failure, got %v", err)
	}
}

func TestCompiledProgramsAreCached(t *testing.T) {
	a, err := NewCelEligibilityAdapter(nil, "")
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	rule := `issuedCount < totalStock`

	if _, err := a.compile(rule); err != nil {
		t.Fatalf("compile: %v", err)
	}
	first, _ := a.compile(rule)
	second, _ := a.compile(rule)
	if first == nil || second == nil {
		t.Fatal("compiled program missing")
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.programs) != 1 {
		t.Fatalf("expected one cached program, got %d", len(a.programs))
	}
}

// internal/service/issuance/domain/decision_test.go
package domain

import (
	"testing"
	"time"
)

func issuanceReq(requestID, userID, couponID string) *IssuanceRequested {
	return &IssuanceRequested{
		RequestID:   requestID,
		UserID:      userID,
		CouponID:    couponID,
		SubmittedAt: time.Now(),
	}
}

func TestDecideSuccess(t *testing.T) {
	c, _ := NewCoupon("c1", 2, 5.0, time.Time{})
	req := issuanceReq("r1", "u1", "c1")

	d := Decide(req, c, nil, time.Now())

	if !d.Mutated {
		t.Fatal("successful issuance must mark the coupon as mutated")
	}
	if !d.Outcome.Success || d.Outcome.Reason != ReasonNone {
		t.Fatalf("unexpected outcome: %+v", d.Outcome)
	}
	if d.UserCoupon == nil || d.UserCoupon.UserID != "u1" || d.UserCoupon.CouponID != "c1" {
		t.Fatalf("unexpected user coupon: %+v", d.UserCoupon)
	}
	if d.UserCoupon.Status != UserCouponIssued {
		t.Fatalf("new user coupon should be ISSUED, got %s", d.UserCoupon.Status)
	}
	if d.Outcome.UserCouponID != d.UserCoupon.UserCouponID {
		t.Fatal("outcome must reference the issued user coupon")
	}
	if c.IssuedCount != 1 {
		t.Fatalf("expected issued count 1, got %d", c.IssuedCount)
	}
}

func TestDecideDuplicate(t *testing.T) {
	c, _ := NewCoupon("c1", 2, 5.0, time.Time{})
	existing := NewUserCoupon("u1", "c1")
	req := issuanceReq("r2", "u1", "c1")

	d := Decide(req, c, existing, time.Now())

	if d.Mutated {
		t.Fatal("duplicate must not mutate the coupon")
	}
	if d.Outcome.Success || d.Outcome.Reason != ReasonDuplicate {
		t.Fatalf("expected DUPLICATE outcome, got %+v", d.Outcome)
	}
	if c.IssuedCount != 0 {
		t.Fatalf("duplicate decremented stock: %d", c.IssuedCount)
	}
}

func TestDecideOutOfStock(t *testing.T) {
	c, _ := NewCoupon("c1", 1, 5.0, time.Time{})
	c.IssuedCount = 1
	req := issuanceReq("r3", "u2", "c1")

	d := Decide(req, c, nil, time.Now())

	if d.Mutated || d.UserCoupon != nil {
		t.Fatal("out-of-stock must not produce a user coupon")
	}
	if d.Outcome.Reason != ReasonOutOfStock {
		t.Fatalf("expected OUT_OF_STOCK, got %s", d.Outcome.Reason)
	}
}

func TestDecideExpiredCampaign(t *testing.T) {
	now := time.Now()
	c, _ := NewCoupon("c1", 5, 5.0, now.Add(-time.Second))
	req := issuanceReq("r4", "u1", "c1")

	// 过期活动对外表现与售罄一致
	d := Decide(req, c, nil, now)

	if d.Mutated {
		t.Fatal("expired campaign must not mutate the coupon")
	}
	if d.Outcome.Reason != ReasonOutOfStock {
		t.Fatalf("expected OUT_OF_STOCK for expired campaign, got %s", d.Outcome.Reason)
	}
	if c.IssuedCount != 0 {
		t.Fatalf("expired campaign consumed stock: %d", c.IssuedCount)
	}
}

// internal/service/issuance/application/service_test.go
package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"surge/internal/service/issuance/domain"
	"surge/internal/service/issuance/domain/port"
)

// ---- 测试替身：锁、事务、仓储、结果存储都在进程内实现 ----

// fakeLockManager 用带缓冲 channel 模拟每个 key 上的互斥锁，
// 抢不到时在 wait 内阻塞，与真实实现的语义一致。
type fakeLockManager struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newFakeLockManager() *fakeLockManager {
	return &fakeLockManager{locks: make(map[string]chan struct{})}
}

func (m *fakeLockManager) sem(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[key] = ch
	}
	return ch
}

func (m *fakeLockManager) WithLock(ctx context.Context, key string, wait, lease time.Duration, fn func(ctx context.Context) error) error {
	ch := m.sem(key)
	select {
	case ch <- struct{}{}:
	case <-time.After(wait):
		return port.ErrLockAcquireTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-ch }()
	return fn(ctx)
}

// hold 直接占住锁，模拟一个长时间持有的竞争者
func (m *fakeLockManager) hold(key string) (release func()) {
	ch := m.sem(key)
	ch <- struct{}{}
	return func() { <-ch }
}

type fakeCouponRepo struct {
	mu      sync.Mutex
	coupons map[string]domain.Coupon
}

func newFakeCouponRepo() *fakeCouponRepo {
	return &fakeCouponRepo{coupons: make(map[string]domain.Coupon)}
}

// FindByIDForUpdate 返回副本：未经 Save 的修改不会泄漏回存储，
// 与数据库行为一致。
func (r *fakeCouponRepo) FindByIDForUpdate(ctx context.Context, couponID string) (*domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[couponID]
	if !ok {
		return nil, domain.ErrCouponNotFound
	}
	return &c, nil
}

func (r *fakeCouponRepo) Save(ctx context.Context, coupon *domain.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coupons[coupon.CouponID] = *coupon
	return nil
}

func (r *fakeCouponRepo) Create(ctx context.Context, coupon *domain.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.coupons[coupon.CouponID]; ok {
		return domain.ErrConstraintViolation
	}
	r.coupons[coupon.CouponID] = *coupon
	return nil
}

type fakeUserCouponRepo struct {
	mu   sync.Mutex
	rows map[string]domain.UserCoupon
}

func newFakeUserCouponRepo() *fakeUserCouponRepo {
	return &fakeUserCouponRepo{rows: make(map[string]domain.UserCoupon)}
}

func ucKey(userID, couponID string) string { return userID + "|" + couponID }

func (r *fakeUserCouponRepo) FindByUserAndCoupon(ctx context.Context, userID, couponID string) (*domain.UserCoupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if uc, ok := r.rows[ucKey(userID, couponID)]; ok {
		return &uc, nil
	}
	return nil, nil
}

func (r *fakeUserCouponRepo) Save(ctx context.Context, uc *domain.UserCoupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ucKey(uc.UserID, uc.CouponID)
	if _, ok := r.rows[key]; ok {
		return domain.ErrConstraintViolation
	}
	r.rows[key] = *uc
	return nil
}

func (r *fakeUserCouponRepo) CountByCoupon(ctx context.Context, couponID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, uc := range r.rows {
		if uc.CouponID == couponID {
			n++
		}
	}
	return n, nil
}

type fakeOutcomeStore struct {
	mu       sync.Mutex
	outcomes map[string]domain.IssuanceOutcome
}

func newFakeOutcomeStore() *fakeOutcomeStore {
	return &fakeOutcomeStore{outcomes: make(map[string]domain.IssuanceOutcome)}
}

func (s *fakeOutcomeStore) Publish(ctx context.Context, outcome *domain.IssuanceOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[outcome.RequestID] = *outcome
	return nil
}

func (s *fakeOutcomeStore) Get(ctx context.Context, requestID string) (*domain.IssuanceOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.outcomes[requestID]; ok {
		return &o, nil
	}
	return nil, port.ErrOutcomeNotFound
}

type fakeProducer struct {
	mu     sync.Mutex
	events []domain.IssuanceRequested
}

func (p *fakeProducer) Produce(ctx context.Context, req *domain.IssuanceRequested) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *req)
	return nil
}

// passTxManager 直接执行函数体，替身仓储本身是原子的
type passTxManager struct{}

func (passTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type eligibilityFunc func(ctx context.Context, userID string, coupon *domain.Coupon) error

func (f eligibilityFunc) CheckEligibility(ctx context.Context, userID string, coupon *domain.Coupon) error {
	return f(ctx, userID, coupon)
}

func allowAll(ctx context.Context, userID string, coupon *domain.Coupon) error { return nil }

type testEnv struct {
	svc         *IssuanceApplicationService
	coupons     *fakeCouponRepo
	userCoupons *fakeUserCouponRepo
	outcomes    *fakeOutcomeStore
	producer    *fakeProducer
	lock        *fakeLockManager
}

func newTestEnv(t *testing.T, eligibility port.EligibilityService, lockWait time.Duration) *testEnv {
	t.Helper()
	env := &testEnv{
		coupons:     newFakeCouponRepo(),
		userCoupons: newFakeUserCouponRepo(),
		outcomes:    newFakeOutcomeStore(),
		producer:    &fakeProducer{},
		lock:        newFakeLockManager(),
	}
	env.svc = NewIssuanceApplicationService(
		env.coupons, env.userCoupons, env.outcomes,
		env.lock, eligibility, env.producer, passTxManager{},
		noop.NewTracerProvider().Tracer("test"),
		lockWait, time.Second,
	)
	return env
}

func (e *testEnv) seedCoupon(t *testing.T, couponID string, stock int, expiresAt time.Time) {
	t.Helper()
	c, err := domain.NewCoupon(couponID, stock, 9.9, expiresAt)
	if err != nil {
		t.Fatalf("seed coupon: %v", err)
	}
	if err := e.coupons.Create(context.Background(), c); err != nil {
		t.Fatalf("seed coupon: %v", err)
	}
}

// ---- 入队侧 ----

func TestRequestIssuanceValidatesAndEnqueues(t *testing.T) {
	env := newTestEnv(t, eligibilityFunc(allowAll), time.Second)
	ctx := context.Background()

	if _, err := env.svc.RequestIssuance(ctx, &IssueCouponRequest{CouponID: "c1"}); err == nil {
		t.Fatal("missing userId must be rejected")
	}
	if _, err := env.svc.RequestIssuance(ctx, &IssueCouponRequest{UserID: "u1"}); err == nil {
		t.Fatal("missing couponId must be rejected")
	}

	resp, err := env.svc.RequestIssuance(ctx, &IssueCouponRequest{UserID: "u1", CouponID: "c1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.RequestID == "" {
		t.Fatal("a request id must be generated when the caller omits one")
	}
	if resp.Status != "accepted" {
		t.Fatalf("expected accepted, got %s", resp.Status)
	}

	resp2, err := env.svc.RequestIssuance(ctx, &IssueCouponRequest{RequestID: "fixed-id", UserID: "u2", CouponID: "c1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp2.RequestID != "fixed-id" {
		t.Fatalf("caller-provided request id must be preserved, got %s", resp2.RequestID)
	}

	if len(env.producer.events) != 2 {
		t.Fatalf("expected 2 enqueued events, got %d", len(env.producer.events))
	}
	if env.producer.events[1].CouponID != "c1" || env.producer.events[1].UserID != "u2" {
		t.Fatalf("unexpected event payload: %+v", env.producer.events[1])
	}
}

// ---- 消费侧 ----

func TestConcurrentIssuanceRespectsStock(t *testing.T) {
	const stock = 100
	const demand = 500

	env := newTestEnv(t, eligibilityFunc(allowAll), 5*time.Second)
	env.seedCoupon(t, "flash", stock, time.Time{})

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < demand; i++ {
		req := &domain.IssuanceRequested{
			RequestID: fmt.Sprintf("req-%d", i),
			UserID:    fmt.Sprintf("user-%d", i),
			CouponID:  "flash",
		}
		g.Go(func() error {
			return env.svc.HandleIssuanceRequest(ctx, req)
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("handling failed: %v", err)
	}

	var success, outOfStock int
	for i := 0; i < demand; i++ {
		out, err := env.outcomes.Get(context.Background(), fmt.Sprintf("req-%d", i))
		if err != nil {
			t.Fatalf("request %d has no outcome: %v", i, err)
		}
		switch {
		case out.Success:
			success++
		case out.Reason == domain.ReasonOutOfStock:
			outOfStock++
		default:
			t.Fatalf("unexpected outcome for request %d: %+v", i, out)
		}
	}
	if success != stock {
		t.Fatalf("expected exactly %d successes, got %d", stock, success)
	}
	if outOfStock != demand-stock {
		t.Fatalf("expected %d out-of-stock outcomes, got %d", demand-stock, outOfStock)
	}

	c, _ := env.coupons.FindByIDForUpdate(context.Background(), "flash")
	if c.IssuedCount != stock {
		t.Fatalf("issued count %d does not match stock %d", c.IssuedCount, stock)
	}
	rows, _ := env.userCoupons.CountByCoupon(context.Background(), "flash")
	if rows != stock {
		t.Fatalf("user coupon rows %d do not match issued count %d", rows, stock)
	}
}

func TestLastUnitHasExactlyOneWinner(t *testing.T) {
	env := newTestEnv(t, eligibilityFunc(allowAll), time.Second)
	env.seedCoupon(t, "last", 1, time.Time{})

	g, ctx := errgroup.WithContext(context.Background())
	for _, user := range []string{"u1", "u2"} {
		req := &domain.IssuanceRequested{RequestID: "req-" + user, UserID: user, CouponID: "last"}
		g.Go(func() error { return env.svc.HandleIssuanceRequest(ctx, req) })
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("handling failed: %v", err)
	}

	o1, _ := env.outcomes.Get(context.Background(), "req-u1")
	o2, _ := env.outcomes.Get(context.Background(), "req-u2")
	if o1 == nil || o2 == nil {
		t.Fatal("both requests must have outcomes")
	}
	if o1.Success == o2.Success {
		t.Fatalf("exactly one request must win the last unit: %+v / %+v", o1, o2)
	}
}

func TestZeroRemainingStockFailsFast(t *testing.T) {
	env := newTestEnv(t, eligibilityFunc(allowAll), time.Second)
	env.seedCoupon(t, "gone", 1, time.Time{})
	c, _ := env.coupons.FindByIDForUpdate(context.Background(), "gone")
	c.IssuedCount = 1
	env.coupons.Save(context.Background(), c)

	req := &domain.IssuanceRequested{RequestID: "r1", UserID: "u1", CouponID: "gone"}
	if err := env.svc.HandleIssuanceRequest(context.Background(), req); err != nil {
		t.Fatalf("exhausted stock is a terminal outcome, not an error: %v", err)
	}
	out, _ := env.outcomes.Get(context.Background(), "r1")
	if out == nil || out.Reason != domain.ReasonOutOfStock {
		t.Fatalf("expected OUT_OF_STOCK, got %+v", out)
	}
}

func TestRedeliveredRequestShortCircuits(t *testing.T) {
	env := newTestEnv(t, eligibilityFunc(allowAll), time.Second)
	env.seedCoupon(t, "c1", 10, time.Time{})

	req := &domain.IssuanceRequested{RequestID: "r1", UserID: "u1", CouponID: "c1"}
	if err := env.svc.HandleIssuanceRequest(context.Background(), req); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}

	dupBefore := testutil.ToFloat64(outcomeCounter.WithLabelValues(string(domain.ReasonDuplicate)))
	shortBefore := testutil.ToFloat64(precheckShortCircuitCounter)

	// 同一条消息重投：必须短路，库存不能再次扣减
	if err := env.svc.HandleIssuanceRequest(context.Background(), req); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}

	// 短路不发布新结果，只计入短路计数，outcomes_total 的口径不被污染
	if got := testutil.ToFloat64(outcomeCounter.WithLabelValues(string(domain.ReasonDuplicate))); got != dupBefore {
		t.Fatalf("short-circuit must not count as a published DUPLICATE outcome: %v -> %v", dupBefore, got)
	}
	if got := testutil.ToFloat64(precheckShortCircuitCounter); got != shortBefore+1 {
		t.Fatalf("expected one pre-check short-circuit, counter went %v -> %v", shortBefore, got)
	}

	c, _ := env.coupons.FindByIDForUpdate(context.Background(), "c1")
	if c.IssuedCount != 1 {
		t.Fatalf("redelivery decremented stock twice: %d", c.IssuedCount)
	}
	out, _ := env.outcomes.Get(context.Background(), "r1")
	if out == nil || !out.Success {
		t.Fatalf("original success outcome must survive redelivery: %+v", out)
	}
}

func TestSameUserSecondRequestIsDuplicate(t *testing.T) {
	env := newTestEnv(t, eligibilityFunc(allowAll), time.Second)
	env.seedCoupon(t, "c1", 10, time.Time{})

	first := &domain.IssuanceRequested{RequestID: "r1", UserID: "u1", CouponID: "c1"}
	if err := env.svc.HandleIssuanceRequest(context.Background(), first); err != nil {
		t.Fatalf("first request failed: %v", err)
	}

	// 不同 RequestID、同一 (user, coupon)：第二次必须判重
	second := &domain.IssuanceRequested{RequestID: "r2", UserID: "u1", CouponID: "c1"}
	if err := env.svc.HandleIssuanceRequest(context.Background(), second); err != nil {
		t.Fatalf("second request failed: %v", err)
	}

	out, _ := env.outcomes.Get(context.Background(), "r2")
	if out == nil || out.Reason != domain.ReasonDuplicate {
		t.Fatalf("expected DUPLICATE outcome, got %+v", out)
	}
	rows, _ := env.userCoupons.CountByCoupon(context.Background(), "c1")
	if rows != 1 {
		t.Fatalf("expected a single user coupon row, got %d", rows)
	}
	c, _ := env.coupons.FindByIDForUpdate(context.Background(), "c1")
	if c.IssuedCount != 1 {
		t.Fatalf("duplicate consumed stock: %d", c.IssuedCount)
	}
}

func TestIneligibleUserIsTerminal(t *testing.T) {
	deny := eligibilityFunc(func(ctx context.Context, userID string, coupon *domain.Coupon) error {
		return errors.Wrapf(domain.ErrUserIneligible, "user %s rejected", userID)
	})
	env := newTestEnv(t, deny, time.Second)
	env.seedCoupon(t, "c1", 10, time.Time{})

	req := &domain.IssuanceRequested{RequestID: "r1", UserID: "u1", CouponID: "c1"}
	if err := env.svc.HandleIssuanceRequest(context.Background(), req); err != nil {
		t.Fatalf("ineligibility is a terminal outcome, not an error: %v", err)
	}

	out, _ := env.outcomes.Get(context.Background(), "r1")
	if out == nil || out.Reason != domain.ReasonUserIneligible {
		t.Fatalf("expected USER_INELIGIBLE, got %+v", out)
	}
	rows, _ := env.userCoupons.CountByCoupon(context.Background(), "c1")
	if rows != 0 {
		t.Fatalf("ineligible user received a coupon: %d rows", rows)
	}
}

func TestUnknownCouponIsTerminalSystemError(t *testing.T) {
	env := newTestEnv(t, eligibilityFunc(allowAll), time.Second)

	req := &domain.IssuanceRequested{RequestID: "r1", UserID: "u1", CouponID: "nope"}
	// 活动不存在重试不会好转，必须吞掉错误并产出终态，让 offset 前进
	if err := env.svc.HandleIssuanceRequest(context.Background(), req); err != nil {
		t.Fatalf("unknown coupon must not trigger a retry: %v", err)
	}
	out, _ := env.outcomes.Get(context.Background(), "r1")
	if out == nil || out.Reason != domain.ReasonSystemError {
		t.Fatalf("expected SYSTEM_ERROR, got %+v", out)
	}
}

func TestLockTimeoutThenRetrySucceeds(t *testing.T) {
	env := newTestEnv(t, eligibilityFunc(allowAll), 50*time.Millisecond)
	env.seedCoupon(t, "c1", 10, time.Time{})

	release := env.lock.hold(port.IssueLockKey("c1"))

	req := &domain.IssuanceRequested{RequestID: "r1", UserID: "u1", CouponID: "c1"}
	err := env.svc.HandleIssuanceRequest(context.Background(), req)
	if !errors.Is(err, port.ErrLockAcquireTimeout) {
		t.Fatalf("expected lock timeout to surface as an error, got %v", err)
	}

	// 超时发布的 SYSTEM_ERROR 只是瞬时可见性，不是终态
	out, _ := env.outcomes.Get(context.Background(), "r1")
	if out == nil || out.Reason != domain.ReasonSystemError {
		t.Fatalf("expected transient SYSTEM_ERROR, got %+v", out)
	}

	// 锁释放后，同一条消息重投必须能完成发放，
	// 即瞬时错误记录不能挡住自己的重试
	release()
	if err := env.svc.HandleIssuanceRequest(context.Background(), req); err != nil {
		t.Fatalf("redelivery after lock release failed: %v", err)
	}
	out, _ = env.outcomes.Get(context.Background(), "r1")
	if out == nil || !out.Success {
		t.Fatalf("expected success after retry, got %+v", out)
	}
}

func TestCreateCoupon(t *testing.T) {
	env := newTestEnv(t, eligibilityFunc(allowAll), time.Second)
	ctx := context.Background()

	resp, err := env.svc.CreateCoupon(ctx, &CreateCouponRequest{CouponID: "c1", TotalStock: 50, DiscountAmount: 9.9})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if resp.Status != string(domain.StatusActive) {
		t.Fatalf("new campaign must be ACTIVE, got %s", resp.Status)
	}

	if _, err := env.svc.CreateCoupon(ctx, &CreateCouponRequest{CouponID: "c1", TotalStock: 50}); err == nil {
		t.Fatal("duplicate coupon id must be rejected")
	}
	if _, err := env.svc.CreateCoupon(ctx, &CreateCouponRequest{CouponID: "c2", TotalStock: 0}); !errors.Is(err, domain.ErrInvalidStock) {
		t.Fatalf("zero stock must be rejected, got %v", err)
	}
}

// internal/service/issuance/interfaces/http_handler_test.go
package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"surge/internal/service/issuance/application"
	"surge/internal/service/issuance/domain"
	"surge/internal/service/issuance/domain/port"
)

// 接口层测试只验证 HTTP 语义（状态码、路由、参数校验），
// 发放协议本身在 application 包有自己的测试。

type stubProducer struct{}

func (stubProducer) Produce(ctx context.Context, req *domain.IssuanceRequested) error { return nil }

type stubOutcomeStore struct {
	mu       sync.Mutex
	outcomes map[string]domain.IssuanceOutcome
}

func (s *stubOutcomeStore) Publish(ctx context.Context, outcome *domain.IssuanceOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[outcome.RequestID] = *outcome
	return nil
}

func (s *stubOutcomeStore) Get(ctx context.Context, requestID string) (*domain.IssuanceOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.outcomes[requestID]; ok {
		return &o, nil
	}
	return nil, port.ErrOutcomeNotFound
}

type stubCouponRepo struct {
	mu      sync.Mutex
	coupons map[string]domain.Coupon
}

func (r *stubCouponRepo) FindByIDForUpdate(ctx context.Context, couponID string) (*domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.coupons[couponID]; ok {
		return &c, nil
	}
	return nil, domain.ErrCouponNotFound
}

func (r *stubCouponRepo) Save(ctx context.Context, coupon *domain.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coupons[coupon.CouponID] = *coupon
	return nil
}

func (r *stubCouponRepo) Create(ctx context.Context, coupon *domain.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.coupons[coupon.CouponID]; ok {
		return domain.ErrConstraintViolation
	}
	r.coupons[coupon.CouponID] = *coupon
	return nil
}

func newTestHandler() (*IssuanceHandler, *stubOutcomeStore) {
	outcomes := &stubOutcomeStore{outcomes: make(map[string]domain.IssuanceOutcome)}
	svc := application.NewIssuanceApplicationService(
		&stubCouponRepo{coupons: make(map[string]domain.Coupon)}, nil, outcomes,
		nil, nil, stubProducer{}, nil,
		noop.NewTracerProvider().Tracer("test"),
		time.Second, time.Second,
	)
	return NewIssuanceHandler(svc), outcomes
}

func TestIssueCouponEndpoint(t *testing.T) {
	handler, _ := newTestHandler()
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	// 受理成功：202 + requestId
	req := httptest.NewRequest(http.MethodPost, "/issue_coupon", strings.NewReader(`{"userId":"u1","couponId":"c1"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp application.IssueCouponResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.RequestID == "" || resp.Status != "accepted" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// 非 POST 拒绝
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/issue_coupon", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}

	// 缺字段拒绝
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/issue_coupon", strings.NewReader(`{"userId":"u1"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing couponId, got %d", rec.Code)
	}

	// 坏 JSON 拒绝
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/issue_coupon", strings.NewReader(`{`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestOutcomeEndpoint(t *testing.T) {
	handler, outcomes := newTestHandler()
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/outcome", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without requestId, got %d", rec.Code)
	}

	// 结果未产出：404，轮询方应稍后再试
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/outcome?requestId=r1", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before outcome exists, got %d", rec.Code)
	}

	outcomes.Publish(context.Background(), domain.NewSuccessOutcome("r1", "uc-1"))

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/outcome?requestId=r1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out domain.IssuanceOutcome
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("invalid outcome body: %v", err)
	}
	if !out.Success || out.UserCouponID != "uc-1" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestCreateCouponEndpoint(t *testing.T) {
	handler, _ := newTestHandler()
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/coupons", strings.NewReader(`{"couponId":"c1","totalStock":100,"discountAmount":9.9}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	// 非正库存：400
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/coupons", strings.NewReader(`{"couponId":"c2","totalStock":0}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero stock, got %d", rec.Code)
	}

	// 重复创建：409
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/coupons", strings.NewReader(`{"couponId":"c1","totalStock":100}`)))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate coupon, got %d", rec.Code)
	}
}

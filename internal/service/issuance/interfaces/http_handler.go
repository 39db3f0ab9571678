// internal/service/issuance/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"surge/internal/service/issuance/application"
	"surge/internal/service/issuance/domain"
	"surge/internal/service/issuance/domain/port"
)

// IssuanceHandler 封装了发放服务的 HTTP 处理器
type IssuanceHandler struct {
	service *application.IssuanceApplicationService
}

// NewIssuanceHandler 创建一个新的 HTTP 处理器实例
func NewIssuanceHandler(service *application.IssuanceApplicationService) *IssuanceHandler {
	return &IssuanceHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *IssuanceHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/issue_coupon", h.handleIssueCoupon)
	mux.HandleFunc("/outcome", h.handleGetOutcome)
	mux.HandleFunc("/admin/coupons", h.handleCreateCoupon)
}

// handleIssueCoupon 受理发放请求：只确认入队，202 应答不代表最终结果
func (h *IssuanceHandler) handleIssueCoupon(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.IssueCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.service.RequestIssuance(ctx, &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	// 202: 请求已被接受，结果走异步通道
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(resp)
}

// handleGetOutcome 按 RequestID 轮询最终结果
func (h *IssuanceHandler) handleGetOutcome(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	requestID := r.URL.Query().Get("requestId")
	if requestID == "" {
		http.Error(w, "requestId is required", http.StatusBadRequest)
		return
	}

	outcome, err := h.service.GetOutcome(ctx, requestID)
	if err != nil {
		if errors.Is(err, port.ErrOutcomeNotFound) {
			http.Error(w, "outcome not available yet", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(outcome)
}

// handleCreateCoupon 创建活动（管理路径），非正库存在这里拒绝
func (h *IssuanceHandler) handleCreateCoupon(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.CreateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.service.CreateCoupon(ctx, &req)
	if err != nil {
		var statusCode int
		switch {
		case errors.Is(err, domain.ErrInvalidStock), errors.Is(err, domain.ErrInvalidCoupon):
			statusCode = http.StatusBadRequest
		case errors.Is(err, domain.ErrConstraintViolation):
			statusCode = http.StatusConflict
		default:
			statusCode = http.StatusInternalServerError
		}
		http.Error(w, err.Error(), statusCode)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

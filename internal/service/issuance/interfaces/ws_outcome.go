// internal/service/issuance/interfaces/ws_outcome.go
package interfaces

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"surge/internal/pkg/logger"
	"surge/internal/service/issuance/domain"
	"surge/internal/service/issuance/domain/port"
)

const subscribeTimeout = 60 * time.Second

// OutcomeSubscriber 是推送接口需要的订阅能力，由 Redis 结果存储实现
type OutcomeSubscriber interface {
	Get(ctx context.Context, requestID string) (*domain.IssuanceOutcome, error)
	Subscribe(ctx context.Context, requestID string) (<-chan *domain.IssuanceOutcome, func(), error)
}

// OutcomeWsHandler 通过 WebSocket 把发放结果推送给提交方，
// 免去客户端轮询。连接建立后先查一次存量结果（可能在订阅前就已产出），
// 没有再挂到结果频道上等。
type OutcomeWsHandler struct {
	subscriber OutcomeSubscriber
	upgrader   websocket.Upgrader
}

func NewOutcomeWsHandler(subscriber OutcomeSubscriber) *OutcomeWsHandler {
	return &OutcomeWsHandler{
		subscriber: subscriber,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 在 ServeMux 上注册推送路由
func (h *OutcomeWsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/subscribe_outcome", h.handleSubscribe)
}

func (h *OutcomeWsHandler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("requestId")
	if requestID == "" {
		http.Error(w, "requestId is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 失败时自己已经写了响应
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(r.Context(), subscribeTimeout)
	defer cancel()

	// 先订阅再查存量，避免两步之间产出的结果两头都错过
	events, stop, err := h.subscriber.Subscribe(ctx, requestID)
	if err != nil {
		h.writeError(conn, "subscription failed")
		return
	}
	defer stop()

	if outcome, err := h.subscriber.Get(ctx, requestID); err == nil {
		h.push(ctx, conn, outcome)
		return
	} else if !errors.Is(err, port.ErrOutcomeNotFound) {
		logger.Ctx(ctx).Warn().Err(err).Str("request_id", requestID).Msg("Outcome lookup failed")
		h.writeError(conn, "outcome lookup failed")
		return
	}

	select {
	case outcome, ok := <-events:
		if !ok {
			h.writeError(conn, "subscription closed")
			return
		}
		h.push(ctx, conn, outcome)
	case <-ctx.Done():
		h.writeError(conn, "timed out waiting for outcome")
	}
}

// push 推送终态结果；SYSTEM_ERROR 是瞬时状态，推完继续等也可以，
// 但客户端通常把它当作"稍后重查"，这里统一推完即关。
func (h *OutcomeWsHandler) push(ctx context.Context, conn *websocket.Conn, outcome *domain.IssuanceOutcome) {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(outcome); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("request_id", outcome.RequestID).Msg("Failed to push outcome over websocket")
	}
}

func (h *OutcomeWsHandler) writeError(conn *websocket.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = conn.WriteJSON(map[string]string{"error": message})
}

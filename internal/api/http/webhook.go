package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	platformobservability "github.com/shestoi/pos-terminal/platform/observability"

	"github.com/shestoi/pos-terminal/internal/notification"
)

// webhookAckBody — тело подтверждения, которое ожидает отправитель событий
const webhookAckBody = "[accepted]"

// WebhookHandler принимает асинхронные события процессора платежей
type WebhookHandler struct {
	reconciler *notification.Reconciler
}

// NewWebhookHandler создаёт новый webhook handler
func NewWebhookHandler(reconciler *notification.Reconciler) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
	}
}

// HandleNotifications обрабатывает POST /api/webhooks/notifications.
// Невалидная подпись — 401 без подтверждения; применённые (и не наши, но
// корректно подписанные) события подтверждаются телом "[accepted]"
func (h *WebhookHandler) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := platformobservability.LoggerFromContext(ctx)

	var req notification.NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("webhook: invalid json", zap.Error(err))
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	// Единственная ошибка HandleRequest — невалидная подпись
	if err := h.reconciler.HandleRequest(ctx, req); err != nil {
		http.Error(w, "Invalid HMAC signature", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	if _, err := w.Write([]byte(webhookAckBody)); err != nil {
		logger.Error("webhook: failed to write ack", zap.Error(err))
	}
}

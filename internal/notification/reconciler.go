package notification

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/shestoi/pos-terminal/internal/registry"
	"github.com/shestoi/pos-terminal/internal/service"
)

// ErrInvalidHMAC возвращается при невалидной подписи события.
// HTTP слой отвечает на это 401 без acknowledgement — для отправителя это
// security-событие, а не повод ретраить
var ErrInvalidHMAC = errors.New("invalid hmac signature")

// Reconciler применяет асинхронные webhook-события к реестру столов.
// Webhook — единственный источник истины для финальных refund-статусов:
// синхронный ответ терминала на reversal означает только "принято в обработку".
// Применение идемпотентно: повторная доставка события безопасна
type Reconciler struct {
	logger    *zap.Logger
	validator *HMACValidator
	registry  *registry.Registry
	publisher service.PaymentEventPublisher
}

// NewReconciler создаёт Reconciler
func NewReconciler(logger *zap.Logger, validator *HMACValidator, reg *registry.Registry, publisher service.PaymentEventPublisher) *Reconciler {
	return &Reconciler{
		logger:    logger,
		validator: validator,
		registry:  reg,
		publisher: publisher,
	}
}

// HandleRequest проверяет подпись каждого события и применяет его к реестру.
// Возвращает ErrInvalidHMAC, если хотя бы одно событие не прошло проверку —
// при этом ни одно событие запроса не применяется.
// Событие без подходящего стола логируется и подтверждается: оно не
// malformed, просто не наше, а отказ заставил бы отправителя ретраить вечно
func (r *Reconciler) HandleRequest(ctx context.Context, req NotificationRequest) error {
	// Сначала подписи: невалидный запрос не должен применить даже часть событий
	for _, item := range req.NotificationItems {
		if !r.validator.Validate(item.NotificationRequestItem) {
			r.logger.Warn("webhook: invalid hmac signature",
				zap.String("psp_reference", item.NotificationRequestItem.PSPReference),
				zap.String("event_code", string(item.NotificationRequestItem.EventCode)),
			)
			return ErrInvalidHMAC
		}
	}

	for _, item := range req.NotificationItems {
		r.handleItem(ctx, item.NotificationRequestItem)
	}
	return nil
}

// handleItem применяет одно проверенное событие
func (r *Reconciler) handleItem(ctx context.Context, item NotificationRequestItem) {
	switch item.EventCode {
	case EventCodeAuthorisation:
		// Статусом Paid/NotPaid владеет синхронный путь — только логируем
		r.logger.Info("webhook: payment authorisation",
			zap.String("psp_reference", item.PSPReference),
			zap.Bool("success", item.IsSuccess()),
		)

	case EventCodeCancelOrRefund:
		event := registry.EventRefundConfirmed
		if !item.IsSuccess() {
			event = registry.EventRefundFailed
		}
		r.applyTransition(ctx, item, event)

	case EventCodeRefundFailed:
		r.applyTransition(ctx, item, registry.EventRefundFailed)

	case EventCodeRefundedReversed:
		r.applyTransition(ctx, item, registry.EventRefundReversed)

	default:
		r.logger.Warn("webhook: unexpected event code",
			zap.String("event_code", string(item.EventCode)),
			zap.String("psp_reference", item.PSPReference),
		)
	}
}

// applyTransition находит стол по SaleTransactionID из merchantReference и
// прогоняет событие через state machine под блокировкой стола
func (r *Reconciler) applyTransition(ctx context.Context, item NotificationRequestItem, event registry.PaymentEvent) {
	var prev registry.PaymentStatus
	tab, err := r.registry.UpdateBySaleTransactionID(item.MerchantReference, func(t *registry.Table) error {
		next, err := registry.Transition(t.Status, event)
		if err != nil {
			return err
		}
		prev = t.Status
		t.Status = next
		return nil
	})
	if err != nil {
		if errors.Is(err, registry.ErrTableNotFound) {
			// Не наше событие — подтверждаем, но не применяем
			r.logger.Warn("webhook: no table matches sale transaction id",
				zap.String("merchant_reference", item.MerchantReference),
				zap.String("event_code", string(item.EventCode)),
			)
			return
		}
		r.logger.Error("webhook: failed to apply event",
			zap.String("merchant_reference", item.MerchantReference),
			zap.String("event_code", string(item.EventCode)),
			zap.Error(err),
		)
		return
	}

	r.logger.Info("webhook: event applied",
		zap.String("table", tab.Name),
		zap.String("event_code", string(item.EventCode)),
		zap.String("psp_reference", item.PSPReference),
		zap.String("status", string(tab.Status)),
	)

	if r.publisher != nil && prev != tab.Status {
		statusEvent := service.StatusChangedEvent{
			TableName:         tab.Name,
			OldStatus:         prev,
			NewStatus:         tab.Status,
			SaleTransactionID: tab.Details.SaleTransactionID,
			Amount:            tab.Amount,
			Currency:          tab.Currency,
		}
		if err := r.publisher.PublishStatusChanged(ctx, statusEvent); err != nil {
			r.logger.Warn("webhook: failed to publish status change event",
				zap.String("table", tab.Name),
				zap.Error(err),
			)
		}
	}
}

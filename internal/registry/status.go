package registry

import (
	"errors"
	"fmt"
)

// PaymentStatus представляет статус оплаты стола
type PaymentStatus string

const (
	StatusNotPaid          PaymentStatus = "NotPaid"
	StatusInProgress       PaymentStatus = "InProgress"
	StatusPaid             PaymentStatus = "Paid"
	StatusRefundInProgress PaymentStatus = "RefundInProgress"
	StatusRefunded         PaymentStatus = "Refunded"
	StatusRefundFailed     PaymentStatus = "RefundFailed"
	StatusRefundedReversed PaymentStatus = "RefundedReversed"
)

// PaymentEvent — событие жизненного цикла оплаты.
// Закрытый enum: синхронные события приходят от терминала через gateway,
// Refund* события — только из webhook (асинхронное подтверждение)
type PaymentEvent int

const (
	// EventPaymentInitiated — отправлен PaymentRequest на терминал
	EventPaymentInitiated PaymentEvent = iota
	// EventPaymentSucceeded — терминал ответил Success на PaymentRequest
	EventPaymentSucceeded
	// EventPaymentFailed — терминал ответил Failure (или ответ пустой/неожиданный)
	EventPaymentFailed
	// EventReversalInitiated — отправлен ReversalRequest на терминал
	EventReversalInitiated
	// EventReversalAccepted — терминал принял reversal в обработку (не финальный статус)
	EventReversalAccepted
	// EventReversalRejected — терминал отклонил reversal
	EventReversalRejected
	// EventRefundConfirmed — webhook CANCEL_OR_REFUND success=true
	EventRefundConfirmed
	// EventRefundFailed — webhook CANCEL_OR_REFUND success=false или REFUND_FAILED
	EventRefundFailed
	// EventRefundReversed — webhook REFUNDED_REVERSED
	EventRefundReversed
)

// String возвращает имя события для логов и ошибок
func (e PaymentEvent) String() string {
	switch e {
	case EventPaymentInitiated:
		return "PaymentInitiated"
	case EventPaymentSucceeded:
		return "PaymentSucceeded"
	case EventPaymentFailed:
		return "PaymentFailed"
	case EventReversalInitiated:
		return "ReversalInitiated"
	case EventReversalAccepted:
		return "ReversalAccepted"
	case EventReversalRejected:
		return "ReversalRejected"
	case EventRefundConfirmed:
		return "RefundConfirmed"
	case EventRefundFailed:
		return "RefundFailed"
	case EventRefundReversed:
		return "RefundReversed"
	}
	return fmt.Sprintf("PaymentEvent(%d)", int(e))
}

// ErrIllegalTransition возвращается, когда событие не разрешено в текущем статусе.
// Статус стола при этом не меняется
var ErrIllegalTransition = errors.New("illegal payment status transition")

// Transition применяет событие к текущему статусу и возвращает новый статус.
// Webhook-события (RefundConfirmed/RefundFailed/RefundReversed) разрешены из любого
// статуса: процессор — единственный источник истины для финальных refund-статусов,
// и повторная доставка того же события должна быть безопасной
func Transition(current PaymentStatus, event PaymentEvent) (PaymentStatus, error) {
	switch event {
	case EventPaymentInitiated:
		if current == StatusNotPaid {
			return StatusInProgress, nil
		}
	case EventPaymentSucceeded:
		if current == StatusInProgress {
			return StatusPaid, nil
		}
	case EventPaymentFailed:
		if current == StatusInProgress {
			return StatusNotPaid, nil
		}
	case EventReversalInitiated:
		// RefundFailed -> RefundInProgress: повторная попытка refund разрешена
		if current == StatusPaid || current == StatusRefundFailed {
			return StatusRefundInProgress, nil
		}
	case EventReversalAccepted:
		// Ответ терминала — только "принято в обработку", ждём webhook
		if current == StatusRefundInProgress {
			return StatusRefundInProgress, nil
		}
	case EventReversalRejected:
		if current == StatusRefundInProgress {
			return StatusRefundFailed, nil
		}
	case EventRefundConfirmed:
		return StatusRefunded, nil
	case EventRefundFailed:
		return StatusRefundFailed, nil
	case EventRefundReversed:
		return StatusRefundedReversed, nil
	}
	return current, fmt.Errorf("%w: event %s not permitted in status %s", ErrIllegalTransition, event, current)
}

package notification

// EventCode — закрытый enum кодов webhook-событий процессора.
// Неизвестные коды обрабатываются явной fallback-веткой (лог + no-op)
type EventCode string

const (
	// EventCodeAuthorisation — исход авторизации платежа. Для этого ядра
	// информационное событие: статусом Paid/NotPaid владеет синхронный путь
	EventCodeAuthorisation EventCode = "AUTHORISATION"
	// EventCodeCancelOrRefund — исход отмены/возврата (success true/false)
	EventCodeCancelOrRefund EventCode = "CANCEL_OR_REFUND"
	// EventCodeRefundFailed — возврат не прошёл
	EventCodeRefundFailed EventCode = "REFUND_FAILED"
	// EventCodeRefundedReversed — возврат отозван
	EventCodeRefundedReversed EventCode = "REFUNDED_REVERSED"
)

// hmacSignatureKey — ключ подписи в additionalData
const hmacSignatureKey = "hmacSignature"

// Amount — сумма события
type Amount struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency"`
}

// NotificationRequestItem — одно webhook-событие.
// MerchantReference несёт SaleTransactionID исходной попытки оплаты —
// это ключ, по которому событие матчится обратно на стол
type NotificationRequestItem struct {
	AdditionalData      map[string]string `json:"additionalData"`
	Amount              Amount            `json:"amount"`
	EventCode           EventCode         `json:"eventCode"`
	EventDate           string            `json:"eventDate"`
	MerchantAccountCode string            `json:"merchantAccountCode"`
	MerchantReference   string            `json:"merchantReference"`
	OriginalReference   string            `json:"originalReference"`
	PSPReference        string            `json:"pspReference"`
	Success             string            `json:"success"`
}

// IsSuccess интерпретирует строковый флаг success события
func (n NotificationRequestItem) IsSuccess() bool {
	return n.Success == "true"
}

// HMACSignature возвращает подпись события из additionalData (пустая строка,
// если подписи нет)
func (n NotificationRequestItem) HMACSignature() string {
	return n.AdditionalData[hmacSignatureKey]
}

// NotificationItem оборачивает NotificationRequestItem (формат процессора)
type NotificationItem struct {
	NotificationRequestItem NotificationRequestItem `json:"NotificationRequestItem"`
}

// NotificationRequest — тело POST /api/webhooks/notifications
type NotificationRequest struct {
	Live              string             `json:"live"`
	NotificationItems []NotificationItem `json:"notificationItems"`
}

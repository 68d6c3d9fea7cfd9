package service

import (
	"context"
	"encoding/json"

	"github.com/shestoi/pos-terminal/internal/registry"
	"github.com/shestoi/pos-terminal/internal/terminal"
)

// TerminalClient — синхронный клиент Terminal API.
// Service зависит от интерфейса, а не от конкретного HTTP клиента,
// что позволяет подменять терминал в тестах
type TerminalClient interface {
	// Sync отправляет запрос и блокируется до ответа терминала
	Sync(ctx context.Context, req terminal.Request) (*terminal.SaleToPOIResponse, error)
	// SyncRaw отправляет запрос и возвращает тело ответа как есть
	SyncRaw(ctx context.Context, req terminal.Request) (json.RawMessage, error)
}

// IDSource генерирует корреляционные идентификаторы попытки оплаты
type IDSource interface {
	// NewServiceID возвращает короткий id одного синхронного обмена
	NewServiceID() (string, error)
	// NewSaleTransactionID возвращает глобально уникальный id попытки
	NewSaleTransactionID() string
}

// StatusChangedEvent описывает смену статуса оплаты стола
type StatusChangedEvent struct {
	TableName         string
	OldStatus         registry.PaymentStatus
	NewStatus         registry.PaymentStatus
	SaleTransactionID string
	Amount            float64
	Currency          string
}

// PaymentEventPublisher публикует события смены статуса оплаты
// (реализации: Kafka publisher, no-op для локальной разработки)
type PaymentEventPublisher interface {
	PublishStatusChanged(ctx context.Context, event StatusChangedEvent) error
}

package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shestoi/pos-terminal/internal/service"
)

// StatusPublisher реализует PaymentEventPublisher используя Kafka
type StatusPublisher struct {
	logger *zap.Logger
	writer *kafka.Writer
	topic  string
}

// NewStatusPublisher создаёт новый Kafka publisher для событий смены статуса оплаты
func NewStatusPublisher(logger *zap.Logger, brokers []string, topic string) *StatusPublisher {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	return &StatusPublisher{
		logger: logger,
		writer: writer,
		topic:  topic,
	}
}

// Close закрывает Kafka writer
func (p *StatusPublisher) Close() error {
	return p.writer.Close()
}

// PublishStatusChanged публикует событие смены статуса оплаты стола в Kafka
func (p *StatusPublisher) PublishStatusChanged(ctx context.Context, event service.StatusChangedEvent) error {
	payload := map[string]interface{}{
		"event_id":            uuid.New().String(), //генерируем уникальный ID для события
		"event_type":          "pos.payment.status.changed",
		"event_version":       1,                                     //версия события
		"occurred_at":         time.Now().UTC().Format(time.RFC3339), //время события
		"table":               event.TableName,
		"old_status":          string(event.OldStatus),
		"new_status":          string(event.NewStatus),
		"sale_transaction_id": event.SaleTransactionID,
		"amount":              event.Amount,
		"currency":            event.Currency,
	}

	valueBytes, err := json.Marshal(payload) //преобразуем данные события в JSON
	if err != nil {
		p.logger.Error("failed to marshal status changed event",
			zap.Error(err),
			zap.String("table", event.TableName),
		)
		return err
	}

	// Ключ - имя стола: события одного стола попадают в одну партицию по порядку
	message := kafka.Message{
		Key:   []byte(event.TableName),
		Value: valueBytes,
	}

	err = p.writer.WriteMessages(ctx, message)
	if err != nil {
		p.logger.Error("failed to publish status changed event",
			zap.Error(err),
			zap.String("topic", p.topic),
			zap.String("table", event.TableName),
			zap.String("new_status", string(event.NewStatus)),
		)
		return err
	}

	p.logger.Info("status changed event published",
		zap.String("topic", p.topic),
		zap.String("table", event.TableName),
		zap.String("old_status", string(event.OldStatus)),
		zap.String("new_status", string(event.NewStatus)),
	)

	return nil
}

// NoOpPublisher - no-op реализация PaymentEventPublisher (когда Kafka отключена)
type NoOpPublisher struct {
	logger *zap.Logger
}

// NewNoOpPublisher создаёт no-op publisher
func NewNoOpPublisher(logger *zap.Logger) *NoOpPublisher {
	return &NoOpPublisher{
		logger: logger,
	}
}

// PublishStatusChanged ничего не делает, только логирует
func (p *NoOpPublisher) PublishStatusChanged(ctx context.Context, event service.StatusChangedEvent) error {
	p.logger.Debug("no-op publisher: status change not published",
		zap.String("table", event.TableName),
		zap.String("new_status", string(event.NewStatus)),
	)
	return nil
}

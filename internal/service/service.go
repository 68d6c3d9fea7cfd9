package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shestoi/pos-terminal/internal/registry"
	"github.com/shestoi/pos-terminal/internal/terminal"
)

var (
	// ErrInvalidRequest — некорректные входные данные операции (сумма, валюта)
	ErrInvalidRequest = errors.New("invalid payment request")
	// ErrNoReferencedTransaction — у стола нет попытки оплаты, на которую можно
	// сослаться (reversal/abort/status требуют сохранённых идентификаторов)
	ErrNoReferencedTransaction = errors.New("no transaction to reference for this table")
	// ErrPartialNotSupported — терминал ответил Partial на reversal.
	// Частичный возврат сознательно не поддерживается и не аппроксимируется
	ErrPartialNotSupported = errors.New("partial reversal not supported")
)

const (
	refusalEmptyPayment  = "Empty payment response"
	refusalEmptyReversal = "Empty reversal response"
	refusalUnexpected    = "Unexpected terminal result"
)

// Result — исход синхронной операции для вызывающего
type Result struct {
	Success       bool
	RefusalReason string
}

// Service оркестрирует платёжный жизненный цикл столов: синхронные операции с
// терминалом и применение их результатов к реестру через state machine.
// Блокирующий вызов терминала выполняется без удержания блокировки стола,
// поэтому Abort и webhook для того же стола остаются возможными
type Service struct {
	logger    *zap.Logger
	registry  *registry.Registry
	terminal  TerminalClient
	ids       IDSource
	publisher PaymentEventPublisher
	saleID    string
	poiID     string
}

// New создаёт Service с зависимостями
func New(
	logger *zap.Logger,
	reg *registry.Registry,
	terminalClient TerminalClient,
	ids IDSource,
	publisher PaymentEventPublisher,
	saleID, poiID string,
) *Service {
	return &Service{
		logger:    logger,
		registry:  reg,
		terminal:  terminalClient,
		ids:       ids,
		publisher: publisher,
		saleID:    saleID,
		poiID:     poiID,
	}
}

// Registry возвращает реестр столов (для read-only ручек API)
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// CreatePayment запускает оплату стола: генерирует свежие ServiceID и
// SaleTransactionID, переводит стол в InProgress, отправляет PaymentRequest и
// блокируется до ответа. Идентификаторы записываются в стол до блокирующего
// вызова, чтобы параллельный Abort мог на них сослаться.
// Сетевые и протокольные ошибки не ретраятся: повторный платёж на терминале
// может списать деньги дважды
func (s *Service) CreatePayment(ctx context.Context, tableName string, amount float64, currency string) (Result, error) {
	if amount <= 0 {
		return Result{}, fmt.Errorf("%w: amount must be greater than 0", ErrInvalidRequest)
	}
	if currency == "" {
		return Result{}, fmt.Errorf("%w: currency is required", ErrInvalidRequest)
	}

	serviceID, err := s.ids.NewServiceID()
	if err != nil {
		return Result{}, err
	}
	saleTransactionID := s.ids.NewSaleTransactionID()
	saleTimestamp := time.Now().UTC().Format(time.RFC3339)

	var prev registry.PaymentStatus
	tab, err := s.registry.Update(tableName, func(t *registry.Table) error {
		next, err := registry.Transition(t.Status, registry.EventPaymentInitiated)
		if err != nil {
			return err
		}
		prev = t.Status
		t.Status = next
		t.Amount = amount
		t.Currency = currency
		t.Details = registry.PaymentDetails{
			ServiceID:                serviceID,
			SaleTransactionID:        saleTransactionID,
			SaleTransactionTimestamp: saleTimestamp,
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	s.publishStatusChange(ctx, prev, tab)

	s.logger.Info("payment initiated",
		zap.String("table", tableName),
		zap.String("service_id", serviceID),
		zap.String("sale_transaction_id", saleTransactionID),
		zap.Float64("amount", amount),
		zap.String("currency", currency),
	)

	req := terminal.Request{
		SaleToPOIRequest: terminal.SaleToPOIRequest{
			MessageHeader: s.header(terminal.CategoryPayment, serviceID),
			PaymentRequest: &terminal.PaymentRequest{
				SaleData: terminal.SaleData{
					SaleTransactionID: terminal.TransactionIdentification{
						TransactionID: saleTransactionID,
						TimeStamp:     saleTimestamp,
					},
				},
				PaymentTransaction: terminal.PaymentTransaction{
					AmountsReq: terminal.AmountsReq{
						Currency:        currency,
						RequestedAmount: amount,
					},
				},
			},
		},
	}

	resp, err := s.terminal.Sync(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Обмен оборвался на нашей стороне, но терминал мог довести
			// списание до конца. Стол остаётся InProgress: исход разрешат
			// transaction-status, webhook или Abort
			s.logger.Warn("payment outcome unknown, table stays in progress",
				zap.String("table", tableName),
				zap.String("service_id", serviceID),
				zap.Error(err),
			)
			return Result{}, err
		}
		reason := refusalEmptyPayment
		if !errors.Is(err, terminal.ErrEmptyResponse) {
			reason = err.Error()
		}
		s.failPayment(ctx, tableName, reason, nil)
		return Result{RefusalReason: reason}, err
	}
	if resp.PaymentResponse == nil {
		s.failPayment(ctx, tableName, refusalEmptyPayment, nil)
		return Result{RefusalReason: refusalEmptyPayment}, terminal.ErrEmptyResponse
	}

	pr := resp.PaymentResponse
	switch pr.Response.Result {
	case terminal.ResultSuccess:
		tab, err = s.updateWithTransition(tableName, registry.EventPaymentSucceeded, &prev, func(t *registry.Table) {
			t.Details.POITransactionID = pr.POIData.POITransactionID.TransactionID
			t.Details.POITransactionTimestamp = pr.POIData.POITransactionID.TimeStamp
			t.Details.SaleTransactionID = pr.SaleData.SaleTransactionID.TransactionID
			t.Details.SaleTransactionTimestamp = pr.SaleData.SaleTransactionID.TimeStamp
			t.Details.RefusalReason = ""
		})
		if err != nil {
			return Result{}, err
		}
		s.publishStatusChange(ctx, prev, tab)
		s.logger.Info("payment success",
			zap.String("table", tableName),
			zap.String("poi_transaction_id", tab.Details.POITransactionID),
		)
		return Result{Success: true}, nil

	case terminal.ResultFailure:
		reason := "Payment terminal responded with: " + pr.Response.ErrorCondition
		s.failPayment(ctx, tableName, reason, pr)
		s.logger.Info("payment failure",
			zap.String("table", tableName),
			zap.String("refusal_reason", reason),
		)
		return Result{RefusalReason: reason}, nil

	default:
		// Неожиданный результат: идентификаторы попытки сбрасываются, стол
		// возвращается в NotPaid
		tab, err = s.updateWithTransition(tableName, registry.EventPaymentFailed, &prev, func(t *registry.Table) {
			t.Details = registry.PaymentDetails{}
		})
		if err != nil {
			return Result{}, err
		}
		s.publishStatusChange(ctx, prev, tab)
		s.logger.Warn("unexpected payment result",
			zap.String("table", tableName),
			zap.String("result", pr.Response.Result),
		)
		return Result{RefusalReason: refusalUnexpected}, fmt.Errorf("unexpected terminal result %q", pr.Response.Result)
	}
}

// CreateReversal запрашивает отмену/возврат последней оплаты стола по
// сохранённому POITransactionID. Success терминала означает только "принято в
// обработку": финальный Refunded/RefundFailed приходит позже через webhook
func (s *Service) CreateReversal(ctx context.Context, tableName string) (Result, error) {
	serviceID, err := s.ids.NewServiceID()
	if err != nil {
		return Result{}, err
	}

	var (
		prev             registry.PaymentStatus
		poiTransactionID string
	)
	tab, err := s.registry.Update(tableName, func(t *registry.Table) error {
		if t.Details.POITransactionID == "" {
			return ErrNoReferencedTransaction
		}
		next, err := registry.Transition(t.Status, registry.EventReversalInitiated)
		if err != nil {
			return err
		}
		prev = t.Status
		t.Status = next
		poiTransactionID = t.Details.POITransactionID
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	s.publishStatusChange(ctx, prev, tab)

	s.logger.Info("reversal initiated",
		zap.String("table", tableName),
		zap.String("poi_transaction_id", poiTransactionID),
	)

	// ServiceID в Details не перезаписывается: Abort и TransactionStatus
	// ссылаются на исходный платёжный обмен
	req := terminal.Request{
		SaleToPOIRequest: terminal.SaleToPOIRequest{
			MessageHeader: s.header(terminal.CategoryReversal, serviceID),
			ReversalRequest: &terminal.ReversalRequest{
				OriginalPOITransaction: terminal.OriginalPOITransaction{
					POITransactionID: terminal.TransactionIdentification{
						TransactionID: poiTransactionID,
						TimeStamp:     time.Now().UTC().Format(time.RFC3339),
					},
					POIID: s.poiID,
				},
				ReversalReason: terminal.ReversalReasonMerchantCancel,
			},
		},
	}

	resp, err := s.terminal.Sync(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Терминал мог принять возврат в обработку — финальное слово
			// за webhook-ом, стол остаётся RefundInProgress
			s.logger.Warn("reversal outcome unknown, table stays refund in progress",
				zap.String("table", tableName),
				zap.Error(err),
			)
			return Result{}, err
		}
		reason := refusalEmptyReversal
		if !errors.Is(err, terminal.ErrEmptyResponse) {
			reason = err.Error()
		}
		s.rejectReversal(ctx, tableName, reason)
		return Result{RefusalReason: reason}, err
	}
	if resp.ReversalResponse == nil {
		s.rejectReversal(ctx, tableName, refusalEmptyReversal)
		return Result{RefusalReason: refusalEmptyReversal}, terminal.ErrEmptyResponse
	}

	rr := resp.ReversalResponse
	switch rr.Response.Result {
	case terminal.ResultSuccess:
		// Статус остаётся RefundInProgress до webhook-подтверждения
		s.logger.Info("reversal accepted by terminal", zap.String("table", tableName))
		return Result{Success: true}, nil

	case terminal.ResultFailure:
		reason := "Payment terminal responded with " + rr.Response.AdditionalResponse
		s.rejectReversal(ctx, tableName, reason)
		s.logger.Info("reversal rejected by terminal",
			zap.String("table", tableName),
			zap.String("refusal_reason", reason),
		)
		return Result{RefusalReason: reason}, nil

	case terminal.ResultPartial:
		// Частичный возврат — известная, сознательно не поддержанная
		// возможность схемы. Статус не трогаем: webhook останется источником
		// истины для финального состояния
		return Result{}, ErrPartialNotSupported

	default:
		return Result{RefusalReason: refusalUnexpected}, fmt.Errorf("unexpected terminal result %q", rr.Response.Result)
	}
}

// Abort просит терминал прервать незавершённый обмен, ссылаясь на ServiceID
// исходного платежа. Статус стола не меняется: исход разрешит либо ответ
// исходного платежа, либо последующий TransactionStatus
func (s *Service) Abort(ctx context.Context, tableName string) (json.RawMessage, error) {
	tab, err := s.registry.Get(tableName)
	if err != nil {
		return nil, err
	}
	if tab.Details.ServiceID == "" {
		return nil, ErrNoReferencedTransaction
	}

	serviceID, err := s.ids.NewServiceID()
	if err != nil {
		return nil, err
	}

	s.logger.Info("abort requested",
		zap.String("table", tableName),
		zap.String("original_service_id", tab.Details.ServiceID),
	)

	req := terminal.Request{
		SaleToPOIRequest: terminal.SaleToPOIRequest{
			MessageHeader: s.header(terminal.CategoryAbort, serviceID),
			AbortRequest: &terminal.AbortRequest{
				AbortReason: terminal.AbortReasonMerchantAbort,
				MessageReference: terminal.MessageReference{
					MessageCategory: terminal.CategoryPayment,
					SaleID:          s.saleID,
					ServiceID:       tab.Details.ServiceID,
				},
			},
		},
	}

	return s.terminal.SyncRaw(ctx, req)
}

// GetTransactionStatus запрашивает у терминала статус исходного платёжного
// обмена. Read-only операция для ручного разбора неоднозначного исхода
// (например, клиент отвалился до ответа на Payment)
func (s *Service) GetTransactionStatus(ctx context.Context, tableName string) (*terminal.PaymentResponse, error) {
	tab, err := s.registry.Get(tableName)
	if err != nil {
		return nil, err
	}
	if tab.Details.ServiceID == "" {
		return nil, ErrNoReferencedTransaction
	}

	serviceID, err := s.ids.NewServiceID()
	if err != nil {
		return nil, err
	}

	req := terminal.Request{
		SaleToPOIRequest: terminal.SaleToPOIRequest{
			MessageHeader: s.header(terminal.CategoryTransactionStatus, serviceID),
			TransactionStatusRequest: &terminal.TransactionStatusRequest{
				ReceiptReprintFlag: true,
				DocumentQualifier:  []string{"CashierReceipt", "CustomerReceipt"},
				MessageReference: terminal.MessageReference{
					MessageCategory: terminal.CategoryPayment,
					SaleID:          s.saleID,
					ServiceID:       tab.Details.ServiceID,
				},
			},
		},
	}

	resp, err := s.terminal.Sync(ctx, req)
	if err != nil {
		return nil, err
	}
	tsr := resp.TransactionStatusResponse
	if tsr == nil {
		return nil, fmt.Errorf("transaction status: %w", terminal.ErrEmptyResponse)
	}
	if tsr.Response.Result == terminal.ResultFailure {
		return nil, fmt.Errorf("transaction status failed: %s", tsr.Response.ErrorCondition)
	}
	if tsr.RepeatedMessageResponse == nil {
		return nil, fmt.Errorf("transaction status: %w", terminal.ErrEmptyResponse)
	}
	return &tsr.RepeatedMessageResponse.RepeatedResponseMessageBody.PaymentResponse, nil
}

func (s *Service) header(category, serviceID string) terminal.MessageHeader {
	return terminal.MessageHeader{
		ProtocolVersion: terminal.ProtocolVersion,
		MessageClass:    terminal.MessageClassService,
		MessageCategory: category,
		MessageType:     terminal.MessageTypeRequest,
		ServiceID:       serviceID,
		SaleID:          s.saleID,
		POIID:           s.poiID,
	}
}

// failPayment переводит стол InProgress -> NotPaid с причиной отказа.
// Если терминал успел вернуть идентификаторы, они сохраняются для разбора
func (s *Service) failPayment(ctx context.Context, tableName, reason string, pr *terminal.PaymentResponse) {
	var prev registry.PaymentStatus
	tab, err := s.updateWithTransition(tableName, registry.EventPaymentFailed, &prev, func(t *registry.Table) {
		t.Details.RefusalReason = reason
		if pr != nil {
			t.Details.POITransactionID = pr.POIData.POITransactionID.TransactionID
			t.Details.POITransactionTimestamp = pr.POIData.POITransactionID.TimeStamp
			t.Details.SaleTransactionID = pr.SaleData.SaleTransactionID.TransactionID
			t.Details.SaleTransactionTimestamp = pr.SaleData.SaleTransactionID.TimeStamp
		}
	})
	if err != nil {
		s.logger.Warn("failed to record payment failure",
			zap.String("table", tableName),
			zap.Error(err),
		)
		return
	}
	s.publishStatusChange(ctx, prev, tab)
}

// rejectReversal переводит стол RefundInProgress -> RefundFailed
func (s *Service) rejectReversal(ctx context.Context, tableName, reason string) {
	var prev registry.PaymentStatus
	tab, err := s.updateWithTransition(tableName, registry.EventReversalRejected, &prev, func(t *registry.Table) {
		t.Details.RefusalReason = reason
	})
	if err != nil {
		s.logger.Warn("failed to record reversal rejection",
			zap.String("table", tableName),
			zap.Error(err),
		)
		return
	}
	s.publishStatusChange(ctx, prev, tab)
}

func (s *Service) updateWithTransition(tableName string, event registry.PaymentEvent, prev *registry.PaymentStatus, mutate func(t *registry.Table)) (registry.Table, error) {
	return s.registry.Update(tableName, func(t *registry.Table) error {
		next, err := registry.Transition(t.Status, event)
		if err != nil {
			return err
		}
		*prev = t.Status
		t.Status = next
		if mutate != nil {
			mutate(t)
		}
		return nil
	})
}

func (s *Service) publishStatusChange(ctx context.Context, old registry.PaymentStatus, tab registry.Table) {
	if s.publisher == nil || old == tab.Status {
		return
	}
	event := StatusChangedEvent{
		TableName:         tab.Name,
		OldStatus:         old,
		NewStatus:         tab.Status,
		SaleTransactionID: tab.Details.SaleTransactionID,
		Amount:            tab.Amount,
		Currency:          tab.Currency,
	}
	if err := s.publisher.PublishStatusChanged(ctx, event); err != nil {
		s.logger.Warn("failed to publish status change event",
			zap.String("table", tab.Name),
			zap.Error(err),
		)
	}
}

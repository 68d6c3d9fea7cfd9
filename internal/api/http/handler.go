package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	platformobservability "github.com/shestoi/pos-terminal/platform/observability"

	"github.com/shestoi/pos-terminal/internal/registry"
	"github.com/shestoi/pos-terminal/internal/service"
	"github.com/shestoi/pos-terminal/internal/terminal"
)

// Handler содержит HTTP-обработчики операций кассы.
// Зависит от service слоя, но не знает о деталях терминала и реестра
type Handler struct {
	paymentService *service.Service
}

// NewHandler создаёт новый HTTP handler
func NewHandler(paymentService *service.Service) *Handler {
	return &Handler{
		paymentService: paymentService,
	}
}

// PaymentRequest представляет HTTP запрос на оплату стола
type PaymentRequest struct {
	TableName *string  `json:"tableName"`
	Amount    *float64 `json:"amount"`
	Currency  *string  `json:"currency"`
}

// ReversalRequest представляет HTTP запрос на возврат оплаты стола
type ReversalRequest struct {
	TableName *string `json:"tableName"`
}

// OperationResponse представляет исход синхронной операции
type OperationResponse struct {
	Result        string `json:"result"`
	RefusalReason string `json:"refusalReason,omitempty"`
}

// TableResponse представляет стол в HTTP ответе
type TableResponse struct {
	Name          string  `json:"name"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	PaymentStatus string  `json:"paymentStatus"`
}

// GetTables обрабатывает GET /api/tables - текущее состояние всех столов
func (h *Handler) GetTables(w http.ResponseWriter, r *http.Request) {
	tables := h.paymentService.Registry().List()

	resp := make([]TableResponse, 0, len(tables))
	for _, t := range tables {
		resp = append(resp, TableResponse{
			Name:          t.Name,
			Amount:        t.Amount,
			Currency:      t.Currency,
			PaymentStatus: string(t.Status),
		})
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// CreatePayment обрабатывает POST /api/create-payment - синхронная оплата стола.
// Блокируется до ответа терминала
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := platformobservability.LoggerFromContext(ctx)

	var reqBody PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		logger.Warn("create-payment: invalid json", zap.Error(err))
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if reqBody.TableName == nil || *reqBody.TableName == "" {
		http.Error(w, "Invalid payload: tableName is required", http.StatusBadRequest)
		return
	}
	if reqBody.Amount == nil || reqBody.Currency == nil {
		http.Error(w, "Invalid payload: amount and currency are required", http.StatusBadRequest)
		return
	}

	result, err := h.paymentService.CreatePayment(ctx, *reqBody.TableName, *reqBody.Amount, *reqBody.Currency)
	if err != nil {
		writeOperationError(w, r, logger, "create-payment", *reqBody.TableName, result, err)
		return
	}

	writeJSON(w, r, http.StatusOK, operationResponse(result))
}

// CreateReversal обрабатывает POST /api/create-reversal - возврат оплаты стола.
// Финальный статус возврата придёт позже асинхронным webhook-событием
func (h *Handler) CreateReversal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := platformobservability.LoggerFromContext(ctx)

	var reqBody ReversalRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		logger.Warn("create-reversal: invalid json", zap.Error(err))
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if reqBody.TableName == nil || *reqBody.TableName == "" {
		http.Error(w, "Invalid payload: tableName is required", http.StatusBadRequest)
		return
	}

	result, err := h.paymentService.CreateReversal(ctx, *reqBody.TableName)
	if err != nil {
		writeOperationError(w, r, logger, "create-reversal", *reqBody.TableName, result, err)
		return
	}

	writeJSON(w, r, http.StatusOK, operationResponse(result))
}

// Abort обрабатывает GET /api/abort/{tableName} - отмена оплаты в процессе.
// Ответ терминала проксируется как есть, статус стола не меняется:
// итог попытки определит ответ исходного PaymentRequest
func (h *Handler) Abort(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := platformobservability.LoggerFromContext(ctx)
	tableName := chi.URLParam(r, "tableName")

	raw, err := h.paymentService.Abort(ctx, tableName)
	if err != nil {
		writeServiceError(w, r, logger, "abort", tableName, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(raw); err != nil {
		logger.Error("abort: failed to write response", zap.Error(err))
	}
}

// TransactionStatus обрабатывает GET /api/transaction-status/{tableName} -
// запрос к терминалу о судьбе последней попытки оплаты стола
func (h *Handler) TransactionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := platformobservability.LoggerFromContext(ctx)
	tableName := chi.URLParam(r, "tableName")

	paymentResponse, err := h.paymentService.GetTransactionStatus(ctx, tableName)
	if err != nil {
		writeServiceError(w, r, logger, "transaction-status", tableName, err)
		return
	}

	writeJSON(w, r, http.StatusOK, paymentResponse)
}

// operationResponse преобразует исход операции в HTTP DTO
func operationResponse(result service.Result) OperationResponse {
	if result.Success {
		return OperationResponse{Result: "success"}
	}
	return OperationResponse{Result: "failure", RefusalReason: result.RefusalReason}
}

// writeServiceError транслирует ошибку service слоя в HTTP статус
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, op, tableName string, err error) {
	logger.Warn(op+" failed",
		zap.String("table", tableName),
		zap.Error(err),
	)

	switch {
	case errors.Is(err, registry.ErrTableNotFound):
		http.Error(w, "Table not found", http.StatusNotFound)
	case errors.Is(err, registry.ErrIllegalTransition):
		http.Error(w, "Operation not allowed in current payment status", http.StatusConflict)
	case errors.Is(err, service.ErrNoReferencedTransaction):
		http.Error(w, "No transaction to reference for this table", http.StatusConflict)
	case errors.Is(err, service.ErrPartialNotSupported):
		http.Error(w, "Partial reversal is not supported", http.StatusConflict)
	case errors.Is(err, service.ErrInvalidRequest):
		http.Error(w, "Invalid payment request", http.StatusBadRequest)
	default:
		// Ошибка обмена с терминалом
		http.Error(w, "Terminal communication failed", http.StatusBadGateway)
	}
}

// writeOperationError транслирует ошибку синхронной операции оплаты/возврата.
// Отказ терминала с известной причиной отдаётся телом failure с refusalReason,
// чтобы оператор видел, чем именно ответил терминал
func writeOperationError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, op, tableName string, result service.Result, err error) {
	switch {
	case errors.Is(err, terminal.ErrEmptyResponse):
		logger.Warn(op+": empty terminal response",
			zap.String("table", tableName),
		)
		writeJSON(w, r, http.StatusBadRequest, operationResponse(result))
	case errors.Is(err, registry.ErrTableNotFound),
		errors.Is(err, registry.ErrIllegalTransition),
		errors.Is(err, service.ErrNoReferencedTransaction),
		errors.Is(err, service.ErrPartialNotSupported),
		errors.Is(err, service.ErrInvalidRequest):
		writeServiceError(w, r, logger, op, tableName, err)
	default:
		// Ошибка обмена с терминалом (транспорт, таймаут)
		logger.Warn(op+" failed",
			zap.String("table", tableName),
			zap.Error(err),
		)
		reason := result.RefusalReason
		if reason == "" {
			reason = err.Error()
		}
		writeJSON(w, r, http.StatusBadGateway, OperationResponse{Result: "failure", RefusalReason: reason})
	}
}

// writeJSON кодирует ответ с Content-Type application/json
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		platformobservability.LoggerFromContext(r.Context()).Error("failed to encode response", zap.Error(err))
	}
}

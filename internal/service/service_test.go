package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shestoi/pos-terminal/internal/registry"
	"github.com/shestoi/pos-terminal/internal/terminal"
)

const (
	testSaleID = "SALE_ID_POS_42"
	testPOIID  = "V400m-123456789"
)

type mockTerminal struct {
	mock.Mock
}

func (m *mockTerminal) Sync(ctx context.Context, req terminal.Request) (*terminal.SaleToPOIResponse, error) {
	args := m.Called(ctx, req)
	if resp := args.Get(0); resp != nil {
		return resp.(*terminal.SaleToPOIResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTerminal) SyncRaw(ctx context.Context, req terminal.Request) (json.RawMessage, error) {
	args := m.Called(ctx, req)
	if raw := args.Get(0); raw != nil {
		return raw.(json.RawMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishStatusChanged(ctx context.Context, event StatusChangedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// stubIDs выдаёт детерминированные идентификаторы
type stubIDs struct {
	mu sync.Mutex
	n  int
}

func (s *stubIDs) NewServiceID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return "SVC" + strconv.Itoa(s.n), nil
}

func (s *stubIDs) NewSaleTransactionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return "sale-tx-" + strconv.Itoa(s.n)
}

func newTestService(t *testing.T, term TerminalClient) (*Service, *registry.Registry) {
	t.Helper()
	reg := registry.Seed(2)
	svc := New(zap.NewNop(), reg, term, &stubIDs{}, nil, testSaleID, testPOIID)
	return svc, reg
}

func paymentSuccessResponse(saleTransactionID string) *terminal.SaleToPOIResponse {
	return &terminal.SaleToPOIResponse{
		PaymentResponse: &terminal.PaymentResponse{
			Response: terminal.Response{Result: terminal.ResultSuccess},
			POIData: terminal.POIData{
				POITransactionID: terminal.TransactionIdentification{
					TransactionID: "poi-tx-1",
					TimeStamp:     "2026-09-01T10:00:00Z",
				},
			},
			SaleData: terminal.SaleData{
				SaleTransactionID: terminal.TransactionIdentification{
					TransactionID: saleTransactionID,
					TimeStamp:     "2026-09-01T10:00:00Z",
				},
			},
		},
	}
}

func TestCreatePayment_Success(t *testing.T) {
	term := &mockTerminal{}
	svc, reg := newTestService(t, term)

	term.On("Sync", mock.Anything, mock.MatchedBy(func(req terminal.Request) bool {
		h := req.SaleToPOIRequest.MessageHeader
		pr := req.SaleToPOIRequest.PaymentRequest
		return h.ProtocolVersion == terminal.ProtocolVersion &&
			h.MessageCategory == terminal.CategoryPayment &&
			h.SaleID == testSaleID &&
			h.POIID == testPOIID &&
			pr != nil &&
			pr.PaymentTransaction.AmountsReq.RequestedAmount == 22.22 &&
			pr.PaymentTransaction.AmountsReq.Currency == "EUR"
	})).Return(paymentSuccessResponse("sale-tx-2"), nil).Once()

	result, err := svc.CreatePayment(context.Background(), "Table 1", 22.22, "EUR")
	require.NoError(t, err)
	assert.True(t, result.Success)

	tab, err := reg.Get("Table 1")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusPaid, tab.Status)
	assert.Equal(t, "poi-tx-1", tab.Details.POITransactionID)
	assert.Equal(t, "sale-tx-2", tab.Details.SaleTransactionID)
	assert.Empty(t, tab.Details.RefusalReason)
	term.AssertExpectations(t)
}

func TestCreatePayment_TerminalFailure(t *testing.T) {
	term := &mockTerminal{}
	svc, reg := newTestService(t, term)

	term.On("Sync", mock.Anything, mock.Anything).Return(&terminal.SaleToPOIResponse{
		PaymentResponse: &terminal.PaymentResponse{
			Response: terminal.Response{
				Result:         terminal.ResultFailure,
				ErrorCondition: "Cancel",
			},
		},
	}, nil).Once()

	result, err := svc.CreatePayment(context.Background(), "Table 1", 22.22, "EUR")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "Payment terminal responded with: Cancel", result.RefusalReason)

	tab, err := reg.Get("Table 1")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusNotPaid, tab.Status)
	assert.Equal(t, "Payment terminal responded with: Cancel", tab.Details.RefusalReason)
}

func TestCreatePayment_EmptyResponse(t *testing.T) {
	term := &mockTerminal{}
	svc, reg := newTestService(t, term)

	term.On("Sync", mock.Anything, mock.Anything).Return(nil, terminal.ErrEmptyResponse).Once()

	result, err := svc.CreatePayment(context.Background(), "Table 1", 22.22, "EUR")
	require.ErrorIs(t, err, terminal.ErrEmptyResponse)
	assert.Equal(t, "Empty payment response", result.RefusalReason)

	tab, err := reg.Get("Table 1")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusNotPaid, tab.Status)
}

func TestCreatePayment_TransportErrorRollsBack(t *testing.T) {
	term := &mockTerminal{}
	svc, reg := newTestService(t, term)

	transportErr := errors.New("terminal API status 503: unavailable")
	term.On("Sync", mock.Anything, mock.Anything).Return(nil, transportErr).Once()

	result, err := svc.CreatePayment(context.Background(), "Table 1", 22.22, "EUR")
	require.ErrorIs(t, err, transportErr)
	assert.Equal(t, transportErr.Error(), result.RefusalReason)

	tab, err := reg.Get("Table 1")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusNotPaid, tab.Status)
}

func TestCreatePayment_InvalidInput(t *testing.T) {
	term := &mockTerminal{}
	svc, _ := newTestService(t, term)

	_, err := svc.CreatePayment(context.Background(), "Table 1", 0, "EUR")
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.CreatePayment(context.Background(), "Table 1", 22.22, "")
	require.ErrorIs(t, err, ErrInvalidRequest)

	// Терминал не должен был вызываться
	term.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything)
}

func TestCreatePayment_UnknownTable(t *testing.T) {
	term := &mockTerminal{}
	svc, _ := newTestService(t, term)

	_, err := svc.CreatePayment(context.Background(), "Table 99", 22.22, "EUR")
	require.ErrorIs(t, err, registry.ErrTableNotFound)
	term.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything)
}

func TestCreatePayment_SecondConcurrentPaymentRejected(t *testing.T) {
	term := &mockTerminal{}
	svc, _ := newTestService(t, term)

	release := make(chan struct{})
	started := make(chan struct{})

	// Первый платёж зависает в терминале, пока не закроем release
	term.On("Sync", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		close(started)
		<-release
	}).Return(paymentSuccessResponse("sale-tx-2"), nil).Once()

	done := make(chan error, 1)
	go func() {
		_, err := svc.CreatePayment(context.Background(), "Table 1", 22.22, "EUR")
		done <- err
	}()

	<-started

	// Пока первый платёж в полёте, второй на тот же стол отклоняется:
	// блокировка стола при этом не удерживается
	_, err := svc.CreatePayment(context.Background(), "Table 1", 22.22, "EUR")
	require.ErrorIs(t, err, registry.ErrIllegalTransition)

	close(release)
	require.NoError(t, <-done)
}

func TestCreateReversal_AcceptedStaysInProgress(t *testing.T) {
	term := &mockTerminal{}
	svc, reg := newTestService(t, term)
	seedPaid(t, reg, "Table 1")

	term.On("Sync", mock.Anything, mock.MatchedBy(func(req terminal.Request) bool {
		rr := req.SaleToPOIRequest.ReversalRequest
		return req.SaleToPOIRequest.MessageHeader.MessageCategory == terminal.CategoryReversal &&
			rr != nil &&
			rr.ReversalReason == terminal.ReversalReasonMerchantCancel &&
			rr.OriginalPOITransaction.POITransactionID.TransactionID == "poi-tx-1"
	})).Return(&terminal.SaleToPOIResponse{
		ReversalResponse: &terminal.ReversalResponse{
			Response: terminal.Response{Result: terminal.ResultSuccess},
		},
	}, nil).Once()

	result, err := svc.CreateReversal(context.Background(), "Table 1")
	require.NoError(t, err)
	assert.True(t, result.Success)

	// Success терминала — лишь подтверждение приёма: финал придёт webhook-ом
	tab, err := reg.Get("Table 1")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusRefundInProgress, tab.Status)
	term.AssertExpectations(t)
}

func TestCreateReversal_RejectedByTerminal(t *testing.T) {
	term := &mockTerminal{}
	svc, reg := newTestService(t, term)
	seedPaid(t, reg, "Table 1")

	term.On("Sync", mock.Anything, mock.Anything).Return(&terminal.SaleToPOIResponse{
		ReversalResponse: &terminal.ReversalResponse{
			Response: terminal.Response{
				Result:             terminal.ResultFailure,
				AdditionalResponse: "message=Transaction%20not%20found",
			},
		},
	}, nil).Once()

	result, err := svc.CreateReversal(context.Background(), "Table 1")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "Payment terminal responded with message=Transaction%20not%20found", result.RefusalReason)

	tab, err := reg.Get("Table 1")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusRefundFailed, tab.Status)
}

func TestCreateReversal_PartialNotSupported(t *testing.T) {
	term := &mockTerminal{}
	svc, reg := newTestService(t, term)
	seedPaid(t, reg, "Table 1")

	term.On("Sync", mock.Anything, mock.Anything).Return(&terminal.SaleToPOIResponse{
		ReversalResponse: &terminal.ReversalResponse{
			Response: terminal.Response{Result: terminal.ResultPartial},
		},
	}, nil).Once()

	_, err := svc.CreateReversal(context.Background(), "Table 1")
	require.ErrorIs(t, err, ErrPartialNotSupported)

	// Статус остаётся RefundInProgress: финальное слово за webhook-ом
	tab, err := reg.Get("Table 1")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusRefundInProgress, tab.Status)
}

func TestCreateReversal_NoReferencedTransaction(t *testing.T) {
	term := &mockTerminal{}
	svc, reg := newTestService(t, term)

	_, err := svc.CreateReversal(context.Background(), "Table 1")
	require.ErrorIs(t, err, ErrNoReferencedTransaction)

	// Терминал не должен был вызываться, статус не тронут
	term.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything)
	tab, err := reg.Get("Table 1")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusNotPaid, tab.Status)
}

func TestAbort_ReferencesOriginalServiceID(t *testing.T) {
	term := &mockTerminal{}
	svc, reg := newTestService(t, term)
	seedPaid(t, reg, "Table 1")

	raw := json.RawMessage(`{"SaleToPOIResponse":{}}`)
	term.On("SyncRaw", mock.Anything, mock.MatchedBy(func(req terminal.Request) bool {
		ar := req.SaleToPOIRequest.AbortRequest
		return req.SaleToPOIRequest.MessageHeader.MessageCategory == terminal.CategoryAbort &&
			ar != nil &&
			ar.AbortReason == terminal.AbortReasonMerchantAbort &&
			ar.MessageReference.MessageCategory == terminal.CategoryPayment &&
			ar.MessageReference.ServiceID == "SVC-ORIG"
	})).Return(raw, nil).Once()

	got, err := svc.Abort(context.Background(), "Table 1")
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	// Abort не меняет статус стола
	tab, err := reg.Get("Table 1")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusPaid, tab.Status)
	term.AssertExpectations(t)
}

func TestAbort_NoReferencedTransaction(t *testing.T) {
	term := &mockTerminal{}
	svc, _ := newTestService(t, term)

	_, err := svc.Abort(context.Background(), "Table 1")
	require.ErrorIs(t, err, ErrNoReferencedTransaction)
	term.AssertNotCalled(t, "SyncRaw", mock.Anything, mock.Anything)
}

func TestGetTransactionStatus_ReturnsRepeatedPaymentResponse(t *testing.T) {
	term := &mockTerminal{}
	svc, reg := newTestService(t, term)
	seedPaid(t, reg, "Table 1")

	term.On("Sync", mock.Anything, mock.MatchedBy(func(req terminal.Request) bool {
		tsr := req.SaleToPOIRequest.TransactionStatusRequest
		return req.SaleToPOIRequest.MessageHeader.MessageCategory == terminal.CategoryTransactionStatus &&
			tsr != nil &&
			tsr.ReceiptReprintFlag &&
			len(tsr.DocumentQualifier) == 2 &&
			tsr.MessageReference.ServiceID == "SVC-ORIG"
	})).Return(&terminal.SaleToPOIResponse{
		TransactionStatusResponse: &terminal.TransactionStatusResponse{
			Response: terminal.Response{Result: terminal.ResultSuccess},
			RepeatedMessageResponse: &terminal.RepeatedMessageResponse{
				RepeatedResponseMessageBody: terminal.RepeatedResponseMessageBody{
					PaymentResponse: terminal.PaymentResponse{
						Response: terminal.Response{Result: terminal.ResultSuccess},
						POIData: terminal.POIData{
							POITransactionID: terminal.TransactionIdentification{TransactionID: "poi-tx-1"},
						},
					},
				},
			},
		},
	}, nil).Once()

	pr, err := svc.GetTransactionStatus(context.Background(), "Table 1")
	require.NoError(t, err)
	assert.Equal(t, terminal.ResultSuccess, pr.Response.Result)
	assert.Equal(t, "poi-tx-1", pr.POIData.POITransactionID.TransactionID)
	term.AssertExpectations(t)
}

func TestGetTransactionStatus_FailureResult(t *testing.T) {
	term := &mockTerminal{}
	svc, reg := newTestService(t, term)
	seedPaid(t, reg, "Table 1")

	term.On("Sync", mock.Anything, mock.Anything).Return(&terminal.SaleToPOIResponse{
		TransactionStatusResponse: &terminal.TransactionStatusResponse{
			Response: terminal.Response{
				Result:         terminal.ResultFailure,
				ErrorCondition: "NotFound",
			},
		},
	}, nil).Once()

	_, err := svc.GetTransactionStatus(context.Background(), "Table 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NotFound")
}

func TestCreatePayment_PublishesStatusChanges(t *testing.T) {
	term := &mockTerminal{}
	reg := registry.Seed(1)
	pub := &mockPublisher{}
	svc := New(zap.NewNop(), reg, term, &stubIDs{}, pub, testSaleID, testPOIID)

	pub.On("PublishStatusChanged", mock.Anything, mock.MatchedBy(func(e StatusChangedEvent) bool {
		return e.TableName == "Table 1" &&
			e.OldStatus == registry.StatusNotPaid &&
			e.NewStatus == registry.StatusInProgress
	})).Return(nil).Once()
	pub.On("PublishStatusChanged", mock.Anything, mock.MatchedBy(func(e StatusChangedEvent) bool {
		return e.OldStatus == registry.StatusInProgress &&
			e.NewStatus == registry.StatusPaid
	})).Return(nil).Once()

	term.On("Sync", mock.Anything, mock.Anything).Return(paymentSuccessResponse("sale-tx-2"), nil).Once()

	_, err := svc.CreatePayment(context.Background(), "Table 1", 22.22, "EUR")
	require.NoError(t, err)
	pub.AssertExpectations(t)
}

// seedPaid переводит стол в Paid с сохранёнными идентификаторами попытки
func seedPaid(t *testing.T, reg *registry.Registry, name string) {
	t.Helper()
	_, err := reg.Update(name, func(tab *registry.Table) error {
		tab.Status = registry.StatusPaid
		tab.Details = registry.PaymentDetails{
			ServiceID:                "SVC-ORIG",
			POITransactionID:         "poi-tx-1",
			POITransactionTimestamp:  "2026-09-01T10:00:00Z",
			SaleTransactionID:        "sale-tx-orig",
			SaleTransactionTimestamp: "2026-09-01T10:00:00Z",
		}
		return nil
	})
	require.NoError(t, err)
}

func TestFullLifecycle_PaymentThenReversalThenWebhookFinal(t *testing.T) {
	term := &mockTerminal{}
	svc, reg := newTestService(t, term)

	term.On("Sync", mock.Anything, mock.MatchedBy(func(req terminal.Request) bool {
		return req.SaleToPOIRequest.PaymentRequest != nil
	})).Return(paymentSuccessResponse("sale-tx-2"), nil).Once()
	term.On("Sync", mock.Anything, mock.MatchedBy(func(req terminal.Request) bool {
		return req.SaleToPOIRequest.ReversalRequest != nil
	})).Return(&terminal.SaleToPOIResponse{
		ReversalResponse: &terminal.ReversalResponse{
			Response: terminal.Response{Result: terminal.ResultSuccess},
		},
	}, nil).Once()

	result, err := svc.CreatePayment(context.Background(), "Table 1", 22.22, "EUR")
	require.NoError(t, err)
	require.True(t, result.Success)

	result, err = svc.CreateReversal(context.Background(), "Table 1")
	require.NoError(t, err)
	require.True(t, result.Success)

	tab, err := reg.Get("Table 1")
	require.NoError(t, err)
	require.Equal(t, registry.StatusRefundInProgress, tab.Status)

	// Финальное подтверждение возврата приходит асинхронно по
	// SaleTransactionID попытки
	_, err = reg.UpdateBySaleTransactionID(tab.Details.SaleTransactionID, func(tab *registry.Table) error {
		next, err := registry.Transition(tab.Status, registry.EventRefundConfirmed)
		if err != nil {
			return err
		}
		tab.Status = next
		return nil
	})
	require.NoError(t, err)

	tab, err = reg.Get("Table 1")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusRefunded, tab.Status)
}

func TestCreatePayment_TimeoutKeepsTableInProgress(t *testing.T) {
	term := &mockTerminal{}
	svc, reg := newTestService(t, term)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// Терминал не отвечает до истечения дедлайна клиента
	term.On("Sync", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(nil, context.DeadlineExceeded).Once()

	result, err := svc.CreatePayment(ctx, "Table 1", 22.22, "EUR")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, result.RefusalReason)

	// Терминал мог завершить списание: стол остаётся InProgress с
	// сохранёнными идентификаторами для transaction-status/abort
	tab, err := reg.Get("Table 1")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusInProgress, tab.Status)
	assert.NotEmpty(t, tab.Details.ServiceID)
	assert.NotEmpty(t, tab.Details.SaleTransactionID)

	// Повторная оплата того же стола не проходит, пока исход не разрешён
	_, err = svc.CreatePayment(context.Background(), "Table 1", 22.22, "EUR")
	require.ErrorIs(t, err, registry.ErrIllegalTransition)
}

func TestCreatePayment_CancelKeepsTableInProgress(t *testing.T) {
	term := &mockTerminal{}
	svc, reg := newTestService(t, term)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	term.On("Sync", mock.Anything, mock.Anything).Return(nil, context.Canceled).Once()

	_, err := svc.CreatePayment(ctx, "Table 1", 22.22, "EUR")
	require.ErrorIs(t, err, context.Canceled)

	tab, err := reg.Get("Table 1")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusInProgress, tab.Status)
}

func TestCreateReversal_TimeoutKeepsRefundInProgress(t *testing.T) {
	term := &mockTerminal{}
	svc, reg := newTestService(t, term)
	seedPaid(t, reg, "Table 1")

	term.On("Sync", mock.Anything, mock.Anything).Return(nil, context.DeadlineExceeded).Once()

	_, err := svc.CreateReversal(context.Background(), "Table 1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Возврат мог быть принят в обработку: финал определит webhook
	tab, err := reg.Get("Table 1")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusRefundInProgress, tab.Status)
}

package terminal

// Типы конвертов Terminal API (SaleToPOI). Поля именуются в нотации протокола,
// поэтому json-теги совпадают с именами полей

const (
	// ProtocolVersion — версия протокола Terminal API
	ProtocolVersion = "3.0"

	MessageClassService = "Service"
	MessageTypeRequest  = "Request"

	CategoryPayment           = "Payment"
	CategoryReversal          = "Reversal"
	CategoryAbort             = "Abort"
	CategoryTransactionStatus = "TransactionStatus"
)

// Результаты ответа терминала
const (
	ResultSuccess = "Success"
	ResultFailure = "Failure"
	ResultPartial = "Partial"
)

// Причины отмены/прерывания, инициированных кассой
const (
	ReversalReasonMerchantCancel = "MerchantCancel"
	AbortReasonMerchantAbort     = "MerchantAbort"
)

// MessageHeader идентифицирует один синхронный обмен с терминалом.
// ServiceID уникален на обмен; SaleID — идентификатор кассовой системы,
// POIID — идентификатор терминала
type MessageHeader struct {
	ProtocolVersion string `json:"ProtocolVersion"`
	MessageClass    string `json:"MessageClass"`
	MessageCategory string `json:"MessageCategory"`
	MessageType     string `json:"MessageType"`
	ServiceID       string `json:"ServiceID"`
	SaleID          string `json:"SaleID"`
	POIID           string `json:"POIID"`
}

// TransactionIdentification — пара (id, timestamp) транзакции
type TransactionIdentification struct {
	TransactionID string `json:"TransactionID"`
	TimeStamp     string `json:"TimeStamp"`
}

// SaleData несёт идентификатор транзакции, присвоенный кассой
type SaleData struct {
	SaleTransactionID TransactionIdentification `json:"SaleTransactionID"`
}

// AmountsReq — запрашиваемая сумма
type AmountsReq struct {
	Currency        string  `json:"Currency"`
	RequestedAmount float64 `json:"RequestedAmount"`
}

// PaymentTransaction — транзакционная часть PaymentRequest
type PaymentTransaction struct {
	AmountsReq AmountsReq `json:"AmountsReq"`
}

// PaymentRequest — тело запроса на оплату
type PaymentRequest struct {
	SaleData           SaleData           `json:"SaleData"`
	PaymentTransaction PaymentTransaction `json:"PaymentTransaction"`
}

// OriginalPOITransaction ссылается на исходную транзакцию терминала
type OriginalPOITransaction struct {
	POITransactionID TransactionIdentification `json:"POITransactionID"`
	POIID            string                    `json:"POIID"`
}

// ReversalRequest — тело запроса на отмену/возврат
type ReversalRequest struct {
	OriginalPOITransaction OriginalPOITransaction `json:"OriginalPOITransaction"`
	ReversalReason         string                 `json:"ReversalReason"`
}

// MessageReference ссылается на исходный обмен по его ServiceID
type MessageReference struct {
	MessageCategory string `json:"MessageCategory"`
	SaleID          string `json:"SaleID"`
	ServiceID       string `json:"ServiceID"`
}

// AbortRequest — запрос на прерывание незавершённого обмена
type AbortRequest struct {
	AbortReason      string           `json:"AbortReason"`
	MessageReference MessageReference `json:"MessageReference"`
}

// TransactionStatusRequest — запрос статуса по исходному ServiceID
type TransactionStatusRequest struct {
	ReceiptReprintFlag bool             `json:"ReceiptReprintFlag"`
	DocumentQualifier  []string         `json:"DocumentQualifier"`
	MessageReference   MessageReference `json:"MessageReference"`
}

// SaleToPOIRequest — конверт запроса: заголовок + ровно одно тело по категории
type SaleToPOIRequest struct {
	MessageHeader            MessageHeader             `json:"MessageHeader"`
	PaymentRequest           *PaymentRequest           `json:"PaymentRequest,omitempty"`
	ReversalRequest          *ReversalRequest          `json:"ReversalRequest,omitempty"`
	AbortRequest             *AbortRequest             `json:"AbortRequest,omitempty"`
	TransactionStatusRequest *TransactionStatusRequest `json:"TransactionStatusRequest,omitempty"`
}

// Request — внешний конверт, который уходит на endpoint /sync
type Request struct {
	SaleToPOIRequest SaleToPOIRequest `json:"SaleToPOIRequest"`
}

// Response — результат операции в ответе терминала
type Response struct {
	Result             string `json:"Result"`
	ErrorCondition     string `json:"ErrorCondition,omitempty"`
	AdditionalResponse string `json:"AdditionalResponse,omitempty"`
}

// POIData несёт идентификатор транзакции, присвоенный терминалом
type POIData struct {
	POITransactionID TransactionIdentification `json:"POITransactionID"`
}

// PaymentResponse — тело ответа на PaymentRequest
type PaymentResponse struct {
	Response Response `json:"Response"`
	POIData  POIData  `json:"POIData"`
	SaleData SaleData `json:"SaleData"`
}

// ReversalResponse — тело ответа на ReversalRequest
type ReversalResponse struct {
	Response Response `json:"Response"`
}

// RepeatedResponseMessageBody — повтор исходного ответа в TransactionStatusResponse
type RepeatedResponseMessageBody struct {
	PaymentResponse PaymentResponse `json:"PaymentResponse"`
}

// RepeatedMessageResponse оборачивает повтор исходного сообщения
type RepeatedMessageResponse struct {
	MessageHeader               MessageHeader               `json:"MessageHeader"`
	RepeatedResponseMessageBody RepeatedResponseMessageBody `json:"RepeatedResponseMessageBody"`
}

// TransactionStatusResponse — тело ответа на TransactionStatusRequest
type TransactionStatusResponse struct {
	Response                Response                 `json:"Response"`
	RepeatedMessageResponse *RepeatedMessageResponse `json:"RepeatedMessageResponse,omitempty"`
}

// SaleToPOIResponse — конверт ответа, зеркало SaleToPOIRequest
type SaleToPOIResponse struct {
	MessageHeader             MessageHeader              `json:"MessageHeader"`
	PaymentResponse           *PaymentResponse           `json:"PaymentResponse,omitempty"`
	ReversalResponse          *ReversalResponse          `json:"ReversalResponse,omitempty"`
	TransactionStatusResponse *TransactionStatusResponse `json:"TransactionStatusResponse,omitempty"`
}

// ResponseEnvelope — внешний конверт ответа от /sync
type ResponseEnvelope struct {
	SaleToPOIResponse *SaleToPOIResponse `json:"SaleToPOIResponse"`
}

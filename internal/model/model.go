// Package model содержит доменные сущности платёжного шлюза.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает статус заказа в жизненном цикле платежа.
type OrderStatus string

const (
	OrderStatusInitiated  OrderStatus = "INITIATED"
	OrderStatusAuthorized OrderStatus = "AUTHORIZED"
	OrderStatusCaptured   OrderStatus = "CAPTURED"
	OrderStatusRefunded   OrderStatus = "REFUNDED"
	OrderStatusVoided     OrderStatus = "VOIDED"
	OrderStatusFailed     OrderStatus = "FAILED"
)

// transitions задаёт допустимые переходы статусов. Переход в тот же статус разрешён всегда.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusInitiated:  {OrderStatusAuthorized, OrderStatusCaptured, OrderStatusFailed, OrderStatusVoided},
	OrderStatusAuthorized: {OrderStatusCaptured, OrderStatusVoided},
	OrderStatusCaptured:   {OrderStatusRefunded, OrderStatusVoided},
}

// CanTransition сообщает, допустим ли переход статуса заказа from -> to.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Order описывает заказ мерчанта и производные платёжные суммы.
type Order struct {
	ID                    string
	Currency              string
	Amount                decimal.Decimal
	Description           string
	Status                OrderStatus
	TotalAuthorizedAmount decimal.Decimal
	TotalCapturedAmount   decimal.Decimal
	TotalRefundedAmount   decimal.Decimal
	CustomerEmail         string
	VendorID              string
	PaymentReference      string
	PaymentURL            string
	NeedsReview           bool
	Version               int64
	UpdatedAt             time.Time
}

// CapturableAmount возвращает сумму, которую ещё можно списать по авторизации.
func (o *Order) CapturableAmount() decimal.Decimal {
	return o.TotalAuthorizedAmount.Sub(o.TotalCapturedAmount)
}

// RefundableAmount возвращает сумму, доступную для возврата.
func (o *Order) RefundableAmount() decimal.Decimal {
	return o.TotalCapturedAmount.Sub(o.TotalRefundedAmount)
}

// Advance переводит заказ в новый статус, если переход допустим, и сообщает о результате.
func (o *Order) Advance(to OrderStatus) bool {
	if !CanTransition(o.Status, to) {
		return false
	}
	o.Status = to
	return true
}

// Apply учитывает успешную транзакцию в суммах заказа и продвигает статус.
// Неуспешные транзакции суммы не меняют.
func (o *Order) Apply(txn Transaction, target *Transaction) {
	if txn.Result != TransactionResultSuccess {
		return
	}

	switch txn.Type {
	case TransactionTypeAuthorize:
		o.TotalAuthorizedAmount = o.TotalAuthorizedAmount.Add(txn.Amount)
		o.Advance(OrderStatusAuthorized)
	case TransactionTypePay:
		o.TotalAuthorizedAmount = o.TotalAuthorizedAmount.Add(txn.Amount)
		o.TotalCapturedAmount = o.TotalCapturedAmount.Add(txn.Amount)
		o.Advance(OrderStatusCaptured)
	case TransactionTypeCapture:
		o.TotalCapturedAmount = o.TotalCapturedAmount.Add(txn.Amount)
		o.Advance(OrderStatusCaptured)
	case TransactionTypeRefund:
		o.TotalRefundedAmount = o.TotalRefundedAmount.Add(txn.Amount)
		if o.TotalRefundedAmount.GreaterThanOrEqual(o.TotalCapturedAmount) {
			o.Advance(OrderStatusRefunded)
		}
	case TransactionTypeVoid:
		if target == nil {
			return
		}
		switch target.Type {
		case TransactionTypeAuthorize:
			o.TotalAuthorizedAmount = decimal.Max(o.TotalAuthorizedAmount.Sub(target.Amount), decimal.Zero)
			o.Advance(OrderStatusVoided)
		case TransactionTypeCapture, TransactionTypePay:
			if target.Type == TransactionTypePay {
				o.TotalAuthorizedAmount = decimal.Max(o.TotalAuthorizedAmount.Sub(target.Amount), decimal.Zero)
			}
			o.TotalCapturedAmount = decimal.Max(o.TotalCapturedAmount.Sub(target.Amount), decimal.Zero)
			if o.TotalCapturedAmount.IsZero() {
				o.Advance(OrderStatusVoided)
			}
		case TransactionTypeRefund:
			o.TotalRefundedAmount = decimal.Max(o.TotalRefundedAmount.Sub(target.Amount), decimal.Zero)
		}
	}
}

// TransactionType описывает тип платёжной транзакции.
type TransactionType string

const (
	TransactionTypeAuthorize TransactionType = "AUTHORIZE"
	TransactionTypePay       TransactionType = "PAY"
	TransactionTypeCapture   TransactionType = "CAPTURE"
	TransactionTypeRefund    TransactionType = "REFUND"
	TransactionTypeVoid      TransactionType = "VOID"
)

// TransactionResult описывает итог транзакции на стороне шлюза.
type TransactionResult string

const (
	TransactionResultSuccess TransactionResult = "SUCCESS"
	TransactionResultFailure TransactionResult = "FAILURE"
	TransactionResultPending TransactionResult = "PENDING"
)

// Transaction описывает одну транзакцию по заказу.
type Transaction struct {
	ID                  string
	OrderID             string
	Type                TransactionType
	Amount              decimal.Decimal
	Currency            string
	Result              TransactionResult
	GatewayCode         string
	TargetTransactionID string
	CreatedAt           time.Time
}

// Operation описывает вид денежной операции, запрашиваемой при создании сессии.
type Operation string

const (
	OperationAuthorize Operation = "AUTHORIZE"
	OperationPurchase  Operation = "PURCHASE"
	OperationVerify    Operation = "VERIFY"
)

// InteractionOverrides переопределяет параметры страницы оплаты для одной сессии.
type InteractionOverrides struct {
	ReturnURL         string            `json:"returnUrl,omitempty"`
	CancelURL         string            `json:"cancelUrl,omitempty"`
	Locale            string            `json:"locale,omitempty"`
	MerchantName      string            `json:"merchantName,omitempty"`
	RetryAttemptCount *int              `json:"retryAttemptCount,omitempty"`
	DisplayControl    map[string]string `json:"displayControl,omitempty"`
}

// CheckoutSession описывает сессию hosted checkout, выданную шлюзом.
type CheckoutSession struct {
	ID               string
	OrderID          string
	UpdateStatus     string
	Version          string
	SuccessIndicator string
	Operation        Operation
	CreatedAt        time.Time
}

// Vendor описывает продавца маркетплейса и его субаккаунт у провайдера сплит-платежей.
type Vendor struct {
	ID             string
	Name           string
	Email          string
	SubaccountCode *string
}

// PaymentStatus содержит сводку результата оплаты, отдаваемую клиенту.
type PaymentStatus struct {
	OrderID         string          `json:"orderId"`
	SessionID       string          `json:"sessionId,omitempty"`
	Success         bool            `json:"success"`
	IndicatorMatch  *bool           `json:"indicatorMatch,omitempty"`
	RemoteStatus    OrderStatus     `json:"remoteStatus,omitempty"`
	LocalStatus     OrderStatus     `json:"localStatus,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	CapturedAmount  decimal.Decimal `json:"capturedAmount"`
	RefundedAmount  decimal.Decimal `json:"refundedAmount"`
	RemoteConfirmed bool            `json:"remoteConfirmed"`
}

// Package service реализует оркестрацию платежей: сессии hosted checkout, операции по транзакциям,
// сверку результатов, сплит-платежи и обработку уведомлений провайдера.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/paygate/internal/gateway"
	"github.com/mmeshcher/paygate/internal/model"
	"github.com/mmeshcher/paygate/internal/paystack"
)

// Repository описывает контракт хранилища заказов, используемый сервисом.
type Repository interface {
	Close() error
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	GetOrderByPaymentReference(ctx context.Context, reference string) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, order *model.Order) error
	ApplyTransaction(ctx context.Context, order *model.Order, txn model.Transaction) error
	GetTransaction(ctx context.Context, orderID, transactionID string) (*model.Transaction, error)
	SaveCheckoutSession(ctx context.Context, s model.CheckoutSession) error
	GetCheckoutSession(ctx context.Context, sessionID string) (*model.CheckoutSession, error)
	GetLatestCheckoutSession(ctx context.Context, orderID string) (*model.CheckoutSession, error)
	GetVendor(ctx context.Context, vendorID string) (*model.Vendor, error)
	SetVendorSubaccount(ctx context.Context, vendorID, code string) (string, error)
	SetPaymentReference(ctx context.Context, orderID, reference, paymentURL string) error
	FlagForReview(ctx context.Context, orderID, reason string) error
	WebhookProcessed(ctx context.Context, provider, key string) (bool, error)
	MarkWebhookProcessed(ctx context.Context, provider, key, eventType string) error
}

// Gateway описывает операции платёжного шлюза hosted checkout.
type Gateway interface {
	CreateSession(ctx context.Context, req gateway.SessionRequest) (*gateway.SessionResponse, error)
	RetrieveOrder(ctx context.Context, orderID string) (*gateway.OrderResponse, error)
	PutTransaction(ctx context.Context, orderID, transactionID string, req gateway.TransactionRequest) (*gateway.TransactionResponse, error)
}

// SplitProvider описывает операции провайдера сплит-платежей.
type SplitProvider interface {
	InitializeTransaction(ctx context.Context, req paystack.InitializeRequest) (*paystack.InitializeResponse, error)
	CreateSubaccount(ctx context.Context, req paystack.SubaccountRequest) (*paystack.SubaccountResponse, error)
}

var (
	// ErrInvalidAmount возвращается, если сумма операции превышает доступный остаток или некорректна.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrSubaccountNotProvisioned возвращается, если у продавца нет субаккаунта для сплит-платежа.
	ErrSubaccountNotProvisioned = errors.New("vendor subaccount not provisioned")
	// ErrTransactionConflict возвращается, если идентификатор транзакции уже использован для другой операции.
	ErrTransactionConflict = errors.New("transaction id already used for a different operation")
	// ErrUnknownOperation возвращается для неизвестной операции сессии.
	ErrUnknownOperation = errors.New("unknown checkout operation")
	// ErrOrderNotPayable возвращается, если заказ уже не находится в статусе INITIATED.
	ErrOrderNotPayable = errors.New("order is not in a payable state")
	// ErrRemoteVerificationRequired возвращается, если для сверки результата не удалось определить заказ.
	ErrRemoteVerificationRequired = errors.New("order id is required for remote verification")
	// ErrPendingReview возвращается, если заказ ожидает ручной сверки после сбоя.
	ErrPendingReview = errors.New("order is flagged for manual review")
	// ErrSplitNotConfigured возвращается, если провайдер сплит-платежей не настроен.
	ErrSplitNotConfigured = errors.New("split settlement provider not configured")
	// ErrTimeout возвращается, если вызов прерван по дедлайну вызывающей стороны.
	ErrTimeout = gateway.ErrTimeout
)

// NoSupportedOperationError возвращается, когда шлюз отклонил все допустимые операции сессии.
type NoSupportedOperationError struct {
	OrderID   string
	Attempted []model.Operation
}

func (e *NoSupportedOperationError) Error() string {
	return fmt.Sprintf("no supported checkout operation for order %s, attempted %v", e.OrderID, e.Attempted)
}

// OpError добавляет к ошибке шлюза контекст операции.
type OpError struct {
	Op        string
	OrderID   string
	Operation model.Operation
	Err       error
}

func (e *OpError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("%s order %s (%s): %v", e.Op, e.OrderID, e.Operation, e.Err)
	}
	return fmt.Sprintf("%s order %s: %v", e.Op, e.OrderID, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Options содержит параметры оркестрации платежей.
type Options struct {
	MerchantName              string
	MerchantURL               string
	ReturnURL                 string
	CancelURL                 string
	RetryAttemptCount         int
	DefaultCurrency           string
	CommissionPercent         decimal.Decimal
	SplitCallbackURL          string
	RequireRemoteVerification bool
}

// Service содержит оркестрацию платежей поверх шлюза, провайдера сплит-платежей и хранилища заказов.
type Service struct {
	repo    Repository
	gateway Gateway
	split   SplitProvider
	logger  *zap.Logger
	opts    Options
	locks   *keyedLocker
}

// NewService создаёт сервис. split может быть nil, если сплит-платежи не используются.
func NewService(repo Repository, gw Gateway, split SplitProvider, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		gateway: gw,
		split:   split,
		logger:  logger,
		opts:    opts,
		locks:   newKeyedLocker(),
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// lockOrder сериализует изменения одного заказа. Ожидание прерывается контекстом.
func (s *Service) lockOrder(ctx context.Context, orderID string) (func(), error) {
	unlock, err := s.locks.Lock(ctx, "order:"+orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: waiting for order %s lock", ErrTimeout, orderID)
	}
	return unlock, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/paygate/internal/gateway"
	"github.com/mmeshcher/paygate/internal/model"
	"github.com/mmeshcher/paygate/internal/repository"
)

// voidNamespace пространство имён для детерминированных идентификаторов отмены.
var voidNamespace = uuid.MustParse("6f1c7a8e-2b5d-4c1e-9a63-0d4b8f2e7c15")

// TransactionRequest описывает запрос на capture или refund.
// Пустая сумма означает весь доступный остаток, пустая валюта означает валюту заказа.
type TransactionRequest struct {
	OrderID       string
	TransactionID string
	Amount        *decimal.Decimal
	Currency      string
}

type txnPlan struct {
	request gateway.TransactionRequest
	txn     model.Transaction
	target  *model.Transaction
}

// Capture списывает ранее авторизованные средства.
func (s *Service) Capture(ctx context.Context, req TransactionRequest) (*model.Transaction, error) {
	return s.execute(ctx, "capture", req.OrderID, req.TransactionID, model.TransactionTypeCapture,
		func(order *model.Order) (*txnPlan, error) {
			if err := requireStatus(order, "capture", model.OrderStatusAuthorized, model.OrderStatusCaptured); err != nil {
				return nil, err
			}
			amount, currency, err := resolveAmount(order, req.Amount, req.Currency, order.CapturableAmount())
			if err != nil {
				return nil, err
			}
			return &txnPlan{
				request: gateway.TransactionRequest{
					APIOperation: gateway.APIOperationCapture,
					Transaction:  gateway.TransactionDetails{Amount: &amount, Currency: currency},
				},
				txn: model.Transaction{Type: model.TransactionTypeCapture, Amount: amount, Currency: currency},
			}, nil
		})
}

// Refund возвращает списанные средства. Сумма не может превышать остаток captured - refunded.
func (s *Service) Refund(ctx context.Context, req TransactionRequest) (*model.Transaction, error) {
	return s.execute(ctx, "refund", req.OrderID, req.TransactionID, model.TransactionTypeRefund,
		func(order *model.Order) (*txnPlan, error) {
			if err := requireStatus(order, "refund", model.OrderStatusCaptured); err != nil {
				return nil, err
			}
			amount, currency, err := resolveAmount(order, req.Amount, req.Currency, order.RefundableAmount())
			if err != nil {
				return nil, err
			}
			return &txnPlan{
				request: gateway.TransactionRequest{
					APIOperation: gateway.APIOperationRefund,
					Transaction:  gateway.TransactionDetails{Amount: &amount, Currency: currency},
				},
				txn: model.Transaction{Type: model.TransactionTypeRefund, Amount: amount, Currency: currency},
			}, nil
		})
}

// VoidTransactionID возвращает идентификатор транзакции отмены для target.
// Он детерминирован, поэтому повторная отмена той же транзакции не создаёт новую операцию.
func VoidTransactionID(orderID, targetTransactionID string) string {
	return uuid.NewSHA1(voidNamespace, []byte(orderID+"/"+targetTransactionID)).String()
}

// Void отменяет транзакцию targetTransactionID до расчёта.
func (s *Service) Void(ctx context.Context, orderID, targetTransactionID string) (*model.Transaction, error) {
	txnID := VoidTransactionID(orderID, targetTransactionID)
	return s.execute(ctx, "void", orderID, txnID, model.TransactionTypeVoid,
		func(order *model.Order) (*txnPlan, error) {
			target, err := s.repo.GetTransaction(ctx, orderID, targetTransactionID)
			if err != nil {
				return nil, err
			}
			if target.Type == model.TransactionTypeVoid {
				return nil, fmt.Errorf("%w: transaction %s is itself a void", ErrInvalidAmount, targetTransactionID)
			}
			if target.Result != model.TransactionResultSuccess {
				return nil, fmt.Errorf("%w: transaction %s did not succeed", ErrInvalidAmount, targetTransactionID)
			}
			if err := voidable(order, target); err != nil {
				return nil, err
			}
			return &txnPlan{
				request: gateway.TransactionRequest{
					APIOperation: gateway.APIOperationVoid,
					Transaction:  gateway.TransactionDetails{TargetTransactionID: targetTransactionID},
				},
				txn: model.Transaction{
					Type:                model.TransactionTypeVoid,
					Amount:              target.Amount,
					Currency:            target.Currency,
					TargetTransactionID: targetTransactionID,
				},
				target: target,
			}, nil
		})
}

// execute выполняет операцию по транзакции под блокировкой заказа.
// Уже записанная транзакция с тем же идентификатором возвращается без обращения к шлюзу.
// Локальное состояние меняется только после ответа шлюза.
func (s *Service) execute(ctx context.Context, op, orderID, txnID string, typ model.TransactionType,
	build func(order *model.Order) (*txnPlan, error)) (*model.Transaction, error) {
	unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if existing, err := s.recorded(ctx, orderID, txnID, typ); err != nil || existing != nil {
		return existing, err
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	plan, err := build(order)
	if err != nil {
		return nil, err
	}

	resp, err := s.gateway.PutTransaction(ctx, orderID, txnID, plan.request)
	if err != nil {
		return nil, &OpError{Op: op, OrderID: orderID, Err: err}
	}

	txn := plan.txn
	txn.ID = txnID
	txn.OrderID = orderID
	txn.Result = transactionResult(resp.Result)
	txn.GatewayCode = resp.Response.GatewayCode
	if !resp.Transaction.Amount.IsZero() {
		txn.Amount = resp.Transaction.Amount
	}

	if txn.Result == model.TransactionResultPending {
		s.logger.Info("transaction pending at gateway",
			zap.String("order_id", orderID),
			zap.String("transaction_id", txnID),
			zap.String("operation", op))
		return &txn, nil
	}

	order.Apply(txn, plan.target)
	if resp.Order != nil && resp.Order.Status != "" {
		reconcileTotals(order, resp.Order)
	}

	if err := s.repo.ApplyTransaction(ctx, order, txn); err != nil {
		if errors.Is(err, repository.ErrTransactionExists) {
			return s.repo.GetTransaction(ctx, orderID, txnID)
		}
		s.logger.Error("gateway applied transaction but local record failed",
			zap.String("order_id", orderID),
			zap.String("transaction_id", txnID),
			zap.String("operation", op),
			zap.Error(err))
		return nil, fmt.Errorf("record %s transaction: %w", op, err)
	}

	s.logger.Info("transaction recorded",
		zap.String("order_id", orderID),
		zap.String("transaction_id", txnID),
		zap.String("operation", op),
		zap.String("result", string(txn.Result)),
		zap.String("order_status", string(order.Status)))
	return &txn, nil
}

// recorded возвращает ранее записанную транзакцию или nil, если её нет.
func (s *Service) recorded(ctx context.Context, orderID, txnID string, typ model.TransactionType) (*model.Transaction, error) {
	existing, err := s.repo.GetTransaction(ctx, orderID, txnID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if existing.Type != typ {
		return nil, fmt.Errorf("%w: %s is a %s", ErrTransactionConflict, txnID, existing.Type)
	}
	s.logger.Debug("transaction already recorded",
		zap.String("order_id", orderID),
		zap.String("transaction_id", txnID))
	return existing, nil
}

// requireStatus проверяет, что операция op допустима в текущем статусе заказа.
func requireStatus(order *model.Order, op string, allowed ...model.OrderStatus) error {
	if slices.Contains(allowed, order.Status) {
		return nil
	}
	return fmt.Errorf("%w: cannot %s order %s in status %s", ErrInvalidAmount, op, order.ID, order.Status)
}

// voidable проверяет, что отмена target не выведет суммы заказа за допустимые границы:
// авторизацию нельзя отменить после списания по ней, списание нельзя отменить после возврата.
func voidable(order *model.Order, target *model.Transaction) error {
	switch target.Type {
	case model.TransactionTypeAuthorize:
		if target.Amount.GreaterThan(order.CapturableAmount()) {
			return fmt.Errorf("%w: authorization %s is already captured", ErrInvalidAmount, target.ID)
		}
	case model.TransactionTypeCapture, model.TransactionTypePay:
		if target.Amount.GreaterThan(order.RefundableAmount()) {
			return fmt.Errorf("%w: transaction %s is already refunded", ErrInvalidAmount, target.ID)
		}
	}
	return nil
}

func resolveAmount(order *model.Order, requested *decimal.Decimal, currency string, available decimal.Decimal) (decimal.Decimal, string, error) {
	if currency == "" {
		currency = order.Currency
	}
	if currency != order.Currency {
		return decimal.Zero, "", fmt.Errorf("%w: currency %s does not match order currency %s", ErrInvalidAmount, currency, order.Currency)
	}
	if !available.IsPositive() {
		return decimal.Zero, "", fmt.Errorf("%w: nothing available on order %s", ErrInvalidAmount, order.ID)
	}
	if requested == nil {
		return available, currency, nil
	}

	amount := *requested
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return decimal.Zero, "", fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if amount.GreaterThan(available) {
		return decimal.Zero, "", fmt.Errorf("%w: %s exceeds available %s", ErrInvalidAmount, amount, available)
	}
	return amount, currency, nil
}

func transactionResult(result string) model.TransactionResult {
	switch result {
	case "SUCCESS":
		return model.TransactionResultSuccess
	case "FAILURE", "ERROR":
		return model.TransactionResultFailure
	default:
		return model.TransactionResultPending
	}
}

// reconcileTotals переносит в заказ суммы и статус, сообщённые шлюзом.
func reconcileTotals(order *model.Order, remote *gateway.OrderResponse) {
	order.TotalAuthorizedAmount = remote.TotalAuthorizedAmount
	order.TotalCapturedAmount = remote.TotalCapturedAmount
	order.TotalRefundedAmount = remote.TotalRefundedAmount
	if status, ok := orderStatus(remote.Status); ok {
		order.Advance(status)
	}
}

// orderStatus сопоставляет статус заказа шлюза с локальным.
func orderStatus(remote string) (model.OrderStatus, bool) {
	switch remote {
	case "AUTHORIZED":
		return model.OrderStatusAuthorized, true
	case "CAPTURED", "PARTIALLY_CAPTURED", "PARTIALLY_REFUNDED":
		return model.OrderStatusCaptured, true
	case "REFUNDED":
		return model.OrderStatusRefunded, true
	case "CANCELLED", "VOIDED":
		return model.OrderStatusVoided, true
	case "FAILED", "DECLINED":
		return model.OrderStatusFailed, true
	case "INITIATED":
		return model.OrderStatusInitiated, true
	default:
		return "", false
	}
}

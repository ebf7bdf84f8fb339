package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/paygate/internal/model"
	"github.com/mmeshcher/paygate/internal/paystack"
	"github.com/mmeshcher/paygate/internal/repository"
	"github.com/mmeshcher/paygate/internal/webhook"
)

const providerPaystack = "paystack"

// HandleWebhookEvent применяет проверенное уведомление провайдера к заказу.
// Повторная доставка того же события ничего не меняет. Неизвестные события игнорируются.
// Ошибка означает, что провайдер должен повторить доставку.
func (s *Service) HandleWebhookEvent(ctx context.Context, event *webhook.Event) error {
	switch event.Event {
	case webhook.EventChargeSuccess:
		data, err := event.Charge()
		if err != nil {
			return err
		}
		if !strings.EqualFold(data.Status, "success") {
			s.logger.Info("ignore charge with non-success status",
				zap.String("reference", data.Reference),
				zap.String("status", data.Status))
			return nil
		}
		return s.applyProviderEvent(ctx, event.Event, fmt.Sprintf("charge:%d", data.ID), data.Reference, model.Transaction{
			ID:       fmt.Sprintf("ps-charge-%d", data.ID),
			Type:     model.TransactionTypePay,
			Amount:   paystack.FromMinorUnits(data.Amount),
			Currency: data.Currency,
			Result:   model.TransactionResultSuccess,
		})
	case webhook.EventRefundProcessed:
		data, err := event.Refund()
		if err != nil {
			return err
		}
		return s.applyProviderEvent(ctx, event.Event, fmt.Sprintf("refund:%d", data.ID), data.TransactionReference, model.Transaction{
			ID:       fmt.Sprintf("ps-refund-%d", data.ID),
			Type:     model.TransactionTypeRefund,
			Amount:   paystack.FromMinorUnits(data.Amount),
			Currency: data.Currency,
			Result:   model.TransactionResultSuccess,
		})
	default:
		s.logger.Debug("ignore webhook event", zap.String("event", event.Event))
		return nil
	}
}

func (s *Service) applyProviderEvent(ctx context.Context, eventType, key, reference string, txn model.Transaction) error {
	processed, err := s.repo.WebhookProcessed(ctx, providerPaystack, key)
	if err != nil {
		return err
	}
	if processed {
		s.logger.Debug("webhook event already processed", zap.String("key", key))
		return nil
	}

	order, err := s.repo.GetOrderByPaymentReference(ctx, reference)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			s.logger.Warn("webhook for unknown payment reference",
				zap.String("event", eventType),
				zap.String("reference", reference))
			return nil
		}
		return err
	}

	unlock, err := s.lockOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	defer unlock()

	if order, err = s.repo.GetOrder(ctx, order.ID); err != nil {
		return err
	}
	txn.OrderID = order.ID

	if _, err := s.repo.GetTransaction(ctx, order.ID, txn.ID); err == nil {
		return s.repo.MarkWebhookProcessed(ctx, providerPaystack, key, eventType)
	} else if !errors.Is(err, repository.ErrTransactionNotFound) {
		return err
	}

	if reason := s.eventMismatch(order, txn); reason != "" {
		s.logger.Warn("webhook event does not match order",
			zap.String("order_id", order.ID),
			zap.String("event", eventType),
			zap.String("reason", reason))
		if err := s.repo.FlagForReview(ctx, order.ID, reason); err != nil {
			return err
		}
		return s.repo.MarkWebhookProcessed(ctx, providerPaystack, key, eventType)
	}

	order.Apply(txn, nil)
	if err := s.repo.ApplyTransaction(ctx, order, txn); err != nil && !errors.Is(err, repository.ErrTransactionExists) {
		return err
	}

	s.logger.Info("webhook event applied",
		zap.String("order_id", order.ID),
		zap.String("event", eventType),
		zap.String("transaction_id", txn.ID),
		zap.String("order_status", string(order.Status)))
	return s.repo.MarkWebhookProcessed(ctx, providerPaystack, key, eventType)
}

// eventMismatch возвращает причину, по которой событие нельзя применить к заказу автоматически.
func (s *Service) eventMismatch(order *model.Order, txn model.Transaction) string {
	if !strings.EqualFold(txn.Currency, order.Currency) {
		return fmt.Sprintf("currency %s does not match order currency %s", txn.Currency, order.Currency)
	}
	switch txn.Type {
	case model.TransactionTypePay:
		if !model.CanTransition(order.Status, model.OrderStatusCaptured) {
			return fmt.Sprintf("charge received for order in status %s", order.Status)
		}
		if order.TotalCapturedAmount.IsPositive() {
			return "charge received for an already captured order"
		}
		if !txn.Amount.Equal(order.Amount) {
			return fmt.Sprintf("charged %s, order amount %s", txn.Amount, order.Amount)
		}
	case model.TransactionTypeRefund:
		if txn.Amount.GreaterThan(order.RefundableAmount()) {
			return fmt.Sprintf("refund %s exceeds refundable %s", txn.Amount, order.RefundableAmount())
		}
	}
	return ""
}

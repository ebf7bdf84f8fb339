package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/paygate/internal/gateway"
	"github.com/mmeshcher/paygate/internal/model"
	"github.com/mmeshcher/paygate/internal/repository"
)

// VerifyRequest описывает параметры возврата покупателя с hosted checkout.
type VerifyRequest struct {
	OrderID         string
	SessionID       string
	ResultIndicator string
}

// VerifyIndicator сравнивает resultIndicator из redirect с successIndicator сессии за постоянное время.
// Пустые значения никогда не совпадают.
func VerifyIndicator(resultIndicator, successIndicator string) bool {
	if resultIndicator == "" || successIndicator == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(resultIndicator), []byte(successIndicator)) == 1
}

// RetrieveOrder возвращает авторитетное состояние заказа на стороне шлюза.
func (s *Service) RetrieveOrder(ctx context.Context, orderID string) (*gateway.OrderResponse, error) {
	resp, err := s.gateway.RetrieveOrder(ctx, orderID)
	if err != nil {
		return nil, &OpError{Op: "retrieve", OrderID: orderID, Err: err}
	}
	return resp, nil
}

// VerifyResult сверяет результат оплаты. Совпадение индикатора само по себе успехом не считается,
// если статус заказа у шлюза доступен: успех определяется им.
func (s *Service) VerifyResult(ctx context.Context, req VerifyRequest) (*model.PaymentStatus, error) {
	session, err := s.resolveSession(ctx, req)
	if err != nil {
		return nil, err
	}

	status := &model.PaymentStatus{OrderID: req.OrderID, SessionID: req.SessionID}
	if session != nil {
		if status.OrderID == "" {
			status.OrderID = session.OrderID
		}
		status.SessionID = session.ID
		if req.ResultIndicator != "" {
			match := session.OrderID == status.OrderID && VerifyIndicator(req.ResultIndicator, session.SuccessIndicator)
			status.IndicatorMatch = &match
		}
	}

	if status.OrderID == "" {
		if s.opts.RequireRemoteVerification {
			return nil, ErrRemoteVerificationRequired
		}
		status.Success = status.IndicatorMatch != nil && *status.IndicatorMatch
		return status, nil
	}

	remote, err := s.gateway.RetrieveOrder(ctx, status.OrderID)
	if err != nil {
		if s.opts.RequireRemoteVerification {
			return nil, &OpError{Op: "verify", OrderID: status.OrderID, Err: err}
		}
		s.logger.Warn("remote verification unavailable, using indicator only",
			zap.String("order_id", status.OrderID),
			zap.Error(err))
		status.Success = status.IndicatorMatch != nil && *status.IndicatorMatch
		return status, nil
	}

	status.RemoteConfirmed = true
	status.Amount = remote.Amount
	status.Currency = remote.Currency
	status.CapturedAmount = remote.TotalCapturedAmount
	status.RefundedAmount = remote.TotalRefundedAmount
	if mapped, ok := orderStatus(remote.Status); ok {
		status.RemoteStatus = mapped
		status.Success = mapped == model.OrderStatusCaptured || mapped == model.OrderStatusAuthorized
	}

	if status.IndicatorMatch != nil && *status.IndicatorMatch != status.Success {
		s.logger.Warn("result indicator disagrees with gateway order status",
			zap.String("order_id", status.OrderID),
			zap.Bool("indicator_match", *status.IndicatorMatch),
			zap.String("remote_status", remote.Status))
	}

	status.LocalStatus = s.reconcileOrder(ctx, status.OrderID, remote)
	return status, nil
}

func (s *Service) resolveSession(ctx context.Context, req VerifyRequest) (*model.CheckoutSession, error) {
	var (
		session *model.CheckoutSession
		err     error
	)
	switch {
	case req.SessionID != "":
		session, err = s.repo.GetCheckoutSession(ctx, req.SessionID)
	case req.OrderID != "":
		session, err = s.repo.GetLatestCheckoutSession(ctx, req.OrderID)
	default:
		return nil, fmt.Errorf("%w: no order or session given", ErrRemoteVerificationRequired)
	}
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, nil
	}
	return session, err
}

// reconcileOrder переносит авторитетное состояние шлюза в локальный заказ и возвращает итоговый статус.
// Сбой сверки не влияет на результат проверки, он только логируется.
func (s *Service) reconcileOrder(ctx context.Context, orderID string, remote *gateway.OrderResponse) model.OrderStatus {
	unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		s.logger.Warn("skip order reconcile", zap.String("order_id", orderID), zap.Error(err))
		return ""
	}
	defer unlock()

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		if !errors.Is(err, repository.ErrOrderNotFound) {
			s.logger.Warn("load order for reconcile", zap.String("order_id", orderID), zap.Error(err))
		}
		return ""
	}

	before := *order
	reconcileTotals(order, remote)
	if order.Status == before.Status &&
		order.TotalAuthorizedAmount.Equal(before.TotalAuthorizedAmount) &&
		order.TotalCapturedAmount.Equal(before.TotalCapturedAmount) &&
		order.TotalRefundedAmount.Equal(before.TotalRefundedAmount) {
		return order.Status
	}

	if err := s.repo.UpdateOrderStatus(ctx, order); err != nil {
		s.logger.Warn("reconcile order", zap.String("order_id", orderID), zap.Error(err))
		return before.Status
	}
	s.logger.Info("order reconciled with gateway",
		zap.String("order_id", orderID),
		zap.String("from", string(before.Status)),
		zap.String("to", string(order.Status)))
	return order.Status
}

package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/paygate/internal/gateway"
	"github.com/mmeshcher/paygate/internal/model"
)

// operationFallbacks задаёт порядок операций, пробуемых при создании сессии.
// Первой всегда идёт запрошенная операция.
var operationFallbacks = map[model.Operation][]model.Operation{
	model.OperationAuthorize: {model.OperationAuthorize, model.OperationPurchase},
	model.OperationPurchase:  {model.OperationPurchase, model.OperationVerify},
	model.OperationVerify:    {model.OperationVerify, model.OperationPurchase},
}

// FallbackOperations возвращает операции, которые будут опробованы для preferred.
func FallbackOperations(preferred model.Operation) ([]model.Operation, error) {
	ops, ok := operationFallbacks[preferred]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, preferred)
	}
	return append([]model.Operation(nil), ops...), nil
}

// InitiateCheckout создаёт сессию hosted checkout для заказа. Если шлюз отклоняет операцию
// как неподдерживаемую, пробуется следующая из списка. Любая другая ошибка возвращается сразу.
func (s *Service) InitiateCheckout(ctx context.Context, orderID string, preferred model.Operation, overrides model.InteractionOverrides) (*model.CheckoutSession, error) {
	if preferred == "" {
		preferred = model.OperationPurchase
	}
	candidates, err := FallbackOperations(preferred)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != model.OrderStatusInitiated {
		return nil, fmt.Errorf("%w: order %s is %s", ErrOrderNotPayable, orderID, order.Status)
	}

	attempted := make([]model.Operation, 0, len(candidates))
	for _, op := range candidates {
		attempted = append(attempted, op)

		resp, err := s.gateway.CreateSession(ctx, s.sessionRequest(order, op, overrides))
		if err != nil {
			if gateway.IsRejectedField(err, gateway.FieldInteractionOperation) {
				s.logger.Info("checkout operation not supported, trying next",
					zap.String("order_id", orderID),
					zap.String("operation", string(op)),
					zap.Error(err))
				continue
			}
			return nil, &OpError{Op: "initiate checkout", OrderID: orderID, Operation: op, Err: err}
		}

		session := model.CheckoutSession{
			ID:               resp.Session.ID,
			OrderID:          orderID,
			UpdateStatus:     resp.Session.UpdateStatus,
			Version:          resp.Session.Version,
			SuccessIndicator: resp.SuccessIndicator,
			Operation:        op,
		}
		if err := s.repo.SaveCheckoutSession(ctx, session); err != nil {
			return nil, fmt.Errorf("save checkout session: %w", err)
		}

		s.logger.Info("checkout session created",
			zap.String("order_id", orderID),
			zap.String("session_id", session.ID),
			zap.String("operation", string(op)))
		return &session, nil
	}

	return nil, &NoSupportedOperationError{OrderID: orderID, Attempted: attempted}
}

func (s *Service) sessionRequest(order *model.Order, op model.Operation, o model.InteractionOverrides) gateway.SessionRequest {
	interaction := gateway.Interaction{
		Operation:         string(op),
		ReturnURL:         s.opts.ReturnURL,
		CancelURL:         s.opts.CancelURL,
		RetryAttemptCount: s.opts.RetryAttemptCount,
		Locale:            o.Locale,
		DisplayControl:    o.DisplayControl,
	}
	if o.ReturnURL != "" {
		interaction.ReturnURL = o.ReturnURL
	}
	if o.CancelURL != "" {
		interaction.CancelURL = o.CancelURL
	}
	if o.RetryAttemptCount != nil {
		interaction.RetryAttemptCount = *o.RetryAttemptCount
	}

	name := s.opts.MerchantName
	if o.MerchantName != "" {
		name = o.MerchantName
	}
	if name != "" || s.opts.MerchantURL != "" {
		interaction.Merchant = &gateway.Merchant{Name: name, URL: s.opts.MerchantURL}
	}

	currency := order.Currency
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}

	return gateway.SessionRequest{
		APIOperation: gateway.APIOperationInitiateCheckout,
		Interaction:  interaction,
		Order: gateway.SessionOrder{
			ID:          order.ID,
			Amount:      order.Amount,
			Currency:    currency,
			Description: order.Description,
		},
	}
}

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/paygate/internal/model"
	"github.com/mmeshcher/paygate/internal/paystack"
	"github.com/mmeshcher/paygate/internal/repository"
)

var hundred = decimal.NewFromInt(100)

// SplitPayment результат инициализации сплит-платежа.
type SplitPayment struct {
	OrderID          string          `json:"orderId"`
	Reference        string          `json:"reference"`
	AuthorizationURL string          `json:"authorizationUrl"`
	VendorShare      decimal.Decimal `json:"vendorShare"`
}

// SubaccountDetails реквизиты продавца для создания субаккаунта.
type SubaccountDetails struct {
	BusinessName   string `json:"businessName"`
	SettlementBank string `json:"settlementBank"`
	AccountNumber  string `json:"accountNumber"`
}

// VendorShare возвращает долю продавца в процентах при заданной комиссии платформы.
func VendorShare(commission decimal.Decimal) decimal.Decimal {
	return hundred.Sub(commission)
}

// InitializeSplitPayment инициализирует платёж, который провайдер разделит между продавцом и платформой.
// Если у заказа уже есть платёжная ссылка, повторная инициализация не выполняется.
func (s *Service) InitializeSplitPayment(ctx context.Context, orderID string) (*SplitPayment, error) {
	if s.split == nil {
		return nil, ErrSplitNotConfigured
	}

	unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	share := VendorShare(s.opts.CommissionPercent)
	if order.PaymentReference != "" {
		return &SplitPayment{
			OrderID:          order.ID,
			Reference:        order.PaymentReference,
			AuthorizationURL: order.PaymentURL,
			VendorShare:      share,
		}, nil
	}
	if order.NeedsReview {
		return nil, fmt.Errorf("%w: order %s", ErrPendingReview, orderID)
	}
	if order.Status != model.OrderStatusInitiated {
		return nil, fmt.Errorf("%w: order %s is %s", ErrOrderNotPayable, orderID, order.Status)
	}
	if order.VendorID == "" {
		return nil, fmt.Errorf("order %s has no vendor: %w", orderID, repository.ErrVendorNotFound)
	}

	vendor, err := s.repo.GetVendor(ctx, order.VendorID)
	if err != nil {
		return nil, err
	}
	if vendor.SubaccountCode == nil || *vendor.SubaccountCode == "" {
		return nil, fmt.Errorf("%w: vendor %s", ErrSubaccountNotProvisioned, vendor.ID)
	}

	resp, err := s.split.InitializeTransaction(ctx, paystack.InitializeRequest{
		Email:       order.CustomerEmail,
		Amount:      paystack.ToMinorUnits(order.Amount),
		Currency:    order.Currency,
		Reference:   order.ID,
		CallbackURL: s.opts.SplitCallbackURL,
		Split: &paystack.Split{
			Type:       paystack.SplitTypePercentage,
			BearerType: paystack.BearerTypeAccount,
			Subaccounts: []paystack.SplitShare{
				{Subaccount: *vendor.SubaccountCode, Share: share.InexactFloat64()},
			},
		},
	})
	if err != nil {
		return nil, &OpError{Op: "initialize split payment", OrderID: orderID, Err: err}
	}

	reference := resp.Reference
	if reference == "" {
		reference = order.ID
	}

	if err := s.repo.SetPaymentReference(ctx, order.ID, reference, resp.AuthorizationURL); err != nil {
		s.logger.Error("split payment initialized but reference not stored",
			zap.String("order_id", orderID),
			zap.String("reference", reference),
			zap.Error(err))
		if ferr := s.repo.FlagForReview(ctx, order.ID, "payment reference not stored: "+err.Error()); ferr != nil {
			s.logger.Error("flag order for review", zap.String("order_id", orderID), zap.Error(ferr))
		}
	}

	s.logger.Info("split payment initialized",
		zap.String("order_id", orderID),
		zap.String("vendor_id", vendor.ID),
		zap.String("share", share.String()))

	return &SplitPayment{
		OrderID:          order.ID,
		Reference:        reference,
		AuthorizationURL: resp.AuthorizationURL,
		VendorShare:      share,
	}, nil
}

// ProvisionSubaccount создаёт субаккаунт продавца у провайдера. Уже созданный субаккаунт не пересоздаётся.
func (s *Service) ProvisionSubaccount(ctx context.Context, vendorID string, details SubaccountDetails) (string, error) {
	if s.split == nil {
		return "", ErrSplitNotConfigured
	}

	unlock, err := s.locks.Lock(ctx, "vendor:"+vendorID)
	if err != nil {
		return "", fmt.Errorf("%w: waiting for vendor %s lock", ErrTimeout, vendorID)
	}
	defer unlock()

	vendor, err := s.repo.GetVendor(ctx, vendorID)
	if err != nil {
		return "", err
	}
	if vendor.SubaccountCode != nil && *vendor.SubaccountCode != "" {
		return *vendor.SubaccountCode, nil
	}

	name := details.BusinessName
	if name == "" {
		name = vendor.Name
	}
	resp, err := s.split.CreateSubaccount(ctx, paystack.SubaccountRequest{
		BusinessName:     name,
		SettlementBank:   details.SettlementBank,
		AccountNumber:    details.AccountNumber,
		PercentageCharge: s.opts.CommissionPercent.InexactFloat64(),
		PrimaryEmail:     vendor.Email,
	})
	if err != nil {
		return "", &OpError{Op: "create subaccount", OrderID: vendorID, Err: err}
	}
	if resp.SubaccountCode == "" {
		return "", errors.New("provider returned empty subaccount code")
	}

	code, err := s.repo.SetVendorSubaccount(ctx, vendorID, resp.SubaccountCode)
	if err != nil {
		return "", fmt.Errorf("store subaccount code: %w", err)
	}
	s.logger.Info("vendor subaccount provisioned",
		zap.String("vendor_id", vendorID),
		zap.String("subaccount", code))
	return code, nil
}

package service

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/paygate/internal/gateway"
	"github.com/mmeshcher/paygate/internal/model"
	"github.com/mmeshcher/paygate/internal/paystack"
	"github.com/mmeshcher/paygate/internal/repository"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

type stubRepo struct {
	mu sync.Mutex

	orders   map[string]model.Order
	txns     map[string]model.Transaction
	sessions map[string]model.CheckoutSession
	vendors  map[string]model.Vendor
	webhooks map[string]bool
	flagged  map[string]string

	setReferenceErr error
}

func newStubRepo(orders ...model.Order) *stubRepo {
	r := &stubRepo{
		orders:   make(map[string]model.Order),
		txns:     make(map[string]model.Transaction),
		sessions: make(map[string]model.CheckoutSession),
		vendors:  make(map[string]model.Vendor),
		webhooks: make(map[string]bool),
		flagged:  make(map[string]string),
	}
	for _, o := range orders {
		r.orders[o.ID] = o
	}
	return r
}

func (s *stubRepo) order(id string) model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id]
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return &o, nil
}

func (s *stubRepo) GetOrderByPaymentReference(ctx context.Context, reference string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.PaymentReference != "" && o.PaymentReference == reference {
			return &o, nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (s *stubRepo) UpdateOrderStatus(ctx context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orders[order.ID].Version != order.Version {
		return repository.ErrStaleOrder
	}
	order.Version++
	s.orders[order.ID] = *order
	return nil
}

func (s *stubRepo) ApplyTransaction(ctx context.Context, order *model.Order, txn model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := txn.OrderID + "/" + txn.ID
	if _, ok := s.txns[key]; ok {
		return repository.ErrTransactionExists
	}
	if s.orders[order.ID].Version != order.Version {
		return repository.ErrStaleOrder
	}
	s.txns[key] = txn
	order.Version++
	s.orders[order.ID] = *order
	return nil
}

func (s *stubRepo) GetTransaction(ctx context.Context, orderID, transactionID string) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[orderID+"/"+transactionID]
	if !ok {
		return nil, repository.ErrTransactionNotFound
	}
	return &t, nil
}

func (s *stubRepo) SaveCheckoutSession(ctx context.Context, cs model.CheckoutSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs.CreatedAt = time.Now()
	s.sessions[cs.ID] = cs
	return nil
}

func (s *stubRepo) GetCheckoutSession(ctx context.Context, sessionID string) (*model.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[sessionID]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	return &cs, nil
}

func (s *stubRepo) GetLatestCheckoutSession(ctx context.Context, orderID string) (*model.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *model.CheckoutSession
	for _, cs := range s.sessions {
		if cs.OrderID != orderID {
			continue
		}
		if latest == nil || cs.CreatedAt.After(latest.CreatedAt) {
			c := cs
			latest = &c
		}
	}
	if latest == nil {
		return nil, repository.ErrSessionNotFound
	}
	return latest, nil
}

func (s *stubRepo) GetVendor(ctx context.Context, vendorID string) (*model.Vendor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vendors[vendorID]
	if !ok {
		return nil, repository.ErrVendorNotFound
	}
	return &v, nil
}

func (s *stubRepo) SetVendorSubaccount(ctx context.Context, vendorID, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vendors[vendorID]
	if !ok {
		return "", repository.ErrVendorNotFound
	}
	if v.SubaccountCode == nil {
		v.SubaccountCode = &code
		s.vendors[vendorID] = v
	}
	return *v.SubaccountCode, nil
}

func (s *stubRepo) SetPaymentReference(ctx context.Context, orderID, reference, paymentURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setReferenceErr != nil {
		return s.setReferenceErr
	}
	o := s.orders[orderID]
	if o.PaymentReference != "" {
		return repository.ErrReferenceAlreadySet
	}
	o.PaymentReference = reference
	o.PaymentURL = paymentURL
	o.Version++
	s.orders[orderID] = o
	return nil
}

func (s *stubRepo) FlagForReview(ctx context.Context, orderID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[orderID]
	o.NeedsReview = true
	s.orders[orderID] = o
	s.flagged[orderID] = reason
	return nil
}

func (s *stubRepo) WebhookProcessed(ctx context.Context, provider, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.webhooks[provider+"/"+key], nil
}

func (s *stubRepo) MarkWebhookProcessed(ctx context.Context, provider, key, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[provider+"/"+key] = true
	return nil
}

type stubGateway struct {
	mu sync.Mutex

	createSession  func(req gateway.SessionRequest) (*gateway.SessionResponse, error)
	retrieveOrder  func(orderID string) (*gateway.OrderResponse, error)
	putTransaction func(orderID, txnID string, req gateway.TransactionRequest) (*gateway.TransactionResponse, error)

	sessionCalls []gateway.SessionRequest
	putCalls     int
}

func (g *stubGateway) CreateSession(ctx context.Context, req gateway.SessionRequest) (*gateway.SessionResponse, error) {
	g.mu.Lock()
	g.sessionCalls = append(g.sessionCalls, req)
	g.mu.Unlock()
	return g.createSession(req)
}

func (g *stubGateway) RetrieveOrder(ctx context.Context, orderID string) (*gateway.OrderResponse, error) {
	return g.retrieveOrder(orderID)
}

func (g *stubGateway) PutTransaction(ctx context.Context, orderID, txnID string, req gateway.TransactionRequest) (*gateway.TransactionResponse, error) {
	g.mu.Lock()
	g.putCalls++
	g.mu.Unlock()
	if g.putTransaction != nil {
		return g.putTransaction(orderID, txnID, req)
	}
	resp := &gateway.TransactionResponse{Result: "SUCCESS"}
	resp.Response.GatewayCode = "APPROVED"
	resp.Transaction.ID = txnID
	if req.Transaction.Amount != nil {
		resp.Transaction.Amount = *req.Transaction.Amount
	}
	return resp, nil
}

func (g *stubGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.putCalls
}

type stubSplit struct {
	initReqs       []paystack.InitializeRequest
	subaccountReqs []paystack.SubaccountRequest
	initErr        error
}

func (p *stubSplit) InitializeTransaction(ctx context.Context, req paystack.InitializeRequest) (*paystack.InitializeResponse, error) {
	p.initReqs = append(p.initReqs, req)
	if p.initErr != nil {
		return nil, p.initErr
	}
	return &paystack.InitializeResponse{
		AuthorizationURL: "https://checkout.paystack.com/" + req.Reference,
		AccessCode:       "ac_" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (p *stubSplit) CreateSubaccount(ctx context.Context, req paystack.SubaccountRequest) (*paystack.SubaccountResponse, error) {
	p.subaccountReqs = append(p.subaccountReqs, req)
	return &paystack.SubaccountResponse{SubaccountCode: "ACCT_new", BusinessName: req.BusinessName}, nil
}

func newTestService(repo *stubRepo, gw *stubGateway, split SplitProvider) *Service {
	return NewService(repo, gw, split, zap.NewNop(), Options{
		MerchantName:              "Test Shop",
		ReturnURL:                 "https://shop.example/return",
		CancelURL:                 "https://shop.example/cancel",
		RetryAttemptCount:         3,
		DefaultCurrency:           "USD",
		CommissionPercent:         decimal.NewFromInt(10),
		RequireRemoteVerification: true,
	})
}

func authorizedOrder(id, amount string) model.Order {
	return model.Order{
		ID:                    id,
		Currency:              "USD",
		Amount:                dec(amount),
		Status:                model.OrderStatusAuthorized,
		TotalAuthorizedAmount: dec(amount),
	}
}

func capturedOrder(id, amount string) model.Order {
	o := authorizedOrder(id, amount)
	o.Status = model.OrderStatusCaptured
	o.TotalCapturedAmount = dec(amount)
	return o
}

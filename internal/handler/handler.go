// Package handler содержит HTTP-обработчики API платёжного шлюза.
package handler

import (
	"cmp"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/paygate/internal/middleware"
	"github.com/mmeshcher/paygate/internal/model"
	"github.com/mmeshcher/paygate/internal/service"
	"github.com/mmeshcher/paygate/internal/validation"
	"github.com/mmeshcher/paygate/internal/webhook"
)

// Service определяет контракт оркестрации платежей, используемой HTTP-обработчиками.
type Service interface {
	InitiateCheckout(ctx context.Context, orderID string, preferred model.Operation, overrides model.InteractionOverrides) (*model.CheckoutSession, error)
	VerifyResult(ctx context.Context, req service.VerifyRequest) (*model.PaymentStatus, error)
	Capture(ctx context.Context, req service.TransactionRequest) (*model.Transaction, error)
	Refund(ctx context.Context, req service.TransactionRequest) (*model.Transaction, error)
	Void(ctx context.Context, orderID, targetTransactionID string) (*model.Transaction, error)
	InitializeSplitPayment(ctx context.Context, orderID string) (*service.SplitPayment, error)
	ProvisionSubaccount(ctx context.Context, vendorID string, details service.SubaccountDetails) (string, error)
	HandleWebhookEvent(ctx context.Context, event *webhook.Event) error
}

// Handler реализует HTTP-обработчики API платёжного шлюза.
type Handler struct {
	service   Service
	logger    *zap.Logger
	signature *middleware.SignatureMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, signature *middleware.SignatureMiddleware) *Handler {
	return &Handler{
		service:   s,
		logger:    logger,
		signature: signature,
	}
}

type checkoutRequest struct {
	OrderID     string                     `json:"orderId"`
	Operation   model.Operation            `json:"operation"`
	Interaction model.InteractionOverrides `json:"interaction"`
}

type checkoutResponse struct {
	SessionID        string          `json:"sessionId"`
	SuccessIndicator string          `json:"successIndicator"`
	SessionVersion   string          `json:"sessionVersion,omitempty"`
	UpdateStatus     string          `json:"updateStatus,omitempty"`
	Operation        model.Operation `json:"operation"`
}

// InitiateCheckout создаёт сессию hosted checkout для заказа.
func (h *Handler) InitiateCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.OrderID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	session, err := h.service.InitiateCheckout(r.Context(), req.OrderID, req.Operation, req.Interaction)
	if err != nil {
		h.writeError(w, "initiate checkout", err, zap.String("order_id", req.OrderID))
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{
		SessionID:        session.ID,
		SuccessIndicator: session.SuccessIndicator,
		SessionVersion:   session.Version,
		UpdateStatus:     session.UpdateStatus,
		Operation:        session.Operation,
	})
}

type checkoutResultRequest struct {
	OrderID         string `json:"orderId"`
	SessionID       string `json:"sessionId"`
	ResultIndicator string `json:"resultIndicator"`
}

// CheckoutResult обрабатывает возврат покупателя с hosted checkout и возвращает сводку оплаты.
func (h *Handler) CheckoutResult(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	req := service.VerifyRequest{
		OrderID:         r.Form.Get("orderId"),
		SessionID:       r.Form.Get("sessionId"),
		ResultIndicator: r.Form.Get("resultIndicator"),
	}
	if r.Method == http.MethodPost && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body checkoutResultRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		req.OrderID = cmp.Or(req.OrderID, body.OrderID)
		req.SessionID = cmp.Or(req.SessionID, body.SessionID)
		req.ResultIndicator = cmp.Or(req.ResultIndicator, body.ResultIndicator)
	}
	if req.OrderID == "" && req.SessionID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	status, err := h.service.VerifyResult(r.Context(), req)
	if err != nil {
		h.writeError(w, "verify result", err, zap.String("order_id", req.OrderID), zap.String("session_id", req.SessionID))
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// GetPayment возвращает сверенное со шлюзом состояние оплаты заказа.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	status, err := h.service.VerifyResult(r.Context(), service.VerifyRequest{OrderID: orderID})
	if err != nil {
		h.writeError(w, "get payment", err, zap.String("order_id", orderID))
		return
	}

	writeJSON(w, http.StatusOK, status)
}

type transactionRequest struct {
	TransactionID string      `json:"transactionId"`
	Amount        json.Number `json:"amount"`
	Currency      string      `json:"currency"`
}

type voidRequest struct {
	TargetTransactionID string `json:"targetTransactionId"`
}

type transactionResponse struct {
	ID                  string                  `json:"transactionId"`
	OrderID             string                  `json:"orderId"`
	Type                model.TransactionType   `json:"type"`
	Amount              decimal.Decimal         `json:"amount"`
	Currency            string                  `json:"currency"`
	Result              model.TransactionResult `json:"result"`
	GatewayCode         string                  `json:"gatewayCode,omitempty"`
	TargetTransactionID string                  `json:"targetTransactionId,omitempty"`
}

func newTransactionResponse(t *model.Transaction) transactionResponse {
	return transactionResponse{
		ID:                  t.ID,
		OrderID:             t.OrderID,
		Type:                t.Type,
		Amount:              t.Amount,
		Currency:            t.Currency,
		Result:              t.Result,
		GatewayCode:         t.GatewayCode,
		TargetTransactionID: t.TargetTransactionID,
	}
}

// Capture списывает авторизованные средства по заказу.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	h.transaction(w, r, "capture", h.service.Capture)
}

// Refund возвращает списанные средства по заказу.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	h.transaction(w, r, "refund", h.service.Refund)
}

func (h *Handler) transaction(w http.ResponseWriter, r *http.Request, op string,
	call func(ctx context.Context, req service.TransactionRequest) (*model.Transaction, error)) {
	orderID := chi.URLParam(r, "orderId")

	var body transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	req, ok := parseTransactionRequest(orderID, body)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	txn, err := call(r.Context(), req)
	if err != nil {
		h.writeError(w, op, err, zap.String("order_id", orderID), zap.String("transaction_id", req.TransactionID))
		return
	}

	writeJSON(w, http.StatusOK, newTransactionResponse(txn))
}

// parseTransactionRequest проверяет тело запроса. Пустой идентификатор заменяется сгенерированным.
func parseTransactionRequest(orderID string, body transactionRequest) (service.TransactionRequest, bool) {
	req := service.TransactionRequest{
		OrderID:       orderID,
		TransactionID: body.TransactionID,
		Currency:      strings.ToUpper(body.Currency),
	}
	if req.TransactionID == "" {
		req.TransactionID = uuid.NewString()
	}
	if !validation.IsValidTransactionID(req.TransactionID) {
		return req, false
	}
	if req.Currency != "" && !validation.IsValidCurrency(req.Currency) {
		return req, false
	}
	if body.Amount != "" {
		if !validation.IsValidAmount(body.Amount.String()) {
			return req, false
		}
		amount, err := decimal.NewFromString(body.Amount.String())
		if err != nil {
			return req, false
		}
		req.Amount = &amount
	}
	return req, true
}

// Void отменяет транзакцию по заказу.
func (h *Handler) Void(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	var req voidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidTransactionID(req.TargetTransactionID) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	txn, err := h.service.Void(r.Context(), orderID, req.TargetTransactionID)
	if err != nil {
		h.writeError(w, "void", err, zap.String("order_id", orderID), zap.String("target_transaction_id", req.TargetTransactionID))
		return
	}

	writeJSON(w, http.StatusOK, newTransactionResponse(txn))
}

// InitializeSplitPayment инициализирует сплит-платёж по заказу продавца.
func (h *Handler) InitializeSplitPayment(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	payment, err := h.service.InitializeSplitPayment(r.Context(), orderID)
	if err != nil {
		h.writeError(w, "initialize split payment", err, zap.String("order_id", orderID))
		return
	}

	writeJSON(w, http.StatusOK, payment)
}

type subaccountResponse struct {
	VendorID       string `json:"vendorId"`
	SubaccountCode string `json:"subaccountCode"`
}

// ProvisionSubaccount создаёт субаккаунт продавца у провайдера сплит-платежей.
func (h *Handler) ProvisionSubaccount(w http.ResponseWriter, r *http.Request) {
	vendorID := chi.URLParam(r, "vendorId")

	var req service.SubaccountDetails
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.SettlementBank == "" || req.AccountNumber == "" {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	code, err := h.service.ProvisionSubaccount(r.Context(), vendorID, req)
	if err != nil {
		h.writeError(w, "provision subaccount", err, zap.String("vendor_id", vendorID))
		return
	}

	writeJSON(w, http.StatusOK, subaccountResponse{VendorID: vendorID, SubaccountCode: code})
}

// PaystackWebhook принимает уведомление провайдера. Подпись проверяется middleware.
func (h *Handler) PaystackWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := middleware.RawBodyFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	event, err := webhook.ParseEvent(body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.HandleWebhookEvent(r.Context(), event); err != nil {
		h.logger.Error("handle webhook event error", zap.Error(err), zap.String("event", event.Event))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

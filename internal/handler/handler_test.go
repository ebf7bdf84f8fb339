package handler

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/paygate/internal/gateway"
	"github.com/mmeshcher/paygate/internal/middleware"
	"github.com/mmeshcher/paygate/internal/model"
	"github.com/mmeshcher/paygate/internal/repository"
	"github.com/mmeshcher/paygate/internal/service"
	"github.com/mmeshcher/paygate/internal/webhook"
)

const testWebhookSecret = "sk_test"

type stubService struct {
	checkoutResp *model.CheckoutSession
	checkoutErr  error

	verifyResp *model.PaymentStatus
	verifyErr  error
	verifyReq  service.VerifyRequest

	txnErr  error
	txnReq  service.TransactionRequest
	txnCall int

	voidTarget string

	splitResp *service.SplitPayment
	splitErr  error

	subaccountCode string

	events   []*webhook.Event
	eventErr error
}

func (s *stubService) InitiateCheckout(ctx context.Context, orderID string, preferred model.Operation, overrides model.InteractionOverrides) (*model.CheckoutSession, error) {
	return s.checkoutResp, s.checkoutErr
}

func (s *stubService) VerifyResult(ctx context.Context, req service.VerifyRequest) (*model.PaymentStatus, error) {
	s.verifyReq = req
	return s.verifyResp, s.verifyErr
}

func (s *stubService) transaction(typ model.TransactionType, req service.TransactionRequest) (*model.Transaction, error) {
	s.txnCall++
	s.txnReq = req
	if s.txnErr != nil {
		return nil, s.txnErr
	}
	amount := decimal.NewFromInt(100)
	if req.Amount != nil {
		amount = *req.Amount
	}
	return &model.Transaction{
		ID:       req.TransactionID,
		OrderID:  req.OrderID,
		Type:     typ,
		Amount:   amount,
		Currency: "USD",
		Result:   model.TransactionResultSuccess,
	}, nil
}

func (s *stubService) Capture(ctx context.Context, req service.TransactionRequest) (*model.Transaction, error) {
	return s.transaction(model.TransactionTypeCapture, req)
}

func (s *stubService) Refund(ctx context.Context, req service.TransactionRequest) (*model.Transaction, error) {
	return s.transaction(model.TransactionTypeRefund, req)
}

func (s *stubService) Void(ctx context.Context, orderID, targetTransactionID string) (*model.Transaction, error) {
	s.voidTarget = targetTransactionID
	return s.transaction(model.TransactionTypeVoid, service.TransactionRequest{OrderID: orderID, TransactionID: "void-1"})
}

func (s *stubService) InitializeSplitPayment(ctx context.Context, orderID string) (*service.SplitPayment, error) {
	return s.splitResp, s.splitErr
}

func (s *stubService) ProvisionSubaccount(ctx context.Context, vendorID string, details service.SubaccountDetails) (string, error) {
	return s.subaccountCode, nil
}

func (s *stubService) HandleWebhookEvent(ctx context.Context, event *webhook.Event) error {
	s.events = append(s.events, event)
	return s.eventErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	signature := middleware.NewSignatureMiddleware(webhook.NewPaystackVerifier(testWebhookSecret), logger)

	return NewHandler(svc, logger, signature)
}

func serve(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec
}

func TestInitiateCheckout_Success(t *testing.T) {
	svc := &stubService{
		checkoutResp: &model.CheckoutSession{
			ID:               "SESSION-1",
			OrderID:          "ORDER-1",
			SuccessIndicator: "ind-1",
			Operation:        model.OperationPurchase,
		},
	}
	h := newTestHandler(t, svc)

	body := `{"orderId":"ORDER-1","operation":"PURCHASE"}`
	req := httptest.NewRequest(http.MethodPost, "/api/checkout", bytes.NewBufferString(body))
	rec := serve(h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var resp checkoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionID != "SESSION-1" || resp.SuccessIndicator != "ind-1" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestInitiateCheckout_BadRequest(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	for _, body := range []string{`not json`, `{"operation":"PURCHASE"}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/checkout", bytes.NewBufferString(body))
		rec := serve(h, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want %d", body, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestCapture_GeneratesTransactionID(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/orders/ORDER-1/capture", bytes.NewBufferString(`{"amount":"25.50"}`))
	rec := serve(h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.txnReq.OrderID != "ORDER-1" {
		t.Fatalf("order id = %q", svc.txnReq.OrderID)
	}
	if _, err := uuid.Parse(svc.txnReq.TransactionID); err != nil {
		t.Fatalf("transaction id %q is not generated: %v", svc.txnReq.TransactionID, err)
	}
	if svc.txnReq.Amount == nil || !svc.txnReq.Amount.Equal(decimal.RequireFromString("25.5")) {
		t.Fatalf("amount = %v", svc.txnReq.Amount)
	}

	var resp transactionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Type != model.TransactionTypeCapture || resp.ID != svc.txnReq.TransactionID {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestRefund_NumericAmountAndClientID(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/orders/ORDER-1/refund", bytes.NewBufferString(`{"transactionId":"R-1","amount":10,"currency":"usd"}`))
	rec := serve(h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.txnReq.TransactionID != "R-1" || svc.txnReq.Currency != "USD" {
		t.Fatalf("unexpected request %+v", svc.txnReq)
	}
}

func TestTransaction_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative amount", `{"amount":"-5"}`},
		{"sub-cent amount", `{"amount":"1.001"}`},
		{"bad transaction id", `{"transactionId":"has space"}`},
		{"long transaction id", fmt.Sprintf(`{"transactionId":%q}`, strings.Repeat("a", 41))},
		{"bad currency", `{"currency":"US"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{}
			h := newTestHandler(t, svc)

			req := httptest.NewRequest(http.MethodPost, "/api/orders/ORDER-1/capture", bytes.NewBufferString(tt.body))
			rec := serve(h, req)

			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
			}
			if svc.txnCall != 0 {
				t.Fatalf("service must not be called")
			}
		})
	}
}

func TestVoid_PassesTarget(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/orders/ORDER-1/void", bytes.NewBufferString(`{"targetTransactionId":"T1"}`))
	rec := serve(h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.voidTarget != "T1" {
		t.Fatalf("target = %q, want T1", svc.voidTarget)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"transient", &service.OpError{Op: "capture", OrderID: "ORDER-1", Err: &gateway.TransientError{Method: "PUT", Path: "/x", StatusCode: 503}}, http.StatusBadGateway, kindTransient},
		{"timeout", &service.OpError{Op: "capture", OrderID: "ORDER-1", Err: gateway.ErrTimeout}, http.StatusGatewayTimeout, kindTimeout},
		{"rejected", &gateway.RejectedError{StatusCode: 400, Cause: "INVALID_REQUEST", Explanation: "Invalid amount"}, http.StatusUnprocessableEntity, kindRejected},
		{"no supported operation", &service.NoSupportedOperationError{OrderID: "ORDER-1", Attempted: []model.Operation{model.OperationAuthorize, model.OperationPurchase}}, http.StatusUnprocessableEntity, kindNoSupportedOperation},
		{"invalid amount", fmt.Errorf("%w: 150 exceeds available 100", service.ErrInvalidAmount), http.StatusUnprocessableEntity, kindInvalidAmount},
		{"subaccount", service.ErrSubaccountNotProvisioned, http.StatusConflict, kindSubaccountMissing},
		{"conflict", service.ErrTransactionConflict, http.StatusConflict, kindConflict},
		{"not found", repository.ErrOrderNotFound, http.StatusNotFound, kindNotFound},
		{"internal", errors.New("boom"), http.StatusInternalServerError, kindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{txnErr: tt.err})

			req := httptest.NewRequest(http.MethodPost, "/api/orders/ORDER-1/capture", bytes.NewBufferString(`{}`))
			rec := serve(h, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			var resp errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if resp.Kind != tt.kind || resp.Explanation == "" {
				t.Fatalf("unexpected error body %+v", resp)
			}
		})
	}
}

func TestErrorMapping_HidesProviderDetails(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		hidden string
		want   string
	}{
		{
			name:   "transient",
			err:    &service.OpError{Op: "capture", OrderID: "ORDER-1", Err: &gateway.TransientError{Method: "PUT", Path: "/api/rest/version/100/merchant/M1/order/ORDER-1", Err: errors.New("dial tcp 10.0.0.7:443: connection refused")}},
			hidden: "10.0.0.7",
			want:   explainTransient,
		},
		{
			name:   "rejected",
			err:    &gateway.RejectedError{StatusCode: 400, Cause: "INVALID_REQUEST", Explanation: "Merchant M1 not enabled for currency EUR"},
			hidden: "Merchant M1",
			want:   explainRejected,
		},
		{
			name:   "timeout",
			err:    &service.OpError{Op: "capture", OrderID: "ORDER-1", Err: gateway.ErrTimeout},
			hidden: "ORDER-1",
			want:   explainTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{txnErr: tt.err})

			rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/orders/ORDER-1/capture", bytes.NewBufferString(`{}`)))

			if strings.Contains(rec.Body.String(), tt.hidden) {
				t.Fatalf("response leaks provider detail: %s", rec.Body.String())
			}
			var resp errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if resp.Explanation != tt.want {
				t.Fatalf("explanation = %q, want %q", resp.Explanation, tt.want)
			}
		})
	}
}

func TestCheckoutResult_ReadsQuery(t *testing.T) {
	svc := &stubService{verifyResp: &model.PaymentStatus{OrderID: "ORDER-1", Success: true, RemoteConfirmed: true}}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/checkout/result?orderId=ORDER-1&resultIndicator=abc", nil)
	rec := serve(h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.verifyReq.OrderID != "ORDER-1" || svc.verifyReq.ResultIndicator != "abc" {
		t.Fatalf("unexpected verify request %+v", svc.verifyReq)
	}

	var status model.PaymentStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !status.Success {
		t.Fatalf("expected success in response")
	}
}

func TestCheckoutResult_ReadsJSONBody(t *testing.T) {
	svc := &stubService{verifyResp: &model.PaymentStatus{OrderID: "ORDER-1", Success: true, RemoteConfirmed: true}}
	h := newTestHandler(t, svc)

	body := `{"sessionId":"SESSION-1","resultIndicator":"abc"}`
	req := httptest.NewRequest(http.MethodPost, "/api/checkout/result?orderId=ORDER-1", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	want := service.VerifyRequest{OrderID: "ORDER-1", SessionID: "SESSION-1", ResultIndicator: "abc"}
	if svc.verifyReq != want {
		t.Fatalf("verify request = %+v, want %+v", svc.verifyReq, want)
	}
}

func TestCheckoutResult_MissingIdentifiers(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/checkout/result?resultIndicator=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestPaystackWebhook(t *testing.T) {
	body := `{"event":"charge.success","data":{"id":1,"reference":"ORDER-1","amount":10000,"currency":"NGN","status":"success"}}`
	signature := webhook.NewPaystackVerifier(testWebhookSecret).Sign([]byte(body))

	t.Run("valid signature", func(t *testing.T) {
		svc := &stubService{}
		h := newTestHandler(t, svc)

		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/paystack", bytes.NewBufferString(body))
		req.Header.Set(webhook.PaystackSignatureHeader, signature)
		rec := serve(h, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if len(svc.events) != 1 || svc.events[0].Event != webhook.EventChargeSuccess {
			t.Fatalf("event not delivered to service: %+v", svc.events)
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		svc := &stubService{}
		h := newTestHandler(t, svc)

		tampered := strings.Replace(body, "10000", "1", 1)
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/paystack", bytes.NewBufferString(tampered))
		req.Header.Set(webhook.PaystackSignatureHeader, signature)
		rec := serve(h, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
		if len(svc.events) != 0 {
			t.Fatalf("tampered event must not reach the service")
		}
	})

	t.Run("signature covers encoded bytes", func(t *testing.T) {
		svc := &stubService{}
		h := newTestHandler(t, svc)

		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write([]byte(body)); err != nil {
			t.Fatalf("write gzip: %v", err)
		}
		if err := gz.Close(); err != nil {
			t.Fatalf("close gzip: %v", err)
		}

		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/paystack", &buf)
		req.Header.Set("Content-Encoding", "gzip")
		req.Header.Set(webhook.PaystackSignatureHeader, signature)
		rec := serve(h, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
		if len(svc.events) != 0 {
			t.Fatalf("event must not reach the service")
		}
	})

	t.Run("service failure asks for redelivery", func(t *testing.T) {
		svc := &stubService{eventErr: errors.New("db down")}
		h := newTestHandler(t, svc)

		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/paystack", bytes.NewBufferString(body))
		req.Header.Set(webhook.PaystackSignatureHeader, signature)
		rec := serve(h, req)

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
		}
	})
}

func TestSplitPayment(t *testing.T) {
	svc := &stubService{splitResp: &service.SplitPayment{OrderID: "ORDER-7", Reference: "ORDER-7", AuthorizationURL: "https://checkout.paystack.com/x"}}
	h := newTestHandler(t, svc)

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/orders/ORDER-7/split-payment", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	svc.splitErr = service.ErrSubaccountNotProvisioned
	rec = serve(h, httptest.NewRequest(http.MethodPost, "/api/orders/ORDER-7/split-payment", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestProvisionSubaccount_Validation(t *testing.T) {
	svc := &stubService{subaccountCode: "ACCT_1"}
	h := newTestHandler(t, svc)

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/vendors/V1/subaccount", bytes.NewBufferString(`{"businessName":"V"}`)))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}

	rec = serve(h, httptest.NewRequest(http.MethodPost, "/api/vendors/V1/subaccount",
		bytes.NewBufferString(`{"settlementBank":"058","accountNumber":"0123456789"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

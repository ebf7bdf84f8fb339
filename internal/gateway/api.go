package gateway

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
)

// APIOperation значения, используемые в теле запросов.
const (
	APIOperationInitiateCheckout = "INITIATE_CHECKOUT"
	APIOperationCapture          = "CAPTURE"
	APIOperationRefund           = "REFUND"
	APIOperationVoid             = "VOID"
)

// FieldInteractionOperation поле, по которому шлюз отклоняет неподдерживаемую мерчантом операцию.
const FieldInteractionOperation = "interaction.operation"

// Merchant описывает отображаемые данные мерчанта на странице оплаты.
type Merchant struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Interaction описывает параметры взаимодействия покупателя с hosted checkout.
type Interaction struct {
	Operation         string            `json:"operation"`
	Merchant          *Merchant         `json:"merchant,omitempty"`
	ReturnURL         string            `json:"returnUrl,omitempty"`
	CancelURL         string            `json:"cancelUrl,omitempty"`
	RetryAttemptCount int               `json:"retryAttemptCount,omitempty"`
	Locale            string            `json:"locale,omitempty"`
	DisplayControl    map[string]string `json:"displayControl,omitempty"`
}

// SessionOrder описывает заказ внутри запроса на создание сессии.
type SessionOrder struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description,omitempty"`
}

// SessionRequest тело запроса POST /session.
type SessionRequest struct {
	APIOperation string       `json:"apiOperation"`
	Interaction  Interaction  `json:"interaction"`
	Order        SessionOrder `json:"order"`
}

// SessionResponse ответ шлюза на создание сессии.
type SessionResponse struct {
	Result  string `json:"result"`
	Session struct {
		ID           string `json:"id"`
		UpdateStatus string `json:"updateStatus"`
		Version      string `json:"version"`
	} `json:"session"`
	SuccessIndicator string `json:"successIndicator"`
}

// OrderResponse авторитетное состояние заказа на стороне шлюза.
type OrderResponse struct {
	ID                    string          `json:"id"`
	Result                string          `json:"result,omitempty"`
	Status                string          `json:"status"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	TotalAuthorizedAmount decimal.Decimal `json:"totalAuthorizedAmount"`
	TotalCapturedAmount   decimal.Decimal `json:"totalCapturedAmount"`
	TotalRefundedAmount   decimal.Decimal `json:"totalRefundedAmount"`
}

// TransactionDetails описывает транзакцию в запросе PUT /order/{id}/transaction/{id}.
type TransactionDetails struct {
	Amount              *decimal.Decimal `json:"amount,omitempty"`
	Currency            string           `json:"currency,omitempty"`
	TargetTransactionID string           `json:"targetTransactionId,omitempty"`
}

// TransactionRequest тело запроса на capture/refund/void.
type TransactionRequest struct {
	APIOperation string             `json:"apiOperation"`
	Transaction  TransactionDetails `json:"transaction"`
}

// TransactionResponse ответ шлюза на операцию по транзакции.
type TransactionResponse struct {
	Result   string `json:"result"`
	Response struct {
		GatewayCode string `json:"gatewayCode"`
	} `json:"response"`
	Order       *OrderResponse `json:"order,omitempty"`
	Transaction struct {
		ID       string          `json:"id"`
		Type     string          `json:"type"`
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
	} `json:"transaction"`
}

// CreateSession создаёт сессию hosted checkout.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*SessionResponse, error) {
	if req.APIOperation == "" {
		req.APIOperation = APIOperationInitiateCheckout
	}

	var resp SessionResponse
	if err := c.Send(ctx, http.MethodPost, "/session", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RetrieveOrder запрашивает состояние заказа у шлюза.
func (c *Client) RetrieveOrder(ctx context.Context, orderID string) (*OrderResponse, error) {
	var resp OrderResponse
	if err := c.Send(ctx, http.MethodGet, "/order/"+url.PathEscape(orderID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PutTransaction создаёт транзакцию transactionID по заказу orderID.
// Повторная отправка того же запроса с тем же идентификатором на стороне шлюза ничего не меняет.
func (c *Client) PutTransaction(ctx context.Context, orderID, transactionID string, req TransactionRequest) (*TransactionResponse, error) {
	path := "/order/" + url.PathEscape(orderID) + "/transaction/" + url.PathEscape(transactionID)

	var resp TransactionResponse
	if err := c.Send(ctx, http.MethodPut, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

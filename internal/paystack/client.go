// Package paystack предоставляет клиент провайдера сплит-платежей.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/paygate/internal/gateway"
)

const (
	clientName = "paystack"

	// DefaultBaseURL адрес API провайдера по умолчанию.
	DefaultBaseURL = "https://api.paystack.co"

	// SplitTypePercentage доли субаккаунтов задаются в процентах.
	SplitTypePercentage = "percentage"
	// BearerTypeAccount комиссию провайдера несёт основной аккаунт платформы.
	BearerTypeAccount = "account"
)

// Client инкапсулирует HTTP-взаимодействие с провайдером сплит-платежей.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewClient создаёт клиент провайдера с Bearer-авторизацией по секретному ключу.
func NewClient(baseURL, secretKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Split описывает динамическое разделение платежа между платформой и субаккаунтами.
type Split struct {
	Type        string       `json:"type"`
	BearerType  string       `json:"bearer_type"`
	Subaccounts []SplitShare `json:"subaccounts"`
}

// SplitShare доля одного субаккаунта в процентах.
type SplitShare struct {
	Subaccount string  `json:"subaccount"`
	Share      float64 `json:"share"`
}

// InitializeRequest тело запроса POST /transaction/initialize.
type InitializeRequest struct {
	Email       string `json:"email"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency,omitempty"`
	Reference   string `json:"reference"`
	CallbackURL string `json:"callback_url,omitempty"`
	Split       *Split `json:"split,omitempty"`
}

// InitializeResponse данные успешной инициализации платежа.
type InitializeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// SubaccountRequest тело запроса POST /subaccount.
type SubaccountRequest struct {
	BusinessName     string  `json:"business_name"`
	SettlementBank   string  `json:"settlement_bank"`
	AccountNumber    string  `json:"account_number"`
	PercentageCharge float64 `json:"percentage_charge"`
	PrimaryEmail     string  `json:"primary_contact_email,omitempty"`
}

// SubaccountResponse данные созданного субаккаунта.
type SubaccountResponse struct {
	SubaccountCode string `json:"subaccount_code"`
	BusinessName   string `json:"business_name"`
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// InitializeTransaction инициализирует платёж и возвращает ссылку на страницу оплаты.
func (c *Client) InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResponse, error) {
	var resp InitializeResponse
	if err := c.post(ctx, "/transaction/initialize", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateSubaccount создаёт субаккаунт продавца.
func (c *Client) CreateSubaccount(ctx context.Context, req SubaccountRequest) (*SubaccountResponse, error) {
	var resp SubaccountResponse
	if err := c.post(ctx, "/subaccount", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) (err error) {
	if c == nil || c.secretKey == "" {
		return fmt.Errorf("paystack client not configured")
	}

	done := gateway.Track(clientName, http.MethodPost)
	defer func() { done(err) }()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: POST %s", gateway.ErrTimeout, path)
		}
		return &gateway.TransientError{Method: http.MethodPost, Path: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return &gateway.TransientError{Method: http.MethodPost, Path: path, StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &gateway.TransientError{Method: http.MethodPost, Path: path, StatusCode: resp.StatusCode, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &gateway.RejectedError{StatusCode: resp.StatusCode, Cause: http.StatusText(resp.StatusCode)}
		}
		return &gateway.TransientError{Method: http.MethodPost, Path: path, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	if resp.StatusCode >= http.StatusBadRequest || !env.Status {
		return &gateway.RejectedError{
			StatusCode:  resp.StatusCode,
			Cause:       http.StatusText(resp.StatusCode),
			Explanation: env.Message,
		}
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &gateway.TransientError{Method: http.MethodPost, Path: path, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

// ToMinorUnits переводит сумму в минимальные единицы валюты (копейки, кобо, центы).
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits переводит сумму из минимальных единиц валюты.
func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

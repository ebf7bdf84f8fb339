// Package gateway предоставляет клиент REST API hosted checkout платёжного шлюза.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const clientName = "gateway"

// Config содержит параметры подключения к шлюзу.
type Config struct {
	BaseURL    string
	APIVersion string
	MerchantID string
	Password   string
	Timeout    time.Duration
}

// Client подписывает и отправляет запросы в API шлюза. Клиент никогда не повторяет запросы сам.
type Client struct {
	baseURL    string
	merchantID string
	authHeader string
	httpClient *http.Client
}

// NewClient создаёт клиент шлюза для указанного мерчанта.
func NewClient(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    fmt.Sprintf("%s/api/rest/version/%s/merchant/%s", base, cfg.APIVersion, cfg.MerchantID),
		merchantID: cfg.MerchantID,
		authHeader: BasicAuth(cfg.MerchantID, cfg.Password),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BasicAuth формирует значение заголовка Authorization для мерчанта.
func BasicAuth(merchantID, password string) string {
	credential := "merchant." + merchantID + ":" + password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(credential))
}

// MerchantID возвращает идентификатор мерчанта, от имени которого работает клиент.
func (c *Client) MerchantID() string {
	return c.merchantID
}

type errorEnvelope struct {
	Result string `json:"result"`
	Error  *struct {
		Cause          string `json:"cause"`
		Explanation    string `json:"explanation"`
		Field          string `json:"field"`
		ValidationType string `json:"validationType"`
	} `json:"error"`
}

// Send выполняет запрос method к path относительно ресурса мерчанта и декодирует ответ в out.
func (c *Client) Send(ctx context.Context, method, path string, body, out any) (err error) {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("gateway client not configured")
	}

	done := Track(clientName, method)
	defer func() { done(err) }()

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return fmt.Errorf("%w: %s %s", ErrTimeout, method, path)
		}
		return &TransientError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(ctx, err) {
			return fmt.Errorf("%w: %s %s", ErrTimeout, method, path)
		}
		return &TransientError{Method: method, Path: path, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return &TransientError{Method: method, Path: path, StatusCode: resp.StatusCode}
	}

	var envelope errorEnvelope
	_ = json.Unmarshal(raw, &envelope)

	if resp.StatusCode >= http.StatusBadRequest || envelope.Result == "ERROR" {
		rejected := &RejectedError{StatusCode: resp.StatusCode}
		if envelope.Error != nil {
			rejected.Cause = envelope.Error.Cause
			rejected.Field = envelope.Error.Field
			rejected.Explanation = envelope.Error.Explanation
		}
		if rejected.Cause == "" {
			rejected.Cause = http.StatusText(resp.StatusCode)
		}
		return rejected
	}

	if out == nil || len(raw) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &TransientError{Method: method, Path: path, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

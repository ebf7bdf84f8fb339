// Package webhook проверяет подпись асинхронных уведомлений провайдера и разбирает события.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"strings"
)

// PaystackSignatureHeader заголовок с подписью уведомлений Paystack.
const PaystackSignatureHeader = "X-Paystack-Signature"

var (
	// ErrSignatureMismatch возвращается, если подпись не совпадает с телом запроса.
	ErrSignatureMismatch = errors.New("webhook signature mismatch")
	// ErrMissingSignature возвращается, если заголовок подписи отсутствует.
	ErrMissingSignature = errors.New("webhook signature missing")
)

// Verifier проверяет HMAC-подпись сырого тела уведомления.
type Verifier struct {
	Header string
	secret []byte
	hash   func() hash.Hash
	prefix string
}

// NewVerifier создаёт проверку подписи для произвольного провайдера.
func NewVerifier(header, secret string, h func() hash.Hash, prefix string) *Verifier {
	return &Verifier{
		Header: header,
		secret: []byte(secret),
		hash:   h,
		prefix: prefix,
	}
}

// NewPaystackVerifier создаёт проверку подписи HMAC-SHA512 в hex.
func NewPaystackVerifier(secret string) *Verifier {
	return NewVerifier(PaystackSignatureHeader, secret, sha512.New, "")
}

// NewSHA256Verifier создаёт проверку подписи HMAC-SHA256 с префиксом вида "sha256=".
func NewSHA256Verifier(header, secret, prefix string) *Verifier {
	return NewVerifier(header, secret, sha256.New, prefix)
}

// Sign вычисляет подпись тела в hex.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(v.hash, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify сравнивает подпись с HMAC точных байтов тела за постоянное время.
func (v *Verifier) Verify(body []byte, signature string) error {
	signature = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(signature), v.prefix))
	if signature == "" {
		return ErrMissingSignature
	}
	if len(v.secret) == 0 {
		return fmt.Errorf("webhook secret not configured")
	}

	got, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return ErrSignatureMismatch
	}

	mac := hmac.New(v.hash, v.secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrSignatureMismatch
	}
	return nil
}

// Типы событий, которые обрабатывает сервис.
const (
	EventChargeSuccess   = "charge.success"
	EventRefundProcessed = "refund.processed"
)

// Event описывает уведомление провайдера.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ChargeData данные события charge.success. Сумма указана в минимальных единицах валюты.
type ChargeData struct {
	ID        int64  `json:"id"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
}

// RefundData данные события refund.processed.
type RefundData struct {
	ID                   int64  `json:"id"`
	TransactionReference string `json:"transaction_reference"`
	Amount               int64  `json:"amount"`
	Currency             string `json:"currency"`
	Status               string `json:"status"`
}

// ParseEvent разбирает тело уведомления. Вызывать только после успешной Verify.
func ParseEvent(body []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if e.Event == "" {
		return nil, fmt.Errorf("decode event: missing event type")
	}
	return &e, nil
}

// Charge разбирает данные события как платёж.
func (e *Event) Charge() (*ChargeData, error) {
	var d ChargeData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return nil, fmt.Errorf("decode charge data: %w", err)
	}
	return &d, nil
}

// Refund разбирает данные события как возврат.
func (e *Event) Refund() (*RefundData, error) {
	var d RefundData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return nil, fmt.Errorf("decode refund data: %w", err)
	}
	return &d, nil
}

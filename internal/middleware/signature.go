// Package middleware содержит HTTP middleware платёжного шлюза.
package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/paygate/internal/webhook"
)

type contextKey string

const rawBodyKey contextKey = "rawBody"

// maxWebhookBody ограничивает размер тела уведомления.
const maxWebhookBody = 1 << 20

// SignatureMiddleware проверяет подпись уведомлений провайдера по сырому телу запроса.
type SignatureMiddleware struct {
	verifier *webhook.Verifier
	logger   *zap.Logger
}

// NewSignatureMiddleware создаёт middleware проверки подписи с указанным verifier.
func NewSignatureMiddleware(v *webhook.Verifier, logger *zap.Logger) *SignatureMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SignatureMiddleware{
		verifier: v,
		logger:   logger,
	}
}

// Middleware отклоняет запросы с отсутствующей или неверной подписью и кладёт проверенное тело в контекст.
func (m *SignatureMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		if len(body) > maxWebhookBody {
			http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
			return
		}

		if err := m.verifier.Verify(body, r.Header.Get(m.verifier.Header)); err != nil {
			m.logger.Warn("webhook signature rejected",
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err))
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		ctx := context.WithValue(r.Context(), rawBodyKey, body)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RawBodyFromContext возвращает тело запроса, подпись которого уже проверена.
func RawBodyFromContext(ctx context.Context) ([]byte, bool) {
	body, ok := ctx.Value(rawBodyKey).([]byte)
	return body, ok
}

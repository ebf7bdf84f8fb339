package handler

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/paygate/internal/gateway"
	"github.com/mmeshcher/paygate/internal/repository"
	"github.com/mmeshcher/paygate/internal/service"
	"github.com/mmeshcher/paygate/internal/webhook"
)

// Виды ошибок в теле ответа.
const (
	kindTransient            = "transient"
	kindTimeout              = "timeout"
	kindRejected             = "rejected"
	kindNoSupportedOperation = "no_supported_operation"
	kindInvalidAmount        = "invalid_amount"
	kindInvalidRequest       = "invalid_request"
	kindSubaccountMissing    = "subaccount_not_provisioned"
	kindConflict             = "conflict"
	kindNotFound             = "not_found"
	kindSignatureMismatch    = "signature_mismatch"
	kindNotConfigured        = "not_configured"
	kindInternal             = "internal"
)

// Ответы шлюза и провайдера пишутся только в лог, клиент получает фиксированный текст.
const (
	explainRejected  = "payment provider rejected the request"
	explainTransient = "payment provider is temporarily unavailable"
	explainTimeout   = "payment provider did not respond in time"
)

type errorResponse struct {
	Kind        string `json:"kind"`
	Explanation string `json:"explanation"`
}

// classifyError сопоставляет ошибку сервиса со статусом HTTP и видом ошибки.
func classifyError(err error) (int, errorResponse) {
	var noOp *service.NoSupportedOperationError

	switch {
	case errors.As(err, &noOp):
		return http.StatusUnprocessableEntity, errorResponse{kindNoSupportedOperation, noOp.Error()}
	case errors.Is(err, service.ErrInvalidAmount):
		return http.StatusUnprocessableEntity, errorResponse{kindInvalidAmount, err.Error()}
	case errors.Is(err, service.ErrUnknownOperation), errors.Is(err, service.ErrRemoteVerificationRequired):
		return http.StatusBadRequest, errorResponse{kindInvalidRequest, err.Error()}
	case errors.Is(err, service.ErrSubaccountNotProvisioned):
		return http.StatusConflict, errorResponse{kindSubaccountMissing, err.Error()}
	case errors.Is(err, service.ErrTransactionConflict),
		errors.Is(err, service.ErrOrderNotPayable),
		errors.Is(err, service.ErrPendingReview),
		errors.Is(err, repository.ErrStaleOrder):
		return http.StatusConflict, errorResponse{kindConflict, err.Error()}
	case errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, repository.ErrVendorNotFound),
		errors.Is(err, repository.ErrSessionNotFound),
		errors.Is(err, repository.ErrTransactionNotFound):
		return http.StatusNotFound, errorResponse{kindNotFound, err.Error()}
	case errors.Is(err, webhook.ErrSignatureMismatch), errors.Is(err, webhook.ErrMissingSignature):
		return http.StatusUnauthorized, errorResponse{kindSignatureMismatch, err.Error()}
	case errors.Is(err, service.ErrSplitNotConfigured):
		return http.StatusServiceUnavailable, errorResponse{kindNotConfigured, err.Error()}
	case errors.As(err, new(*gateway.RejectedError)):
		return http.StatusUnprocessableEntity, errorResponse{kindRejected, explainRejected}
	}

	switch gateway.Classify(err) {
	case gateway.KindTimeout:
		return http.StatusGatewayTimeout, errorResponse{kindTimeout, explainTimeout}
	case gateway.KindTransient:
		return http.StatusBadGateway, errorResponse{kindTransient, explainTransient}
	}
	return http.StatusInternalServerError, errorResponse{kindInternal, http.StatusText(http.StatusInternalServerError)}
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error, fields ...zap.Field) {
	status, resp := classifyError(err)

	fields = append(fields, zap.Error(err), zap.Int("status", status))
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" error", fields...)
	} else {
		h.logger.Info(op+" failed", fields...)
	}

	writeJSON(w, status, resp)
}

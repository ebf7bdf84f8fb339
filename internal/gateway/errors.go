package gateway

import (
	"errors"
	"fmt"
)

// ErrTimeout возвращается, если исходящий вызов прерван по дедлайну или отмене контекста.
var ErrTimeout = errors.New("gateway call timed out")

// TransientError описывает сетевую ошибку или ответ 5xx. Вызывающая сторона может повторить запрос.
type TransientError struct {
	Method     string
	Path       string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient gateway error: %s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("transient gateway error: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// RejectedError описывает ответ 4xx со структурированной ошибкой шлюза.
// Повтор без изменения запроса не имеет смысла.
type RejectedError struct {
	StatusCode  int
	Cause       string
	Field       string
	Explanation string
}

func (e *RejectedError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("gateway rejected request: %s (field %s): %s", e.Cause, e.Field, e.Explanation)
	}
	return fmt.Sprintf("gateway rejected request: %s: %s", e.Cause, e.Explanation)
}

// IsRejectedField сообщает, отклонён ли запрос из-за указанного поля.
func IsRejectedField(err error, field string) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected) && rejected.Field == field
}

// Kind классифицирует ошибку исходящего вызова.
type Kind int

const (
	KindNone Kind = iota
	KindTransient
	KindRejected
	KindTimeout
	KindOther
)

// Classify определяет вид ошибки вызова шлюза или провайдера.
func Classify(err error) Kind {
	var (
		transient *TransientError
		rejected  *RejectedError
	)
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.As(err, &rejected):
		return KindRejected
	case errors.As(err, &transient):
		return KindTransient
	default:
		return KindOther
	}
}

package apperr

import (
	"context"
	"errors"
	"net/http"
)

type Code string

const (
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeAuthRequired    Code = "AUTH_REQUIRED"
	CodeAuthInvalid     Code = "AUTH_INVALID"
	CodeNotFound        Code = "NOT_FOUND"
	CodeIdempotency     Code = "IDEMPOTENCY_CONFLICT"
	CodeRateLimit       Code = "RATE_LIMIT"
	CodeBenchmarkOptIn  Code = "BENCHMARK_OPT_IN_REQUIRED"
	CodeModelOutput     Code = "MODEL_OUTPUT_INVALID"
	CodeProviderDown    Code = "PROVIDER_UNAVAILABLE"
	CodeCancelled       Code = "CANCELLED"
	CodeInternal        Code = "INTERNAL_ERROR"
	CodeInsightNotFound Code = "INSIGHT_NOT_FOUND"
	CodePlanDependency  Code = "PLAN_DEPENDENCY_UNMET"
)

// Error — типизированная ошибка с кодом из таксономии и деталями для ответа.
type Error struct {
	Code    Code
	Message string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.cause.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New создает ошибку с кодом и сообщением.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap оборачивает причину в типизированную ошибку.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDetails прикрепляет структурированные детали к ошибке.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// From приводит произвольную ошибку к *Error. CANCELLED имеет приоритет:
// истекший дедлайн или отмена контекста перекрывают любой другой код.
func From(err error) *Error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Wrap(CodeCancelled, "request cancelled", err)
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	return Wrap(CodeInternal, "internal error", err)
}

// HTTPStatus возвращает HTTP-статус для кода ошибки.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeAuthRequired, CodeAuthInvalid:
		return http.StatusUnauthorized
	case CodeBenchmarkOptIn:
		return http.StatusForbidden
	case CodeNotFound, CodeInsightNotFound:
		return http.StatusNotFound
	case CodeIdempotency:
		return http.StatusConflict
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeModelOutput, CodeProviderDown:
		return http.StatusBadGateway
	case CodeCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

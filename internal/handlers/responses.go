package handlers

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/dompet-ai/orchestrator/internal/apperr"
	"github.com/dompet-ai/orchestrator/internal/repository"
)

// ErrorEnvelope — единый формат ошибки API.
type ErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// respondError приводит любую ошибку к конверту {code, message, details}.
// Текст ошибки никогда не включает тела запросов и токены.
func respondError(c echo.Context, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		err = apperr.New(apperr.CodeNotFound, "resource not found")
	}
	typed := apperr.From(err)
	return c.JSON(apperr.HTTPStatus(typed.Code), ErrorEnvelope{
		Code:    string(typed.Code),
		Message: typed.Message,
		Details: typed.Details,
	})
}

func badRequest(c echo.Context, message string) error {
	return respondError(c, apperr.New(apperr.CodeValidation, message))
}

func validationError(c echo.Context, err error) error {
	issues := []string{err.Error()}

	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) {
		issues = issues[:0]
		for _, field := range invalid {
			issues = append(issues, field.Namespace()+" failed "+field.Tag())
		}
	}

	return respondError(c, apperr.New(apperr.CodeValidation, "validation failed").
		WithDetails(map[string]any{"issues": issues}))
}

func unauthorized(c echo.Context) error {
	return respondError(c, apperr.New(apperr.CodeAuthRequired, "authentication required"))
}

package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dompet-ai/orchestrator/internal/auth"
	"github.com/dompet-ai/orchestrator/internal/models"
	"github.com/dompet-ai/orchestrator/internal/repository"
)

type PreferencesHandler struct {
	Customers *repository.CustomerRepository
}

// NewPreferencesHandler создает обработчик пользовательских предпочтений.
func NewPreferencesHandler(customers *repository.CustomerRepository) *PreferencesHandler {
	return &PreferencesHandler{Customers: customers}
}

type UpdatePreferencesRequest struct {
	Preferences models.CustomerPreferences `json:"preferences" validate:"required"`
}

// Get возвращает текущие предпочтения клиента.
func (h *PreferencesHandler) Get(c echo.Context) error {
	scope, ok := auth.UserFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	customer, err := h.Customers.GetByID(c.Request().Context(), scope.CustomerID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{"preferences": customer.Metadata.Preferences})
}

// Update замещает предпочтения клиента.
func (h *PreferencesHandler) Update(c echo.Context) error {
	scope, ok := auth.UserFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	var req UpdatePreferencesRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return validationError(c, err)
	}

	customer, err := h.Customers.UpdatePreferences(c.Request().Context(), scope.CustomerID, req.Preferences)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{"preferences": customer.Metadata.Preferences})
}

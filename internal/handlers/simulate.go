package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dompet-ai/orchestrator/internal/auth"
	"github.com/dompet-ai/orchestrator/internal/tools"
)

type SimulateHandler struct {
	Service *tools.Service
}

// NewSimulateHandler создает обработчик what-if симуляций.
func NewSimulateHandler(service *tools.Service) *SimulateHandler {
	return &SimulateHandler{Service: service}
}

type SimulateRequest struct {
	InsightID string   `json:"insightId,omitempty"`
	Actions   []string `json:"actions" validate:"required"`
}

// Run применяет выбранные действия к сохраненному инсайту и возвращает
// прогнозные KPI с оценкой здоровья.
func (h *SimulateHandler) Run(c echo.Context) error {
	scope, ok := auth.UserFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	var req SimulateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return validationError(c, err)
	}

	result, err := h.Service.RunSimulation(c.Request().Context(), scope, req.InsightID, req.Actions)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"kpis":        result.ProjectedInsight.KPIs,
		"score":       toScoreResponse(result.ProjectedHealth),
		"adjustments": result.Adjustments,
	})
}

package handlers

import (
	"math"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dompet-ai/orchestrator/internal/auth"
	"github.com/dompet-ai/orchestrator/internal/models"
	"github.com/dompet-ai/orchestrator/internal/tools"
)

type InsightHandler struct {
	Service *tools.Service
}

// NewInsightHandler создает обработчик месячных инсайтов.
func NewInsightHandler(service *tools.Service) *InsightHandler {
	return &InsightHandler{Service: service}
}

type ComputeInsightRequest struct {
	Month        string                     `json:"month" validate:"required,len=7"`
	Transactions []tools.TransactionPayload `json:"transactions" validate:"omitempty,dive"`
	Balances     *models.Balances           `json:"balances,omitempty"`
	Goals        map[string]float64         `json:"goals,omitempty"`
	Previous     *models.MonthlyInsight     `json:"previous,omitempty"`
}

type ActionResponse struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Rationale   string  `json:"rationale"`
	ImpactMYR   float64 `json:"impact_myr"`
	ScoreDelta  float64 `json:"score_delta"`
}

// Get возвращает инсайт за месяц из query-параметра.
func (h *InsightHandler) Get(c echo.Context) error {
	scope, ok := auth.UserFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	month := c.QueryParam("month")
	stored, err := h.Service.GetInsight(c.Request().Context(), scope, month)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"kpis":  stored.KPIs,
		"story": stored.Story,
	})
}

// Compute считает и сохраняет инсайт за месяц из тела запроса.
func (h *InsightHandler) Compute(c echo.Context) error {
	scope, ok := auth.UserFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	var req ComputeInsightRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return validationError(c, err)
	}

	result, err := h.Service.ComputeInsight(c.Request().Context(), scope, tools.ComputeInsightInput{
		Month:        req.Month,
		Transactions: req.Transactions,
		Balances:     req.Balances,
		Goals:        req.Goals,
		Previous:     req.Previous,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"insight": map[string]any{
			"kpis":  result.Insight.KPIs,
			"story": result.Insight.Story,
		},
		"score":   result.Score,
		"actions": toActionResponses(result.Actions),
	})
}

// List возвращает последние месяцы пользователя.
func (h *InsightHandler) List(c echo.Context) error {
	scope, ok := auth.UserFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	insights, err := h.Service.ListInsights(c.Request().Context(), scope, 0)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{"insights": insights})
}

// Score возвращает оценку здоровья за месяц по шкале 0..100.
func (h *InsightHandler) Score(c echo.Context) error {
	scope, ok := auth.UserFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	health, err := h.Service.ScoreMonth(c.Request().Context(), scope, c.QueryParam("month"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, toScoreResponse(health))
}

func toScoreResponse(health models.HealthScore) map[string]any {
	return map[string]any{
		"score":      math.Round(health.Total * 100),
		"components": health.Components,
		"notes":      health.Notes,
	}
}

func toActionResponses(actions []tools.ActionWithImpact) []ActionResponse {
	out := make([]ActionResponse, 0, len(actions))
	for _, action := range actions {
		out = append(out, ActionResponse{
			ID:          action.ID,
			Title:       action.Title,
			Description: action.Description,
			Category:    action.Category,
			Rationale:   action.Rationale,
			ImpactMYR:   action.ImpactMYR,
			ScoreDelta:  action.ScoreDelta,
		})
	}
	return out
}

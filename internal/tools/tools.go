package tools

import (
	"context"

	"github.com/dompet-ai/orchestrator/internal/models"
)

// Канонические имена инструментов оркестратора.
const (
	ToolTransactionsCreate = "transactions.create"
	ToolTransactionsList   = "transactions.list"
	ToolInsightsCompute    = "insights.compute"
	ToolInsightsList       = "insights.list"
	ToolHealthScore        = "health.score"
	ToolActionsSuggest     = "actions.suggest"
	ToolSimulationsRun     = "simulations.run"
)

// CreateTransactionInput — вход transactions.create; исполнитель плана
// подмешивает сюда результат шага извлечения.
type CreateTransactionInput struct {
	Transaction    TransactionPayload `json:"transaction" validate:"required"`
	IdempotencyKey string             `json:"idempotencyKey,omitempty"`
}

type ListTransactionsInput struct {
	Month string `json:"month,omitempty" validate:"omitempty,len=7"`
	Limit int    `json:"limit,omitempty" validate:"omitempty,min=1,max=200"`
}

type ListInsightsInput struct {
	Limit int `json:"limit,omitempty" validate:"omitempty,min=1,max=24"`
}

type MonthInput struct {
	Month string `json:"month,omitempty" validate:"omitempty,len=7"`
}

type SimulateInput struct {
	InsightID string   `json:"insightId,omitempty"`
	Actions   []string `json:"actions" validate:"required"`
}

// RegisterCanonical регистрирует канонический набор инструментов,
// замкнутых на сервис бизнес-операций.
func RegisterCanonical(registry *Registry, service *Service) {
	registry.Register(Tool{
		Name:     ToolTransactionsCreate,
		NewInput: func() any { return &CreateTransactionInput{} },
		DeriveKey: func(scope models.AuthenticatedUser, input any) string {
			in := input.(*CreateTransactionInput)
			return DeriveKeyForPayload(scope, in.Transaction)
		},
		Resolve: func(ctx context.Context, scope models.AuthenticatedUser, input any) (any, error) {
			in := input.(*CreateTransactionInput)
			return service.CreateTransaction(ctx, scope, in.Transaction)
		},
	})

	registry.Register(Tool{
		Name:     ToolTransactionsList,
		NewInput: func() any { return &ListTransactionsInput{} },
		Resolve: func(ctx context.Context, scope models.AuthenticatedUser, input any) (any, error) {
			in := input.(*ListTransactionsInput)
			transactions, err := service.ListTransactions(ctx, scope, in.Month, in.Limit)
			if err != nil {
				return nil, err
			}
			return map[string]any{"transactions": transactions}, nil
		},
	})

	registry.Register(Tool{
		Name:     ToolInsightsCompute,
		NewInput: func() any { return &ComputeInsightInput{} },
		Resolve: func(ctx context.Context, scope models.AuthenticatedUser, input any) (any, error) {
			in := input.(*ComputeInsightInput)
			return service.ComputeInsight(ctx, scope, *in)
		},
	})

	registry.Register(Tool{
		Name:     ToolInsightsList,
		NewInput: func() any { return &ListInsightsInput{} },
		Resolve: func(ctx context.Context, scope models.AuthenticatedUser, input any) (any, error) {
			in := input.(*ListInsightsInput)
			insights, err := service.ListInsights(ctx, scope, in.Limit)
			if err != nil {
				return nil, err
			}
			return map[string]any{"insights": insights}, nil
		},
	})

	registry.Register(Tool{
		Name:     ToolHealthScore,
		NewInput: func() any { return &MonthInput{} },
		Resolve: func(ctx context.Context, scope models.AuthenticatedUser, input any) (any, error) {
			in := input.(*MonthInput)
			return service.ScoreMonth(ctx, scope, in.Month)
		},
	})

	registry.Register(Tool{
		Name:     ToolActionsSuggest,
		NewInput: func() any { return &MonthInput{} },
		Resolve: func(ctx context.Context, scope models.AuthenticatedUser, input any) (any, error) {
			in := input.(*MonthInput)
			actions, err := service.SuggestForMonth(ctx, scope, in.Month)
			if err != nil {
				return nil, err
			}
			return map[string]any{"actions": actions}, nil
		},
	})

	registry.Register(Tool{
		Name:     ToolSimulationsRun,
		NewInput: func() any { return &SimulateInput{} },
		Resolve: func(ctx context.Context, scope models.AuthenticatedUser, input any) (any, error) {
			in := input.(*SimulateInput)
			return service.RunSimulation(ctx, scope, in.InsightID, in.Actions)
		},
	})
}

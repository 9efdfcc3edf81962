package orchestrator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dompet-ai/orchestrator/internal/apperr"
	"github.com/dompet-ai/orchestrator/internal/llm"
	"github.com/dompet-ai/orchestrator/internal/models"
	"github.com/dompet-ai/orchestrator/internal/tools"
)

// ChatOutcome — собранный ответ одного чат-хода: реплика, намерение, план,
// свежие KPI с действиями и необязательный уточняющий вопрос.
type ChatOutcome struct {
	Reply          string                      `json:"reply"`
	Classification models.IntentClassification `json:"classification"`
	Plan           models.Plan                 `json:"plan"`
	KPIs           map[string]models.KPI       `json:"kpis,omitempty"`
	Actions        []tools.ActionWithImpact    `json:"actions,omitempty"`
	Followup       string                      `json:"followup,omitempty"`
	ResultData     map[string]any              `json:"resultData,omitempty"`
}

// Orchestrator связывает классификатор, планировщик и исполнитель в один
// конвейер обработки чат-хода.
type Orchestrator struct {
	Router   *llm.Router
	Executor *Executor
	Service  *tools.Service
	Logger   *slog.Logger
}

// HandleChat классифицирует ход, строит план, исполняет его и собирает
// ответ вместе с последними KPI и действиями пользователя.
func (o *Orchestrator) HandleChat(ctx context.Context, scope models.AuthenticatedUser, conversation []models.ConversationMessage, opts Options) (ChatOutcome, error) {
	if len(conversation) == 0 {
		return ChatOutcome{}, apperr.New(apperr.CodeValidation, "conversation must not be empty")
	}

	classification, err := o.Router.ClassifyIntent(ctx, conversation, opts.Classification)
	if err != nil {
		return ChatOutcome{}, err
	}

	plan := BuildPlan(classification)

	state, err := o.Executor.Execute(ctx, scope, conversation, classification, plan, opts)
	if err != nil {
		return ChatOutcome{}, err
	}

	outcome := ChatOutcome{
		Reply:          state.FinalMessage,
		Classification: classification,
		Plan:           plan,
		Followup:       state.Followup,
		ResultData:     state.ResultData,
	}

	o.attachLatest(ctx, scope, &outcome)

	return outcome, nil
}

// attachLatest добавляет в ответ последние KPI и действия; их отсутствие —
// не ошибка хода.
func (o *Orchestrator) attachLatest(ctx context.Context, scope models.AuthenticatedUser, outcome *ChatOutcome) {
	if o.Service == nil {
		return
	}

	latest, err := o.Service.GetInsight(ctx, scope, "")
	if err != nil {
		var typed *apperr.Error
		if !errors.As(err, &typed) || typed.Code != apperr.CodeInsightNotFound {
			o.log().Warn("loading latest insight failed", slog.String("error", err.Error()))
		}
		return
	}

	outcome.KPIs = latest.KPIs
	if actions, err := o.Service.SuggestForMonth(ctx, scope, latest.Month); err == nil {
		outcome.Actions = actions
	}
}

func (o *Orchestrator) log() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

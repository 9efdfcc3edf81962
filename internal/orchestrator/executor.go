package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dompet-ai/orchestrator/internal/apperr"
	"github.com/dompet-ai/orchestrator/internal/llm"
	"github.com/dompet-ai/orchestrator/internal/models"
	"github.com/dompet-ai/orchestrator/internal/tools"
)

const (
	unknownIntentReply = "I'm not sure how to help with that yet, but I'm learning more every day!"
	persistFailedReply = "Sorry, I couldn't save that transaction just now. Please try again in a moment."
	clarifierLeadReply = "I want to make sure I understood you correctly before doing anything."

	defaultRetrievalLimit = 5
)

// VectorSearcher — контракт векторной памяти для шага retrieval.
type VectorSearcher interface {
	Search(ctx context.Context, userID string, query []float32, limit int) ([]models.RetrievalDocument, error)
	Dimensions() int
}

// InsightLister отдает последние инсайты; запасной путь retrieval, когда
// свободный текст нечем эмбеддить.
type InsightLister interface {
	ListRecent(ctx context.Context, userID string, limit int) ([]models.MonthlyInsight, error)
}

// TransactionLister отдает транзакции месяца для суммаризации.
type TransactionLister interface {
	ListByMonth(ctx context.Context, tenantID, customerID uuid.UUID, month string) ([]models.Transaction, error)
}

// Options — типизированные опции хода с перечислимыми полями по назначению.
// Неизвестные поля отвергаются на границе HTTP.
type Options struct {
	Classification llm.ChatOptions  `json:"classification,omitempty"`
	Extraction     llm.ChatOptions  `json:"extraction,omitempty"`
	Summarization  llm.ChatOptions  `json:"summarization,omitempty"`
	Retrieval      llm.EmbedOptions `json:"retrieval,omitempty"`
}

// ToolInvoker — контракт реестра инструментов.
type ToolInvoker interface {
	Has(name string) bool
	Invoke(ctx context.Context, scope models.AuthenticatedUser, name string, input map[string]any) tools.Result
}

// State — состояние одного запроса; между запросами ничего не разделяется.
type State struct {
	RetrievedDocuments []models.RetrievalDocument
	StepResults        map[string]any
	ToolResults        []tools.Result
	FinalMessage       string
	ResultData         map[string]any
	Followup           string
}

// Executor выполняет шаги плана строго последовательно в порядке зависимостей.
type Executor struct {
	Router       *llm.Router
	Memory       VectorSearcher
	Insights     InsightLister
	Transactions TransactionLister
	Tools        ToolInvoker
	Logger       *slog.Logger
}

// Execute прогоняет план и возвращает состояние запроса. Каждый шаг пишет
// stepResults[step.id] ровно один раз до запуска зависимых шагов.
func (e *Executor) Execute(ctx context.Context, scope models.AuthenticatedUser, conversation []models.ConversationMessage, classification models.IntentClassification, plan models.Plan, opts Options) (*State, error) {
	state := &State{
		StepResults: make(map[string]any),
		ResultData:  make(map[string]any),
	}

	lowConfidence := classification.Confidence < LowConfidenceThreshold
	if lowConfidence {
		state.Followup = ClarifierQuestion
	}

	for _, step := range plan.Steps {
		for _, dependency := range step.DependsOn {
			if _, ok := state.StepResults[dependency]; !ok {
				return state, apperr.New(apperr.CodePlanDependency,
					fmt.Sprintf("step %s depends on %s which has not produced a result", step.ID, dependency))
			}
		}

		if err := ctx.Err(); err != nil {
			return state, apperr.Wrap(apperr.CodeCancelled, "request cancelled", err)
		}

		switch step.Type {
		case models.StepTypeRetrieval:
			e.runRetrieval(ctx, scope, conversation, step, state, opts)

		case models.StepTypeLLM:
			if err := e.runLLM(ctx, scope, conversation, step, state, opts); err != nil {
				return state, err
			}

		case models.StepTypeTool:
			e.runTool(ctx, scope, step, state, lowConfidence)

		case models.StepTypeSynthesis:
			if err := e.runSynthesis(ctx, plan.Intent, conversation, step, state, opts, lowConfidence); err != nil {
				return state, err
			}

		default:
			state.StepResults[step.ID] = tools.Result{Status: tools.StatusSkipped, Error: "unknown step type"}
		}
	}

	if state.FinalMessage == "" {
		if err := e.runSynthesis(ctx, plan.Intent, conversation, models.PlanStep{ID: "respond-user-fallback"}, state, opts, lowConfidence); err != nil {
			return state, err
		}
	}

	return state, nil
}

func (e *Executor) runRetrieval(ctx context.Context, scope models.AuthenticatedUser, conversation []models.ConversationMessage, step models.PlanStep, state *State, opts Options) {
	query := latestUserMessage(conversation)
	if value, ok := step.Input["query"].(string); ok && strings.TrimSpace(value) != "" {
		query = value
	}

	userID := scope.CustomerID.String()
	documents := e.retrieveDocuments(ctx, userID, query, opts.Retrieval)

	// Защитный фильтр: хранилище уже ограничивает выборку пользователем,
	// но чужой документ не должен пройти дальше ни при каком условии.
	filtered := documents[:0]
	for _, doc := range documents {
		if doc.UserID == userID {
			filtered = append(filtered, doc)
		}
	}

	state.RetrievedDocuments = filtered
	state.StepResults[step.ID] = filtered
}

func (e *Executor) retrieveDocuments(ctx context.Context, userID, query string, opts llm.EmbedOptions) []models.RetrievalDocument {
	if e.Router != nil && e.Memory != nil {
		embedded, err := e.Router.Embed(ctx, []string{query}, opts)
		if err == nil {
			documents, searchErr := e.Memory.Search(ctx, userID, embedded.Embeddings[0], defaultRetrievalLimit)
			if searchErr == nil {
				return documents
			}
			e.log().Warn("vector search failed", slog.String("error", searchErr.Error()))
		}
	}

	// Внутренний эмбеддер не умеет свободный текст: деградируем до
	// последних месяцев пользователя.
	if e.Insights == nil {
		return nil
	}
	recent, err := e.Insights.ListRecent(ctx, userID, defaultRetrievalLimit)
	if err != nil {
		e.log().Warn("recent insight fallback failed", slog.String("error", err.Error()))
		return nil
	}

	documents := make([]models.RetrievalDocument, 0, len(recent))
	for _, item := range recent {
		documents = append(documents, models.RetrievalDocument{
			ID:      item.ID,
			UserID:  item.UserID,
			Content: item.Story,
			Metadata: map[string]any{
				"month": item.Month,
				"kpis":  item.KPIs,
			},
		})
	}
	return documents
}

func (e *Executor) runLLM(ctx context.Context, scope models.AuthenticatedUser, conversation []models.ConversationMessage, step models.PlanStep, state *State, opts Options) error {
	switch step.Action {
	case "extract-transaction":
		extracted, err := e.Router.ExtractTransaction(ctx, latestUserMessage(conversation), opts.Extraction)
		if err != nil {
			return err
		}
		state.StepResults[step.ID] = extracted
		return nil

	case "summarize-month":
		month := time.Now().UTC().Format("2006-01")
		if value, ok := step.Input["month"].(string); ok && value != "" {
			month = value
		}

		var transactions []models.Transaction
		if e.Transactions != nil {
			loaded, err := e.Transactions.ListByMonth(ctx, scope.TenantID, scope.CustomerID, month)
			if err != nil {
				e.log().Warn("loading month transactions failed", slog.String("error", err.Error()))
			} else {
				transactions = loaded
			}
		}

		summary, err := e.Router.SummarizeMonth(ctx, llm.SummarizeInput{
			UserID:       scope.CustomerID.String(),
			Month:        month,
			Transactions: transactions,
			Context:      state.RetrievedDocuments,
		}, opts.Summarization)
		if err != nil {
			return err
		}
		state.StepResults[step.ID] = summary
		return nil

	default:
		return apperr.New(apperr.CodeInternal, fmt.Sprintf("unknown llm action %q", step.Action))
	}
}

func (e *Executor) runTool(ctx context.Context, scope models.AuthenticatedUser, step models.PlanStep, state *State, lowConfidence bool) {
	if lowConfidence {
		result := tools.Result{Tool: step.Tool, Status: tools.StatusSkipped, Error: "demoted to no-op below the confidence threshold"}
		state.ToolResults = append(state.ToolResults, result)
		state.StepResults[step.ID] = result
		return
	}

	if e.Tools == nil || !e.Tools.Has(step.Tool) {
		result := tools.Result{Tool: step.Tool, Status: tools.StatusSkipped, Error: "Tool handler not registered"}
		state.ToolResults = append(state.ToolResults, result)
		state.StepResults[step.ID] = result
		return
	}

	input := make(map[string]any, len(step.Input)+1)
	for key, value := range step.Input {
		input[key] = value
	}
	if extracted, ok := state.StepResults["extract-transaction"]; ok && step.Tool == tools.ToolTransactionsCreate {
		input["transaction"] = extracted
	}

	result := e.Tools.Invoke(ctx, scope, step.Tool, input)
	state.ToolResults = append(state.ToolResults, result)
	state.StepResults[step.ID] = result
}

func (e *Executor) runSynthesis(ctx context.Context, intent models.Intent, conversation []models.ConversationMessage, step models.PlanStep, state *State, opts Options, lowConfidence bool) error {
	if lowConfidence {
		state.FinalMessage = clarifierLeadReply
		state.StepResults[step.ID] = state.FinalMessage
		return nil
	}

	switch intent {
	case models.IntentRecordTransaction:
		e.synthesizeRecordTransaction(state)

	case models.IntentBudgetSummary:
		summary, ok := state.StepResults["summarize-month"].(models.MonthlySummary)
		if !ok {
			return apperr.New(apperr.CodePlanDependency, "summary step result is missing")
		}
		state.FinalMessage = summary.Summary
		state.ResultData["summary"] = summary

	case models.IntentGeneralQuestion:
		answer, err := e.Router.AnswerQuestion(ctx, conversation, state.RetrievedDocuments, opts.Summarization)
		if err != nil {
			return err
		}
		state.FinalMessage = answer

	default:
		state.FinalMessage = unknownIntentReply
	}

	state.StepResults[step.ID] = state.FinalMessage
	return nil
}

func (e *Executor) synthesizeRecordTransaction(state *State) {
	extracted, _ := state.StepResults["extract-transaction"].(models.ExtractedTransaction)

	persisted, ok := state.StepResults["persist-transaction"].(tools.Result)
	if !ok || persisted.Status != tools.StatusOK {
		state.FinalMessage = persistFailedReply
		state.ResultData["code"] = nil
		return
	}

	currency := extracted.Currency
	if currency == "" {
		currency = models.DefaultCurrency
	}
	amount := 0.0
	if extracted.Amount != nil {
		amount = *extracted.Amount
	}
	merchant := extracted.Merchant
	if merchant == "" {
		merchant = "the merchant"
	}
	occurredAt := extracted.OccurredAt
	if occurredAt == "" {
		occurredAt = "the specified date"
	}

	state.FinalMessage = fmt.Sprintf("Got it! I've recorded %s %.2f for %s on %s. Anything else you need?",
		currency, amount, merchant, occurredAt)
	state.ResultData["transaction"] = persisted.Data
	state.ResultData["idempotency"] = map[string]any{"replayed": persisted.Replayed}
}

func (e *Executor) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func latestUserMessage(conversation []models.ConversationMessage) string {
	for i := len(conversation) - 1; i >= 0; i-- {
		if strings.EqualFold(conversation[i].Role, "user") {
			return conversation[i].Content
		}
	}
	return ""
}

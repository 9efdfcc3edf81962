package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dompet-ai/orchestrator/internal/apperr"
	"github.com/dompet-ai/orchestrator/internal/insight"
	"github.com/dompet-ai/orchestrator/internal/llm"
	"github.com/dompet-ai/orchestrator/internal/models"
	"github.com/dompet-ai/orchestrator/internal/repository"
)

// Service объединяет бизнес-операции над транзакциями и инсайтами; его
// используют и реестр инструментов, и HTTP-обработчики.
type Service struct {
	Transactions *repository.TransactionRepository
	Insights     *repository.InsightRepository
	Router       *llm.Router
	EmbedMode    string
	Logger       *slog.Logger
}

// TransactionPayload — вход создания транзакции из инструмента или API.
type TransactionPayload struct {
	Amount      float64 `json:"amount" validate:"required"`
	Currency    string  `json:"currency" validate:"omitempty,len=3"`
	Type        string  `json:"type" validate:"omitempty,oneof=income expense investment debt transfer"`
	Category    string  `json:"category,omitempty"`
	Description string  `json:"description,omitempty"`
	Merchant    string  `json:"merchant,omitempty"`
	Notes       string  `json:"notes,omitempty"`
	OccurredAt  string  `json:"occurredAt,omitempty"`
}

// CreateTransactionResult — результат вставки с признаком дубликата.
type CreateTransactionResult struct {
	Transaction models.Transaction `json:"transaction"`
	Created     bool               `json:"created"`
}

// ComputeInsightInput — вход расчета месячного инсайта.
type ComputeInsightInput struct {
	Month        string                 `json:"month" validate:"required"`
	Transactions []TransactionPayload   `json:"transactions,omitempty"`
	Balances     *models.Balances       `json:"balances,omitempty"`
	Goals        map[string]float64     `json:"goals,omitempty"`
	Previous     *models.MonthlyInsight `json:"previous,omitempty"`
}

// ActionWithImpact — действие с денежным эффектом и сдвигом оценки.
type ActionWithImpact struct {
	models.SuggestedAction
	ImpactMYR  float64 `json:"impact_myr"`
	ScoreDelta float64 `json:"score_delta"`
}

// ComputeInsightResult — инсайт, оценка здоровья и действия одного расчета.
type ComputeInsightResult struct {
	Insight models.MonthlyInsight `json:"insight"`
	Score   models.HealthScore    `json:"score"`
	Actions []ActionWithImpact    `json:"actions"`
}

// CreateTransaction нормализует полезную нагрузку, выводит идемпотентный
// handle и вставляет строку с барьером по (tenant, external_reference).
func (s *Service) CreateTransaction(ctx context.Context, scope models.AuthenticatedUser, payload TransactionPayload) (CreateTransactionResult, error) {
	occurredAt, err := parseOccurredAt(payload.OccurredAt)
	if err != nil {
		return CreateTransactionResult{}, apperr.Wrap(apperr.CodeValidation, "invalid occurredAt", err)
	}

	currency := strings.ToUpper(strings.TrimSpace(payload.Currency))
	if currency == "" {
		currency = models.DefaultCurrency
	}

	txType := models.TransactionType(payload.Type)
	if payload.Type == "" {
		txType = models.TransactionTypeExpense
	}
	if !models.IsTransactionType(string(txType)) {
		return CreateTransactionResult{}, apperr.New(apperr.CodeValidation, fmt.Sprintf("invalid transaction type %q", payload.Type))
	}

	description := firstNonEmpty(payload.Description, payload.Merchant, payload.Notes)

	tx := models.Transaction{
		TenantID:   scope.TenantID,
		CustomerID: scope.CustomerID,
		Amount:     decimal.NewFromFloat(payload.Amount),
		Currency:   currency,
		Type:       txType,
		OccurredAt: occurredAt,
	}
	if category := strings.TrimSpace(payload.Category); category != "" {
		tx.Category = &category
	}
	if description != "" {
		tx.Description = &description
	}
	tx.IdempotencyHandle = derivePayloadKey(scope, occurredAt, tx.Amount.String(), description)

	stored, created, err := s.Transactions.Create(ctx, tx)
	if err != nil {
		return CreateTransactionResult{}, err
	}

	return CreateTransactionResult{Transaction: stored, Created: created}, nil
}

// CreateTransactionsBatch вставляет чанк нормализованных транзакций одной
// пачкой; дубликаты по выведенному handle пропускаются барьером хранилища.
func (s *Service) CreateTransactionsBatch(ctx context.Context, scope models.AuthenticatedUser, payloads []TransactionPayload) (int, error) {
	transactions := make([]models.Transaction, 0, len(payloads))
	for _, payload := range payloads {
		occurredAt, err := parseOccurredAt(payload.OccurredAt)
		if err != nil {
			return 0, apperr.Wrap(apperr.CodeValidation, "invalid occurredAt", err)
		}
		txType := models.TransactionType(payload.Type)
		if payload.Type == "" {
			txType = models.TransactionTypeExpense
		}
		if !models.IsTransactionType(string(txType)) {
			return 0, apperr.New(apperr.CodeValidation, fmt.Sprintf("invalid transaction type %q", payload.Type))
		}
		currency := strings.ToUpper(strings.TrimSpace(payload.Currency))
		if currency == "" {
			currency = models.DefaultCurrency
		}
		description := firstNonEmpty(payload.Description, payload.Merchant, payload.Notes)

		tx := models.Transaction{
			TenantID:   scope.TenantID,
			CustomerID: scope.CustomerID,
			Amount:     decimal.NewFromFloat(payload.Amount),
			Currency:   currency,
			Type:       txType,
			OccurredAt: occurredAt,
		}
		if category := strings.TrimSpace(payload.Category); category != "" {
			tx.Category = &category
		}
		if description != "" {
			tx.Description = &description
		}
		tx.IdempotencyHandle = derivePayloadKey(scope, occurredAt, tx.Amount.String(), description)
		transactions = append(transactions, tx)
	}

	return s.Transactions.CreateBatch(ctx, transactions)
}

// ListTransactions возвращает транзакции за месяц или последние записи.
func (s *Service) ListTransactions(ctx context.Context, scope models.AuthenticatedUser, month string, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if month != "" {
		transactions, err := s.Transactions.ListByMonth(ctx, scope.TenantID, scope.CustomerID, month)
		if err != nil {
			if errors.Is(err, repository.ErrInvalid) {
				return nil, apperr.Wrap(apperr.CodeValidation, "invalid month", err)
			}
			return nil, err
		}
		return transactions, nil
	}
	return s.Transactions.ListRecent(ctx, scope.TenantID, scope.CustomerID, limit)
}

// ComputeInsight считает KPI месяца, сохраняет инсайт с вектором и
// возвращает оценку здоровья вместе с действиями.
func (s *Service) ComputeInsight(ctx context.Context, scope models.AuthenticatedUser, in ComputeInsightInput) (ComputeInsightResult, error) {
	userID := scope.CustomerID.String()

	transactions, err := s.resolveTransactions(ctx, scope, in)
	if err != nil {
		return ComputeInsightResult{}, err
	}

	previous := in.Previous
	if previous == nil {
		if prior, err := s.Insights.Latest(ctx, userID); err == nil && prior.Month < in.Month {
			previous = &prior
		}
	}

	computed, fallbackVector, err := insight.ComputeMonthly(insight.ComputeInput{
		UserID:       userID,
		Month:        in.Month,
		Transactions: transactions,
		Balances:     in.Balances,
		Goals:        in.Goals,
		Previous:     previous,
	})
	if err != nil {
		return ComputeInsightResult{}, apperr.Wrap(apperr.CodeValidation, "insight computation failed", err)
	}

	vector := fallbackVector
	if s.Router != nil && s.EmbedMode != llm.InternalEmbedProvider {
		embedded, err := s.Router.Embed(ctx, []string{computed.Story}, llm.EmbedOptions{})
		if err != nil {
			return ComputeInsightResult{}, err
		}
		vector = embedded.Embeddings[0]
	}

	if err := s.Insights.Upsert(ctx, computed, vector); err != nil {
		return ComputeInsightResult{}, err
	}

	health := insight.ScoreHealth(computed.KPIs)
	actions := s.actionsWithImpact(computed.KPIs, health)

	return ComputeInsightResult{Insight: computed, Score: health, Actions: actions}, nil
}

// GetInsight возвращает инсайт за месяц; пустой месяц — самый поздний.
func (s *Service) GetInsight(ctx context.Context, scope models.AuthenticatedUser, month string) (models.MonthlyInsight, error) {
	userID := scope.CustomerID.String()

	var stored models.MonthlyInsight
	var err error
	if month == "" {
		stored, err = s.Insights.Latest(ctx, userID)
	} else {
		stored, err = s.Insights.GetByUserMonth(ctx, userID, month)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return stored, apperr.New(apperr.CodeInsightNotFound, "no insight for the requested month")
		}
		return stored, err
	}

	return stored, nil
}

// ListInsights возвращает последние месяцы пользователя.
func (s *Service) ListInsights(ctx context.Context, scope models.AuthenticatedUser, limit int) ([]models.MonthlyInsight, error) {
	if limit <= 0 {
		limit = 6
	}
	return s.Insights.ListRecent(ctx, scope.CustomerID.String(), limit)
}

// ScoreMonth оценивает здоровье финансов за месяц.
func (s *Service) ScoreMonth(ctx context.Context, scope models.AuthenticatedUser, month string) (models.HealthScore, error) {
	stored, err := s.GetInsight(ctx, scope, month)
	if err != nil {
		return models.HealthScore{}, err
	}
	return insight.ScoreHealth(stored.KPIs), nil
}

// SuggestForMonth возвращает действия с эффектом для месяца.
func (s *Service) SuggestForMonth(ctx context.Context, scope models.AuthenticatedUser, month string) ([]ActionWithImpact, error) {
	stored, err := s.GetInsight(ctx, scope, month)
	if err != nil {
		return nil, err
	}
	health := insight.ScoreHealth(stored.KPIs)
	return s.actionsWithImpact(stored.KPIs, health), nil
}

// RunSimulation применяет действия к сохраненному инсайту.
func (s *Service) RunSimulation(ctx context.Context, scope models.AuthenticatedUser, insightID string, actions []string) (insight.SimulationResult, error) {
	var stored models.MonthlyInsight
	var err error
	if insightID == "" {
		stored, err = s.GetInsight(ctx, scope, "")
	} else {
		stored, err = s.Insights.GetByID(ctx, insightID)
		if err == nil && stored.UserID != scope.CustomerID.String() {
			err = repository.ErrNotFound
		}
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return insight.SimulationResult{}, apperr.New(apperr.CodeInsightNotFound, "insight not found")
		}
		return insight.SimulationResult{}, err
	}

	return insight.Simulate(stored, actions), nil
}

func (s *Service) resolveTransactions(ctx context.Context, scope models.AuthenticatedUser, in ComputeInsightInput) ([]models.Transaction, error) {
	if len(in.Transactions) == 0 {
		return s.Transactions.ListByMonth(ctx, scope.TenantID, scope.CustomerID, in.Month)
	}

	transactions := make([]models.Transaction, 0, len(in.Transactions))
	for _, payload := range in.Transactions {
		occurredAt, err := parseOccurredAt(payload.OccurredAt)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeValidation, "invalid occurredAt", err)
		}
		txType := models.TransactionType(payload.Type)
		if payload.Type == "" {
			txType = models.TransactionTypeExpense
		}
		if !models.IsTransactionType(string(txType)) {
			return nil, apperr.New(apperr.CodeValidation, fmt.Sprintf("invalid transaction type %q", payload.Type))
		}
		currency := strings.ToUpper(strings.TrimSpace(payload.Currency))
		if currency == "" {
			currency = models.DefaultCurrency
		}

		tx := models.Transaction{
			TenantID:   scope.TenantID,
			CustomerID: scope.CustomerID,
			Amount:     decimal.NewFromFloat(payload.Amount),
			Currency:   currency,
			Type:       txType,
			OccurredAt: occurredAt,
		}
		if category := strings.TrimSpace(payload.Category); category != "" {
			tx.Category = &category
		}
		transactions = append(transactions, tx)
	}

	return transactions, nil
}

func (s *Service) actionsWithImpact(kpis map[string]models.KPI, health models.HealthScore) []ActionWithImpact {
	suggested := insight.SuggestActions(kpis, health)
	out := make([]ActionWithImpact, 0, len(suggested))
	for _, action := range suggested {
		impact, scoreDelta := insight.ActionImpact(kpis, health, action.Category)
		out = append(out, ActionWithImpact{SuggestedAction: action, ImpactMYR: impact, ScoreDelta: scoreDelta})
	}
	return out
}

// derivePayloadKey выводит handle транзакции из области и ее атрибутов.
func derivePayloadKey(scope models.AuthenticatedUser, occurredAt time.Time, amount, description string) string {
	return DeriveIdempotencyKey(scope.TenantID.String(), scope.CustomerID.String(),
		occurredAt.UTC().Format(time.RFC3339), amount, description)
}

// DeriveKeyForPayload выводит идемпотентный ключ для transactions.create,
// когда вызывающий не прислал собственный.
func DeriveKeyForPayload(scope models.AuthenticatedUser, payload TransactionPayload) string {
	occurredAt, err := parseOccurredAt(payload.OccurredAt)
	if err != nil {
		occurredAt = time.Time{}
	}
	description := firstNonEmpty(payload.Description, payload.Merchant, payload.Notes)
	return derivePayloadKey(scope, occurredAt, decimal.NewFromFloat(payload.Amount).String(), description)
}

// DeriveIdempotencyKey строит ключ из естественных атрибутов транзакции:
// SHA256(tenant ∥ customer ∥ occurredAt ∥ amount ∥ description), 24 hex-знака.
func DeriveIdempotencyKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:24]
}

func parseOccurredAt(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Now().UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", value)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

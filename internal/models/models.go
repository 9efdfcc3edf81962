package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

type KPIUnit string

type StepType string

type Intent string

const (
	TransactionTypeIncome     TransactionType = "income"
	TransactionTypeExpense    TransactionType = "expense"
	TransactionTypeInvestment TransactionType = "investment"
	TransactionTypeDebt       TransactionType = "debt"
	TransactionTypeTransfer   TransactionType = "transfer"

	KPIUnitCurrency   KPIUnit = "currency"
	KPIUnitRatio      KPIUnit = "ratio"
	KPIUnitPercentage KPIUnit = "percentage"

	StepTypeRetrieval StepType = "retrieval"
	StepTypeLLM       StepType = "llm"
	StepTypeTool      StepType = "tool"
	StepTypeSynthesis StepType = "synthesis"

	IntentRecordTransaction Intent = "record_transaction"
	IntentBudgetSummary     Intent = "budget_summary"
	IntentGeneralQuestion   Intent = "general_question"
	IntentUnknown           Intent = "unknown"
)

const DefaultCurrency = "MYR"

type Tenant struct {
	ID        uuid.UUID      `json:"id"`
	Slug      string         `json:"slug"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type CustomerPreferences struct {
	AllowBenchmarking bool               `json:"allowBenchmarking"`
	Categories        []string           `json:"categories,omitempty"`
	Notifications     bool               `json:"notifications"`
	Goals             map[string]float64 `json:"goals,omitempty"`
}

type CustomerProfile struct {
	Region     string `json:"region,omitempty"`
	IncomeBand string `json:"incomeBand,omitempty"`
}

type CustomerMetadata struct {
	Preferences CustomerPreferences `json:"preferences"`
	Profile     CustomerProfile     `json:"profile"`
}

type Customer struct {
	ID                uuid.UUID        `json:"id"`
	TenantID          uuid.UUID        `json:"tenant_id"`
	ExternalReference string           `json:"external_reference"`
	Metadata          CustomerMetadata `json:"metadata"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// AuthenticatedUser — результат проверки токена и привязки к арендатору.
type AuthenticatedUser struct {
	UserID     string    `json:"user_id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	SessionID  string    `json:"session_id,omitempty"`
	Roles      []string  `json:"roles,omitempty"`
}

type Transaction struct {
	ID                uuid.UUID       `json:"id"`
	TenantID          uuid.UUID       `json:"tenant_id"`
	CustomerID        uuid.UUID       `json:"customer_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Type              TransactionType `json:"type"`
	Category          *string         `json:"category,omitempty"`
	Description       *string         `json:"description,omitempty"`
	OccurredAt        time.Time       `json:"occurred_at"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
	IdempotencyHandle string          `json:"idempotency_handle,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

type IdempotencyRecord struct {
	ID              uuid.UUID       `json:"id"`
	TenantID        uuid.UUID       `json:"tenant_id"`
	Key             string          `json:"key"`
	RequestHash     string          `json:"request_hash"`
	ResponsePayload json.RawMessage `json:"response_payload,omitempty"`
	LockedAt        *time.Time      `json:"locked_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
}

type KPI struct {
	Key   string   `json:"key"`
	Label string   `json:"label"`
	Value float64  `json:"value"`
	Unit  KPIUnit  `json:"unit"`
	Delta *float64 `json:"delta,omitempty"`
	Goal  *float64 `json:"goal,omitempty"`
}

// MonthlyInsight — агрегат пользователя за месяц: KPI и нарратив; вектор
// хранится отдельно в векторной памяти.
type MonthlyInsight struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Month     string         `json:"month"`
	KPIs      map[string]KPI `json:"kpis"`
	Story     string         `json:"story"`
	CreatedAt time.Time      `json:"created_at"`
}

// Clone возвращает глубокую копию инсайта.
func (m MonthlyInsight) Clone() MonthlyInsight {
	out := m
	out.KPIs = make(map[string]KPI, len(m.KPIs))
	for key, kpi := range m.KPIs {
		copied := kpi
		if kpi.Delta != nil {
			delta := *kpi.Delta
			copied.Delta = &delta
		}
		if kpi.Goal != nil {
			goal := *kpi.Goal
			copied.Goal = &goal
		}
		out.KPIs[key] = copied
	}
	return out
}

type Balances struct {
	Cash        float64 `json:"cash"`
	Investments float64 `json:"investments"`
	Debt        float64 `json:"debt"`
}

type HealthComponent struct {
	Key    string  `json:"key"`
	Label  string  `json:"label"`
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
}

type HealthScore struct {
	Total      float64           `json:"total"`
	Components []HealthComponent `json:"components"`
	Notes      []string          `json:"notes,omitempty"`
}

type SuggestedAction struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Category       string `json:"category"`
	Rationale      string `json:"rationale"`
	ExpectedImpact string `json:"expectedImpact"`
}

type EmbeddingRecord struct {
	ID       string         `json:"id"`
	UserID   string         `json:"user_id"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type ConversationMessage struct {
	ID        string         `json:"id,omitempty"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type PlanStep struct {
	ID          string         `json:"id"`
	Type        StepType       `json:"type"`
	Description string         `json:"description"`
	Action      string         `json:"action,omitempty"`
	Tool        string         `json:"tool,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	DependsOn   []string       `json:"dependsOn,omitempty"`
}

type Plan struct {
	Intent Intent     `json:"intent"`
	Steps  []PlanStep `json:"steps"`
}

type IntentClassification struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

type ExtractedTransaction struct {
	Amount      *float64 `json:"amount,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	OccurredAt  string   `json:"occurredAt,omitempty"`
	Merchant    string   `json:"merchant,omitempty"`
	Category    string   `json:"category,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	Description string   `json:"description,omitempty"`
	RawText     string   `json:"rawText"`
}

type MonthlySummary struct {
	Summary              string   `json:"summary"`
	Highlights           []string `json:"highlights"`
	SavingsOpportunities []string `json:"savingsOpportunities"`
	FollowUps            []string `json:"followUps,omitempty"`
}

type RetrievalDocument struct {
	ID       string         `json:"id"`
	UserID   string         `json:"user_id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// InsightID строит детерминированный идентификатор инсайта "{userId}:{month}".
func InsightID(userID, month string) string {
	return userID + ":" + month
}

// IsTransactionType проверяет, входит ли значение в допустимый набор типов.
func IsTransactionType(value string) bool {
	switch TransactionType(value) {
	case TransactionTypeIncome, TransactionTypeExpense, TransactionTypeInvestment,
		TransactionTypeDebt, TransactionTypeTransfer:
		return true
	default:
		return false
	}
}

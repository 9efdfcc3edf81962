package insight

import (
	"math"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dompet-ai/orchestrator/internal/models"
)

func baselineInsight(t *testing.T, income, expenses float64) models.MonthlyInsight {
	t.Helper()

	result, _, err := ComputeMonthly(ComputeInput{
		UserID: "user-1",
		Month:  "2024-05",
		Transactions: []models.Transaction{
			{Amount: decimal.NewFromFloat(income), Currency: "MYR", Type: models.TransactionTypeIncome},
			{Amount: decimal.NewFromFloat(-expenses), Currency: "MYR", Type: models.TransactionTypeExpense},
		},
	})
	if err != nil {
		t.Fatalf("compute baseline: %v", err)
	}
	return result
}

// TestSimulateNoActionsIdentity проверяет, что пустой список действий
// оставляет KPI структурно неизменными.
func TestSimulateNoActionsIdentity(t *testing.T) {
	insight := baselineInsight(t, 10_000_000, 9_000_000)

	result := Simulate(insight, nil)

	for key, kpi := range insight.KPIs {
		projected := result.ProjectedInsight.KPIs[key]
		if math.Abs(projected.Value-kpi.Value) > 1e-9 {
			t.Fatalf("kpi %s changed: %v -> %v", key, kpi.Value, projected.Value)
		}
	}
	if len(result.Adjustments) != 0 {
		t.Fatalf("expected no adjustments, got %v", result.Adjustments)
	}
}

// TestSimulateImproveSavings проверяет точные дельты сценария improve-savings.
func TestSimulateImproveSavings(t *testing.T) {
	insight := baselineInsight(t, 10_000_000, 9_000_000)
	baseline := ScoreHealth(insight.KPIs)

	if got := insight.KPIs["savingsRate"].Value; math.Abs(got-0.10) > 1e-9 {
		t.Fatalf("baseline savingsRate: expected 0.10, got %v", got)
	}

	result := Simulate(insight, []string{ActionImproveSavings})
	projected := result.ProjectedInsight.KPIs

	if got := projected["savingsRate"].Value; math.Abs(got-0.13) > 1e-9 {
		t.Fatalf("savingsRate: expected 0.13, got %v", got)
	}
	if got := projected["expenses"].Value; math.Abs(got-8_700_000) > 1e-6 {
		t.Fatalf("expenses: expected 8700000, got %v", got)
	}
	if got := projected["cashFlow"].Value; math.Abs(got-1_300_000) > 1e-6 {
		t.Fatalf("cashFlow: expected 1300000, got %v", got)
	}
	if result.ProjectedHealth.Total <= baseline.Total {
		t.Fatalf("projected health %v not above baseline %v", result.ProjectedHealth.Total, baseline.Total)
	}
	if result.Adjustments[ActionImproveSavings] == 0 {
		t.Fatal("expected non-zero adjustment for improve-savings")
	}
}

// TestSimulateGrowIncome проверяет пересчет производных после роста дохода.
func TestSimulateGrowIncome(t *testing.T) {
	insight := baselineInsight(t, 10_000, 6_000)

	result := Simulate(insight, []string{ActionGrowIncome})
	projected := result.ProjectedInsight.KPIs

	if got := projected["income"].Value; math.Abs(got-10_300) > 1e-9 {
		t.Fatalf("income: expected 10300, got %v", got)
	}
	wantCashFlow := 10_300.0 - 6_000.0
	if got := projected["cashFlow"].Value; math.Abs(got-wantCashFlow) > 1e-9 {
		t.Fatalf("cashFlow: expected %v, got %v", wantCashFlow, got)
	}
	wantSavings := (10_300.0 - 6_000.0) / 10_300.0
	if got := projected["savingsRate"].Value; math.Abs(got-wantSavings) > 1e-9 {
		t.Fatalf("savingsRate: expected %v, got %v", wantSavings, got)
	}
}

// TestSimulateUnknownAction проверяет no-op для неизвестного идентификатора.
func TestSimulateUnknownAction(t *testing.T) {
	insight := baselineInsight(t, 10_000, 6_000)

	result := Simulate(insight, []string{"mystery-action"})
	if delta, ok := result.Adjustments["mystery-action"]; !ok || delta != 0 {
		t.Fatalf("expected zero adjustment for unknown action, got %v", result.Adjustments)
	}
	for key, kpi := range insight.KPIs {
		if result.ProjectedInsight.KPIs[key].Value != kpi.Value {
			t.Fatalf("kpi %s changed by unknown action", key)
		}
	}
}

// TestSimulateStorySuffix проверяет пометку прогнозного нарратива.
func TestSimulateStorySuffix(t *testing.T) {
	insight := baselineInsight(t, 10_000, 6_000)

	result := Simulate(insight, []string{ActionOptimizeExpenses})
	if !strings.Contains(result.ProjectedInsight.Story, "(projected)") {
		t.Fatal("expected projected story marker")
	}

	length := len([]rune(result.ProjectedInsight.Story))
	if length < 200 || length > 400 {
		t.Fatalf("projected story length %d outside [200,400]", length)
	}
}

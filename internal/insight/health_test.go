package insight

import (
	"math"
	"testing"

	"github.com/dompet-ai/orchestrator/internal/models"
)

func kpiSet(income, expenses, investments, debtPayments, debtOutstanding float64) map[string]models.KPI {
	kpis := map[string]models.KPI{
		"income":          {Key: "income", Label: "Income", Value: income},
		"expenses":        {Key: "expenses", Label: "Expenses", Value: expenses},
		"investments":     {Key: "investments", Label: "Investments", Value: investments},
		"debtPayments":    {Key: "debtPayments", Label: "Debt payments", Value: debtPayments},
		"debtOutstanding": {Key: "debtOutstanding", Label: "Debt outstanding", Value: debtOutstanding},
		"topExpenseCategory": {
			Key: "topExpenseCategory", Label: "general expenses", Unit: models.KPIUnitPercentage,
		},
	}
	setValue(kpis, "cashFlow", income-expenses-investments-debtPayments)
	refreshDerived(kpis)
	for _, key := range []string{"savingsRate", "investmentRate", "debtToIncome", "expenseRatio"} {
		kpi := kpis[key]
		kpi.Label = kpiLabels[key]
		kpis[key] = kpi
	}
	return kpis
}

// TestScoreHealthWeightedSum проверяет, что итог равен взвешенной сумме
// компонент в пределах допуска округления.
func TestScoreHealthWeightedSum(t *testing.T) {
	kpis := kpiSet(10_000, 6_000, 1_500, 500, 3_000)
	health := ScoreHealth(kpis)

	var weighted float64
	for _, component := range health.Components {
		weighted += component.Weight * component.Score
	}

	if math.Abs(health.Total-weighted) > 1e-3 {
		t.Fatalf("total %v differs from weighted sum %v", health.Total, weighted)
	}

	if health.Total < 0 || health.Total > 1 {
		t.Fatalf("total out of range: %v", health.Total)
	}
}

// TestScoreHealthComponents проверяет формулы компонент на опорных данных.
func TestScoreHealthComponents(t *testing.T) {
	kpis := kpiSet(10_000, 6_000, 1_500, 500, 0)
	health := ScoreHealth(kpis)

	scores := map[string]float64{}
	for _, component := range health.Components {
		scores[component.Key] = component.Score
	}

	// cashFlow = 2000; (2000/10000 + 1) / 2 = 0.6
	if scores["cashFlow"] != 0.6 {
		t.Fatalf("cashFlow score: expected 0.6, got %v", scores["cashFlow"])
	}
	// savingsRate = 0.4
	if scores["savingsRate"] != 0.4 {
		t.Fatalf("savingsRate score: expected 0.4, got %v", scores["savingsRate"])
	}
	// нет долга — максимум
	if scores["debtToIncome"] != 1 {
		t.Fatalf("debtToIncome score: expected 1, got %v", scores["debtToIncome"])
	}
	// 0.15 / 0.3 = 0.5
	if scores["investmentRate"] != 0.5 {
		t.Fatalf("investmentRate score: expected 0.5, got %v", scores["investmentRate"])
	}
}

// TestScoreHealthNotes проверяет заметки о проваленных целях.
func TestScoreHealthNotes(t *testing.T) {
	goal := 0.2
	kpis := kpiSet(10_000, 9_500, 0, 0, 0)
	kpi := kpis["savingsRate"]
	kpi.Goal = &goal
	kpis["savingsRate"] = kpi

	health := ScoreHealth(kpis)
	if len(health.Notes) == 0 {
		t.Fatal("expected at least one note for a missed goal")
	}
}

// TestScoreHealthLowestComponentNote проверяет заметку при отсутствии целей.
func TestScoreHealthLowestComponentNote(t *testing.T) {
	kpis := kpiSet(10_000, 2_000, 3_000, 0, 0)
	health := ScoreHealth(kpis)

	if len(health.Notes) != 1 {
		t.Fatalf("expected a single lowest-component note, got %v", health.Notes)
	}
}

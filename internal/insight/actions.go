package insight

import (
	"fmt"
	"math"

	"github.com/dompet-ai/orchestrator/internal/models"
)

const (
	ActionImproveSavings   = "improve-savings"
	ActionOptimizeExpenses = "optimize-expenses"
	ActionAccelerateDebt   = "accelerate-debt"
	ActionBoostInvestments = "boost-investments"
	ActionGrowIncome       = "grow-income"
	ActionStayTheCourse    = "stay-the-course"
)

// Категорийные множители для оценки денежного эффекта действия.
var categoryMultipliers = map[string]float64{
	"income":     0.25,
	"expense":    0.30,
	"debt":       0.22,
	"investment": 0.18,
	"savings":    0.20,
}

// SuggestActions применяет правила в фиксированном порядке; каждый
// идентификатор встречается не больше одного раза, и при отсутствии
// сработавших правил возвращается stay-the-course.
func SuggestActions(kpis map[string]models.KPI, health models.HealthScore) []models.SuggestedAction {
	actions := make([]models.SuggestedAction, 0, 4)

	if kpi, ok := kpis["savingsRate"]; ok {
		goal := goalOrDefault(kpi, 0.2)
		if kpi.Value < goal {
			actions = append(actions, models.SuggestedAction{
				ID:          ActionImproveSavings,
				Title:       "Grow your savings buffer",
				Description: "Set aside a fixed share of income before discretionary spending.",
				Category:    "savings",
				Rationale: fmt.Sprintf("Savings rate %.1f%% is %.1f points below the %.0f%% goal.",
					kpi.Value*100, (goal-kpi.Value)*100, goal*100),
				ExpectedImpact: "Raises monthly savings by roughly three percent of income.",
			})
		}
	}

	if kpi, ok := kpis["expenseRatio"]; ok {
		goal := goalOrDefault(kpi, 0.5)
		if kpi.Value > goal {
			actions = append(actions, models.SuggestedAction{
				ID:          ActionOptimizeExpenses,
				Title:       "Trim recurring expenses",
				Description: "Review subscriptions and routine spending for a five percent cut.",
				Category:    "expense",
				Rationale: fmt.Sprintf("Expense ratio %.1f%% exceeds the %.0f%% goal by %.1f points.",
					kpi.Value*100, goal*100, (kpi.Value-goal)*100),
				ExpectedImpact: "Frees about five percent of monthly expenses for savings.",
			})
		}
	}

	if kpi, ok := kpis["debtToIncome"]; ok {
		goal := goalOrDefault(kpi, 0.35)
		if kpi.Value > goal {
			actions = append(actions, models.SuggestedAction{
				ID:          ActionAccelerateDebt,
				Title:       "Accelerate debt repayment",
				Description: "Direct surplus cash flow at the highest-rate balance first.",
				Category:    "debt",
				Rationale: fmt.Sprintf("Debt-to-income %.1f%% exceeds the %.0f%% goal by %.1f points.",
					kpi.Value*100, goal*100, (kpi.Value-goal)*100),
				ExpectedImpact: "Cuts outstanding debt by about five percent per month.",
			})
		}
	}

	if kpi, ok := kpis["investmentRate"]; ok {
		goal := goalOrDefault(kpi, 0.15)
		if kpi.Value < goal {
			actions = append(actions, models.SuggestedAction{
				ID:          ActionBoostInvestments,
				Title:       "Increase monthly investing",
				Description: "Automate a standing transfer into your investment account.",
				Category:    "investment",
				Rationale: fmt.Sprintf("Investment rate %.1f%% is %.1f points below the %.0f%% goal.",
					kpi.Value*100, (goal-kpi.Value)*100, goal*100),
				ExpectedImpact: "Moves two percent of income into investments each month.",
			})
		}
	}

	if kpis["income"].Value > 0 && componentScore(health, "cashFlow") < 0.5 {
		actions = append(actions, models.SuggestedAction{
			ID:          ActionGrowIncome,
			Title:       "Grow your income",
			Description: "Explore a side income stream or negotiate your rate.",
			Category:    "income",
			Rationale: fmt.Sprintf("Cash flow score %.2f is below the 0.50 threshold.",
				componentScore(health, "cashFlow")),
			ExpectedImpact: "A three percent income lift improves every downstream ratio.",
		})
	}

	if len(actions) == 0 {
		actions = append(actions, models.SuggestedAction{
			ID:             ActionStayTheCourse,
			Title:          "Stay the course",
			Description:    "Your key ratios are on track; keep the current habits going.",
			Category:       "savings",
			Rationale:      "All tracked KPIs currently meet their goals.",
			ExpectedImpact: "Compounding continues to work in your favour.",
		})
	}

	return actions
}

// ActionImpact считает денежный эффект и сдвиг оценки для выбранного действия.
func ActionImpact(kpis map[string]models.KPI, health models.HealthScore, category string) (float64, float64) {
	multiplier, ok := categoryMultipliers[category]
	if !ok {
		return 0, 0
	}

	income := kpis["income"].Value
	cashFlow := kpis["cashFlow"].Value

	base := math.Max(math.Abs(cashFlow), math.Max(income*0.05, 100))
	impact := base * multiplier
	scoreDelta := math.Min(0.15, (1-health.Total)*multiplier)

	return impact, scoreDelta
}

func componentScore(health models.HealthScore, key string) float64 {
	for _, component := range health.Components {
		if component.Key == key {
			return component.Score
		}
	}
	return 0
}

func goalOrDefault(kpi models.KPI, fallback float64) float64 {
	if kpi.Goal != nil {
		return *kpi.Goal
	}
	return fallback
}

package insight

import (
	"github.com/dompet-ai/orchestrator/internal/models"
)

// SimulationResult — результат прогонки выбранных действий по инсайту.
type SimulationResult struct {
	ProjectedInsight models.MonthlyInsight `json:"projectedInsight"`
	ProjectedHealth  models.HealthScore    `json:"projectedHealth"`
	Adjustments      map[string]float64    `json:"adjustments"`
}

// Simulate применяет фиксированные дельты выбранных действий к копии
// инсайта, затем пересчитывает производные KPI из примитивов, чтобы набор
// остался внутренне согласованным, и заново оценивает здоровье.
// Неизвестные идентификаторы — no-op с нулевой поправкой.
func Simulate(insight models.MonthlyInsight, actions []string) SimulationResult {
	projected := insight.Clone()
	adjustments := make(map[string]float64, len(actions))

	for _, action := range actions {
		switch action {
		case ActionImproveSavings:
			oldRate := projected.KPIs["savingsRate"].Value
			newRate := clamp(oldRate+0.03, 0, 0.8)
			applied := newRate - oldRate
			amount := projected.KPIs["income"].Value * applied
			setValue(projected.KPIs, "savingsRate", newRate)
			setValue(projected.KPIs, "expenses", projected.KPIs["expenses"].Value-amount)
			setValue(projected.KPIs, "cashFlow", projected.KPIs["cashFlow"].Value+amount)
			adjustments[action] = applied

		case ActionOptimizeExpenses:
			expenses := projected.KPIs["expenses"].Value
			saved := expenses * 0.05
			setValue(projected.KPIs, "expenses", expenses-saved)
			setValue(projected.KPIs, "cashFlow", projected.KPIs["cashFlow"].Value+saved)
			refreshRates(projected.KPIs, "savingsRate", "expenseRatio")
			adjustments[action] = -saved

		case ActionAccelerateDebt:
			debt := projected.KPIs["debtOutstanding"].Value
			repaid := debt * 0.05
			setValue(projected.KPIs, "debtOutstanding", debt-repaid)
			refreshRates(projected.KPIs, "debtToIncome")
			adjustments[action] = -repaid

		case ActionBoostInvestments:
			added := projected.KPIs["income"].Value * 0.02
			setValue(projected.KPIs, "investments", projected.KPIs["investments"].Value+added)
			setValue(projected.KPIs, "cashFlow", projected.KPIs["cashFlow"].Value-added)
			refreshRates(projected.KPIs, "investmentRate")
			adjustments[action] = added

		case ActionGrowIncome:
			income := projected.KPIs["income"].Value
			setValue(projected.KPIs, "income", income*1.03)
			refreshDerived(projected.KPIs)
			adjustments[action] = income * 0.03

		default:
			adjustments[action] = 0
		}
	}

	refreshDerived(projected.KPIs)

	health := ScoreHealth(projected.KPIs)
	projected.Story = BuildStory(projected.KPIs, projected.Month, models.DefaultCurrency, " (projected)")

	return SimulationResult{
		ProjectedInsight: projected,
		ProjectedHealth:  health,
		Adjustments:      adjustments,
	}
}

// refreshDerived пересчитывает производные KPI из примитивов.
func refreshDerived(kpis map[string]models.KPI) {
	income := kpis["income"].Value
	expenses := kpis["expenses"].Value
	investments := kpis["investments"].Value
	debtPayments := kpis["debtPayments"].Value
	debtOutstanding := kpis["debtOutstanding"].Value

	setValue(kpis, "cashFlow", income-expenses-investments-debtPayments)

	if income > 0 {
		setValue(kpis, "savingsRate", clamp((income-expenses)/income, 0, 1.5))
		setValue(kpis, "investmentRate", clamp(investments/income, 0, 1.5))
		setValue(kpis, "expenseRatio", clamp(expenses/income, 0, 2))
		setValue(kpis, "debtToIncome", clamp(debtOutstanding/income, 0, 2))
	} else {
		setValue(kpis, "savingsRate", 0)
		setValue(kpis, "investmentRate", 0)
		setValue(kpis, "expenseRatio", 0)
		setValue(kpis, "debtToIncome", 0)
	}
}

func refreshRates(kpis map[string]models.KPI, keys ...string) {
	income := kpis["income"].Value
	for _, key := range keys {
		var value float64
		if income > 0 {
			switch key {
			case "savingsRate":
				value = clamp((income-kpis["expenses"].Value)/income, 0, 1.5)
			case "investmentRate":
				value = clamp(kpis["investments"].Value/income, 0, 1.5)
			case "expenseRatio":
				value = clamp(kpis["expenses"].Value/income, 0, 2)
			case "debtToIncome":
				value = clamp(kpis["debtOutstanding"].Value/income, 0, 2)
			}
		}
		setValue(kpis, key, value)
	}
}

func setValue(kpis map[string]models.KPI, key string, value float64) {
	kpi := kpis[key]
	kpi.Value = value
	kpis[key] = kpi
}

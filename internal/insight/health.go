package insight

import (
	"fmt"
	"math"

	"github.com/dompet-ai/orchestrator/internal/models"
)

var healthWeights = []struct {
	key    string
	label  string
	weight float64
}{
	{"cashFlow", "Cash flow", 0.35},
	{"savingsRate", "Savings rate", 0.25},
	{"debtToIncome", "Debt-to-income", 0.20},
	{"investmentRate", "Investment rate", 0.20},
}

// ScoreHealth считает взвешенную оценку здоровья финансов по KPI инсайта.
// Оценки компонентов округляются до 3 знаков; итог — их взвешенная сумма.
func ScoreHealth(kpis map[string]models.KPI) models.HealthScore {
	income := kpis["income"].Value
	cashFlow := kpis["cashFlow"].Value

	scores := map[string]float64{
		"cashFlow":       scoreCashFlow(income, cashFlow),
		"savingsRate":    clamp(kpis["savingsRate"].Value, 0, 1),
		"debtToIncome":   scoreDebtRatio(kpis["debtToIncome"].Value),
		"investmentRate": clamp(kpis["investmentRate"].Value/0.3, 0, 1),
	}

	result := models.HealthScore{
		Components: make([]models.HealthComponent, 0, len(healthWeights)),
	}

	lowestLabel := ""
	lowestScore := math.Inf(1)

	for _, component := range healthWeights {
		score := round3(scores[component.key])
		result.Components = append(result.Components, models.HealthComponent{
			Key:    component.key,
			Label:  component.label,
			Score:  score,
			Weight: component.weight,
		})
		result.Total += component.weight * score

		if score < lowestScore {
			lowestScore = score
			lowestLabel = component.label
		}
	}

	result.Notes = goalNotes(kpis)
	if len(result.Notes) == 0 {
		result.Notes = []string{fmt.Sprintf("Lowest component: %s", lowestLabel)}
	}

	return result
}

func scoreCashFlow(income, cashFlow float64) float64 {
	if income <= 0 {
		return 0.5
	}
	return clamp((cashFlow/income+1)/2, 0, 1)
}

func scoreDebtRatio(debtRatio float64) float64 {
	if debtRatio <= 0 {
		return 1
	}
	return clamp(1-debtRatio, 0, 1)
}

func goalNotes(kpis map[string]models.KPI) []string {
	notes := make([]string, 0)
	for _, key := range []string{"savingsRate", "expenseRatio", "debtToIncome", "investmentRate"} {
		kpi, ok := kpis[key]
		if !ok || kpi.Goal == nil {
			continue
		}
		if goalFailed(key, kpi.Value, *kpi.Goal) {
			notes = append(notes, fmt.Sprintf("%s %.2f misses goal %.2f", kpi.Label, kpi.Value, *kpi.Goal))
		}
	}
	return notes
}

// goalFailed определяет направление цели: для ставок накоплений и инвестиций
// провал — ниже цели, для долей расходов и долга — выше.
func goalFailed(key string, value, goal float64) bool {
	switch key {
	case "expenseRatio", "debtToIncome":
		return value > goal
	default:
		return value < goal
	}
}

func round3(value float64) float64 {
	return math.Round(value*1000) / 1000
}

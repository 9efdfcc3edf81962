package insight

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dompet-ai/orchestrator/internal/models"
)

const (
	storyMinLength = 200
	storyMaxLength = 400

	// Число измерений запасного эмбеддера, когда внешний недоступен.
	FallbackDimensions = 7
)

// Цели KPI по умолчанию; перекрываются целями из ComputeInput.Goals.
var defaultGoals = map[string]float64{
	"savingsRate":    0.2,
	"expenseRatio":   0.5,
	"debtToIncome":   0.35,
	"investmentRate": 0.15,
}

var kpiLabels = map[string]string{
	"income":             "Income",
	"expenses":           "Expenses",
	"investments":        "Investments",
	"debtPayments":       "Debt payments",
	"cashFlow":           "Cash flow",
	"savingsRate":        "Savings rate",
	"investmentRate":     "Investment rate",
	"debtToIncome":       "Debt-to-income",
	"expenseRatio":       "Expense ratio",
	"debtOutstanding":    "Debt outstanding",
	"netWorth":           "Net worth",
	"topExpenseCategory": "Top expense category",
}

// ComputeInput — вход чистой функции расчета месячного инсайта.
type ComputeInput struct {
	UserID       string
	Month        string
	Transactions []models.Transaction
	Balances     *models.Balances
	Goals        map[string]float64
	Previous     *models.MonthlyInsight
}

// ComputeMonthly считает KPI, нарратив и запасной вектор за месяц.
// Денежные суммы агрегируются в decimal; в KPI значения экспортируются
// как float64. Функция детерминирована: одинаковый вход дает одинаковый
// результат с точностью до CreatedAt.
func ComputeMonthly(in ComputeInput) (models.MonthlyInsight, []float32, error) {
	if in.UserID == "" {
		return models.MonthlyInsight{}, nil, fmt.Errorf("user id is required")
	}
	if _, err := time.Parse("2006-01", in.Month); err != nil {
		return models.MonthlyInsight{}, nil, fmt.Errorf("month must be YYYY-MM: %w", err)
	}

	var incomeD, expensesD, investmentsD, debtD decimal.Decimal
	categoryTotals := map[string]decimal.Decimal{}
	currency := models.DefaultCurrency

	for i, tx := range in.Transactions {
		abs := tx.Amount.Abs()
		switch tx.Type {
		case models.TransactionTypeIncome:
			incomeD = incomeD.Add(abs)
		case models.TransactionTypeExpense:
			expensesD = expensesD.Add(abs)
			if tx.Category != nil && strings.TrimSpace(*tx.Category) != "" {
				key := strings.ToLower(strings.TrimSpace(*tx.Category))
				categoryTotals[key] = categoryTotals[key].Add(abs)
			}
		case models.TransactionTypeInvestment:
			investmentsD = investmentsD.Add(abs)
		case models.TransactionTypeDebt:
			debtD = debtD.Add(abs)
		case models.TransactionTypeTransfer:
			// Переводы не влияют на агрегаты месяца.
		}
		if i == 0 && tx.Currency != "" {
			currency = tx.Currency
		}
	}

	cashFlowD := incomeD.Sub(expensesD).Sub(investmentsD).Sub(debtD)

	income := incomeD.InexactFloat64()
	expenses := expensesD.InexactFloat64()
	investments := investmentsD.InexactFloat64()
	debtPayments := debtD.InexactFloat64()
	cashFlow := cashFlowD.InexactFloat64()

	var savingsRate, investmentRate, expenseRatio float64
	if income > 0 {
		savingsRate = clamp((income-expenses)/income, 0, 1.5)
		investmentRate = clamp(investments/income, 0, 1.5)
		expenseRatio = clamp(expenses/income, 0, 2)
	}

	balances := models.Balances{}
	if in.Balances != nil {
		balances = *in.Balances
	}
	debtOutstanding := balances.Debt
	var debtToIncome float64
	if income > 0 {
		debtToIncome = clamp(debtOutstanding/income, 0, 2)
	}
	netWorth := balances.Cash + balances.Investments - debtOutstanding

	topLabel, topShare := topExpenseCategory(categoryTotals, expensesD)

	goals := mergedGoals(in.Goals)

	kpis := map[string]models.KPI{
		"income":          currencyKPI("income", income),
		"expenses":        currencyKPI("expenses", expenses),
		"investments":     currencyKPI("investments", investments),
		"debtPayments":    currencyKPI("debtPayments", debtPayments),
		"cashFlow":        currencyKPI("cashFlow", cashFlow),
		"savingsRate":     ratioKPI("savingsRate", savingsRate, goals),
		"investmentRate":  ratioKPI("investmentRate", investmentRate, goals),
		"debtToIncome":    ratioKPI("debtToIncome", debtToIncome, goals),
		"expenseRatio":    ratioKPI("expenseRatio", expenseRatio, goals),
		"debtOutstanding": currencyKPI("debtOutstanding", debtOutstanding),
		"netWorth":        currencyKPI("netWorth", netWorth),
		"topExpenseCategory": {
			Key:   "topExpenseCategory",
			Label: topLabel,
			Value: topShare,
			Unit:  models.KPIUnitPercentage,
		},
	}

	if in.Previous != nil {
		if prev, ok := in.Previous.KPIs["netWorth"]; ok {
			delta := netWorth - prev.Value
			kpi := kpis["netWorth"]
			kpi.Delta = &delta
			kpis["netWorth"] = kpi
		}
	}

	insight := models.MonthlyInsight{
		ID:        models.InsightID(in.UserID, in.Month),
		UserID:    in.UserID,
		Month:     in.Month,
		KPIs:      kpis,
		Story:     BuildStory(kpis, in.Month, currency, ""),
		CreatedAt: time.Now().UTC(),
	}

	return insight, FallbackVector(kpis), nil
}

// FallbackVector строит 7-мерный вектор инсайта для внутреннего эмбеддера.
// Хранилище нормализует его до единичной длины при записи.
func FallbackVector(kpis map[string]models.KPI) []float32 {
	income := kpis["income"].Value
	expenses := kpis["expenses"].Value
	cashFlow := kpis["cashFlow"].Value

	scale := math.Max(math.Max(income, expenses), math.Max(math.Abs(cashFlow), 1))

	return []float32{
		float32(clamp(income/scale, -1, 1)),
		float32(clamp(expenses/scale, -1, 1)),
		float32(clamp(cashFlow/scale, -1, 1)),
		float32(clamp(kpis["savingsRate"].Value, 0, 1)),
		float32(clamp(kpis["investmentRate"].Value, 0, 1)),
		float32(clamp(kpis["debtToIncome"].Value, 0, 1)),
		float32(clamp(kpis["expenseRatio"].Value, 0, 1)),
	}
}

// BuildStory собирает детерминированный трехфразный нарратив и нормализует
// длину: короткий текст добивается точками до 200 символов, длинный
// усекается с многоточием до 400.
func BuildStory(kpis map[string]models.KPI, month, currency, suffix string) string {
	top := kpis["topExpenseCategory"]

	var b strings.Builder
	fmt.Fprintf(&b, "In %s you earned %s %s and spent %s %s, leaving a cash flow of %s %s. ",
		month,
		currency, formatWhole(kpis["income"].Value),
		currency, formatWhole(kpis["expenses"].Value),
		currency, formatWhole(kpis["cashFlow"].Value),
	)
	fmt.Fprintf(&b, "You saved %d%% of your income, invested %d%%, and your top expense category was %s at %d%% of spending. ",
		roundPercent(kpis["savingsRate"].Value),
		roundPercent(kpis["investmentRate"].Value),
		top.Label,
		roundPercent(top.Value),
	)
	fmt.Fprintf(&b, "Debt outstanding is %s %s with a debt-to-income ratio of %d%%, and your net worth stands at %s %s.",
		currency, formatWhole(kpis["debtOutstanding"].Value),
		roundPercent(kpis["debtToIncome"].Value),
		currency, formatWhole(kpis["netWorth"].Value),
	)
	if suffix != "" {
		b.WriteString(suffix)
	}

	return normalizeStory(b.String())
}

func normalizeStory(story string) string {
	runes := []rune(story)
	if len(runes) > storyMaxLength {
		return string(runes[:storyMaxLength-3]) + "..."
	}
	if len(runes) < storyMinLength {
		return story + strings.Repeat(".", storyMinLength-len(runes))
	}
	return story
}

func topExpenseCategory(totals map[string]decimal.Decimal, expenses decimal.Decimal) (string, float64) {
	if len(totals) == 0 || expenses.IsZero() {
		return "general expenses", 0
	}

	keys := make([]string, 0, len(totals))
	for key := range totals {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	best := keys[0]
	bestShare := totals[best].Div(expenses).InexactFloat64()
	for _, key := range keys[1:] {
		share := totals[key].Div(expenses).InexactFloat64()
		if share > bestShare {
			best, bestShare = key, share
		}
	}

	return best, clamp(bestShare, 0, 1)
}

func mergedGoals(overrides map[string]float64) map[string]float64 {
	goals := make(map[string]float64, len(defaultGoals))
	for key, value := range defaultGoals {
		goals[key] = value
	}
	for key, value := range overrides {
		goals[key] = value
	}
	return goals
}

func currencyKPI(key string, value float64) models.KPI {
	return models.KPI{Key: key, Label: kpiLabels[key], Value: value, Unit: models.KPIUnitCurrency}
}

func ratioKPI(key string, value float64, goals map[string]float64) models.KPI {
	kpi := models.KPI{Key: key, Label: kpiLabels[key], Value: value, Unit: models.KPIUnitRatio}
	if goal, ok := goals[key]; ok {
		kpi.Goal = &goal
	}
	return kpi
}

func formatWhole(value float64) string {
	negative := value < 0
	rounded := int64(math.Round(math.Abs(value)))

	digits := fmt.Sprintf("%d", rounded)
	var parts []string
	for len(digits) > 3 {
		parts = append([]string{digits[len(digits)-3:]}, parts...)
		digits = digits[:len(digits)-3]
	}
	parts = append([]string{digits}, parts...)

	out := strings.Join(parts, ",")
	if negative {
		return "-" + out
	}
	return out
}

func roundPercent(ratio float64) int {
	return int(math.Round(ratio * 100))
}

func clamp(value, lo, hi float64) float64 {
	return math.Min(math.Max(value, lo), hi)
}

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net/http"
	"sort"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/dompet-ai/orchestrator/internal/apperr"
	"github.com/dompet-ai/orchestrator/internal/auth"
	"github.com/dompet-ai/orchestrator/internal/insight"
	"github.com/dompet-ai/orchestrator/internal/models"
	"github.com/dompet-ai/orchestrator/internal/repository"
)

type BenchmarkHandler struct {
	Customers       *repository.CustomerRepository
	Insights        *repository.InsightRepository
	AliasEmojiPool  []string
	LeaderboardSize int
}

// NewBenchmarkHandler создает обработчик когортных бенчмарков.
func NewBenchmarkHandler(customers *repository.CustomerRepository, insights *repository.InsightRepository, aliasPool []string, leaderboardSize int) *BenchmarkHandler {
	if leaderboardSize <= 0 {
		leaderboardSize = 10
	}
	return &BenchmarkHandler{
		Customers:       customers,
		Insights:        insights,
		AliasEmojiPool:  aliasPool,
		LeaderboardSize: leaderboardSize,
	}
}

type CohortResponse struct {
	Cohort  map[string]string  `json:"cohort"`
	Metrics map[string]float64 `json:"metrics"`
}

type LeaderboardRow struct {
	Alias      string  `json:"alias"`
	Score      float64 `json:"score"`
	Region     string  `json:"region"`
	IncomeBand string  `json:"income_band"`
}

// Benchmarks возвращает средние показатели когорт по согласившимся
// пользователям. Сам вызывающий обязан быть согласен на бенчмаркинг.
func (h *BenchmarkHandler) Benchmarks(c echo.Context) error {
	scope, ok := auth.UserFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	if err := h.requireOptIn(c, scope); err != nil {
		return err
	}

	rows, err := h.Insights.ListOptedIn(c.Request().Context(), scope.TenantID, false)
	if err != nil {
		return respondError(c, err)
	}

	type accumulator struct {
		region      string
		band        string
		income      float64
		savingsRate float64
		rows        int
		users       map[string]struct{}
	}

	cohorts := map[string]*accumulator{}
	for _, row := range rows {
		key := row.Region + "|" + row.IncomeBand
		acc, ok := cohorts[key]
		if !ok {
			acc = &accumulator{region: row.Region, band: row.IncomeBand, users: map[string]struct{}{}}
			cohorts[key] = acc
		}
		acc.income += row.KPIs["income"].Value
		acc.savingsRate += row.KPIs["savingsRate"].Value
		acc.rows++
		acc.users[row.CustomerID.String()] = struct{}{}
	}

	keys := make([]string, 0, len(cohorts))
	for key := range cohorts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	response := make([]CohortResponse, 0, len(keys))
	for _, key := range keys {
		acc := cohorts[key]
		response = append(response, CohortResponse{
			Cohort: map[string]string{"region": acc.region, "income_band": acc.band},
			Metrics: map[string]float64{
				"income_avg":       round2(acc.income / float64(acc.rows)),
				"savings_rate_avg": round4(acc.savingsRate / float64(acc.rows)),
				"sample_size":      float64(len(acc.users)),
			},
		})
	}

	return c.JSON(http.StatusOK, map[string]any{"cohorts": response})
}

// Leaderboard возвращает анонимизированный топ согласившихся пользователей.
// Собственная строка пользователя подписана его алиасом, никогда не "You".
func (h *BenchmarkHandler) Leaderboard(c echo.Context) error {
	scope, ok := auth.UserFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	if err := h.requireOptIn(c, scope); err != nil {
		return err
	}

	rows, err := h.Insights.ListOptedIn(c.Request().Context(), scope.TenantID, true)
	if err != nil {
		return respondError(c, err)
	}

	leaderboard := make([]LeaderboardRow, 0, len(rows))
	var you *LeaderboardRow
	for _, row := range rows {
		health := insight.ScoreHealth(row.KPIs)
		entry := LeaderboardRow{
			Alias:      h.alias(row.CustomerID.String()),
			Score:      math.Round(health.Total * 100),
			Region:     row.Region,
			IncomeBand: row.IncomeBand,
		}
		leaderboard = append(leaderboard, entry)
		if row.CustomerID == scope.CustomerID {
			own := entry
			you = &own
		}
	}

	sort.SliceStable(leaderboard, func(i, j int) bool {
		if leaderboard[i].Score != leaderboard[j].Score {
			return leaderboard[i].Score > leaderboard[j].Score
		}
		return leaderboard[i].Alias < leaderboard[j].Alias
	})
	if len(leaderboard) > h.LeaderboardSize {
		leaderboard = leaderboard[:h.LeaderboardSize]
	}

	response := map[string]any{"leaderboard": leaderboard}
	if you != nil {
		response["you"] = map[string]any{"alias": you.Alias, "score": you.Score}
	}

	return c.JSON(http.StatusOK, response)
}

func (h *BenchmarkHandler) requireOptIn(c echo.Context, scope models.AuthenticatedUser) error {
	customer, err := h.Customers.GetByID(c.Request().Context(), scope.CustomerID)
	if err != nil {
		return respondError(c, err)
	}
	if !customer.Metadata.Preferences.AllowBenchmarking {
		return respondError(c, apperr.New(apperr.CodeBenchmarkOptIn, "benchmarking requires opt-in"))
	}
	return nil
}

// alias строит детерминированный псевдоним: эмодзи по первому hex-знаку
// SHA256(userId) и шесть следующих знаков хэша.
func (h *BenchmarkHandler) alias(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	hash := hex.EncodeToString(sum[:])

	index, _ := strconv.ParseUint(hash[:1], 16, 8)
	pool := h.AliasEmojiPool
	if len(pool) == 0 {
		return hash[1:7]
	}

	return pool[int(index)%len(pool)] + hash[1:7]
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func round4(value float64) float64 {
	return math.Round(value*10000) / 10000
}

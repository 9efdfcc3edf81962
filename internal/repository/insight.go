package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dompet-ai/orchestrator/internal/memory"
	"github.com/dompet-ai/orchestrator/internal/models"
)

type InsightRepository struct {
	db     *pgxpool.Pool
	memory *memory.Store
}

// BenchmarkRow — инсайт одного согласившегося клиента для агрегации когорт.
type BenchmarkRow struct {
	CustomerID uuid.UUID
	Region     string
	IncomeBand string
	Month      string
	KPIs       map[string]models.KPI
}

// NewInsightRepository создает репозиторий месячных инсайтов.
func NewInsightRepository(db *pgxpool.Pool, memory *memory.Store) *InsightRepository {
	return &InsightRepository{db: db, memory: memory}
}

// Upsert сохраняет инсайт и его вектор одной транзакцией; повторная запись
// по (user, month) замещает обе строки, поэтому они не могут разойтись.
func (r *InsightRepository) Upsert(ctx context.Context, insight models.MonthlyInsight, vector []float32) error {
	kpis, err := json.Marshal(insight.KPIs)
	if err != nil {
		return fmt.Errorf("marshal kpis: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO insights (id, user_id, month, kpis, story, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (user_id, month) DO UPDATE
		 SET kpis = EXCLUDED.kpis, story = EXCLUDED.story, created_at = now()`,
		insight.ID, insight.UserID, insight.Month, kpis, insight.Story,
	)
	if err != nil {
		return fmt.Errorf("upsert insight: %w", err)
	}

	record := models.EmbeddingRecord{
		ID:     insight.ID,
		UserID: insight.UserID,
		Vector: vector,
		Metadata: map[string]any{
			"userId": insight.UserID,
			"month":  insight.Month,
		},
	}
	if err := r.memory.UpsertIn(ctx, tx, record); err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}

	return tx.Commit(ctx)
}

// GetByUserMonth возвращает инсайт пользователя за месяц.
func (r *InsightRepository) GetByUserMonth(ctx context.Context, userID, month string) (models.MonthlyInsight, error) {
	return r.get(ctx,
		`SELECT id, user_id, month, kpis, story, created_at
		 FROM insights WHERE user_id = $1 AND month = $2`,
		userID, month)
}

// GetByID возвращает инсайт по идентификатору "{userId}:{month}".
func (r *InsightRepository) GetByID(ctx context.Context, id string) (models.MonthlyInsight, error) {
	return r.get(ctx,
		`SELECT id, user_id, month, kpis, story, created_at
		 FROM insights WHERE id = $1`,
		id)
}

// Latest возвращает инсайт пользователя за самый поздний месяц.
func (r *InsightRepository) Latest(ctx context.Context, userID string) (models.MonthlyInsight, error) {
	return r.get(ctx,
		`SELECT id, user_id, month, kpis, story, created_at
		 FROM insights WHERE user_id = $1
		 ORDER BY month DESC LIMIT 1`,
		userID)
}

// ListRecent возвращает последние месяцы пользователя, новые первыми.
func (r *InsightRepository) ListRecent(ctx context.Context, userID string, limit int) ([]models.MonthlyInsight, error) {
	if limit < 1 {
		limit = 1
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, month, kpis, story, created_at
		 FROM insights WHERE user_id = $1
		 ORDER BY month DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	insights := make([]models.MonthlyInsight, 0, limit)
	for rows.Next() {
		insight, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		insights = append(insights, insight)
	}

	return insights, rows.Err()
}

// ListOptedIn возвращает инсайты всех согласившихся на бенчмаркинг клиентов
// арендатора вместе с их когортными атрибутами. Фильтр по согласию встроен в
// запрос: чужие и отказавшиеся пользователи не попадают в выборку.
func (r *InsightRepository) ListOptedIn(ctx context.Context, tenantID uuid.UUID, latestOnly bool) ([]BenchmarkRow, error) {
	query := `SELECT c.id,
	                 COALESCE(NULLIF(c.metadata #>> '{profile,region}', ''), 'unknown'),
	                 COALESCE(NULLIF(c.metadata #>> '{profile,incomeBand}', ''), 'unknown'),
	                 i.month, i.kpis
	          FROM customers c
	          JOIN insights i ON i.user_id = c.id::text
	          WHERE c.tenant_id = $1
	            AND (c.metadata #>> '{preferences,allowBenchmarking}')::boolean IS TRUE`
	if latestOnly {
		query += `
	            AND i.month = (SELECT max(month) FROM insights WHERE user_id = c.id::text)`
	}

	rows, err := r.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]BenchmarkRow, 0)
	for rows.Next() {
		var row BenchmarkRow
		var kpisRaw []byte
		if err := rows.Scan(&row.CustomerID, &row.Region, &row.IncomeBand, &row.Month, &kpisRaw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(kpisRaw, &row.KPIs); err != nil {
			return nil, fmt.Errorf("unmarshal kpis: %w", err)
		}
		out = append(out, row)
	}

	return out, rows.Err()
}

func (r *InsightRepository) get(ctx context.Context, query string, args ...any) (models.MonthlyInsight, error) {
	var insight models.MonthlyInsight
	var kpisRaw []byte

	err := r.db.QueryRow(ctx, query, args...).
		Scan(&insight.ID, &insight.UserID, &insight.Month, &kpisRaw, &insight.Story, &insight.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return insight, ErrNotFound
		}
		return insight, err
	}

	if err := json.Unmarshal(kpisRaw, &insight.KPIs); err != nil {
		return insight, fmt.Errorf("unmarshal kpis: %w", err)
	}

	return insight, nil
}

func scanInsight(rows pgx.Rows) (models.MonthlyInsight, error) {
	var insight models.MonthlyInsight
	var kpisRaw []byte

	if err := rows.Scan(&insight.ID, &insight.UserID, &insight.Month, &kpisRaw, &insight.Story, &insight.CreatedAt); err != nil {
		return insight, err
	}
	if err := json.Unmarshal(kpisRaw, &insight.KPIs); err != nil {
		return insight, fmt.Errorf("unmarshal kpis: %w", err)
	}
	return insight, nil
}

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/dompet-ai/orchestrator/internal/models"
)

// Querier — минимальный контракт выполнения SQL; его реализуют и pgxpool.Pool,
// и pgx.Tx, что позволяет включать запись вектора в чужую транзакцию.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store — векторная память поверх PostgreSQL с pgvector. Размерность
// фиксируется при инициализации; несовпадение — ошибка конфигурации.
type Store struct {
	db   *pgxpool.Pool
	dims int
}

// New создает векторное хранилище с фиксированной размерностью.
func New(db *pgxpool.Pool, dims int) *Store {
	return &Store{db: db, dims: dims}
}

// Dimensions возвращает размерность хранимых векторов.
func (s *Store) Dimensions() int {
	return s.dims
}

// Upsert сохраняет вектор инсайта; повторная запись по id замещает строку.
func (s *Store) Upsert(ctx context.Context, record models.EmbeddingRecord) error {
	return s.UpsertIn(ctx, s.db, record)
}

// UpsertIn сохраняет вектор через переданный исполнитель (пул или транзакцию).
func (s *Store) UpsertIn(ctx context.Context, q Querier, record models.EmbeddingRecord) error {
	if len(record.Vector) != s.dims {
		return fmt.Errorf("embedding dimension mismatch: got %d, store is %d", len(record.Vector), s.dims)
	}

	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("marshal embedding metadata: %w", err)
	}

	_, err = q.Exec(ctx,
		`INSERT INTO embeddings (id, user_id, vector, metadata)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET user_id = EXCLUDED.user_id, vector = EXCLUDED.vector, metadata = EXCLUDED.metadata`,
		record.ID, record.UserID, pgvector.NewVector(Normalize(record.Vector)), metadata,
	)
	return err
}

// Search возвращает top-K документов пользователя по косинусной близости.
// Фильтр по user_id принадлежит хранилищу: чужие документы не возвращаются
// независимо от того, что передал вызывающий код.
func (s *Store) Search(ctx context.Context, userID string, query []float32, limit int) ([]models.RetrievalDocument, error) {
	if len(query) != s.dims {
		return nil, fmt.Errorf("query dimension mismatch: got %d, store is %d", len(query), s.dims)
	}
	if limit < 1 {
		limit = 1
	}

	rows, err := s.db.Query(ctx,
		`SELECT e.id, e.user_id, e.metadata, i.story, i.month, i.kpis,
		        1 - (e.vector <=> $2) AS score
		 FROM embeddings e
		 JOIN insights i ON i.id = e.id
		 WHERE e.user_id = $1
		 ORDER BY e.vector <=> $2
		 LIMIT $3`,
		userID, pgvector.NewVector(Normalize(query)), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	documents := make([]models.RetrievalDocument, 0, limit)
	for rows.Next() {
		var (
			doc     models.RetrievalDocument
			stored  []byte
			month   string
			kpisRaw []byte
			score   float64
		)
		if err := rows.Scan(&doc.ID, &doc.UserID, &stored, &doc.Content, &month, &kpisRaw, &score); err != nil {
			return nil, err
		}
		if doc.UserID != userID {
			continue
		}

		metadata := map[string]any{}
		if len(stored) > 0 {
			if err := json.Unmarshal(stored, &metadata); err != nil {
				return nil, fmt.Errorf("unmarshal embedding metadata: %w", err)
			}
		}
		var kpis map[string]models.KPI
		if len(kpisRaw) > 0 {
			if err := json.Unmarshal(kpisRaw, &kpis); err != nil {
				return nil, fmt.Errorf("unmarshal insight kpis: %w", err)
			}
		}
		metadata["score"] = score
		metadata["month"] = month
		metadata["kpis"] = kpis
		doc.Metadata = metadata

		documents = append(documents, doc)
	}

	return documents, rows.Err()
}

// Normalize приводит вектор к единичной L2-норме; нулевой вектор не меняется.
func Normalize(vector []float32) []float32 {
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vector
	}

	norm := math.Sqrt(sum)
	out := make([]float32, len(vector))
	for i, v := range vector {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// Cosine считает косинусную близость двух векторов одной размерности.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

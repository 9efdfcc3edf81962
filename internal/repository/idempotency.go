package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dompet-ai/orchestrator/internal/models"
)

const defaultRecordTTL = 24 * time.Hour

type IdempotencyRepository struct {
	db  *pgxpool.Pool
	ttl time.Duration
}

// NewIdempotencyRepository создает репозиторий идемпотентных записей.
func NewIdempotencyRepository(db *pgxpool.Pool) *IdempotencyRepository {
	return &IdempotencyRepository{db: db, ttl: defaultRecordTTL}
}

// Acquire атомарно вставляет или захватывает запись по (tenant, key).
// Повторный захват незавершенной записи продлевает locked_at; завершенная
// запись возвращается с сохраненным ответом. Несовпадение request_hash
// с существующей записью — ErrHashMatch.
func (r *IdempotencyRepository) Acquire(ctx context.Context, tenantID uuid.UUID, key, requestHash string) (models.IdempotencyRecord, error) {
	var record models.IdempotencyRecord

	err := r.db.QueryRow(ctx,
		`INSERT INTO idempotency_records (id, tenant_id, key, request_hash, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4, now(), now() + make_interval(secs => $5))
		 ON CONFLICT (tenant_id, key) DO UPDATE
		 SET locked_at = CASE
		       WHEN idempotency_records.response_payload IS NULL THEN now()
		       ELSE idempotency_records.locked_at
		     END
		 RETURNING id, tenant_id, key, request_hash, response_payload, locked_at, created_at, expires_at`,
		uuid.New(), tenantID, key, requestHash, r.ttl.Seconds(),
	).Scan(&record.ID, &record.TenantID, &record.Key, &record.RequestHash,
		&record.ResponsePayload, &record.LockedAt, &record.CreatedAt, &record.ExpiresAt)
	if err != nil {
		return record, err
	}

	if record.RequestHash != requestHash {
		return record, ErrHashMatch
	}

	return record, nil
}

// Complete записывает ответ и снимает блокировку; запись становится реплеем.
func (r *IdempotencyRepository) Complete(ctx context.Context, tenantID uuid.UUID, key string, payload json.RawMessage) error {
	_, err := r.db.Exec(ctx,
		`UPDATE idempotency_records
		 SET response_payload = $3, locked_at = NULL
		 WHERE tenant_id = $1 AND key = $2`,
		tenantID, key, payload,
	)
	return err
}

// Release снимает блокировку без сохранения ответа; повтор разрешен.
func (r *IdempotencyRepository) Release(ctx context.Context, tenantID uuid.UUID, key string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE idempotency_records
		 SET locked_at = NULL
		 WHERE tenant_id = $1 AND key = $2 AND response_payload IS NULL`,
		tenantID, key,
	)
	return err
}

// PurgeExpired удаляет записи с истекшим сроком жизни.
func (r *IdempotencyRepository) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM idempotency_records WHERE expires_at IS NOT NULL AND expires_at < now()`,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dompet-ai/orchestrator/internal/models"
)

type TransactionRepository struct {
	db *pgxpool.Pool
}

// NewTransactionRepository создает репозиторий транзакций.
func NewTransactionRepository(db *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create вставляет транзакцию; повторная вставка с тем же external_reference
// внутри арендатора игнорируется и возвращает существующую строку.
// Возвращаемый флаг показывает, была ли строка создана этим вызовом.
func (r *TransactionRepository) Create(ctx context.Context, tx models.Transaction) (models.Transaction, bool, error) {
	metadata, err := marshalMetadata(tx.Metadata)
	if err != nil {
		return tx, false, err
	}

	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO transactions
		   (id, tenant_id, customer_id, amount, currency, type, category, description,
		    occurred_at, metadata, external_reference)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (tenant_id, external_reference) DO NOTHING
		 RETURNING id, created_at`,
		tx.ID, tx.TenantID, tx.CustomerID, tx.Amount, tx.Currency, tx.Type,
		tx.Category, tx.Description, tx.OccurredAt.UTC(), metadata, tx.IdempotencyHandle,
	)

	err = row.Scan(&tx.ID, &tx.CreatedAt)
	if err == nil {
		return tx, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return tx, false, err
	}

	existing, err := r.getByReference(ctx, tx.TenantID, tx.IdempotencyHandle)
	if err != nil {
		return tx, false, err
	}
	return existing, false, nil
}

// CreateBatch вставляет чанк транзакций одной пачкой; дубликаты по
// external_reference пропускаются. Возвращает число вставленных строк.
func (r *TransactionRepository) CreateBatch(ctx context.Context, transactions []models.Transaction) (int, error) {
	if len(transactions) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, tx := range transactions {
		metadata, err := marshalMetadata(tx.Metadata)
		if err != nil {
			return 0, err
		}
		id := tx.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		batch.Queue(
			`INSERT INTO transactions
			   (id, tenant_id, customer_id, amount, currency, type, category, description,
			    occurred_at, metadata, external_reference)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (tenant_id, external_reference) DO NOTHING`,
			id, tx.TenantID, tx.CustomerID, tx.Amount, tx.Currency, tx.Type,
			tx.Category, tx.Description, tx.OccurredAt.UTC(), metadata, tx.IdempotencyHandle,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range transactions {
		tag, err := results.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += int(tag.RowsAffected())
	}

	return inserted, nil
}

// ListByMonth возвращает транзакции клиента за календарный месяц (UTC).
func (r *TransactionRepository) ListByMonth(ctx context.Context, tenantID, customerID uuid.UUID, month string) ([]models.Transaction, error) {
	start, err := time.Parse("2006-01", month)
	if err != nil {
		return nil, fmt.Errorf("%w: month must be YYYY-MM", ErrInvalid)
	}
	end := start.AddDate(0, 1, 0)

	rows, err := r.db.Query(ctx,
		`SELECT id, tenant_id, customer_id, amount, currency, type, category, description,
		        occurred_at, metadata, external_reference, created_at
		 FROM transactions
		 WHERE tenant_id = $1 AND customer_id = $2
		   AND occurred_at >= $3 AND occurred_at < $4
		 ORDER BY occurred_at DESC, created_at DESC`,
		tenantID, customerID, start, end,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// ListRecent возвращает последние транзакции клиента.
func (r *TransactionRepository) ListRecent(ctx context.Context, tenantID, customerID uuid.UUID, limit int) ([]models.Transaction, error) {
	if limit < 1 {
		limit = 1
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, tenant_id, customer_id, amount, currency, type, category, description,
		        occurred_at, metadata, external_reference, created_at
		 FROM transactions
		 WHERE tenant_id = $1 AND customer_id = $2
		 ORDER BY occurred_at DESC, created_at DESC
		 LIMIT $3`,
		tenantID, customerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func (r *TransactionRepository) getByReference(ctx context.Context, tenantID uuid.UUID, reference string) (models.Transaction, error) {
	var tx models.Transaction
	var metadataRaw []byte

	err := r.db.QueryRow(ctx,
		`SELECT id, tenant_id, customer_id, amount, currency, type, category, description,
		        occurred_at, metadata, external_reference, created_at
		 FROM transactions
		 WHERE tenant_id = $1 AND external_reference = $2`,
		tenantID, reference,
	).Scan(&tx.ID, &tx.TenantID, &tx.CustomerID, &tx.Amount, &tx.Currency, &tx.Type,
		&tx.Category, &tx.Description, &tx.OccurredAt, &metadataRaw, &tx.IdempotencyHandle, &tx.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tx, ErrNotFound
		}
		return tx, err
	}

	if err := unmarshalMetadata(metadataRaw, &tx.Metadata); err != nil {
		return tx, err
	}
	return tx, nil
}

func scanTransactions(rows pgx.Rows) ([]models.Transaction, error) {
	transactions := make([]models.Transaction, 0)
	for rows.Next() {
		var tx models.Transaction
		var metadataRaw []byte
		if err := rows.Scan(&tx.ID, &tx.TenantID, &tx.CustomerID, &tx.Amount, &tx.Currency, &tx.Type,
			&tx.Category, &tx.Description, &tx.OccurredAt, &metadataRaw, &tx.IdempotencyHandle, &tx.CreatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalMetadata(metadataRaw, &tx.Metadata); err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return payload, nil
}

func unmarshalMetadata(raw []byte, target *map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("unmarshal metadata: %w", err)
	}
	return nil
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dompet-ai/orchestrator/internal/models"
)

type CustomerRepository struct {
	db *pgxpool.Pool
}

// NewCustomerRepository создает репозиторий арендаторов и клиентов.
func NewCustomerRepository(db *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{db: db}
}

// EnsureScope лениво создает строки tenant и customer и возвращает клиента.
// Строка клиента всегда принадлежит арендатору из токена.
func (r *CustomerRepository) EnsureScope(ctx context.Context, tenantSlug, externalReference string) (models.Customer, error) {
	var customer models.Customer

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return customer, err
	}
	defer tx.Rollback(ctx)

	var tenantID uuid.UUID
	err = tx.QueryRow(ctx,
		`INSERT INTO tenants (id, slug, metadata)
		 VALUES ($1, $2, '{}'::jsonb)
		 ON CONFLICT (slug) DO UPDATE SET slug = EXCLUDED.slug
		 RETURNING id`,
		uuid.New(), tenantSlug,
	).Scan(&tenantID)
	if err != nil {
		return customer, fmt.Errorf("ensure tenant: %w", err)
	}

	var metadataRaw []byte
	err = tx.QueryRow(ctx,
		`INSERT INTO customers (id, tenant_id, external_reference, metadata)
		 VALUES ($1, $2, $3, '{}'::jsonb)
		 ON CONFLICT (tenant_id, external_reference)
		 DO UPDATE SET updated_at = now()
		 RETURNING id, tenant_id, external_reference, metadata, created_at, updated_at`,
		uuid.New(), tenantID, externalReference,
	).Scan(&customer.ID, &customer.TenantID, &customer.ExternalReference, &metadataRaw, &customer.CreatedAt, &customer.UpdatedAt)
	if err != nil {
		return customer, fmt.Errorf("ensure customer: %w", err)
	}

	if err := unmarshalCustomerMetadata(metadataRaw, &customer.Metadata); err != nil {
		return customer, err
	}

	return customer, tx.Commit(ctx)
}

// GetByID возвращает клиента по идентификатору.
func (r *CustomerRepository) GetByID(ctx context.Context, id uuid.UUID) (models.Customer, error) {
	var customer models.Customer
	var metadataRaw []byte

	err := r.db.QueryRow(ctx,
		`SELECT id, tenant_id, external_reference, metadata, created_at, updated_at
		 FROM customers
		 WHERE id = $1`,
		id,
	).Scan(&customer.ID, &customer.TenantID, &customer.ExternalReference, &metadataRaw, &customer.CreatedAt, &customer.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return customer, ErrNotFound
		}
		return customer, err
	}

	if err := unmarshalCustomerMetadata(metadataRaw, &customer.Metadata); err != nil {
		return customer, err
	}

	return customer, nil
}

// UpdatePreferences замещает предпочтения клиента внутри metadata.
func (r *CustomerRepository) UpdatePreferences(ctx context.Context, id uuid.UUID, preferences models.CustomerPreferences) (models.Customer, error) {
	payload, err := json.Marshal(preferences)
	if err != nil {
		return models.Customer{}, fmt.Errorf("marshal preferences: %w", err)
	}

	var customer models.Customer
	var metadataRaw []byte

	err = r.db.QueryRow(ctx,
		`UPDATE customers
		 SET metadata = jsonb_set(metadata, '{preferences}', $2::jsonb, true), updated_at = now()
		 WHERE id = $1
		 RETURNING id, tenant_id, external_reference, metadata, created_at, updated_at`,
		id, payload,
	).Scan(&customer.ID, &customer.TenantID, &customer.ExternalReference, &metadataRaw, &customer.CreatedAt, &customer.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return customer, ErrNotFound
		}
		return customer, err
	}

	if err := unmarshalCustomerMetadata(metadataRaw, &customer.Metadata); err != nil {
		return customer, err
	}

	return customer, nil
}

// ListOptedIn возвращает клиентов арендатора, согласившихся на бенчмаркинг.
func (r *CustomerRepository) ListOptedIn(ctx context.Context, tenantID uuid.UUID) ([]models.Customer, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, tenant_id, external_reference, metadata, created_at, updated_at
		 FROM customers
		 WHERE tenant_id = $1
		   AND (metadata #>> '{preferences,allowBenchmarking}')::boolean IS TRUE`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]models.Customer, 0)
	for rows.Next() {
		var customer models.Customer
		var metadataRaw []byte
		if err := rows.Scan(&customer.ID, &customer.TenantID, &customer.ExternalReference, &metadataRaw, &customer.CreatedAt, &customer.UpdatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalCustomerMetadata(metadataRaw, &customer.Metadata); err != nil {
			return nil, err
		}
		customers = append(customers, customer)
	}

	return customers, rows.Err()
}

func unmarshalCustomerMetadata(raw []byte, target *models.CustomerMetadata) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("unmarshal customer metadata: %w", err)
	}
	return nil
}

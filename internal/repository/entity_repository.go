package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gfmartins/nfe-monitor/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// entityRepository implements EntityRepository backed by pgxpool.
type entityRepository struct {
	pool *pgxpool.Pool
}

// NewEntityRepository wires a monitored entity repository backed by pgxpool.
func NewEntityRepository(pool *pgxpool.Pool) EntityRepository {
	return &entityRepository{pool: pool}
}

const entityColumns = `id, name, cnpj, state_code, owner_email, active, last_checked_at, created_at`

func (r *entityRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.MonitoredEntity, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+entityColumns+` FROM monitored_entities WHERE id = $1`,
		id,
	)

	entity, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MonitoredEntity{}, domain.ErrEntityNotFound
		}
		return domain.MonitoredEntity{}, fmt.Errorf("failed to get monitored entity: %w", err)
	}

	return entity, nil
}

func (r *entityRepository) ListActive(ctx context.Context) ([]domain.MonitoredEntity, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT `+entityColumns+` FROM monitored_entities WHERE active ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active entities: %w", err)
	}
	defer rows.Close()

	var entities []domain.MonitoredEntity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan monitored entity: %w", err)
		}
		entities = append(entities, entity)
	}

	return entities, rows.Err()
}

func (r *entityRepository) UpdateLastChecked(ctx context.Context, id uuid.UUID, ts time.Time) error {
	// GREATEST keeps the timestamp monotonic if a slower concurrent attempt
	// finishes after a newer one already advanced it.
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE monitored_entities
		 SET last_checked_at = GREATEST(COALESCE(last_checked_at, 'epoch'::timestamptz), $2)
		 WHERE id = $1`,
		id,
		ts,
	)
	if err != nil {
		return fmt.Errorf("failed to update last_checked_at: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEntityNotFound
	}

	return nil
}

func scanEntity(row pgx.Row) (domain.MonitoredEntity, error) {
	var entity domain.MonitoredEntity
	err := row.Scan(
		&entity.ID,
		&entity.Name,
		&entity.CNPJ,
		&entity.StateCode,
		&entity.OwnerEmail,
		&entity.Active,
		&entity.LastCheckedAt,
		&entity.CreatedAt,
	)
	return entity, err
}

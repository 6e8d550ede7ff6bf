package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/gfmartins/nfe-monitor/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// runRepository implements RunRepository backed by pgxpool.
type runRepository struct {
	pool *pgxpool.Pool
}

// NewRunRepository wires a run log repository backed by pgxpool.
func NewRunRepository(pool *pgxpool.Pool) RunRepository {
	return &runRepository{pool: pool}
}

func (r *runRepository) Append(ctx context.Context, entityID uuid.UUID, attempt int, startedAt time.Time) (domain.RunRecord, error) {
	record := domain.RunRecord{
		EntityID:  entityID,
		Attempt:   attempt,
		StartedAt: startedAt,
		Status:    domain.RunStatusRunning,
	}

	err := r.pool.QueryRow(
		ctx,
		`INSERT INTO run_records (entity_id, attempt, started_at, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		entityID,
		attempt,
		startedAt,
		record.Status,
	).Scan(&record.ID)
	if err != nil {
		return domain.RunRecord{}, fmt.Errorf("failed to append run record: %w", err)
	}

	return record, nil
}

func (r *runRepository) Finalize(ctx context.Context, id uuid.UUID, status domain.RunStatus, found, newDocs int, errMsg *string) error {
	// The status guard keeps the log append-only: a record that already
	// reached a terminal status is never rewritten.
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE run_records
		 SET finished_at = now(), status = $2, documents_found = $3, new_documents = $4, error_message = $5
		 WHERE id = $1 AND status = $6`,
		id,
		status,
		found,
		newDocs,
		errMsg,
		domain.RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize run record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run record %s already finalized", id)
	}

	return nil
}

package repository

import (
	"context"
	"time"

	"github.com/gfmartins/nfe-monitor/internal/domain"

	"github.com/google/uuid"
)

// EntityRepository defines the storage operations the pipeline needs for
// monitored entities. Entity provisioning itself happens elsewhere.
type EntityRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.MonitoredEntity, error)
	ListActive(ctx context.Context) ([]domain.MonitoredEntity, error)
	// UpdateLastChecked advances last_checked_at. The stored value never
	// moves backwards, even under concurrent attempts.
	UpdateLastChecked(ctx context.Context, id uuid.UUID, ts time.Time) error
}

// DocumentRepository defines the storage operations for fiscal documents.
type DocumentRepository interface {
	GetByAccessKey(ctx context.Context, accessKey string) (domain.FiscalDocument, error)
	// Insert persists a newly scraped document. Losing a concurrent race
	// for the same access key yields domain.ErrDuplicateAccessKey.
	Insert(ctx context.Context, entityID uuid.UUID, doc domain.ScrapedDocument) (domain.FiscalDocument, error)
	ListUnnotified(ctx context.Context, entityID uuid.UUID) ([]domain.FiscalDocument, error)
	MarkNotified(ctx context.Context, ids []uuid.UUID) error
	ListScrapedSince(ctx context.Context, entityID uuid.UUID, since time.Time) ([]domain.FiscalDocument, error)
}

// RunRepository owns the append-only log of ingestion attempts.
type RunRepository interface {
	Append(ctx context.Context, entityID uuid.UUID, attempt int, startedAt time.Time) (domain.RunRecord, error)
	// Finalize writes the terminal status for a record. It is called exactly
	// once per record.
	Finalize(ctx context.Context, id uuid.UUID, status domain.RunStatus, found, newDocs int, errMsg *string) error
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gfmartins/nfe-monitor/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolationCode = "23505"

// documentRepository implements DocumentRepository backed by pgxpool.
type documentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository wires a fiscal document repository backed by pgxpool.
func NewDocumentRepository(pool *pgxpool.Pool) DocumentRepository {
	return &documentRepository{pool: pool}
}

const documentColumns = `id, entity_id, access_key, nfe_number, series, issuer_cnpj, issuer_name,
	issue_date, total_value, icms_value, ipi_value, status, xml_content, scraped_at, notified`

func (r *documentRepository) GetByAccessKey(ctx context.Context, accessKey string) (domain.FiscalDocument, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+documentColumns+` FROM fiscal_documents WHERE access_key = $1`,
		accessKey,
	)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FiscalDocument{}, domain.ErrDocumentNotFound
		}
		return domain.FiscalDocument{}, fmt.Errorf("failed to get document by access key: %w", err)
	}

	return doc, nil
}

func (r *documentRepository) Insert(ctx context.Context, entityID uuid.UUID, doc domain.ScrapedDocument) (domain.FiscalDocument, error) {
	status := doc.Status
	if status == "" {
		status = domain.DocumentStatusAuthorized
	}

	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO fiscal_documents
		   (entity_id, access_key, nfe_number, series, issuer_cnpj, issuer_name,
		    issue_date, total_value, icms_value, ipi_value, status, xml_content)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING `+documentColumns,
		entityID,
		doc.AccessKey,
		doc.Number,
		doc.Series,
		doc.IssuerCNPJ,
		doc.IssuerName,
		doc.IssueDate,
		doc.TotalValue,
		doc.ICMSValue,
		doc.IPIValue,
		status,
		doc.XMLContent,
	)

	inserted, err := scanDocument(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return domain.FiscalDocument{}, domain.ErrDuplicateAccessKey
		}
		return domain.FiscalDocument{}, fmt.Errorf("failed to insert fiscal document: %w", err)
	}

	return inserted, nil
}

func (r *documentRepository) ListUnnotified(ctx context.Context, entityID uuid.UUID) ([]domain.FiscalDocument, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT `+documentColumns+`
		 FROM fiscal_documents
		 WHERE entity_id = $1 AND NOT notified
		 ORDER BY issue_date DESC`,
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list unnotified documents: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

func (r *documentRepository) MarkNotified(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := r.pool.Exec(
		ctx,
		`UPDATE fiscal_documents SET notified = TRUE WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("failed to mark documents notified: %w", err)
	}

	return nil
}

func (r *documentRepository) ListScrapedSince(ctx context.Context, entityID uuid.UUID, since time.Time) ([]domain.FiscalDocument, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT `+documentColumns+`
		 FROM fiscal_documents
		 WHERE entity_id = $1 AND scraped_at >= $2
		 ORDER BY issue_date DESC`,
		entityID,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents scraped since %s: %w", since, err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

func collectDocuments(rows pgx.Rows) ([]domain.FiscalDocument, error) {
	var docs []domain.FiscalDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fiscal document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func scanDocument(row pgx.Row) (domain.FiscalDocument, error) {
	var doc domain.FiscalDocument
	err := row.Scan(
		&doc.ID,
		&doc.EntityID,
		&doc.AccessKey,
		&doc.Number,
		&doc.Series,
		&doc.IssuerCNPJ,
		&doc.IssuerName,
		&doc.IssueDate,
		&doc.TotalValue,
		&doc.ICMSValue,
		&doc.IPIValue,
		&doc.Status,
		&doc.XMLContent,
		&doc.ScrapedAt,
		&doc.Notified,
	)
	return doc, err
}

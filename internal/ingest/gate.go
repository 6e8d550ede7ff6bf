// Package ingest contains the deduplication gate and the per-entity attempt
// coordinator. Everything that makes an attempt safely retryable lives here.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/gfmartins/nfe-monitor/internal/domain"
	"github.com/gfmartins/nfe-monitor/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Gate persists scraped documents at most once per access key. Re-running
// Ingest with an overlapping batch never creates duplicates: the first
// successful writer for a key wins and later attempts are no-ops.
type Gate struct {
	documents repository.DocumentRepository
	log       logrus.FieldLogger
}

// NewGate creates the ingestion gate.
func NewGate(documents repository.DocumentRepository, log logrus.FieldLogger) *Gate {
	return &Gate{documents: documents, log: log}
}

// Ingest persists the records that are not yet known and returns how many
// were newly created.
func (g *Gate) Ingest(ctx context.Context, entityID uuid.UUID, records []domain.ScrapedDocument) (int, error) {
	newCount := 0
	for _, record := range records {
		_, err := g.documents.GetByAccessKey(ctx, record.AccessKey)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrDocumentNotFound) {
			return newCount, fmt.Errorf("failed to check access key %s: %w", record.AccessKey, err)
		}

		if _, err := g.documents.Insert(ctx, entityID, record); err != nil {
			// Another attempt for the same entity may have written the key
			// between lookup and insert; that attempt won, nothing to do.
			if errors.Is(err, domain.ErrDuplicateAccessKey) {
				g.log.WithField("access_key", record.AccessKey).
					Debug("lost insert race, document already persisted")
				continue
			}
			return newCount, fmt.Errorf("failed to persist document %s: %w", record.AccessKey, err)
		}
		newCount++
	}

	return newCount, nil
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gfmartins/nfe-monitor/internal/domain"
	"github.com/gfmartins/nfe-monitor/internal/portal"
	"github.com/gfmartins/nfe-monitor/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// defaultWindow is how far back the first scrape for an entity reaches when
// it has never been checked before.
const defaultWindow = 30 * 24 * time.Hour

// OutcomeKind tags the result of one attempt.
type OutcomeKind int

const (
	// Succeeded means the attempt ran to completion.
	Succeeded OutcomeKind = iota
	// RetryableFailure means a transient session failure aborted the
	// attempt; the whole attempt is worth re-running.
	RetryableFailure
	// PermanentFailure means retrying cannot help (the entity is gone or
	// the failure is structural).
	PermanentFailure
)

// Outcome is the tagged result of RunAttempt. The scheduler branches on
// Kind explicitly instead of re-inspecting errors.
type Outcome struct {
	Kind           OutcomeKind
	DocumentsFound int
	NewDocuments   int
	Err            error
}

// Coordinator wraps one entity's end-to-end ingestion attempt: load the
// entity, log the attempt, drive the portal session, parse, ingest through
// the gate and record the result. Retries are not executed in-process; the
// scheduler requeues retryable outcomes after a fixed delay.
type Coordinator struct {
	entities repository.EntityRepository
	runs     repository.RunRepository
	gate     *Gate
	sessions portal.Factory
	now      func() time.Time
	log      logrus.FieldLogger
}

// NewCoordinator creates the attempt coordinator.
func NewCoordinator(
	entities repository.EntityRepository,
	runs repository.RunRepository,
	gate *Gate,
	sessions portal.Factory,
	log logrus.FieldLogger,
) *Coordinator {
	return &Coordinator{
		entities: entities,
		runs:     runs,
		gate:     gate,
		sessions: sessions,
		now:      time.Now,
		log:      log,
	}
}

// RunAttempt executes one ingestion attempt for the entity.
func (c *Coordinator) RunAttempt(ctx context.Context, entityID uuid.UUID, attempt int) Outcome {
	log := c.log.WithFields(logrus.Fields{"entity_id": entityID, "attempt": attempt})

	entity, err := c.entities.GetByID(ctx, entityID)
	if err != nil {
		if errors.Is(err, domain.ErrEntityNotFound) {
			log.Warn("entity no longer exists, not retrying")
			return Outcome{Kind: PermanentFailure, Err: err}
		}
		return Outcome{Kind: RetryableFailure, Err: fmt.Errorf("failed to load entity: %w", err)}
	}

	record, err := c.runs.Append(ctx, entityID, attempt, c.now())
	if err != nil {
		return Outcome{Kind: RetryableFailure, Err: fmt.Errorf("failed to open run record: %w", err)}
	}
	log = log.WithField("run_id", record.ID)

	found, newCount, err := c.attempt(ctx, entity, log)
	if err != nil {
		c.finalize(record.ID, domain.RunStatusFailed, found, newCount, err, log)
		if portal.Retryable(err) {
			return Outcome{Kind: RetryableFailure, DocumentsFound: found, Err: err}
		}
		if errors.Is(err, domain.ErrEntityNotFound) {
			return Outcome{Kind: PermanentFailure, Err: err}
		}
		// Storage and context failures are treated as transient; the next
		// attempt either succeeds or exhausts the retry budget.
		return Outcome{Kind: RetryableFailure, DocumentsFound: found, Err: err}
	}

	c.finalize(record.ID, domain.RunStatusSuccess, found, newCount, nil, log)
	log.WithFields(logrus.Fields{"found": found, "new": newCount}).Info("ingestion attempt succeeded")

	return Outcome{Kind: Succeeded, DocumentsFound: found, NewDocuments: newCount}
}

func (c *Coordinator) attempt(ctx context.Context, entity domain.MonitoredEntity, log logrus.FieldLogger) (found, newCount int, err error) {
	session := c.sessions(entity)
	defer session.Cleanup()

	if err := session.Login(ctx); err != nil {
		return 0, 0, err
	}

	since := entity.CheckWindow(c.now(), defaultWindow)
	documents, err := session.Scrape(ctx, since)
	if err != nil {
		return 0, 0, err
	}
	found = len(documents)

	newCount, err = c.gate.Ingest(ctx, entity.ID, documents)
	if err != nil {
		return found, newCount, err
	}

	if err := c.entities.UpdateLastChecked(ctx, entity.ID, c.now()); err != nil {
		return found, newCount, err
	}

	return found, newCount, nil
}

func (c *Coordinator) finalize(runID uuid.UUID, status domain.RunStatus, found, newCount int, attemptErr error, log logrus.FieldLogger) {
	var errMsg *string
	if attemptErr != nil {
		msg := attemptErr.Error()
		errMsg = &msg
	}

	// Finalization must not be lost to the attempt's own cancellation.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.runs.Finalize(ctx, runID, status, found, newCount, errMsg); err != nil {
		log.WithError(err).Error("failed to finalize run record")
	}
}

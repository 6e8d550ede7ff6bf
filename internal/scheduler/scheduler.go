// Package scheduler fans ingestion attempts out to a worker pool on a fixed
// cadence and fires the daily digest once per day.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gfmartins/nfe-monitor/internal/config"
	"github.com/gfmartins/nfe-monitor/internal/ingest"
	"github.com/gfmartins/nfe-monitor/internal/notify"
	"github.com/gfmartins/nfe-monitor/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AttemptRunner executes one ingestion attempt. Implemented by
// ingest.Coordinator.
type AttemptRunner interface {
	RunAttempt(ctx context.Context, entityID uuid.UUID, attempt int) ingest.Outcome
}

// Notifier dispatches digests. Implemented by notify.Dispatcher.
type Notifier interface {
	NotifyNewDocuments(ctx context.Context, entityID uuid.UUID) (notify.DispatchStatus, error)
	SendDailyDigest(ctx context.Context) (int, error)
}

// job is one queued ingestion attempt.
type job struct {
	entityID uuid.UUID
	attempt  int
}

// Scheduler owns the job queue, the worker pool and the periodic triggers.
// Different entities run concurrently; one entity's attempt is sequential
// inside its own session, and an in-flight entity is never fanned out again
// until its attempt chain ends.
type Scheduler struct {
	cfg      config.SchedulerConfig
	entities repository.EntityRepository
	runner   AttemptRunner
	notifier Notifier
	location *time.Location
	log      logrus.FieldLogger

	queue chan job
	wg    sync.WaitGroup

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
}

// New creates a scheduler. The digest time-of-day is interpreted in the
// configured timezone.
func New(
	cfg config.SchedulerConfig,
	entities repository.EntityRepository,
	runner AttemptRunner,
	notifier Notifier,
	log logrus.FieldLogger,
) (*Scheduler, error) {
	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler timezone %q: %w", cfg.Timezone, err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	return &Scheduler{
		cfg:      cfg,
		entities: entities,
		runner:   runner,
		notifier: notifier,
		location: location,
		log:      log,
		queue:    make(chan job, 64),
		inflight: make(map[uuid.UUID]struct{}),
	}, nil
}

// Run blocks until ctx is cancelled, then drains the worker pool.
func (s *Scheduler) Run(ctx context.Context) error {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	s.wg.Add(1)
	go s.ingestionLoop(ctx)

	s.wg.Add(1)
	go s.digestLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			s.runJob(ctx, j)
		}
	}
}

func (s *Scheduler) ingestionLoop(ctx context.Context) {
	defer s.wg.Done()

	// One fan-out right away so a fresh process does not idle for a full
	// interval before the first check.
	s.fanOut(ctx)

	ticker := time.NewTicker(s.cfg.ScrapeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fanOut(ctx)
		}
	}
}

// fanOut enqueues one first attempt per active entity. It does not wait for
// job completion, and entities with an attempt chain still in flight are
// skipped until that chain ends.
func (s *Scheduler) fanOut(ctx context.Context) {
	entities, err := s.entities.ListActive(ctx)
	if err != nil {
		s.log.WithError(err).Error("failed to enumerate active entities")
		return
	}

	enqueued := 0
	for _, entity := range entities {
		if !s.acquire(entity.ID) {
			s.log.WithField("entity_id", entity.ID).Debug("attempt already in flight, skipping")
			continue
		}
		select {
		case s.queue <- job{entityID: entity.ID, attempt: 1}:
			enqueued++
		default:
			s.release(entity.ID)
			s.log.WithField("entity_id", entity.ID).Warn("job queue full, entity skipped this tick")
		}
	}

	s.log.WithFields(logrus.Fields{"active": len(entities), "enqueued": enqueued}).
		Info("ingestion fan-out")
}

func (s *Scheduler) digestLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		wait := time.Until(s.nextDigestTime(time.Now().In(s.location)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			digestCtx, cancel := context.WithTimeout(ctx, s.cfg.HardTimeLimit)
			sent, err := s.notifier.SendDailyDigest(digestCtx)
			cancel()
			if err != nil {
				s.log.WithError(err).Error("daily digest failed")
			} else {
				s.log.WithField("sent", sent).Info("daily digest complete")
			}
		}
	}
}

// nextDigestTime returns the next occurrence of the configured time-of-day
// strictly after now.
func (s *Scheduler) nextDigestTime(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(),
		s.cfg.DigestHour, s.cfg.DigestMinute, 0, 0, s.location)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// runJob executes one attempt under the hard time limit, warns at the soft
// limit, and decides requeue-or-stop from the tagged outcome.
func (s *Scheduler) runJob(ctx context.Context, j job) {
	log := s.log.WithFields(logrus.Fields{"entity_id": j.entityID, "attempt": j.attempt})

	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.HardTimeLimit)
	defer cancel()

	soft := time.AfterFunc(s.cfg.SoftTimeLimit, func() {
		log.Warn("attempt exceeded soft time limit")
	})
	defer soft.Stop()

	outcome := s.runner.RunAttempt(jobCtx, j.entityID, j.attempt)

	switch outcome.Kind {
	case ingest.Succeeded:
		s.release(j.entityID)
		if outcome.NewDocuments > 0 {
			s.dispatchNotification(ctx, j.entityID)
		}

	case ingest.RetryableFailure:
		if j.attempt >= s.cfg.MaxAttempts {
			s.release(j.entityID)
			log.WithError(outcome.Err).Error("retry budget exhausted, waiting for next tick")
			return
		}
		log.WithError(outcome.Err).Warn("transient failure, requeueing attempt")
		s.requeueAfter(ctx, job{entityID: j.entityID, attempt: j.attempt + 1})

	case ingest.PermanentFailure:
		s.release(j.entityID)
		log.WithError(outcome.Err).Error("permanent failure, not retrying")
	}
}

// requeueAfter schedules the next attempt through the queue after the fixed
// retry delay. The entity's lease is kept for the whole attempt chain.
func (s *Scheduler) requeueAfter(ctx context.Context, j job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-ctx.Done():
			s.release(j.entityID)
		case <-time.After(s.cfg.RetryDelay):
			select {
			case s.queue <- j:
			case <-ctx.Done():
				s.release(j.entityID)
			}
		}
	}()
}

// dispatchNotification runs the digest as its own job: its failure is not
// captured by the ingestion attempt's run record.
func (s *Scheduler) dispatchNotification(ctx context.Context, entityID uuid.UUID) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		notifyCtx, cancel := context.WithTimeout(ctx, s.cfg.HardTimeLimit)
		defer cancel()
		if _, err := s.notifier.NotifyNewDocuments(notifyCtx, entityID); err != nil {
			s.log.WithField("entity_id", entityID).WithError(err).Error("notification dispatch failed")
		}
	}()
}

func (s *Scheduler) acquire(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

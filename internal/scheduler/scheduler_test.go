package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gfmartins/nfe-monitor/internal/config"
	"github.com/gfmartins/nfe-monitor/internal/domain"
	"github.com/gfmartins/nfe-monitor/internal/ingest"
	"github.com/gfmartins/nfe-monitor/internal/notify"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEntityRepo struct {
	active []domain.MonitoredEntity
}

func (s *stubEntityRepo) GetByID(_ context.Context, id uuid.UUID) (domain.MonitoredEntity, error) {
	for _, e := range s.active {
		if e.ID == id {
			return e, nil
		}
	}
	return domain.MonitoredEntity{}, domain.ErrEntityNotFound
}

func (s *stubEntityRepo) ListActive(context.Context) ([]domain.MonitoredEntity, error) {
	return s.active, nil
}

func (s *stubEntityRepo) UpdateLastChecked(context.Context, uuid.UUID, time.Time) error {
	return nil
}

// fakeRunner returns scripted outcomes keyed by attempt number.
type fakeRunner struct {
	mu       sync.Mutex
	outcomes map[int]ingest.Outcome
	calls    []int
}

func (f *fakeRunner) RunAttempt(_ context.Context, _ uuid.UUID, attempt int) ingest.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, attempt)
	if outcome, ok := f.outcomes[attempt]; ok {
		return outcome
	}
	return ingest.Outcome{Kind: ingest.Succeeded}
}

func (f *fakeRunner) attempts() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

type fakeNotifier struct {
	notified chan uuid.UUID
}

func (f *fakeNotifier) NotifyNewDocuments(_ context.Context, entityID uuid.UUID) (notify.DispatchStatus, error) {
	f.notified <- entityID
	return notify.DispatchSent, nil
}

func (f *fakeNotifier) SendDailyDigest(context.Context) (int, error) { return 0, nil }

func testConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Workers:        2,
		ScrapeInterval: time.Hour,
		RetryDelay:     10 * time.Millisecond,
		MaxAttempts:    3,
		SoftTimeLimit:  time.Second,
		HardTimeLimit:  2 * time.Second,
		DigestHour:     8,
		Timezone:       "America/Sao_Paulo",
	}
}

func testScheduler(t *testing.T, entities *stubEntityRepo, runner *fakeRunner, notifier *fakeNotifier) *Scheduler {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	s, err := New(testConfig(), entities, runner, notifier, log)
	require.NoError(t, err)
	return s
}

func entityWith(id uuid.UUID) domain.MonitoredEntity {
	return domain.MonitoredEntity{ID: id, Active: true}
}

func TestFanOutEnqueuesActiveEntities(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	entities := &stubEntityRepo{active: []domain.MonitoredEntity{entityWith(a), entityWith(b)}}
	s := testScheduler(t, entities, &fakeRunner{}, &fakeNotifier{})

	s.fanOut(context.Background())

	require.Len(t, s.queue, 2)
	first := <-s.queue
	second := <-s.queue
	assert.Equal(t, 1, first.attempt)
	assert.Equal(t, 1, second.attempt)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, []uuid.UUID{first.entityID, second.entityID})
}

func TestFanOutSkipsInFlightEntities(t *testing.T) {
	id := uuid.New()
	entities := &stubEntityRepo{active: []domain.MonitoredEntity{entityWith(id)}}
	s := testScheduler(t, entities, &fakeRunner{}, &fakeNotifier{})

	s.fanOut(context.Background())
	require.Len(t, s.queue, 1)

	// A second tick with the first attempt still leased adds nothing.
	s.fanOut(context.Background())
	assert.Len(t, s.queue, 1)

	<-s.queue
	s.release(id)
	s.fanOut(context.Background())
	assert.Len(t, s.queue, 1)
}

func TestRunJobSuccessTriggersNotification(t *testing.T) {
	id := uuid.New()
	runner := &fakeRunner{outcomes: map[int]ingest.Outcome{
		1: {Kind: ingest.Succeeded, DocumentsFound: 3, NewDocuments: 3},
	}}
	notifier := &fakeNotifier{notified: make(chan uuid.UUID, 1)}
	s := testScheduler(t, &stubEntityRepo{}, runner, notifier)

	require.True(t, s.acquire(id))
	s.runJob(context.Background(), job{entityID: id, attempt: 1})

	select {
	case got := <-notifier.notified:
		assert.Equal(t, id, got)
	case <-time.After(time.Second):
		t.Fatal("notification was never dispatched")
	}

	// Lease released: the next tick may enqueue again.
	assert.True(t, s.acquire(id))
}

func TestRunJobSuccessWithoutNewDocumentsDoesNotNotify(t *testing.T) {
	id := uuid.New()
	runner := &fakeRunner{outcomes: map[int]ingest.Outcome{
		1: {Kind: ingest.Succeeded, DocumentsFound: 2, NewDocuments: 0},
	}}
	notifier := &fakeNotifier{notified: make(chan uuid.UUID, 1)}
	s := testScheduler(t, &stubEntityRepo{}, runner, notifier)

	require.True(t, s.acquire(id))
	s.runJob(context.Background(), job{entityID: id, attempt: 1})
	s.wg.Wait()

	assert.Empty(t, notifier.notified)
}

func TestRunJobRetryableRequeuesWithNextAttempt(t *testing.T) {
	id := uuid.New()
	runner := &fakeRunner{outcomes: map[int]ingest.Outcome{
		1: {Kind: ingest.RetryableFailure, Err: errors.New("portal timeout")},
	}}
	s := testScheduler(t, &stubEntityRepo{}, runner, &fakeNotifier{})

	require.True(t, s.acquire(id))
	s.runJob(context.Background(), job{entityID: id, attempt: 1})

	select {
	case j := <-s.queue:
		assert.Equal(t, id, j.entityID)
		assert.Equal(t, 2, j.attempt)
	case <-time.After(time.Second):
		t.Fatal("retry was never requeued")
	}

	// The lease is held across the attempt chain.
	assert.False(t, s.acquire(id))
}

func TestRunJobStopsAfterMaxAttempts(t *testing.T) {
	id := uuid.New()
	runner := &fakeRunner{outcomes: map[int]ingest.Outcome{
		3: {Kind: ingest.RetryableFailure, Err: errors.New("still failing")},
	}}
	s := testScheduler(t, &stubEntityRepo{}, runner, &fakeNotifier{})

	require.True(t, s.acquire(id))
	s.runJob(context.Background(), job{entityID: id, attempt: 3})
	s.wg.Wait()

	assert.Empty(t, s.queue, "no retry after the final attempt")
	assert.True(t, s.acquire(id), "lease released for the next tick")
}

func TestRunJobPermanentFailureNeverRetries(t *testing.T) {
	id := uuid.New()
	runner := &fakeRunner{outcomes: map[int]ingest.Outcome{
		1: {Kind: ingest.PermanentFailure, Err: domain.ErrEntityNotFound},
	}}
	s := testScheduler(t, &stubEntityRepo{}, runner, &fakeNotifier{})

	require.True(t, s.acquire(id))
	s.runJob(context.Background(), job{entityID: id, attempt: 1})
	s.wg.Wait()

	assert.Empty(t, s.queue)
	assert.Equal(t, []int{1}, runner.attempts())
}

func TestRetryChainRunsAllThreeAttempts(t *testing.T) {
	id := uuid.New()
	runner := &fakeRunner{outcomes: map[int]ingest.Outcome{
		1: {Kind: ingest.RetryableFailure, Err: errors.New("t1")},
		2: {Kind: ingest.RetryableFailure, Err: errors.New("t2")},
		3: {Kind: ingest.RetryableFailure, Err: errors.New("t3")},
	}}
	s := testScheduler(t, &stubEntityRepo{}, runner, &fakeNotifier{})

	ctx := context.Background()
	require.True(t, s.acquire(id))
	s.runJob(ctx, job{entityID: id, attempt: 1})
	for attempt := 2; attempt <= 3; attempt++ {
		select {
		case j := <-s.queue:
			s.runJob(ctx, j)
		case <-time.After(time.Second):
			t.Fatalf("attempt %d was never requeued", attempt)
		}
	}
	s.wg.Wait()

	assert.Equal(t, []int{1, 2, 3}, runner.attempts())
	assert.Empty(t, s.queue, "no automatic retry after exhaustion")
}

func TestNextDigestTime(t *testing.T) {
	s := testScheduler(t, &stubEntityRepo{}, &fakeRunner{}, &fakeNotifier{})

	location, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	before := time.Date(2024, 3, 10, 7, 0, 0, 0, location)
	next := s.nextDigestTime(before)
	assert.Equal(t, time.Date(2024, 3, 10, 8, 0, 0, 0, location), next)

	after := time.Date(2024, 3, 10, 9, 0, 0, 0, location)
	next = s.nextDigestTime(after)
	assert.Equal(t, time.Date(2024, 3, 11, 8, 0, 0, 0, location), next)
}

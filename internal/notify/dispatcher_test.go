package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gfmartins/nfe-monitor/internal/domain"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEntityRepo struct {
	entities map[uuid.UUID]domain.MonitoredEntity
}

func (s *stubEntityRepo) GetByID(_ context.Context, id uuid.UUID) (domain.MonitoredEntity, error) {
	entity, ok := s.entities[id]
	if !ok {
		return domain.MonitoredEntity{}, domain.ErrEntityNotFound
	}
	return entity, nil
}

func (s *stubEntityRepo) ListActive(_ context.Context) ([]domain.MonitoredEntity, error) {
	var active []domain.MonitoredEntity
	for _, e := range s.entities {
		if e.Active {
			active = append(active, e)
		}
	}
	return active, nil
}

func (s *stubEntityRepo) UpdateLastChecked(_ context.Context, id uuid.UUID, ts time.Time) error {
	entity := s.entities[id]
	entity.LastCheckedAt = &ts
	s.entities[id] = entity
	return nil
}

type stubDocumentRepo struct {
	docs map[uuid.UUID]domain.FiscalDocument
}

func (s *stubDocumentRepo) GetByAccessKey(_ context.Context, key string) (domain.FiscalDocument, error) {
	for _, doc := range s.docs {
		if doc.AccessKey == key {
			return doc, nil
		}
	}
	return domain.FiscalDocument{}, domain.ErrDocumentNotFound
}

func (s *stubDocumentRepo) Insert(_ context.Context, entityID uuid.UUID, rec domain.ScrapedDocument) (domain.FiscalDocument, error) {
	doc := domain.FiscalDocument{ID: uuid.New(), EntityID: entityID, AccessKey: rec.AccessKey}
	s.docs[doc.ID] = doc
	return doc, nil
}

func (s *stubDocumentRepo) ListUnnotified(_ context.Context, entityID uuid.UUID) ([]domain.FiscalDocument, error) {
	var out []domain.FiscalDocument
	for _, doc := range s.docs {
		if doc.EntityID == entityID && !doc.Notified {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *stubDocumentRepo) MarkNotified(_ context.Context, ids []uuid.UUID) error {
	for _, id := range ids {
		doc := s.docs[id]
		doc.Notified = true
		s.docs[id] = doc
	}
	return nil
}

func (s *stubDocumentRepo) ListScrapedSince(_ context.Context, entityID uuid.UUID, since time.Time) ([]domain.FiscalDocument, error) {
	var out []domain.FiscalDocument
	for _, doc := range s.docs {
		if doc.EntityID == entityID && !doc.ScrapedAt.Before(since) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// fakeSender records every message and can be told to fail.
type fakeSender struct {
	sent []Message
	err  error
}

func (f *fakeSender) Send(msg Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func fixture() (*stubEntityRepo, *stubDocumentRepo, domain.MonitoredEntity) {
	entity := domain.MonitoredEntity{
		ID:         uuid.New(),
		Name:       "Empresa Exemplo",
		CNPJ:       "12.345.678/0001-90",
		OwnerEmail: "dono@example.com",
		Active:     true,
	}
	entities := &stubEntityRepo{entities: map[uuid.UUID]domain.MonitoredEntity{entity.ID: entity}}
	documents := &stubDocumentRepo{docs: map[uuid.UUID]domain.FiscalDocument{}}
	return entities, documents, entity
}

func addDocument(repo *stubDocumentRepo, entityID uuid.UUID, key string, value float64, notified bool, scrapedAt time.Time) domain.FiscalDocument {
	doc := domain.FiscalDocument{
		ID:         uuid.New(),
		EntityID:   entityID,
		AccessKey:  key,
		Number:     key,
		IssuerName: "Fornecedor",
		IssueDate:  time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		TotalValue: value,
		Status:     domain.DocumentStatusAuthorized,
		ScrapedAt:  scrapedAt,
		Notified:   notified,
	}
	repo.docs[doc.ID] = doc
	return doc
}

func TestNotifyNewDocumentsSendsOneDigest(t *testing.T) {
	entities, documents, entity := fixture()
	addDocument(documents, entity.ID, "k1", 100.50, false, time.Now())
	addDocument(documents, entity.ID, "k2", 200, false, time.Now())
	sender := &fakeSender{}

	d := NewDispatcher(entities, documents, sender, "http://localhost:8501", testLogger())
	status, err := d.NotifyNewDocuments(context.Background(), entity.ID)

	require.NoError(t, err)
	assert.Equal(t, DispatchSent, status)
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	assert.Equal(t, "dono@example.com", msg.To)
	assert.Contains(t, msg.Subject, "2 nova(s) NFe")
	assert.Contains(t, msg.HTML, entity.CNPJ)
	assert.Contains(t, msg.HTML, "300,50")

	for _, doc := range documents.docs {
		assert.True(t, doc.Notified, "document %s should be flagged", doc.AccessKey)
	}
}

func TestNotifyCoversEarlierUnnotifiedDocuments(t *testing.T) {
	entities, documents, entity := fixture()
	// Left over from a run whose digest never went out.
	addDocument(documents, entity.ID, "old", 50, false, time.Now().Add(-48*time.Hour))
	addDocument(documents, entity.ID, "new", 100, false, time.Now())
	sender := &fakeSender{}

	d := NewDispatcher(entities, documents, sender, "", testLogger())
	status, err := d.NotifyNewDocuments(context.Background(), entity.ID)

	require.NoError(t, err)
	assert.Equal(t, DispatchSent, status)
	assert.Contains(t, sender.sent[0].Subject, "2 nova(s)")
}

func TestNotifyWithNothingOutstandingIsSkipped(t *testing.T) {
	entities, documents, entity := fixture()
	addDocument(documents, entity.ID, "k1", 100, true, time.Now())
	sender := &fakeSender{}

	d := NewDispatcher(entities, documents, sender, "", testLogger())
	status, err := d.NotifyNewDocuments(context.Background(), entity.ID)

	require.NoError(t, err)
	assert.Equal(t, DispatchSkipped, status)
	assert.Empty(t, sender.sent)
}

func TestNotifyTwiceSecondIsNoOp(t *testing.T) {
	entities, documents, entity := fixture()
	addDocument(documents, entity.ID, "k1", 100, false, time.Now())
	sender := &fakeSender{}

	d := NewDispatcher(entities, documents, sender, "", testLogger())
	first, err := d.NotifyNewDocuments(context.Background(), entity.ID)
	require.NoError(t, err)
	require.Equal(t, DispatchSent, first)

	second, err := d.NotifyNewDocuments(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, DispatchSkipped, second)
	assert.Len(t, sender.sent, 1)
}

func TestNotifySendFailureLeavesFlagsUnset(t *testing.T) {
	entities, documents, entity := fixture()
	doc := addDocument(documents, entity.ID, "k1", 100, false, time.Now())
	sender := &fakeSender{err: errors.New("smtp unreachable")}

	d := NewDispatcher(entities, documents, sender, "", testLogger())
	status, err := d.NotifyNewDocuments(context.Background(), entity.ID)

	assert.Equal(t, DispatchFailed, status)
	assert.Error(t, err)
	assert.False(t, documents.docs[doc.ID].Notified)

	// The next trigger re-covers the document.
	sender.err = nil
	retry, err := d.NotifyNewDocuments(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Equal(t, DispatchSent, retry)
}

func TestDailyDigestWindowAndFlags(t *testing.T) {
	entities, documents, entity := fixture()
	inWindow := addDocument(documents, entity.ID, "recent", 100, true, time.Now().Add(-2*time.Hour))
	addDocument(documents, entity.ID, "stale", 50, false, time.Now().Add(-48*time.Hour))
	sender := &fakeSender{}

	d := NewDispatcher(entities, documents, sender, "", testLogger())
	sent, err := d.SendDailyDigest(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Subject, "1 documento(s)")

	// The daily digest never touches the notified flag.
	assert.True(t, documents.docs[inWindow.ID].Notified)

	require.Len(t, sender.sent[0].Attachments, 1)
	var buf bytes.Buffer
	require.NoError(t, sender.sent[0].Attachments[0].Write(&buf))
	assert.NotZero(t, buf.Len(), "spreadsheet attachment should have content")
}

func TestDailyDigestSkipsQuietEntities(t *testing.T) {
	entities, documents, _ := fixture()
	sender := &fakeSender{}

	d := NewDispatcher(entities, documents, sender, "", testLogger())
	sent, err := d.SendDailyDigest(context.Background())

	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, sender.sent)
}

func TestFormatBRL(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{1234.56, "1.234,56"},
		{0.01, "0,01"},
		{100, "100,00"},
		{12345678.9, "12.345.678,90"},
		{-1234.5, "-1.234,50"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, formatBRL(tc.in), "input %v", tc.in)
	}
}

package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gfmartins/nfe-monitor/internal/domain"
	"github.com/gfmartins/nfe-monitor/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DispatchStatus is the outcome of one dispatch.
type DispatchStatus string

const (
	DispatchSent    DispatchStatus = "sent"
	DispatchSkipped DispatchStatus = "skipped"
	DispatchFailed  DispatchStatus = "failed"
)

// Dispatcher turns newly ingested documents into digest emails.
type Dispatcher struct {
	entities     repository.EntityRepository
	documents    repository.DocumentRepository
	sender       Sender
	dashboardURL string
	now          func() time.Time
	log          logrus.FieldLogger
}

// NewDispatcher creates the notification dispatcher.
func NewDispatcher(
	entities repository.EntityRepository,
	documents repository.DocumentRepository,
	sender Sender,
	dashboardURL string,
	log logrus.FieldLogger,
) *Dispatcher {
	return &Dispatcher{
		entities:     entities,
		documents:    documents,
		sender:       sender,
		dashboardURL: dashboardURL,
		now:          time.Now,
		log:          log,
	}
}

// NotifyNewDocuments sends one digest covering every document for the
// entity that has not been notified yet — not just the current batch, so a
// digest after a retried run still covers everything outstanding. On send
// success all covered documents are flagged notified as one unit; on send
// failure the flags stay unset and the next trigger re-covers them.
func (d *Dispatcher) NotifyNewDocuments(ctx context.Context, entityID uuid.UUID) (DispatchStatus, error) {
	entity, err := d.entities.GetByID(ctx, entityID)
	if err != nil {
		return DispatchFailed, fmt.Errorf("failed to load entity for digest: %w", err)
	}

	docs, err := d.documents.ListUnnotified(ctx, entityID)
	if err != nil {
		return DispatchFailed, fmt.Errorf("failed to select unnotified documents: %w", err)
	}
	if len(docs) == 0 {
		return DispatchSkipped, nil
	}

	subject := fmt.Sprintf("📄 %d nova(s) NFe detectada(s) — %s", len(docs), entity.Name)
	msg := Message{
		To:      entity.OwnerEmail,
		Subject: subject,
		HTML:    d.composeDigest(entity, docs),
	}

	if err := d.sender.Send(msg); err != nil {
		// Known gap: the failure is logged but not recorded anywhere
		// durable, and no retry is scheduled.
		d.log.WithField("entity_id", entityID).WithError(err).Error("digest delivery failed")
		return DispatchFailed, err
	}

	ids := make([]uuid.UUID, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}
	if err := d.documents.MarkNotified(ctx, ids); err != nil {
		return DispatchFailed, fmt.Errorf("failed to mark documents notified: %w", err)
	}

	d.log.WithFields(logrus.Fields{"entity_id": entityID, "documents": len(docs)}).
		Info("digest sent")
	return DispatchSent, nil
}

// SendDailyDigest sends one summary per active entity that had documents
// scraped within the prior 24 hours. It neither reads nor writes the
// notified flag and keeps no send acknowledgement, so it is not idempotent
// across retries. Returns how many digests were sent.
func (d *Dispatcher) SendDailyDigest(ctx context.Context) (int, error) {
	entities, err := d.entities.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active entities: %w", err)
	}

	since := d.now().Add(-24 * time.Hour)
	sent := 0
	for _, entity := range entities {
		docs, err := d.documents.ListScrapedSince(ctx, entity.ID, since)
		if err != nil {
			d.log.WithField("entity_id", entity.ID).WithError(err).
				Error("failed to collect daily digest documents")
			continue
		}
		if len(docs) == 0 {
			continue
		}

		var total float64
		for _, doc := range docs {
			total += doc.TotalValue
		}

		msg := Message{
			To:      entity.OwnerEmail,
			Subject: fmt.Sprintf("📊 Resumo diário NFe Monitor — %d documento(s)", len(docs)),
			HTML: fmt.Sprintf(`<html><body>
<h2>Resumo Diário — %s</h2>
<p>Novos documentos nas últimas 24h para %s: <strong>%d</strong></p>
<p>Valor total: <strong>R$ %s</strong></p>
<p><a href="%s">Ver detalhes</a></p>
</body></html>`,
				d.now().Format("02/01/2006"), entity.Name, len(docs), formatBRL(total), d.dashboardURL),
			Attachments: []Attachment{{
				Filename: "nfe-resumo-diario.xlsx",
				Write:    documentReport(docs),
			}},
		}

		if err := d.sender.Send(msg); err != nil {
			d.log.WithField("entity_id", entity.ID).WithError(err).
				Error("daily digest delivery failed")
			continue
		}
		sent++
	}

	return sent, nil
}

func (d *Dispatcher) composeDigest(entity domain.MonitoredEntity, docs []domain.FiscalDocument) string {
	var total float64
	var rows strings.Builder
	for _, doc := range docs {
		total += doc.TotalValue
		fmt.Fprintf(&rows, `<tr><td>%s</td><td>%s</td><td>%s</td><td>R$ %s</td></tr>
`,
			doc.Number, doc.IssuerName, doc.IssueDate.Format("02/01/2006"), formatBRL(doc.TotalValue))
	}

	return fmt.Sprintf(`<html>
<body>
  <h2>🔔 Novas NFe detectadas para %s</h2>
  <p>Encontramos <strong>%d</strong> nova(s) Nota(s) Fiscal(is) Eletrônica(s)
     emitidas contra o CNPJ %s.</p>

  <h3>Resumo</h3>
  <ul>
    <li><strong>Total de documentos:</strong> %d</li>
    <li><strong>Valor total:</strong> R$ %s</li>
  </ul>

  <h3>Documentos</h3>
  <table border="1" cellpadding="8" cellspacing="0" style="border-collapse: collapse; width: 100%%;">
    <thead style="background: #1F4E79; color: white;">
      <tr><th>Número NFe</th><th>Emitente</th><th>Data Emissão</th><th>Valor</th></tr>
    </thead>
    <tbody>
%s    </tbody>
  </table>

  <p style="margin-top: 20px;">
    <a href="%s" style="background: #1F4E79; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px;">
      Ver no Dashboard
    </a>
  </p>

  <p style="color: #666; font-size: 12px; margin-top: 30px;">
    Este é um email automático do NFe Monitor.
    Para alterar suas preferências de notificação, acesse o dashboard.
  </p>
</body>
</html>`,
		entity.Name, len(docs), entity.CNPJ, len(docs), formatBRL(total), rows.String(), d.dashboardURL)
}

// formatBRL renders a value in Brazilian format: "." thousands separator,
// "," decimal separator.
func formatBRL(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	intPart, fracPart, _ := strings.Cut(s, ".")

	negative := strings.HasPrefix(intPart, "-")
	intPart = strings.TrimPrefix(intPart, "-")

	var grouped strings.Builder
	for i, digit := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(digit)
	}

	result := grouped.String() + "," + fracPart
	if negative {
		result = "-" + result
	}
	return result
}

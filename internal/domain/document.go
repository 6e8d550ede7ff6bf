package domain

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus is the authorization state of a fiscal document.
type DocumentStatus string

const (
	DocumentStatusAuthorized DocumentStatus = "authorized"
	DocumentStatusCanceled   DocumentStatus = "canceled"
	DocumentStatusDenied     DocumentStatus = "denied"
	DocumentStatusPending    DocumentStatus = "pending"
)

// AccessKeyLength is the fixed length of an NFe chave de acesso.
const AccessKeyLength = 44

// FiscalDocument is a persisted Nota Fiscal Eletrônica. The access key is
// globally unique; a document is inserted at most once no matter how many
// times a batch containing it is re-ingested.
type FiscalDocument struct {
	ID         uuid.UUID      `json:"id"`
	EntityID   uuid.UUID      `json:"entity_id"`
	AccessKey  string         `json:"access_key"`
	Number     string         `json:"nfe_number"`
	Series     string         `json:"series"`
	IssuerCNPJ string         `json:"issuer_cnpj"`
	IssuerName string         `json:"issuer_name"`
	IssueDate  time.Time      `json:"issue_date"`
	TotalValue float64        `json:"total_value"`
	ICMSValue  float64        `json:"icms_value"`
	IPIValue   float64        `json:"ipi_value"`
	Status     DocumentStatus `json:"status"`
	XMLContent *string        `json:"xml_content,omitempty"`
	ScrapedAt  time.Time      `json:"scraped_at"`
	Notified   bool           `json:"notified"`
}

// ScrapedDocument is the transient output of the row parser. It is never
// persisted directly; it always passes through the ingestion gate first.
type ScrapedDocument struct {
	AccessKey  string
	Number     string
	Series     string
	IssuerCNPJ string
	IssuerName string
	IssueDate  time.Time
	TotalValue float64
	ICMSValue  float64
	IPIValue   float64
	Status     DocumentStatus
	XMLContent *string
}

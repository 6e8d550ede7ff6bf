package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of one ingestion attempt.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// RunRecord logs a single ingestion attempt. The log is append-only: the
// terminal status is written exactly once and a retried attempt produces a
// new record with a higher Attempt instead of mutating the prior one.
type RunRecord struct {
	ID             uuid.UUID  `json:"id"`
	EntityID       uuid.UUID  `json:"entity_id"`
	Attempt        int        `json:"attempt"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Status         RunStatus  `json:"status"`
	DocumentsFound int        `json:"documents_found"`
	NewDocuments   int        `json:"new_documents"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// MonitoredEntity is a taxpayer whose incoming fiscal documents are tracked.
// The CNPJ identifies it against the SEFAZ portal; StateCode is the UF of the
// jurisdiction whose portal flow applies.
type MonitoredEntity struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	CNPJ          string     `json:"cnpj"`
	StateCode     string     `json:"state_code"`
	OwnerEmail    string     `json:"owner_email"`
	Active        bool       `json:"active"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// CheckWindow returns the start of the scrape window: the last successful
// check, or fallback counted back from now when the entity has never been
// checked.
func (e MonitoredEntity) CheckWindow(now time.Time, fallback time.Duration) time.Time {
	if e.LastCheckedAt != nil {
		return *e.LastCheckedAt
	}
	return now.Add(-fallback)
}

// Package portal drives the SEFAZ portal automation: one session per
// ingestion attempt, one implementation per jurisdiction.
package portal

import (
	"context"
	"errors"
	"time"

	"github.com/gfmartins/nfe-monitor/internal/domain"
)

var (
	// ErrAuthenticationFailed reports that the portal login flow never
	// reached the authenticated state within its bounded wait.
	ErrAuthenticationFailed = errors.New("portal authentication failed")

	// ErrNavigationTimeout reports a bounded wait expiring during search or
	// pagination. The whole attempt is aborted; partial rows are discarded.
	ErrNavigationTimeout = errors.New("portal navigation timed out")

	// ErrNotLoggedIn reports Scrape being called before a successful Login.
	ErrNotLoggedIn = errors.New("scrape called before successful login")
)

// Retryable reports whether a session failure is transient and worth a
// whole-attempt retry.
func Retryable(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed) || errors.Is(err, ErrNavigationTimeout)
}

// Session is the per-jurisdiction portal capability. A session drives one
// authenticated browse-search-paginate pass and is not reusable: Scrape may
// run at most once, and Cleanup must run on every exit path.
type Session interface {
	// Login establishes the authenticated portal session. It must succeed
	// before Scrape is called.
	Login(ctx context.Context) error

	// Scrape submits the search for the entity's documents issued between
	// since and now, walks every results page and returns the parsed rows.
	// An explicit empty-result marker yields an empty slice and no error.
	Scrape(ctx context.Context, since time.Time) ([]domain.ScrapedDocument, error)

	// Cleanup releases the underlying automation resources. Safe to call
	// whether or not Login succeeded.
	Cleanup()
}

// Factory builds a fresh session for one entity's attempt. The coordinator
// depends only on this, never on a concrete jurisdiction.
type Factory func(entity domain.MonitoredEntity) Session

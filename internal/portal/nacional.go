package portal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gfmartins/nfe-monitor/internal/domain"

	cdlog "github.com/chromedp/cdproto/log"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Options configures a Portal Nacional session.
type Options struct {
	URL         string
	Headless    bool
	WaitTimeout time.Duration
	// PageDelay is the courtesy pause between result pages.
	PageDelay time.Duration
	// CertificateDir is a browser profile directory with the client
	// certificate already installed. Empty means the default profile.
	CertificateDir string
}

// NacionalSession automates the Portal Nacional da NFe with a headless
// browser. One instance serves exactly one ingestion attempt.
type NacionalSession struct {
	cnpj      string
	stateCode string
	opts      Options
	log       logrus.FieldLogger

	browserCtx   context.Context
	allocCancel  context.CancelFunc
	browseCancel context.CancelFunc
	loggedIn     bool
	scraped      bool
}

var _ Session = (*NacionalSession)(nil)

// NewNacionalSession builds a session for one entity's CNPJ.
func NewNacionalSession(entity domain.MonitoredEntity, opts Options, log logrus.FieldLogger) *NacionalSession {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 30 * time.Second
	}
	if opts.PageDelay <= 0 {
		opts.PageDelay = time.Second
	}
	return &NacionalSession{
		cnpj:      entity.CNPJ,
		stateCode: entity.StateCode,
		opts:      opts,
		log:       log.WithField("cnpj", entity.CNPJ),
	}
}

// Login launches the browser, opens the portal and walks the certificate
// login flow until the authenticated search form appears.
func (s *NacionalSession) Login(ctx context.Context) error {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.opts.Headless),
		chromedp.NoSandbox,
		chromedp.UserAgent(userAgent),
		chromedp.WindowSize(1280, 720),
	)
	if s.opts.CertificateDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(s.opts.CertificateDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, browseCancel := chromedp.NewContext(allocCtx)
	s.browserCtx = browserCtx
	s.allocCancel = allocCancel
	s.browseCancel = browseCancel

	// Surface browser console output at debug level; portal script errors
	// are the first clue when a selector stops matching.
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		if entry, ok := ev.(*cdlog.EventEntryAdded); ok {
			s.log.WithField("source", entry.Entry.Source).Debug(entry.Entry.Text)
		}
	})

	if err := chromedp.Run(browserCtx,
		cdlog.Enable(),
		chromedp.Navigate(s.opts.URL),
	); err != nil {
		return fmt.Errorf("failed to open portal: %w", err)
	}

	// Certificate selection happens in the browser certificate store; the
	// portal only needs the button click and then shows the search form.
	if err := s.wait(browserCtx, "#login-certificado"); err != nil {
		return fmt.Errorf("%w: login control never appeared: %v", ErrAuthenticationFailed, err)
	}
	if err := chromedp.Run(browserCtx, chromedp.Click("#login-certificado", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	if err := s.wait(browserCtx, "#consulta-form"); err != nil {
		return fmt.Errorf("%w: authenticated state never reached: %v", ErrAuthenticationFailed, err)
	}

	s.loggedIn = true
	s.log.Debug("portal login complete")
	return nil
}

// Scrape submits the search and extracts every results page. It runs at
// most once per session.
func (s *NacionalSession) Scrape(ctx context.Context, since time.Time) ([]domain.ScrapedDocument, error) {
	if !s.loggedIn {
		return nil, ErrNotLoggedIn
	}
	if s.scraped {
		return nil, fmt.Errorf("scrape already consumed for this session")
	}
	s.scraped = true

	// The browser session was created under Login's context; tie it to this
	// call's context too so the caller's cancellation tears it down.
	stop := context.AfterFunc(ctx, s.browseCancel)
	defer stop()

	browserCtx := s.browserCtx

	actions := []chromedp.Action{
		chromedp.SetValue("#cnpj-destinatario", s.cnpj, chromedp.ByQuery),
		chromedp.SetValue("#data-fim", time.Now().Format(issueDateLayout), chromedp.ByQuery),
	}
	if !since.IsZero() {
		actions = append(actions,
			chromedp.SetValue("#data-inicio", since.Format(issueDateLayout), chromedp.ByQuery),
		)
	}
	actions = append(actions, chromedp.Click("#btn-consultar", chromedp.ByQuery))

	if err := chromedp.Run(browserCtx, actions...); err != nil {
		return nil, fmt.Errorf("failed to submit search: %w", err)
	}

	// Either the results table or the explicit empty marker must appear.
	if err := s.wait(browserCtx, ".resultado-consulta, .sem-resultados"); err != nil {
		return nil, fmt.Errorf("%w: search results never appeared: %v", ErrNavigationTimeout, err)
	}

	var empty bool
	if err := chromedp.Run(browserCtx, chromedp.Evaluate(
		`document.querySelector('.sem-resultados') !== null`, &empty,
	)); err != nil {
		return nil, fmt.Errorf("failed to check empty marker: %w", err)
	}
	if empty {
		s.log.Debug("portal reported no results")
		return []domain.ScrapedDocument{}, nil
	}

	var documents []domain.ScrapedDocument
	for page := 1; ; page++ {
		rows, err := s.extractRows(browserCtx)
		if err != nil {
			return nil, err
		}
		for i, cells := range rows {
			doc, err := ParseRow(cells)
			if err != nil {
				s.log.WithFields(logrus.Fields{"page": page, "row": i}).
					WithError(err).Warn("skipping malformed row")
				continue
			}
			documents = append(documents, doc)
		}

		next, err := s.hasNextPage(browserCtx)
		if err != nil {
			return nil, err
		}
		if !next {
			break
		}

		if err := chromedp.Run(browserCtx,
			chromedp.Click(".pagination .next:not(.disabled)", chromedp.ByQuery),
		); err != nil {
			return nil, fmt.Errorf("failed to advance page: %w", err)
		}
		if err := s.wait(browserCtx, ".resultado-consulta tbody tr"); err != nil {
			return nil, fmt.Errorf("%w: page %d never loaded: %v", ErrNavigationTimeout, page+1, err)
		}

		// Courtesy delay between pages.
		select {
		case <-time.After(s.opts.PageDelay):
		case <-browserCtx.Done():
			return nil, fmt.Errorf("%w: %v", ErrNavigationTimeout, browserCtx.Err())
		}
	}

	s.log.WithField("documents", len(documents)).Debug("scrape complete")
	return documents, nil
}

// Cleanup tears down the browser. It runs on every exit path.
func (s *NacionalSession) Cleanup() {
	if s.browseCancel != nil {
		s.browseCancel()
		s.browseCancel = nil
	}
	if s.allocCancel != nil {
		s.allocCancel()
		s.allocCancel = nil
	}
	s.loggedIn = false
}

func (s *NacionalSession) extractRows(ctx context.Context) ([][]string, error) {
	var rows [][]string
	err := chromedp.Run(ctx, chromedp.Evaluate(
		`Array.from(document.querySelectorAll('.resultado-consulta tbody tr'))
			.map(tr => Array.from(tr.querySelectorAll('td')).map(td => td.textContent || ''))`,
		&rows,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to extract result rows: %w", err)
	}
	return rows, nil
}

func (s *NacionalSession) hasNextPage(ctx context.Context) (bool, error) {
	var next bool
	err := chromedp.Run(ctx, chromedp.Evaluate(
		`document.querySelector('.pagination .next:not(.disabled)') !== null`,
		&next,
	))
	if err != nil {
		return false, fmt.Errorf("failed to check pagination: %w", err)
	}
	return next, nil
}

// wait blocks until the selector is visible or the bounded wait expires.
func (s *NacionalSession) wait(ctx context.Context, selector string) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.opts.WaitTimeout)
	defer cancel()

	err := chromedp.Run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("wait for %q expired after %s", selector, s.opts.WaitTimeout)
		}
		return err
	}
	return nil
}

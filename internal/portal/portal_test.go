package portal

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrAuthenticationFailed))
	assert.True(t, Retryable(ErrNavigationTimeout))
	assert.True(t, Retryable(fmt.Errorf("%w: page 2 never loaded", ErrNavigationTimeout)))

	assert.False(t, Retryable(ErrNotLoggedIn))
	assert.False(t, Retryable(errors.New("anything else")))
	assert.False(t, Retryable(nil))
}

func TestScrapeBeforeLogin(t *testing.T) {
	session := &NacionalSession{log: quietLogger()}

	_, err := session.Scrape(context.Background(), time.Time{})
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

// Cancelling the context passed to Scrape must tear down the browser
// session, even though the session was created under Login's context.
func TestScrapeHonorsCallerContext(t *testing.T) {
	browserCtx, browserCancel := context.WithCancel(context.Background())
	defer browserCancel()

	session := &NacionalSession{
		loggedIn:     true,
		browserCtx:   browserCtx,
		browseCancel: browserCancel,
		log:          quietLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := session.Scrape(ctx, time.Time{})
	require.Error(t, err)

	select {
	case <-browserCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("browser session survived caller cancellation")
	}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

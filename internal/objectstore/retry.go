package objectstore

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/drawee/drawee-go/internal/logger"
)

const (
	defaultMaxRetries   = 3
	defaultRetryBackoff = time.Second
	defaultTimeout      = 30 * time.Second
)

// transientErrorPatterns are substrings of network errors worth retrying
var transientErrorPatterns = []string{
	"connection reset",
	"connection refused",
	"connection closed",
	"timeout",
	"temporary",
	"broken pipe",
	"no route to host",
	"EOF",
	"421", // FTP service not available
	"425", // FTP can't open data connection
	"426", // FTP connection closed, transfer aborted
}

// isTransientError reports whether err is likely to succeed on retry
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if os.IsTimeout(err) {
		return true
	}
	msg := err.Error()
	for _, pattern := range transientErrorPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// withRetry runs op until it succeeds, fails permanently or attempts run out.
// Backoff grows linearly with the attempt number.
func withRetry(ctx context.Context, attempts int, backoff time.Duration, op func() error) error {
	var lastErr error
	for attempt := range attempts {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op()
		if err == nil {
			return nil
		}
		if !isTransientError(err) {
			return err
		}
		lastErr = err
		GetLogger().Debug("retrying after transient error",
			logger.Int("attempt", attempt+1),
			logger.Int("max_attempts", attempts),
			logger.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff * time.Duration(attempt+1)):
		}
	}
	return lastErr
}

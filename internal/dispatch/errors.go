package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitedError is a Telegram 429. It is retryable, but the backend's
// retry_after hint replaces the generic backoff delay for that attempt.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("telegram rate-limited, retry after %s", e.RetryAfter)
}

// PermanentError is a non-retryable backend rejection (malformed chat id,
// bot blocked, bad payload). It still counts as a breaker failure: the
// dependency call did fail.
type PermanentError struct {
	Status int
	Detail string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("telegram rejected request (status %d): %s", e.Status, e.Detail)
}

// IsPermanent reports whether err should stop the retry loop immediately.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// RetryAfterHint extracts the backend's retry_after hint, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter, true
	}
	return 0, false
}

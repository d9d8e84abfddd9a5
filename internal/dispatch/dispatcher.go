// Package dispatch performs the outbound call to the chat backend under a
// fixed concurrency cap, with bounded jittered retries per attempt.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Sender abstracts the chat backend so tests can count calls and inject
// failures.
type Sender interface {
	SendText(ctx context.Context, chatID, text string) (string, error)
	SendPhoto(ctx context.Context, chatID, photoURL, caption string) (string, error)
}

// RetryConfig holds the retry schedule for one dispatch.
type RetryConfig struct {
	Attempts  int           // total attempts, default 6
	BaseDelay time.Duration // first backoff delay, default 500ms
	Jitter    bool          // uniform [0.5, 1.5] factor on each delay
}

// DefaultRetryConfig returns the reference schedule.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 6, BaseDelay: 500 * time.Millisecond, Jitter: true}
}

// Dispatcher bounds in-flight sends with a semaphore and wraps each send in
// the retry schedule. One exhausted (or permanent) dispatch surfaces as one
// failure to the circuit breaker, however many attempts it burned.
type Dispatcher struct {
	sender Sender
	sem    *semaphore.Weighted
	retry  RetryConfig
	log    zerolog.Logger
}

// NewDispatcher creates a dispatcher with the given concurrency cap.
func NewDispatcher(sender Sender, concurrency int, retry RetryConfig, log zerolog.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 5
	}
	if retry.Attempts <= 0 {
		retry.Attempts = 6
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = 500 * time.Millisecond
	}
	return &Dispatcher{
		sender: sender,
		sem:    semaphore.NewWeighted(int64(concurrency)),
		retry:  retry,
		log:    log,
	}
}

// Kind labels the two backend operations for metrics.
type Kind string

const (
	KindText  Kind = "text"
	KindPhoto Kind = "photo"
)

// Dispatch acquires a permit (blocking while the cap is reached), then
// sends with retries. imageURL selects sendPhoto over sendMessage. Returns
// the backend message id and the message kind.
func (d *Dispatcher) Dispatch(ctx context.Context, chatID, text, imageURL string) (string, Kind, error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return "", "", fmt.Errorf("failed to acquire dispatch permit: %w", err)
	}
	defer d.sem.Release(1)

	kind := KindText
	send := func() (string, error) { return d.sender.SendText(ctx, chatID, text) }
	if imageURL != "" {
		kind = KindPhoto
		send = func() (string, error) { return d.sender.SendPhoto(ctx, chatID, imageURL, text) }
	}

	id, err := d.withRetry(ctx, send)
	return id, kind, err
}

// withRetry runs op up to Attempts times. Delay grows exponentially from
// BaseDelay with a [0.5, 1.5] jitter factor; a backend retry_after hint
// replaces the computed delay for that attempt. Permanent errors stop the
// loop immediately.
func (d *Dispatcher) withRetry(ctx context.Context, op func() (string, error)) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.retry.BaseDelay
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	if d.retry.Jitter {
		bo.RandomizationFactor = 0.5
	} else {
		bo.RandomizationFactor = 0
	}
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= d.retry.Attempts; attempt++ {
		id, err := op()
		if err == nil {
			return id, nil
		}
		lastErr = err

		if IsPermanent(err) {
			return "", err
		}
		if attempt == d.retry.Attempts {
			break
		}

		delay := bo.NextBackOff()
		if hint, ok := RetryAfterHint(err); ok {
			delay = hint
		}
		d.log.Debug().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("dispatch attempt failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("dispatch failed after %d attempts: %w", d.retry.Attempts, lastErr)
}

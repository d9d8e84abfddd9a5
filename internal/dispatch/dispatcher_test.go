package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeSender scripts per-call results and records how many attempts the
// dispatcher burns.
type fakeSender struct {
	mu         sync.Mutex
	textCalls  int
	photoCalls int
	results    []error // consumed in order; after exhaustion, calls succeed
	id         string
}

func (f *fakeSender) next() error {
	if len(f.results) == 0 {
		return nil
	}
	err := f.results[0]
	f.results = f.results[1:]
	return err
}

func (f *fakeSender) SendText(ctx context.Context, chatID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.textCalls++
	if err := f.next(); err != nil {
		return "", err
	}
	return f.id, nil
}

func (f *fakeSender) SendPhoto(ctx context.Context, chatID, photoURL, caption string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photoCalls++
	if err := f.next(); err != nil {
		return "", err
	}
	return f.id, nil
}

func newTestDispatcher(sender Sender, attempts int) *Dispatcher {
	retry := RetryConfig{Attempts: attempts, BaseDelay: time.Millisecond, Jitter: false}
	return NewDispatcher(sender, 2, retry, zerolog.Nop())
}

func TestDispatchTextSuccess(t *testing.T) {
	sender := &fakeSender{id: "99"}
	d := newTestDispatcher(sender, 3)

	id, kind, err := d.Dispatch(context.Background(), "-100", "hello", "")
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if id != "99" || kind != KindText {
		t.Errorf("Expected (99, text), got (%s, %s)", id, kind)
	}
	if sender.textCalls != 1 || sender.photoCalls != 0 {
		t.Errorf("Expected 1 text call, got text=%d photo=%d", sender.textCalls, sender.photoCalls)
	}
}

func TestDispatchPhotoKind(t *testing.T) {
	sender := &fakeSender{id: "5"}
	d := newTestDispatcher(sender, 3)

	_, kind, err := d.Dispatch(context.Background(), "-100", "caption", "https://example.com/a.png")
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if kind != KindPhoto {
		t.Errorf("Expected photo kind, got %s", kind)
	}
	if sender.photoCalls != 1 {
		t.Errorf("Expected 1 photo call, got %d", sender.photoCalls)
	}
}

func TestDispatchRetriesThenSucceeds(t *testing.T) {
	sender := &fakeSender{
		id:      "7",
		results: []error{errors.New("status 502"), errors.New("status 502")},
	}
	d := newTestDispatcher(sender, 5)

	id, _, err := d.Dispatch(context.Background(), "-100", "hello", "")
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if id != "7" {
		t.Errorf("Expected id 7, got %s", id)
	}
	if sender.textCalls != 3 {
		t.Errorf("Expected 3 attempts, got %d", sender.textCalls)
	}
}

func TestDispatchPermanentStopsRetrying(t *testing.T) {
	sender := &fakeSender{
		results: []error{&PermanentError{Status: 400, Detail: "chat not found"}},
	}
	d := newTestDispatcher(sender, 5)

	_, _, err := d.Dispatch(context.Background(), "-100", "hello", "")
	var perm *PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("Expected PermanentError, got %v", err)
	}
	if sender.textCalls != 1 {
		t.Errorf("Permanent failure must stop after 1 attempt, got %d", sender.textCalls)
	}
}

func TestDispatchExhaustsAttempts(t *testing.T) {
	transient := errors.New("status 503")
	sender := &fakeSender{
		results: []error{transient, transient, transient},
	}
	d := newTestDispatcher(sender, 3)

	_, _, err := d.Dispatch(context.Background(), "-100", "hello", "")
	if err == nil {
		t.Fatal("Expected exhaustion error")
	}
	if !errors.Is(err, transient) {
		t.Errorf("Exhaustion error should wrap the last attempt: %v", err)
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("Unexpected error text: %v", err)
	}
	if sender.textCalls != 3 {
		t.Errorf("Expected exactly 3 attempts, got %d", sender.textCalls)
	}
}

func TestDispatchHonorsRetryAfterHint(t *testing.T) {
	sender := &fakeSender{
		id:      "1",
		results: []error{&RateLimitedError{RetryAfter: 20 * time.Millisecond}},
	}
	d := newTestDispatcher(sender, 3)

	start := time.Now()
	_, _, err := d.Dispatch(context.Background(), "-100", "hello", "")
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Expected retry_after to gate the second attempt, elapsed %s", elapsed)
	}
	if sender.textCalls != 2 {
		t.Errorf("Expected 2 attempts, got %d", sender.textCalls)
	}
}

func TestDispatchCancelledContext(t *testing.T) {
	sender := &fakeSender{
		results: []error{errors.New("status 502")},
	}
	retry := RetryConfig{Attempts: 3, BaseDelay: time.Hour, Jitter: false}
	d := NewDispatcher(sender, 2, retry, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, _, err := d.Dispatch(ctx, "-100", "hello", "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

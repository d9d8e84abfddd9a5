package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newFakeBackend(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestSendTextSuccess(t *testing.T) {
	var gotPath string
	var gotPayload map[string]interface{}
	srv := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"result":{"message_id":4242}}`))
	})

	client := NewTelegramClient("TOKEN", srv.URL, 5*time.Second)
	id, err := client.SendText(context.Background(), "-100123", "BTCUSDT entry")
	if err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if id != "4242" {
		t.Errorf("Expected message id 4242, got %s", id)
	}
	if !strings.HasSuffix(gotPath, "/botTOKEN/sendMessage") {
		t.Errorf("Unexpected path %s", gotPath)
	}
	if gotPayload["text"] != "BTCUSDT entry" || gotPayload["chat_id"] != "-100123" {
		t.Errorf("Unexpected payload %v", gotPayload)
	}
}

func TestSendPhotoSuccess(t *testing.T) {
	var gotPath string
	var gotPayload map[string]interface{}
	srv := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Write([]byte(`{"ok":true,"result":{"message_id":7}}`))
	})

	client := NewTelegramClient("TOKEN", srv.URL, 5*time.Second)
	id, err := client.SendPhoto(context.Background(), "-100123", "https://example.com/chart.png", "caption")
	if err != nil {
		t.Fatalf("SendPhoto failed: %v", err)
	}
	if id != "7" {
		t.Errorf("Expected message id 7, got %s", id)
	}
	if !strings.HasSuffix(gotPath, "/botTOKEN/sendPhoto") {
		t.Errorf("Unexpected path %s", gotPath)
	}
	if gotPayload["photo"] != "https://example.com/chart.png" || gotPayload["caption"] != "caption" {
		t.Errorf("Unexpected payload %v", gotPayload)
	}
}

func TestSendRateLimited(t *testing.T) {
	srv := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"ok":false,"description":"Too Many Requests","parameters":{"retry_after":17}}`))
	})

	client := NewTelegramClient("TOKEN", srv.URL, 5*time.Second)
	_, err := client.SendText(context.Background(), "-100123", "x")

	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("Expected RateLimitedError, got %v", err)
	}
	if rl.RetryAfter != 17*time.Second {
		t.Errorf("Expected retry_after 17s, got %s", rl.RetryAfter)
	}
	if IsPermanent(err) {
		t.Error("Rate-limit must not be classified permanent")
	}
}

func TestSendPermanentRejection(t *testing.T) {
	srv := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	})

	client := NewTelegramClient("TOKEN", srv.URL, 5*time.Second)
	_, err := client.SendText(context.Background(), "bogus", "x")

	var perm *PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("Expected PermanentError, got %v", err)
	}
	if perm.Detail != "Bad Request: chat not found" {
		t.Errorf("Unexpected detail %q", perm.Detail)
	}
}

func TestSendServerErrorIsTransient(t *testing.T) {
	srv := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	client := NewTelegramClient("TOKEN", srv.URL, 5*time.Second)
	_, err := client.SendText(context.Background(), "-100123", "x")
	if err == nil {
		t.Fatal("Expected error on 502")
	}
	if IsPermanent(err) {
		t.Error("5xx must be retryable")
	}
	if _, ok := RetryAfterHint(err); ok {
		t.Error("5xx carries no retry_after hint")
	}
}

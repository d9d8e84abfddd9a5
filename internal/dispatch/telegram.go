package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// TelegramClient talks to the Telegram Bot API. Two operations are used:
// sendMessage for text-only pushes and sendPhoto for image pushes with a
// caption.
type TelegramClient struct {
	botToken string
	baseURL  string
	client   *http.Client
}

// NewTelegramClient creates a client with the given outbound timeout.
// baseURL is overridable for tests and self-hosted bot API servers.
func NewTelegramClient(botToken, baseURL string, timeout time.Duration) *TelegramClient {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &TelegramClient{
		botToken: botToken,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
	}
}

// telegramResult mirrors the fields of the bot API response the gateway
// cares about.
type telegramResult struct {
	OK     bool `json:"ok"`
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// SendText sends a plain text message and returns the backend message id.
func (t *TelegramClient) SendText(ctx context.Context, chatID, text string) (string, error) {
	payload := map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	}
	return t.call(ctx, "sendMessage", payload)
}

// SendPhoto sends an image by URL with the text as caption.
func (t *TelegramClient) SendPhoto(ctx context.Context, chatID, photoURL, caption string) (string, error) {
	payload := map[string]interface{}{
		"chat_id": chatID,
		"photo":   photoURL,
		"caption": caption,
	}
	return t.call(ctx, "sendPhoto", payload)
}

func (t *TelegramClient) call(ctx context.Context, method string, payload map[string]interface{}) (string, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// Timeouts and connection errors are transient.
		return "", fmt.Errorf("failed to reach telegram: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read telegram response: %w", err)
	}

	var result telegramResult
	// A decode failure on an error status is fine; result stays zero.
	_ = json.Unmarshal(body, &result)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := time.Duration(result.Parameters.RetryAfter) * time.Second
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		return "", &RateLimitedError{RetryAfter: retryAfter}
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", &PermanentError{Status: resp.StatusCode, Detail: result.Description}
	}

	if !result.OK {
		return "", &PermanentError{Status: resp.StatusCode, Detail: result.Description}
	}
	return strconv.FormatInt(result.Result.MessageID, 10), nil
}

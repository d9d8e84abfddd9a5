package gateway

import (
	"encoding/json"
	"fmt"
	"net/url"
	"unicode/utf8"
)

// HeaderIdempotencyKey carries the client-supplied idempotency key.
const HeaderIdempotencyKey = "X-Idempotency-Key"

// PushRequest is the inbound push payload. Text must be a JSON string:
// the schema is strict, non-string text fails decoding instead of being
// coerced.
type PushRequest struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ImageURL string `json:"image_url,omitempty"`
}

// PushResponse is the stable response shape for every outcome.
type PushResponse struct {
	OK        bool   `json:"ok"`
	MessageID string `json:"message_id,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ParsePushRequest decodes and validates the raw body.
func ParsePushRequest(rawBody []byte) (*PushRequest, error) {
	var req PushRequest
	if err := json.Unmarshal(rawBody, &req); err != nil {
		return nil, fmt.Errorf("malformed request body: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// Validate enforces the field constraints: channel required, text 1-4096
// characters, image_url (when present) an absolute http(s) URL.
func (r *PushRequest) Validate() error {
	if r.Channel == "" {
		return fmt.Errorf("channel is required")
	}
	n := utf8.RuneCountInString(r.Text)
	if n == 0 {
		return fmt.Errorf("text is required")
	}
	if n > 4096 {
		return fmt.Errorf("text exceeds 4096 characters")
	}
	if r.ImageURL != "" {
		u, err := url.Parse(r.ImageURL)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("image_url must be an absolute http(s) URL")
		}
	}
	return nil
}

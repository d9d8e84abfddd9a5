// Package idempotency provides the durable key -> response cache that makes
// repeated submissions of the same logical push cheap and side-effect-free.
// Records survive process restarts; a record is honored only while younger
// than the configured TTL, after which it is treated as absent and may be
// overwritten.
package idempotency

import (
	"context"
	"time"
)

// Record is one cached terminal outcome keyed by the client-supplied
// idempotency key. Response holds the serialized PushResponse body exactly
// as it was first returned, so replays are byte-identical.
type Record struct {
	Key       string    `json:"key"`
	Response  []byte    `json:"response"`
	Status    int       `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the backend-agnostic contract. Get returns (record, true) only
// for present, unexpired keys. Set records the first terminal outcome for a
// key; later Sets overwrite, which only happens after expiry.
type Store interface {
	Get(ctx context.Context, key string) (*Record, bool, error)
	Set(ctx context.Context, rec *Record) error
	// Sweep deletes expired records and returns how many were removed.
	// Backends with native expiry may return 0 without scanning.
	Sweep(ctx context.Context) (int64, error)
	Close() error
}

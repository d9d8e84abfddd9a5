package admission

import (
	"testing"
	"time"
)

func TestTokenBucketExhaustion(t *testing.T) {
	b := NewTokenBucket(5, 5)
	base := time.Now()

	for i := 0; i < 5; i++ {
		if !b.ConsumeAt(base) {
			t.Fatalf("Expected token %d to be available", i+1)
		}
	}
	if b.ConsumeAt(base) {
		t.Error("Expected bucket exhausted after capacity consumed")
	}
}

func TestTokenBucketRefill(t *testing.T) {
	b := NewTokenBucket(5, 5)
	base := time.Now()

	for i := 0; i < 5; i++ {
		b.ConsumeAt(base)
	}

	// One refill interval later exactly one more token is available.
	later := base.Add(210 * time.Millisecond)
	if !b.ConsumeAt(later) {
		t.Fatal("Expected one token after refill interval")
	}
	if b.ConsumeAt(later) {
		t.Error("Expected only one token after a single refill interval")
	}
}

func TestTokenBucketCap(t *testing.T) {
	b := NewTokenBucket(3, 3)
	base := time.Now()

	// Tokens never exceed capacity no matter how long the bucket idles.
	later := base.Add(time.Hour)
	for i := 0; i < 3; i++ {
		if !b.ConsumeAt(later) {
			t.Fatalf("Expected token %d after long idle", i+1)
		}
	}
	if b.ConsumeAt(later) {
		t.Error("Expected refill capped at capacity")
	}
}

func TestTokenBucketDefaults(t *testing.T) {
	b := NewTokenBucket(0, 0)
	if !b.Consume() {
		t.Error("Expected default bucket to start full")
	}
}

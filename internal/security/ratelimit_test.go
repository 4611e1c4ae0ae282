package security

import (
	"testing"

	"golang.org/x/time/rate"
)

func TestKeyedLimiterAllows(t *testing.T) {
	kl := NewKeyedLimiter(rate.Limit(1), 2)
	defer kl.Stop()

	if !kl.Allow("room-1") {
		t.Error("first event should be allowed")
	}
	if !kl.Allow("room-1") {
		t.Error("second event within burst should be allowed")
	}
	if kl.Allow("room-1") {
		t.Error("third event should exceed the burst")
	}
}

func TestKeyedLimiterKeysAreIndependent(t *testing.T) {
	kl := NewKeyedLimiter(rate.Limit(1), 1)
	defer kl.Stop()

	if !kl.Allow("room-1") {
		t.Fatal("room-1 first event should be allowed")
	}
	if kl.Allow("room-1") {
		t.Error("room-1 second event should be throttled")
	}
	if !kl.Allow("room-2") {
		t.Error("room-2 has its own budget and should be allowed")
	}
}

func TestKeyedLimiterUpdateRate(t *testing.T) {
	kl := NewKeyedLimiter(rate.Limit(1), 1)
	defer kl.Stop()

	kl.Allow("room-1")
	if kl.Allow("room-1") {
		t.Fatal("should be throttled before update")
	}

	// Updating clears existing buckets, so the key starts fresh at the new rate.
	kl.UpdateRate(rate.Limit(100), 100)
	for i := 0; i < 10; i++ {
		if !kl.Allow("room-1") {
			t.Fatalf("event %d after rate increase should be allowed", i)
		}
	}
}

func TestKeyedLimiterMaxEntries(t *testing.T) {
	kl := NewKeyedLimiter(rate.Limit(1), 1)
	defer kl.Stop()
	kl.maxEntries = 2

	kl.Allow("room-1")
	kl.Allow("room-2")
	if kl.Allow("room-3") {
		t.Error("events for new keys beyond the cap should be rejected")
	}
	if kl.Allow("room-1") {
		t.Error("existing key should still be tracked (and throttled here)")
	}
}

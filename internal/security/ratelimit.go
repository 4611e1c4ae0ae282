package security

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type keyLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter implements per-key token bucket rate limiting with automatic
// cleanup of stale entries. ChatLink keys outbound sends by roomId so one
// noisy room cannot starve the others.
type KeyedLimiter struct {
	limiters   map[string]*keyLimiter
	mu         sync.Mutex
	r          rate.Limit
	burst      int
	ttl        time.Duration // evict entries not seen within this window
	maxEntries int           // cap on number of tracked keys
	cancel     context.CancelFunc
}

// NewKeyedLimiter creates a limiter allowing r events per second per key with
// the given burst.
func NewKeyedLimiter(r rate.Limit, burst int) *KeyedLimiter {
	ctx, cancel := context.WithCancel(context.Background())
	kl := &KeyedLimiter{
		limiters:   make(map[string]*keyLimiter),
		r:          r,
		burst:      burst,
		ttl:        10 * time.Minute,
		maxEntries: 10000,
		cancel:     cancel,
	}
	go kl.cleanup(ctx)
	return kl
}

// Allow reports whether an event for key may proceed now.
func (kl *KeyedLimiter) Allow(key string) bool {
	kl.mu.Lock()
	entry, exists := kl.limiters[key]
	if !exists {
		if len(kl.limiters) >= kl.maxEntries {
			kl.mu.Unlock()
			return false // reject to prevent unbounded map growth
		}
		entry = &keyLimiter{limiter: rate.NewLimiter(kl.r, kl.burst)}
		kl.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	kl.mu.Unlock()

	return entry.limiter.Allow()
}

// Stop shuts down the cleanup goroutine.
func (kl *KeyedLimiter) Stop() {
	kl.cancel()
}

// UpdateRate changes the rate limit parameters. Existing per-key limiters are
// cleared so they pick up the new rate on next access.
func (kl *KeyedLimiter) UpdateRate(r rate.Limit, burst int) {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	kl.r = r
	kl.burst = burst
	kl.limiters = make(map[string]*keyLimiter)
}

func (kl *KeyedLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			kl.mu.Lock()
			for key, entry := range kl.limiters {
				if time.Since(entry.lastSeen) > kl.ttl {
					delete(kl.limiters, key)
				}
			}
			kl.mu.Unlock()
		}
	}
}

// Package ratelimit implements a per-client token-bucket rate limiter with
// lazy bucket creation and traffic-driven eviction of idle buckets.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/spigotdb/spigot/internal/model"
)

const (
	// sweepInterval is the minimum time between eviction sweeps. The sweep
	// rides on request traffic rather than a timer.
	sweepInterval = time.Hour

	// idleWindow is how long a bucket may go unchecked before eviction.
	idleWindow = time.Hour
)

// Registry maps client identifiers to token buckets. The map is guarded by
// an RWMutex so checks for existing clients proceed under a read lock and do
// not contend on each other; only registration of a new client or an
// eviction sweep takes the write lock. Token state inside each bucket has
// its own mutex, so a sweep never races an in-flight check.
type Registry struct {
	mu      sync.RWMutex
	buckets map[string]*bucket

	sweepMu   sync.Mutex
	lastSweep time.Time

	now    func() time.Time
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
		now:       time.Now,
		logger:    logger,
	}
}

// Check runs one admission decision for the client under the given policy.
// The bucket is created lazily on first sight of the client id; the policy
// is captured at creation time and kept for the bucket's lifetime.
func (r *Registry) Check(clientID string, policy model.RateLimitPolicy) Decision {
	now := r.now()
	r.maybeSweep(now)

	r.mu.RLock()
	b, ok := r.buckets[clientID]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		// Another request may have registered the bucket between the
		// read unlock and here.
		if b, ok = r.buckets[clientID]; !ok {
			b = newBucket(policy, now)
			r.buckets[clientID] = b
		}
		r.mu.Unlock()
	}

	return b.check(now)
}

// Len returns the number of live buckets. Intended for tests and telemetry.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buckets)
}

// maybeSweep evicts idle buckets at most once per sweepInterval. It holds
// only the sweep mutex while deciding, then the map write lock while
// evicting, so concurrent checks are blocked only for the map scan itself.
func (r *Registry) maybeSweep(now time.Time) {
	r.sweepMu.Lock()
	if now.Sub(r.lastSweep) < sweepInterval {
		r.sweepMu.Unlock()
		return
	}
	r.lastSweep = now
	r.sweepMu.Unlock()

	cutoff := now.Add(-idleWindow)

	r.mu.Lock()
	removed := 0
	for id, b := range r.buckets {
		if b.idleSince(cutoff) {
			delete(r.buckets, id)
			removed++
		}
	}
	r.mu.Unlock()

	if removed > 0 && r.logger != nil {
		r.logger.Info("evicted idle rate limiters", "count", removed)
	}
}

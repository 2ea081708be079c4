package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/spigotdb/spigot/internal/model"
)

// Decision reports the outcome of a single bucket check. Limit, Remaining,
// and Reset are populated on every check so callers can emit rate headers
// regardless of outcome; RetryAfter is meaningful only when Allowed is false.
type Decision struct {
	Allowed    bool
	Limit      int           // requests per minute
	Remaining  int           // floor of current tokens
	Reset      int64         // epoch seconds until a full token is available
	RetryAfter time.Duration // time to accumulate one token, rejections only
}

// window is one continuously refilled token pool.
type window struct {
	capacity   float64
	tokens     float64
	ratePerSec float64
}

func (w *window) refill(elapsed float64) {
	w.tokens = math.Min(w.capacity, w.tokens+elapsed*w.ratePerSec)
}

// wait returns the time needed to accumulate one full token.
func (w *window) wait() time.Duration {
	return time.Duration((1 - w.tokens) / w.ratePerSec * float64(time.Second))
}

// bucket enforces a policy through two windows: the minute window refills at
// requests-per-minute with the burst size as its capacity, and the hour
// window caps sustained traffic at requests-per-hour. A request is admitted
// only when both windows hold a token. All field access is serialized by mu;
// the registry never touches a bucket's state without it.
type bucket struct {
	mu sync.Mutex

	minute     window
	hour       *window // nil when the policy sets no hourly cap
	rpm        int
	lastRefill time.Time
}

func newBucket(policy model.RateLimitPolicy, now time.Time) *bucket {
	rpm := policy.RequestsPerMinute
	if rpm < 1 {
		rpm = 1
	}
	burst := policy.BurstSize
	if burst < 1 {
		burst = 1
	}
	b := &bucket{
		minute: window{
			capacity:   float64(burst),
			tokens:     float64(burst),
			ratePerSec: float64(rpm) / 60.0,
		},
		rpm:        rpm,
		lastRefill: now,
	}
	if rph := policy.RequestsPerHour; rph > 0 {
		b.hour = &window{
			capacity:   float64(rph),
			tokens:     float64(rph),
			ratePerSec: float64(rph) / 3600.0,
		}
	}
	return b
}

// check refills both windows for the elapsed time, then admits and deducts
// one token from each if both have one available.
func (b *bucket) check(now time.Time) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.minute.refill(elapsed)
		if b.hour != nil {
			b.hour.refill(elapsed)
		}
	}
	b.lastRefill = now

	if b.minute.tokens >= 1 && (b.hour == nil || b.hour.tokens >= 1) {
		b.minute.tokens--
		if b.hour != nil {
			b.hour.tokens--
		}
		return Decision{
			Allowed:   true,
			Limit:     b.rpm,
			Remaining: b.remaining(),
			Reset:     now.Unix() + 60,
		}
	}

	var wait time.Duration
	if b.minute.tokens < 1 {
		wait = b.minute.wait()
	}
	if b.hour != nil && b.hour.tokens < 1 {
		if hw := b.hour.wait(); hw > wait {
			wait = hw
		}
	}
	return Decision{
		Allowed:    false,
		Limit:      b.rpm,
		Remaining:  0,
		Reset:      now.Add(wait).Unix(),
		RetryAfter: wait,
	}
}

// remaining is the floor of the most constrained window's token count.
func (b *bucket) remaining() int {
	rem := b.minute.tokens
	if b.hour != nil && b.hour.tokens < rem {
		rem = b.hour.tokens
	}
	return int(rem)
}

// idleSince reports whether the bucket has not been checked since cutoff.
func (b *bucket) idleSince(cutoff time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRefill.Before(cutoff)
}

package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/spigotdb/spigot/internal/ratelimit"
)

// RateLimit gates authenticated traffic through the token-bucket registry.
// Authenticated clients are bucketed by key id, anonymous ones by IP. Every
// response carries X-RateLimit-Limit, -Remaining, and -Reset; a rejected
// request additionally gets Retry-After and a 429. Must run after
// Authenticate so the key-level policy is available.
func RateLimit(limiter *ratelimit.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actx := GetAuthContext(r.Context())
			if actx == nil {
				// Authenticate did not run; let the request through rather
				// than invent a policy for it.
				next.ServeHTTP(w, r)
				return
			}

			decision := limiter.Check(clientID(r), actx.RateLimit)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.Reset, 10))

			if !decision.Allowed {
				secs := int(decision.RetryAfter.Seconds())
				if secs < 1 {
					secs = 1
				}
				h.Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":{"code":429,"message":"rate limit exceeded","retry_after_seconds":` +
					strconv.Itoa(secs) + `}}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientID derives the bucket key for a request: the API key id when
// authenticated, otherwise the client IP from X-Forwarded-For or the peer
// address.
func clientID(r *http.Request) string {
	if actx := GetAuthContext(r.Context()); actx != nil && actx.KeyID != "" && actx.KeyID != "anonymous" {
		return "key:" + actx.KeyID
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			fwd = fwd[:i]
		}
		return "ip:" + strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

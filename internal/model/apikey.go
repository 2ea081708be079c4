package model

import "time"

// Resource categories an API key can be granted access to.
const (
	ResourceTables = "tables"
	ResourceData   = "data"
	ResourceMedia  = "media"
	ResourceAdmin  = "admin"
)

// Actions a grant can allow on a resource.
const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionDelete = "delete"
	ActionCreate = "create"
)

// Permission grants a set of actions on a resource category. An empty
// TableNames list means the grant applies to every instance of the resource.
type Permission struct {
	Resource   string   `json:"resource" yaml:"resource"`
	Actions    []string `json:"actions" yaml:"actions"`
	TableNames []string `json:"table_names,omitempty" yaml:"table_names,omitempty"`
}

// APIKey represents an API key used to authenticate requests. The raw key is
// never stored; only a SHA-256 hash and a short prefix for identification are
// kept. Revocation is terminal: a revoked key is never reactivated, rotation
// issues a new record instead.
type APIKey struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	KeyHash     string           `json:"-"` // SHA-256 hash, never expose
	KeyPrefix   string           `json:"key_prefix"`
	Permissions []Permission     `json:"permissions"`
	RateLimit   *RateLimitPolicy `json:"rate_limit,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty"`
	LastUsed    *time.Time       `json:"last_used,omitempty"`
	Revoked     bool             `json:"revoked"`
}

// RateLimitPolicy describes the request budget applied to a client.
type RateLimitPolicy struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	RequestsPerHour   int `json:"requests_per_hour" yaml:"requests_per_hour"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// DefaultRateLimitPolicy returns the process-wide fallback policy used when a
// key carries no policy of its own. A key-level policy always wins over this.
func DefaultRateLimitPolicy() RateLimitPolicy {
	return RateLimitPolicy{
		RequestsPerMinute: 60,
		RequestsPerHour:   1000,
		BurstSize:         10,
	}
}

// KeyUsage tracks per-key request counters. Kept in memory alongside the key
// record; reset on process restart like everything else in the store.
type KeyUsage struct {
	KeyID         string        `json:"key_id"`
	TotalRequests int64         `json:"total_requests"`
	StatusCounts  map[int]int64 `json:"status_counts"`
	LastEndpoint  string        `json:"last_endpoint,omitempty"`
	LastSeen      *time.Time    `json:"last_seen,omitempty"`
}

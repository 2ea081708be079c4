package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spigotdb/spigot/internal/model"
)

var (
	// ErrUnauthenticated is returned when no valid credential resolves: the
	// presented secret is unknown, revoked, or past its expiry.
	ErrUnauthenticated = errors.New("invalid or missing credential")

	// ErrNotFound is returned when a key id or prefix matches no record.
	ErrNotFound = errors.New("api key not found")
)

// Mode controls how the resolver treats requests that present no credential.
type Mode string

const (
	// ModeStrict rejects unauthenticated requests. Default.
	ModeStrict Mode = "strict"

	// ModePermissive synthesizes a full-permission context for requests
	// without a credential. Development use only; never the silent default.
	ModePermissive Mode = "permissive"
)

const (
	prefixLive = "spg_live_"
	prefixRead = "spg_read_"

	// prefixLen is the number of leading characters of the raw key kept as
	// the non-secret display prefix.
	prefixLen = 15
)

// Context is the resolved authorization context for a single request. It is
// constructed per request and never persisted.
type Context struct {
	KeyID       string
	Permissions []model.Permission
	RateLimit   model.RateLimitPolicy
	Admin       bool
}

// Store holds API key records in memory. A hash index maps each secret digest
// to at most one non-revoked key. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	keys   map[string]*model.APIKey // by id
	byHash map[string]string        // sha256 hex -> id, non-revoked only
	usage  map[string]*model.KeyUsage

	mode          Mode
	defaultPolicy model.RateLimitPolicy
	retention     time.Duration // how long revoked records are kept, 0 = forever
}

// NewStore creates an empty credential store in the given mode.
func NewStore(mode Mode) *Store {
	return &Store{
		keys:          make(map[string]*model.APIKey),
		byHash:        make(map[string]string),
		usage:         make(map[string]*model.KeyUsage),
		mode:          mode,
		defaultPolicy: model.DefaultRateLimitPolicy(),
		retention:     30 * 24 * time.Hour,
	}
}

// SetDefaultPolicy overrides the process-wide rate-limit policy applied to
// keys that carry no policy of their own and to permissive-mode contexts.
func (s *Store) SetDefaultPolicy(p model.RateLimitPolicy) {
	s.mu.Lock()
	s.defaultPolicy = p
	s.mu.Unlock()
}

// Mode returns the store's no-credential behavior.
func (s *Store) Mode() Mode {
	return s.mode
}

// HashKey returns the hex-encoded SHA-256 digest of a raw key.
func HashKey(rawKey string) string {
	h := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(h[:])
}

// Issue generates a new API key. The plaintext key is returned exactly once;
// only its digest is stored. Keys whose grants include write, create, or
// delete actions get the live prefix, read-only keys the read prefix.
func (s *Store) Issue(name string, perms []model.Permission, expiresAt *time.Time) (string, *model.APIKey, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", nil, err
	}

	prefix := prefixRead
	for _, p := range perms {
		for _, a := range p.Actions {
			if a != model.ActionRead {
				prefix = prefixLive
			}
		}
	}
	rawKey := prefix + hex.EncodeToString(randomBytes)

	key := &model.APIKey{
		ID:          uuid.NewString(),
		Name:        name,
		KeyHash:     HashKey(rawKey),
		KeyPrefix:   rawKey[:prefixLen],
		Permissions: perms,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   expiresAt,
	}

	s.mu.Lock()
	s.keys[key.ID] = key
	s.byHash[key.KeyHash] = key.ID
	s.usage[key.ID] = &model.KeyUsage{KeyID: key.ID, StatusCounts: make(map[int]int64)}
	s.mu.Unlock()

	return rawKey, key, nil
}

// Seed installs a key with a caller-chosen plaintext secret. Used by the
// declarative keys file in development setups; the raw key still is not
// stored, only hashed.
func (s *Store) Seed(rawKey, name string, perms []model.Permission, policy *model.RateLimitPolicy) (*model.APIKey, error) {
	if len(rawKey) < prefixLen {
		return nil, errors.New("seed key too short")
	}
	key := &model.APIKey{
		ID:          uuid.NewString(),
		Name:        name,
		KeyHash:     HashKey(rawKey),
		KeyPrefix:   rawKey[:prefixLen],
		Permissions: perms,
		RateLimit:   policy,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byHash[key.KeyHash]; exists {
		return nil, errors.New("duplicate seed key")
	}
	s.keys[key.ID] = key
	s.byHash[key.KeyHash] = key.ID
	s.usage[key.ID] = &model.KeyUsage{KeyID: key.ID, StatusCounts: make(map[int]int64)}
	return key, nil
}

// Resolve maps a presented secret to an authorization context.
//
// A presented secret whose digest matches no non-revoked, non-expired record
// yields ErrUnauthenticated. An absent secret yields ErrUnauthenticated in
// strict mode, or a synthesized full-permission context in permissive mode.
func (s *Store) Resolve(rawKey string) (*Context, error) {
	if rawKey == "" {
		if s.mode == ModePermissive {
			return s.permissiveContext(), nil
		}
		return nil, ErrUnauthenticated
	}

	hash := HashKey(rawKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[hash]
	if !ok {
		return nil, ErrUnauthenticated
	}
	key := s.keys[id]
	if key == nil || key.Revoked {
		return nil, ErrUnauthenticated
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
		return nil, ErrUnauthenticated
	}

	now := time.Now().UTC()
	key.LastUsed = &now

	policy := s.defaultPolicy
	if key.RateLimit != nil {
		policy = *key.RateLimit
	}

	return &Context{
		KeyID:       key.ID,
		Permissions: key.Permissions,
		RateLimit:   policy,
	}, nil
}

func (s *Store) permissiveContext() *Context {
	all := []string{model.ActionRead, model.ActionWrite, model.ActionCreate, model.ActionDelete}
	return &Context{
		KeyID: "anonymous",
		Permissions: []model.Permission{
			{Resource: model.ResourceTables, Actions: all},
			{Resource: model.ResourceData, Actions: all},
			{Resource: model.ResourceMedia, Actions: all},
			{Resource: model.ResourceAdmin, Actions: all},
		},
		RateLimit: s.defaultPolicy,
	}
}

// AdminContext returns a full-permission context for a verified admin
// session token.
func (s *Store) AdminContext(subject string) *Context {
	ctx := s.permissiveContext()
	ctx.KeyID = "admin:" + subject
	ctx.Admin = true
	return ctx
}

// Revoke deactivates the key matching the given id or prefix. Idempotent:
// revoking an already-revoked key succeeds. Returns ErrNotFound when nothing
// matches.
func (s *Store) Revoke(idOrPrefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.findLocked(idOrPrefix)
	if key == nil {
		return ErrNotFound
	}
	if !key.Revoked {
		key.Revoked = true
		delete(s.byHash, key.KeyHash)
	}
	return nil
}

// Rotate revokes the key and issues a replacement with identical permissions
// and rate-limit policy. The old and new records coexist with distinct ids.
func (s *Store) Rotate(id string) (string, *model.APIKey, error) {
	s.mu.Lock()
	old := s.findLocked(id)
	if old == nil {
		s.mu.Unlock()
		return "", nil, ErrNotFound
	}
	if !old.Revoked {
		old.Revoked = true
		delete(s.byHash, old.KeyHash)
	}
	name := old.Name
	perms := old.Permissions
	policy := old.RateLimit
	expiry := old.ExpiresAt
	s.mu.Unlock()

	rawKey, key, err := s.Issue(name, perms, expiry)
	if err != nil {
		return "", nil, err
	}
	if policy != nil {
		s.mu.Lock()
		key.RateLimit = policy
		s.mu.Unlock()
	}
	return rawKey, key, nil
}

// SetPolicy attaches a key-level rate-limit policy, which overrides the
// process default for that key. A nil policy restores the default.
func (s *Store) SetPolicy(id string, policy *model.RateLimitPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[id]
	if !ok {
		return ErrNotFound
	}
	key.RateLimit = policy
	return nil
}

// Get returns the key record for an id or prefix.
func (s *Store) Get(idOrPrefix string) (*model.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := s.findLocked(idOrPrefix)
	if key == nil {
		return nil, ErrNotFound
	}
	cp := *key
	return &cp, nil
}

// List returns all key records, newest first.
func (s *Store) List() []*model.APIKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		cp := *k
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// RecordUsage updates the usage counters for a key after a request completes.
func (s *Store) RecordUsage(keyID, endpoint string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usage[keyID]
	if !ok {
		return
	}
	now := time.Now().UTC()
	u.TotalRequests++
	u.StatusCounts[status]++
	u.LastEndpoint = endpoint
	u.LastSeen = &now
}

// Usage returns the usage counters for a key, located by id or display
// prefix like Get and Revoke.
func (s *Store) Usage(idOrPrefix string) (*model.KeyUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := s.findLocked(idOrPrefix)
	if key == nil {
		return nil, ErrNotFound
	}
	u, ok := s.usage[key.ID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	cp.StatusCounts = make(map[int]int64, len(u.StatusCounts))
	for k, v := range u.StatusCounts {
		cp.StatusCounts[k] = v
	}
	return &cp, nil
}

// SweepRevoked garbage-collects revoked records older than the retention
// window. Returns the number of records removed.
func (s *Store) SweepRevoked(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retention == 0 {
		return 0
	}
	cutoff := now.Add(-s.retention)
	removed := 0
	for id, k := range s.keys {
		if k.Revoked && k.CreatedAt.Before(cutoff) {
			delete(s.keys, id)
			delete(s.usage, id)
			removed++
		}
	}
	return removed
}

// findLocked locates a key by exact id or by prefix match. Caller holds mu.
func (s *Store) findLocked(idOrPrefix string) *model.APIKey {
	if k, ok := s.keys[idOrPrefix]; ok {
		return k
	}
	for _, k := range s.keys {
		if strings.HasPrefix(k.KeyPrefix, idOrPrefix) {
			return k
		}
	}
	return nil
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/spigotdb/spigot/internal/auth"
)

type contextKeyAuth string

// AuthContextKey is the context key for the resolved authorization context.
const AuthContextKey contextKeyAuth = "auth_context"

// Authenticate resolves the request's credential into an authorization
// context. Two credential forms are accepted:
//
//  1. API key, via the configured header (default X-API-Key) or an
//     Authorization: Bearer value carrying a key prefix
//  2. Admin session JWT, via Authorization: Bearer
//
// A request with no credential is handled per the store's mode: strict
// rejects with 401, permissive proceeds with a synthesized context.
func Authenticate(store *auth.Store, sessions *auth.Sessions, apiKeyHeader string) func(http.Handler) http.Handler {
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(apiKeyHeader)
			bearer := ""
			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				bearer = strings.TrimPrefix(h, "Bearer ")
			}

			var actx *auth.Context
			switch {
			case rawKey == "" && bearer != "" && strings.HasPrefix(bearer, "spg_"):
				// API keys are accepted as bearer tokens too.
				rawKey = bearer
				fallthrough
			case rawKey != "":
				resolved, err := store.Resolve(rawKey)
				if err != nil {
					writeAuthError(w, http.StatusUnauthorized, "invalid API key")
					return
				}
				actx = resolved
			case bearer != "":
				subject, err := sessions.Verify(bearer)
				if err != nil {
					writeAuthError(w, http.StatusUnauthorized, "invalid session token")
					return
				}
				actx = store.AdminContext(subject)
			default:
				resolved, err := store.Resolve("")
				if err != nil {
					if errors.Is(err, auth.ErrUnauthenticated) {
						writeAuthError(w, http.StatusUnauthorized,
							"authentication required: provide "+apiKeyHeader+" header or Bearer token")
						return
					}
					writeAuthError(w, http.StatusInternalServerError, "authentication failed")
					return
				}
				actx = resolved
			}

			ctx := context.WithValue(r.Context(), AuthContextKey, actx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission enforces a resource/action grant. For routes with a
// {name} table parameter the handler re-checks with the concrete table; this
// gate covers the resource-level decision. Must run after Authenticate.
func RequirePermission(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actx := GetAuthContext(r.Context())
			if actx == nil {
				writeAuthError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !actx.Admin && !auth.HasPermission(actx, resource, action, "") {
				writeAuthError(w, http.StatusForbidden,
					"permission denied: "+action+" on "+resource)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin enforces an admin session. Must run after Authenticate.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actx := GetAuthContext(r.Context())
			if actx == nil || !actx.Admin {
				writeAuthError(w, http.StatusForbidden, "admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetAuthContext extracts the authorization context from the request
// context, or nil for an unauthenticated request.
func GetAuthContext(ctx context.Context) *auth.Context {
	if a, ok := ctx.Value(AuthContextKey).(*auth.Context); ok {
		return a
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Hand-built JSON avoids an import cycle with the handler package.
	w.Write([]byte(`{"error":{"code":` + strconv.Itoa(status) + `,"message":"` + message + `"}}`))
}

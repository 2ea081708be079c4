package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Sessions issues and verifies HS256 admin session tokens. A valid token
// resolves to a full-permission admin context; the CLI mints one to drive the
// key-management endpoints of a running server.
type Sessions struct {
	secret []byte
}

// NewSessions creates a session verifier with the given signing secret.
func NewSessions(secret string) *Sessions {
	return &Sessions{secret: []byte(secret)}
}

type sessionClaims struct {
	Subject string `json:"sub_name"`
	jwt.RegisteredClaims
}

// Issue creates a signed session token for the given subject.
func (s *Sessions) Issue(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "spigot",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks a session token and returns its subject. Tokens signed with
// anything other than HMAC are rejected regardless of validity.
func (s *Sessions) Verify(tokenStr string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrUnauthenticated
	}
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrUnauthenticated
	}
	return claims.Subject, nil
}

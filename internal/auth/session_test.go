package auth

import (
	"testing"
	"time"
)

func TestSessionRoundTrip(t *testing.T) {
	sessions := NewSessions("test-secret")

	token, err := sessions.Issue("ops", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	subject, err := sessions.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if subject != "ops" {
		t.Errorf("subject = %q, want ops", subject)
	}
}

func TestSessionWrongSecret(t *testing.T) {
	token, _ := NewSessions("secret-a").Issue("ops", time.Minute)

	if _, err := NewSessions("secret-b").Verify(token); err != ErrUnauthenticated {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestSessionExpired(t *testing.T) {
	sessions := NewSessions("test-secret")
	token, _ := sessions.Issue("ops", -time.Minute)

	if _, err := sessions.Verify(token); err != ErrUnauthenticated {
		t.Errorf("expired token should not verify, got %v", err)
	}
}

func TestSessionEmptySecret(t *testing.T) {
	if _, err := NewSessions("").Verify("whatever"); err != ErrUnauthenticated {
		t.Errorf("verifier without a secret must reject, got %v", err)
	}
}

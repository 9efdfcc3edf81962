package auth

import (
	"testing"
	"time"
)

// TestIssueAndParse проверяет выпуск и разбор токена.
func TestIssueAndParse(t *testing.T) {
	manager := NewTokenManager("secret", "dompet-orchestrator")

	token, err := manager.Issue("user-1", "acme", "session-1", []string{"member"}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := manager.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if claims.Subject != "user-1" || claims.TenantID != "acme" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.SessionID != "session-1" {
		t.Fatalf("unexpected session: %s", claims.SessionID)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "member" {
		t.Fatalf("unexpected roles: %v", claims.Roles)
	}
}

// TestParseExpired проверяет отказ на истекшем токене.
func TestParseExpired(t *testing.T) {
	manager := NewTokenManager("secret", "dompet-orchestrator")

	token, err := manager.Issue("user-1", "acme", "", nil, -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := manager.Parse(token); err == nil {
		t.Fatal("expected error for expired token")
	}
}

// TestParseWrongSecret проверяет отказ на чужой подписи.
func TestParseWrongSecret(t *testing.T) {
	issuer := NewTokenManager("secret-a", "dompet-orchestrator")
	verifier := NewTokenManager("secret-b", "dompet-orchestrator")

	token, err := issuer.Issue("user-1", "acme", "", nil, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := verifier.Parse(token); err == nil {
		t.Fatal("expected error for wrong signature")
	}
}

// TestParseMissingTenant проверяет обязательность tenantId в токене.
func TestParseMissingTenant(t *testing.T) {
	manager := NewTokenManager("secret", "dompet-orchestrator")

	token, err := manager.Issue("user-1", "", "", nil, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := manager.Parse(token); err == nil {
		t.Fatal("expected error for missing tenant")
	}
}

// TestParseEmpty проверяет различие отсутствующего и неверного токена.
func TestParseEmpty(t *testing.T) {
	manager := NewTokenManager("secret", "dompet-orchestrator")

	if _, err := manager.Parse(" "); err != ErrTokenMissing {
		t.Fatalf("expected ErrTokenMissing, got %v", err)
	}
	if _, err := manager.Parse("not-a-token"); err != ErrTokenInvalid {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

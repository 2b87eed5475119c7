package identity

import (
	"strings"
	"testing"
	"time"
)

func TestTokenIssueAndVerify(t *testing.T) {
	iss, err := NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	id := &Identity{
		ID:        "id-1",
		Class:     ClassUser,
		Role:      "manager",
		CompanyID: "company-9",
	}
	token, exp, err := iss.Issue(id)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected future expiry, got %v", exp)
	}

	claims, err := iss.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "id-1" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Class != ClassUser || claims.Role != "manager" || claims.CompanyID != "company-9" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Manager {
		t.Fatal("manager flag must not be set for user-class tokens")
	}
}

func TestTokenAdminManagerFlag(t *testing.T) {
	iss, err := NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	token, _, err := iss.Issue(&Identity{ID: "adm-1", Class: ClassAdmin, Manager: true})
	if err != nil {
		t.Fatal(err)
	}
	claims, err := iss.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if !claims.Manager || claims.Class != ClassAdmin {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokenRejections(t *testing.T) {
	iss, err := NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	token, _, err := iss.Issue(&Identity{ID: "id-1", Class: ClassUser})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := iss.Verify(""); err == nil {
		t.Fatal("empty token must be rejected")
	}
	if _, err := iss.Verify("not.a.jwt"); err == nil {
		t.Fatal("malformed token must be rejected")
	}

	// Tampered payload keeps the structure but breaks the signature.
	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := iss.Verify(tampered); err == nil {
		t.Fatal("tampered token must be rejected")
	}

	other, err := NewTokenIssuer("another-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Verify(token); err == nil {
		t.Fatal("token signed with a different secret must be rejected")
	}
}

func TestTokenExpiry(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	iss, err := NewTokenIssuer("test-secret", time.Hour, WithTokenClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	token, _, err := iss.Issue(&Identity{ID: "id-1", Class: ClassUser})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := iss.Verify(token); err != nil {
		t.Fatalf("fresh token must verify: %v", err)
	}

	now = now.Add(time.Hour + time.Second)
	if _, err := iss.Verify(token); err == nil {
		t.Fatal("expired token must be rejected")
	}
}

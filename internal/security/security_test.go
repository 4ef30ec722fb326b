package security

import (
	"testing"
	"time"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword(hash, "s3cret-pass") {
		t.Fatalf("expected password to match")
	}
	if CheckPassword(hash, "wrong") {
		t.Fatalf("expected mismatch")
	}
	if _, err := HashPassword(""); err == nil {
		t.Fatalf("expected error for empty password")
	}
}

func TestAdminTokenRoundTrip(t *testing.T) {
	token, expiresAt, err := IssueAdminToken("secret", 7, "ops", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expected future expiry")
	}
	claims, err := ParseAdminToken("secret", token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.AdminID != 7 || claims.Username != "ops" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if _, err := ParseAdminToken("other", token); err == nil {
		t.Fatalf("expected signature failure with another secret")
	}
}

func TestParseAdminToken_Expired(t *testing.T) {
	token, _, err := IssueAdminToken("secret", 1, "ops", time.Minute, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := ParseAdminToken("secret", token); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestIssueAdminToken_EmptySecret(t *testing.T) {
	if _, _, err := IssueAdminToken(" ", 1, "ops", time.Minute, time.Now()); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestGenerateRandomString(t *testing.T) {
	a, err := GenerateRandomString(16)
	if err != nil {
		t.Fatalf("random: %v", err)
	}
	b, _ := GenerateRandomString(16)
	if len(a) != 32 || a == b {
		t.Fatalf("unexpected random strings %q %q", a, b)
	}
}

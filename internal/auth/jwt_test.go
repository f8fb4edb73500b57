package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestGenerateAndValidateMerchantToken(t *testing.T) {
	secret := "test-secret-key"

	token, err := GenerateMerchantToken(secret, "biz-1")
	if err != nil {
		t.Fatalf("GenerateMerchantToken: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	claims, err := ValidateRole(secret, token, RoleMerchant)
	if err != nil {
		t.Fatalf("ValidateRole: %v", err)
	}
	if claims.BusinessID != "biz-1" {
		t.Errorf("expected business_id 'biz-1', got %q", claims.BusinessID)
	}
}

func TestChatTokenCarriesIdentity(t *testing.T) {
	secret := "test-secret-key"

	token, identity, err := GenerateChatToken(secret, "biz-1")
	if err != nil {
		t.Fatalf("GenerateChatToken: %v", err)
	}
	if !strings.HasPrefix(identity, "web:") {
		t.Errorf("expected web identity, got %q", identity)
	}

	claims, err := ValidateRole(secret, token, RoleChat)
	if err != nil {
		t.Fatalf("ValidateRole: %v", err)
	}
	if claims.Subject != identity {
		t.Errorf("expected subject %q, got %q", identity, claims.Subject)
	}

	_, other, _ := GenerateChatToken(secret, "biz-1")
	if other == identity {
		t.Error("expected a fresh identity per chat token")
	}
}

func TestValidateRoleRejectsOtherRole(t *testing.T) {
	token, _, _ := GenerateChatToken("secret", "biz-1")

	_, err := ValidateRole("secret", token, RoleMerchant)
	if !errors.Is(err, ErrWrongRole) {
		t.Errorf("expected ErrWrongRole, got %v", err)
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, _ := GenerateMerchantToken("secret1", "biz-1")

	_, err := ValidateToken("secret2", token)
	if err == nil {
		t.Error("expected error for wrong secret")
	}
}

func TestValidateTokenInvalid(t *testing.T) {
	_, err := ValidateToken("secret", "not-a-token")
	if err == nil {
		t.Error("expected error for invalid token")
	}
}

func TestTokenExpiry(t *testing.T) {
	secret := "test"
	token, _ := GenerateMerchantToken(secret, "biz-1")
	claims, _ := ValidateToken(secret, token)

	expiresAt := claims.ExpiresAt.Time
	expectedExpiry := time.Now().Add(MerchantTokenExpiry)

	// Should be within a few seconds.
	diff := expectedExpiry.Sub(expiresAt)
	if diff < -5*time.Second || diff > 5*time.Second {
		t.Errorf("token expiry too far from expected: diff=%v", diff)
	}
}

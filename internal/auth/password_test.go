package auth

import (
	"strings"
	"testing"
)

// TestHashAndVerifyPassword round-trips a password through bcrypt
func TestHashAndVerifyPassword(t *testing.T) {
	pm := NewPasswordManager(4, 8)

	hash, err := pm.HashPassword("password123")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if hash == "password123" {
		t.Error("Hash should not equal the plaintext")
	}
	if !pm.VerifyPassword("password123", hash) {
		t.Error("Correct password should verify")
	}
	if pm.VerifyPassword("password124", hash) {
		t.Error("Wrong password should not verify")
	}
}

// TestHashPasswordLengthBounds rejects too-short and too-long passwords
func TestHashPasswordLengthBounds(t *testing.T) {
	pm := NewPasswordManager(4, 8)

	if _, err := pm.HashPassword("short"); err == nil {
		t.Error("Short password should be rejected")
	}
	if _, err := pm.HashPassword(strings.Repeat("a", 73)); err == nil {
		t.Error("Over-72-byte password should be rejected")
	}
}

// TestGenerateAccessToken checks tokens are unique and their hashes stable
func TestGenerateAccessToken(t *testing.T) {
	a, err := GenerateAccessToken()
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}
	b, err := GenerateAccessToken()
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}
	if a == b {
		t.Error("Tokens should be unique")
	}
	if HashAccessToken(a) != HashAccessToken(a) {
		t.Error("Hash should be deterministic")
	}
	if len(HashAccessToken(a)) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(HashAccessToken(a)))
	}
}

// TestValidMAC covers MAC format validation
func TestValidMAC(t *testing.T) {
	valid := []string{"AA:BB:CC:DD:EE:FF", "00:11:22:33:44:55"}
	for _, mac := range valid {
		if !ValidMAC(mac) {
			t.Errorf("%q should be valid", mac)
		}
	}

	invalid := []string{"", "aa:bb:cc:dd:ee:ff", "AA:BB:CC:DD:EE", "AA:BB:CC:DD:EE:FF:00", "AABBCCDDEEFF", "GG:HH:II:JJ:KK:LL"}
	for _, mac := range invalid {
		if ValidMAC(mac) {
			t.Errorf("%q should be invalid", mac)
		}
	}

	if NormalizeMAC(" aa-bb-cc-dd-ee-ff ") != "AA:BB:CC:DD:EE:FF" {
		t.Error("NormalizeMAC should upper-case and convert dashes")
	}
}

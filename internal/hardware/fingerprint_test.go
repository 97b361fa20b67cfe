package hardware

import (
	"regexp"
	"testing"
)

var idPattern = regexp.MustCompile(`^[0-9A-F]{32}$`)

// TestFingerprintStable verifies the id is deterministic and well-formed
func TestFingerprintStable(t *testing.T) {
	first, err := Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	if !idPattern.MatchString(first) {
		t.Errorf("Fingerprint %q should be 32 uppercase hex chars", first)
	}

	second, err := Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	if first != second {
		t.Errorf("Fingerprint should be stable, got %q then %q", first, second)
	}
}

// TestFingerprintOfMaterial verifies different material yields different ids
func TestFingerprintOfMaterial(t *testing.T) {
	a := fingerprintOf("host-a|linux|amd64|AA:BB:CC:DD:EE:FF")
	b := fingerprintOf("host-b|linux|amd64|AA:BB:CC:DD:EE:FF")
	if a == b {
		t.Error("Different hosts should produce different fingerprints")
	}
	if !idPattern.MatchString(a) || !idPattern.MatchString(b) {
		t.Error("Fingerprints should be 32 uppercase hex chars")
	}
}

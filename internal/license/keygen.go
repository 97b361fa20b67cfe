package license

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// keyAlphabet excludes 0, 1, I and O to keep keys unambiguous when read
// aloud or typed from a printout.
const keyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// KeyLength is the number of characters in a license key.
const KeyLength = 16

// KeyPattern matches a well-formed license key.
var KeyPattern = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{16}$`)

// GenerateKey returns a new random license key.
func GenerateKey() (string, error) {
	var sb strings.Builder
	sb.Grow(KeyLength)
	max := big.NewInt(int64(len(keyAlphabet)))
	for i := 0; i < KeyLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate license key: %w", err)
		}
		sb.WriteByte(keyAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// NormalizeKey upper-cases a key and strips whitespace and dashes, so keys
// pasted as "abcd-efgh-..." still match.
func NormalizeKey(key string) string {
	key = strings.ToUpper(strings.TrimSpace(key))
	key = strings.ReplaceAll(key, "-", "")
	key = strings.ReplaceAll(key, " ", "")
	return key
}

// ValidKeyFormat reports whether key is well-formed after normalization.
func ValidKeyFormat(key string) bool {
	return KeyPattern.MatchString(key)
}

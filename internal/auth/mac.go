package auth

import (
	"regexp"
	"strings"
)

// macPattern matches a colon-separated uppercase MAC address, e.g.
// "AA:BB:CC:DD:EE:FF".
var macPattern = regexp.MustCompile(`^[0-9A-F]{2}(:[0-9A-F]{2}){5}$`)

// NormalizeMAC upper-cases a MAC address and converts dash separators to
// colons. It does not validate; callers pass the result to ValidMAC.
func NormalizeMAC(mac string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(mac), "-", ":"))
}

// ValidMAC reports whether mac is a well-formed colon-separated MAC address.
func ValidMAC(mac string) bool {
	return macPattern.MatchString(mac)
}

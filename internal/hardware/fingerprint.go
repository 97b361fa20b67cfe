// Package hardware derives a stable machine fingerprint for license binding.
package hardware

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"runtime"
	"sort"
	"strings"
)

// FingerprintLength is the number of hex characters in a hardware id.
const FingerprintLength = 32

// Fingerprint returns the hardware id for this machine: an uppercase hex
// digest of the stable host identifiers. The same machine always produces
// the same id; a different machine practically never collides.
func Fingerprint() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to read hostname: %w", err)
	}

	macs, err := macAddresses()
	if err != nil {
		return "", err
	}

	parts := []string{
		hostname,
		runtime.GOOS,
		runtime.GOARCH,
		strings.Join(macs, ","),
	}
	return fingerprintOf(strings.Join(parts, "|")), nil
}

// fingerprintOf hashes the identifier material into the published id format.
func fingerprintOf(material string) string {
	sum := sha256.Sum256([]byte(material))
	return strings.ToUpper(hex.EncodeToString(sum[:]))[:FingerprintLength]
}

// macAddresses returns the hardware addresses of the physical-looking
// interfaces, sorted so interface enumeration order cannot change the
// fingerprint. Loopback and virtual interfaces without a MAC are skipped.
func macAddresses() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list network interfaces: %w", err)
	}

	var macs []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		macs = append(macs, strings.ToUpper(iface.HardwareAddr.String()))
	}
	sort.Strings(macs)
	return macs, nil
}

// PrimaryMAC returns the first non-loopback MAC address, upper-cased with
// colon separators. Used by the desktop login flow.
func PrimaryMAC() (string, error) {
	macs, err := macAddresses()
	if err != nil {
		return "", err
	}
	if len(macs) == 0 {
		return "", fmt.Errorf("no network interface with a hardware address")
	}
	return macs[0], nil
}

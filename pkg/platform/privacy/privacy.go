// Package privacy provides helpers for reducing PII in logs and audit output.
package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
)

// AnonymizeIP truncates an IP address for log output: IPv4 keeps the /24,
// IPv6 keeps the /48. The full address still goes into the evidentiary audit
// store; only operational logs get the anonymized form.
func AnonymizeIP(ip string) string {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return ""
	}
	if v4 := parsed.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String() + "/24"
	}
	return parsed.Mask(net.CIDRMask(48, 128)).String() + "/48"
}

// HashIdentifier returns the hex SHA-256 of a personal identifier (national
// tax ID, employee number) so audit rows stay traceable without raw PII.
func HashIdentifier(identifier string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(identifier)))
	return hex.EncodeToString(sum[:])
}

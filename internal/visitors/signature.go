// Package visitors derives pseudonymous visitor identities and tracks which
// of them have been seen per website.
package visitors

import (
	"crypto/sha512"
	"encoding/hex"
)

// Signature derives the stable pseudonymous identity for an event. The same
// (hostname, userAgent, ipAddr, websiteID) tuple always yields the same
// digest; the raw attributes are never stored. Distinct real users behind the
// same NAT with the same browser collapse into one signature - a documented
// limitation of attribute-derived identity, not something to compensate for
// here.
func Signature(hostname, userAgent, ipAddr, websiteID string) string {
	sum := sha512.Sum512([]byte(hostname + websiteID + userAgent + ipAddr))
	return hex.EncodeToString(sum[:])
}

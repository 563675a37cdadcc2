// Package countries normalizes incoming country codes against the ISO 3166-1
// dataset.
package countries

import (
	"strings"

	"github.com/pariz/gountries"
)

// Unknown is the bucket key for empty or unrecognized country codes.
const Unknown = "unknown"

// Normalizer validates alpha-2/alpha-3 codes and canonicalizes them to
// upper-case alpha-2.
type Normalizer struct {
	query *gountries.Query
}

// NewNormalizer loads the embedded gountries dataset.
func NewNormalizer() *Normalizer {
	return &Normalizer{query: gountries.New()}
}

// Normalize returns the canonical upper-case alpha-2 code, or Unknown.
func (n *Normalizer) Normalize(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return Unknown
	}
	country, err := n.query.FindCountryByAlpha(code)
	if err != nil {
		return Unknown
	}
	return strings.ToUpper(country.Alpha2)
}

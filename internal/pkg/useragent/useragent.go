// Package useragent classifies user agent strings into browser labels using
// an ordered PCRE pattern table. The chrome and safari patterns rely on
// negative lookahead to exclude the forks that embed their tokens, which Go's
// regexp engine cannot express.
package useragent

import (
	"fmt"

	"go.elara.ws/pcre"
)

// Unknown is the sentinel label returned when no pattern matches.
const Unknown = "unknown"

type pattern struct {
	label string
	expr  string
}

// Order matters: vendor-specific agents carry Chrome/Safari tokens, so the
// narrow patterns come first and the broad ones exclude known forks.
var patterns = []pattern{
	{"facebook", `(?i)(?:FBAN/(\w+)|FacebookExternalHit)`},
	{"instagram", `(?i)Instagram (\d+\.\d+\.\d+\.\d+)`},
	{"brave", `Brave`},
	{"chrome", `(?i)(?:\b(?:CriOS|Chrome)(?:/|\s+)(\d+\.\d+))(?!.*\b(OPR|Edg|Brave)/)`},
	{"safari", `(?i)(?:\bVersion/(\d+\.\d+).*\b(?:Safari|Mobile/\w+))(?!.*\b(OPR|Edg)/)`},
	{"opera", `(?i)\bOPR/(\d+\.\d+)`},
	{"edge", `(?i)\bEdg/(\d+\.\d+)`},
	{"firefox", `(?i)(?:\bFirefox/(\d+\.\d+))`},
	{"internet explorer", `(?i)(?:\b(?:MSIE|Trident)/(\d+\.\d+))`},
}

type compiledPattern struct {
	label string
	re    *pcre.Regexp
}

// Classifier maps a user agent string to a browser label. Construct once at
// startup; Classify is safe for concurrent use.
type Classifier struct {
	compiled []compiledPattern
}

// NewClassifier compiles the pattern table.
func NewClassifier() (*Classifier, error) {
	compiled := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := pcre.Compile(p.expr)
		if err != nil {
			return nil, fmt.Errorf("compile pattern for %s: %w", p.label, err)
		}
		compiled = append(compiled, compiledPattern{label: p.label, re: re})
	}
	return &Classifier{compiled: compiled}, nil
}

// Classify returns the first matching browser label, or Unknown.
func (c *Classifier) Classify(userAgent string) string {
	if userAgent == "" {
		return Unknown
	}
	for _, p := range c.compiled {
		if p.re.MatchString(userAgent) {
			return p.label
		}
	}
	return Unknown
}

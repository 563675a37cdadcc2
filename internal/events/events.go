// Package events defines the wire payload consumed from the queue.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PageView is one pageview event as carried on the queue. The user_hash
// field is accepted on the wire but ignored: the visitor signature is always
// recomputed server-side from the other attributes.
type PageView struct {
	Hostname    string `json:"hostname"`
	UserAgent   string `json:"user_agent"`
	UserHash    string `json:"user_hash,omitempty"`
	Referer     string `json:"referer"`
	IPAddr      string `json:"ip_addr"`
	WebsiteID   string `json:"website_id"`
	CountryCode string `json:"country_code"`
	Page        string `json:"page"`
}

// MalformedError marks a payload that can never be processed successfully:
// unparseable JSON or missing required fields. Consumers dead-letter these
// instead of retrying.
type MalformedError struct {
	err error
}

func (e *MalformedError) Error() string {
	return "malformed page view: " + e.err.Error()
}

func (e *MalformedError) Unwrap() error {
	return e.err
}

// IsMalformed reports whether err (or anything it wraps) is a MalformedError.
func IsMalformed(err error) bool {
	var m *MalformedError
	return errors.As(err, &m)
}

// Decode parses and validates a raw queue message.
func Decode(raw []byte) (*PageView, error) {
	var pv PageView
	if err := json.Unmarshal(raw, &pv); err != nil {
		return nil, &MalformedError{err: err}
	}
	if err := pv.validate(); err != nil {
		return nil, &MalformedError{err: err}
	}
	return &pv, nil
}

func (p *PageView) validate() error {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"hostname", p.Hostname},
		{"user_agent", p.UserAgent},
		{"ip_addr", p.IPAddr},
		{"website_id", p.WebsiteID},
		{"page", p.Page},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

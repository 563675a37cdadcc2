// Package clock provides the time source for event processing.
package clock

import (
	"time"
)

// HourLayout is the canonical rendering of an hour bucket key.
const HourLayout = "2006-01-02 15:00"

// Clock abstracts the time source so tests can pin the hour boundary.
type Clock interface {
	NowUTC() time.Time
	HourOf(t time.Time) time.Time
}

// System is the wall-clock implementation used in production.
type System struct{}

// NowUTC returns the current time in UTC.
func (System) NowUTC() time.Time {
	return time.Now().UTC()
}

// HourOf truncates a timestamp to its UTC hour bucket.
func (System) HourOf(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// FormatHour renders an hour bucket the way it is keyed in logs and metrics.
func FormatHour(t time.Time) string {
	return t.UTC().Format(HourLayout)
}

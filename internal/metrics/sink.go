// Package metrics records pipeline counters behind a backend-agnostic sink.
package metrics

import "time"

// Sink receives pipeline events. All methods are fire-and-forget:
// implementations must not block or propagate errors.
type Sink interface {
	// Event outcomes
	EventProcessed(unique bool, duration time.Duration)
	EventMalformed()
	EventFailed()
	EventRequeued()
	EventDeadLettered()

	// Session transitions
	SessionOpened()
	SessionExtended()
	SessionClosed(count int)

	// Queue state
	InFlightIncr()
	InFlightDecr()
}

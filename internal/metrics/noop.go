package metrics

import "time"

// NoopSink discards every metric. Used when metrics are disabled so callers
// never nil-check the sink.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) EventProcessed(unique bool, duration time.Duration) {}
func (n *NoopSink) EventMalformed()                                    {}
func (n *NoopSink) EventFailed()                                       {}
func (n *NoopSink) EventRequeued()                                     {}
func (n *NoopSink) EventDeadLettered()                                 {}
func (n *NoopSink) SessionOpened()                                     {}
func (n *NoopSink) SessionExtended()                                   {}
func (n *NoopSink) SessionClosed(count int)                            {}
func (n *NoopSink) InFlightIncr()                                      {}
func (n *NoopSink) InFlightDecr()                                      {}

var _ Sink = (*NoopSink)(nil)

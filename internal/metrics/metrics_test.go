package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	sink.EventProcessed(true, 5*time.Millisecond)
	sink.EventProcessed(false, 5*time.Millisecond)
	sink.EventProcessed(false, 5*time.Millisecond)
	sink.EventMalformed()
	sink.EventDeadLettered()
	sink.SessionOpened()
	sink.SessionClosed(3)
	sink.InFlightIncr()
	sink.InFlightIncr()
	sink.InFlightDecr()

	assert.Equal(t, float64(1),
		testutil.ToFloat64(sink.eventsTotal.WithLabelValues("processed_unique")))
	assert.Equal(t, float64(2),
		testutil.ToFloat64(sink.eventsTotal.WithLabelValues("processed")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(sink.eventsTotal.WithLabelValues("malformed")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(sink.eventsTotal.WithLabelValues("dead_lettered")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(sink.sessionsTotal.WithLabelValues("opened")))
	assert.Equal(t, float64(3),
		testutil.ToFloat64(sink.sessionsTotal.WithLabelValues("closed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.inFlight))
}

func TestPrometheusSinkDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() {
		NewPrometheusSink(reg)
		NewPrometheusSink(reg)
	})
}

func TestNoopSink(t *testing.T) {
	s := NewNoopSink()
	s.EventProcessed(true, time.Millisecond)
	s.EventMalformed()
	s.EventFailed()
	s.EventRequeued()
	s.EventDeadLettered()
	s.SessionOpened()
	s.SessionExtended()
	s.SessionClosed(2)
	s.InFlightIncr()
	s.InFlightDecr()
}

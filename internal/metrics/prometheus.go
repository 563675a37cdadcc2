package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink on the Prometheus client library.
// Registration errors are swallowed; a double-registered collector still
// counts through the first registration.
type PrometheusSink struct {
	eventsTotal     *prometheus.CounterVec
	processDuration prometheus.Histogram
	sessionsTotal   *prometheus.CounterVec
	inFlight        prometheus.Gauge
}

// NewPrometheusSink registers the pipeline collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "viewmill_events_total",
			Help: "Pageview events by outcome.",
		}, []string{"outcome"}),
		processDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "viewmill_event_process_duration_seconds",
			Help:    "Time spent processing one event end to end.",
			Buckets: prometheus.DefBuckets,
		}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "viewmill_session_transitions_total",
			Help: "Session state transitions by kind.",
		}, []string{"transition"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "viewmill_events_in_flight",
			Help: "Deliveries currently being processed.",
		}),
	}
	for _, c := range []prometheus.Collector{
		s.eventsTotal, s.processDuration, s.sessionsTotal, s.inFlight,
	} {
		_ = reg.Register(c)
	}
	return s
}

func (s *PrometheusSink) EventProcessed(unique bool, duration time.Duration) {
	if unique {
		s.eventsTotal.WithLabelValues("processed_unique").Inc()
	} else {
		s.eventsTotal.WithLabelValues("processed").Inc()
	}
	s.processDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) EventMalformed() {
	s.eventsTotal.WithLabelValues("malformed").Inc()
}

func (s *PrometheusSink) EventFailed() {
	s.eventsTotal.WithLabelValues("failed").Inc()
}

func (s *PrometheusSink) EventRequeued() {
	s.eventsTotal.WithLabelValues("requeued").Inc()
}

func (s *PrometheusSink) EventDeadLettered() {
	s.eventsTotal.WithLabelValues("dead_lettered").Inc()
}

func (s *PrometheusSink) SessionOpened() {
	s.sessionsTotal.WithLabelValues("opened").Inc()
}

func (s *PrometheusSink) SessionExtended() {
	s.sessionsTotal.WithLabelValues("extended").Inc()
}

func (s *PrometheusSink) SessionClosed(count int) {
	s.sessionsTotal.WithLabelValues("closed").Add(float64(count))
}

func (s *PrometheusSink) InFlightIncr() {
	s.inFlight.Inc()
}

func (s *PrometheusSink) InFlightDecr() {
	s.inFlight.Dec()
}

var _ Sink = (*PrometheusSink)(nil)

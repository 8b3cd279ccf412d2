package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Probe outcomes.
const (
	ProbeMatch       = "match"
	ProbeNoAnnouncer = "no_announcer"
	ProbeNoMatch     = "no_match"
	ProbeLostRace    = "lost_race"
	ProbeCanceled    = "canceled"
)

// Metrics groups the collectors of one peer. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	OffersCreated   prometheus.Counter
	OffersOpen      prometheus.Gauge
	Matches         *prometheus.CounterVec // role
	Probes          *prometheus.CounterVec // outcome
	InboundRequests *prometheus.CounterVec // result
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		OffersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otc", Name: "offers_created_total",
			Help: "Offers created on this peer.",
		}),
		OffersOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "otc", Name: "offers_open",
			Help: "Offers currently open on this peer.",
		}),
		Matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otc", Name: "matches_total",
			Help: "Matches settled, by the role this peer played.",
		}, []string{"role"}),
		Probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otc", Name: "probes_total",
			Help: "Finished outbound probes by outcome.",
		}, []string{"outcome"}),
		InboundRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otc", Name: "inbound_requests_total",
			Help: "Inbound match requests by reply.",
		}, []string{"result"}),
	}
	m.Registry.MustRegister(m.OffersCreated, m.OffersOpen, m.Matches, m.Probes, m.InboundRequests)
	return m
}

func (m *Metrics) OfferCreated() {
	if m == nil {
		return
	}
	m.OffersCreated.Inc()
	m.OffersOpen.Inc()
}

func (m *Metrics) OfferClosed() {
	if m == nil {
		return
	}
	m.OffersOpen.Dec()
}

func (m *Metrics) Matched(role string) {
	if m == nil {
		return
	}
	m.Matches.WithLabelValues(role).Inc()
}

func (m *Metrics) ProbeFinished(outcome string) {
	if m == nil {
		return
	}
	m.Probes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Inbound(result string) {
	if m == nil {
		return
	}
	m.InboundRequests.WithLabelValues(result).Inc()
}

// Reset zeroes the open-offer gauge, used when a peer drops its store on shutdown.
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.OffersOpen.Set(0)
}

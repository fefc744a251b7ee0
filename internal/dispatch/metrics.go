package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	queued   *prometheus.GaugeVec
	inFlight *prometheus.GaugeVec
	duration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		queued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "loader",
			Subsystem: "dispatch",
			Name:      "queued_calls",
			Help:      "Calls waiting for a slot in their limiter.",
		}, []string{"category"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "loader",
			Subsystem: "dispatch",
			Name:      "in_flight_calls",
			Help:      "Calls currently executing against the ads platform.",
		}, []string{"category"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "loader",
			Subsystem: "dispatch",
			Name:      "call_duration_seconds",
			Help:      "Duration of platform calls, excluding queue time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"category", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.queued, m.inFlight, m.duration)
	}
	return m
}

func categoryLabel(category string) string {
	if category == Unclassified {
		return "unclassified"
	}
	return category
}

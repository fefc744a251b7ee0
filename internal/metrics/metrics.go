package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a registry carrying the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Tasks counts task lifecycle transitions.
type Tasks struct {
	started  *prometheus.CounterVec
	retried  *prometheus.CounterVec
	finished *prometheus.CounterVec
	live     prometheus.Gauge
}

// NewTasks creates the task counters and registers them when reg is non-nil.
func NewTasks(reg prometheus.Registerer) *Tasks {
	t := &Tasks{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loader",
			Subsystem: "tasks",
			Name:      "started_total",
			Help:      "Tasks launched, by type.",
		}, []string{"type"}),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loader",
			Subsystem: "tasks",
			Name:      "retried_total",
			Help:      "Retry cycles launched, by type.",
		}, []string{"type"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loader",
			Subsystem: "tasks",
			Name:      "finished_total",
			Help:      "Task runs finished, by type and outcome.",
		}, []string{"type", "outcome"}),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "loader",
			Subsystem: "tasks",
			Name:      "live",
			Help:      "Tasks currently held in the registry.",
		}),
	}
	if reg != nil {
		reg.MustRegister(t.started, t.retried, t.finished, t.live)
	}
	return t
}

func (t *Tasks) Started(taskType string) {
	if t == nil {
		return
	}
	t.started.WithLabelValues(taskType).Inc()
	t.live.Inc()
}

func (t *Tasks) Retried(taskType string) {
	if t == nil {
		return
	}
	t.retried.WithLabelValues(taskType).Inc()
	t.live.Inc()
}

func (t *Tasks) Finished(taskType, outcome string) {
	if t == nil {
		return
	}
	t.finished.WithLabelValues(taskType, outcome).Inc()
	t.live.Dec()
}

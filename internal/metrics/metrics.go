// Package metrics exposes scheduler and tenant state as Prometheus
// collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/me/slideflow/pkg/model"
)

// Metrics holds the slideflow collectors.
type Metrics struct {
	registry *prometheus.Registry

	jobsFinished *prometheus.CounterVec
}

// New builds the collectors and registers them, together with gauges fed
// from the given snapshot functions, on a fresh registry.
func New(scheduler func() model.SchedulerStatus, tenants func() model.TenantStatus) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slideflow_jobs_finished_total",
			Help: "Jobs that reached a terminal state, by status.",
		}, []string{"status"}),
	}

	reg.MustRegister(m.jobsFinished)
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "slideflow_running_jobs",
		Help: "Jobs currently in the RUNNING state.",
	}, func() float64 { return float64(scheduler().RunningJobs) }))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "slideflow_max_workers",
		Help: "Configured global concurrent job cap.",
	}, func() float64 { return float64(scheduler().MaxWorkers) }))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "slideflow_active_users",
		Help: "Tenants currently holding an active slot.",
	}, func() float64 { return float64(tenants().ActiveUsers) }))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "slideflow_queued_users",
		Help: "Tenants waiting for an active slot.",
	}, func() float64 { return float64(tenants().QueuedUsers) }))

	return m
}

// JobFinished counts one terminal job.
func (m *Metrics) JobFinished(status model.JobStatus) {
	m.jobsFinished.WithLabelValues(status.String()).Inc()
}

// Registry returns the prometheus registry backing the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

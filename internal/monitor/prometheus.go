package monitor

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/yourorg/tburn-genesis-engine/internal/types"
)

const namespace = "tburn"

// engineCollector reads the engine at scrape time so exported values are never stale
type engineCollector struct {
	svc *Service

	tasks            *prometheus.Desc
	tasksTotal       *prometheus.Desc
	currentTPS       *prometheus.Desc
	peakTPS          *prometheus.Desc
	averageLatency   *prometheus.Desc
	latencyQuantile  *prometheus.Desc
	successRate      *prometheus.Desc
	distributed      *prometheus.Desc
	circuitState     *prometheus.Desc
	circuitFailures  *prometheus.Desc
	queueDepth       *prometheus.Desc
	uptime           *prometheus.Desc
	categoryProgress *prometheus.Desc
	activeAlerts     *prometheus.Desc
	droppedEvents    *prometheus.Desc
}

func newEngineCollector(svc *Service) *engineCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &engineCollector{
		svc:              svc,
		tasks:            desc("tasks", "Distribution tasks by status", "status"),
		tasksTotal:       desc("tasks_total", "Distribution tasks created"),
		currentTPS:       desc("tps_current", "Completed transfers per second over the throughput window"),
		peakTPS:          desc("tps_peak", "Highest observed transfers per second"),
		averageLatency:   desc("latency_average_ms", "Mean task latency over the rolling history"),
		latencyQuantile:  desc("latency_ms", "Task latency percentiles over the rolling history", "quantile"),
		successRate:      desc("success_rate_percent", "Completed tasks as a percentage of attempted tasks"),
		distributed:      desc("distributed_tburn", "Tokens distributed so far"),
		circuitState:     desc("circuit_breaker_state", "Circuit breaker state (0=closed, 1=open, 2=half-open)"),
		circuitFailures:  desc("circuit_breaker_failures", "Failures recorded since the last success"),
		queueDepth:       desc("queue_depth", "Queue sizes", "queue"),
		uptime:           desc("uptime_seconds", "Seconds since the metrics service started"),
		categoryProgress: desc("category_progress_percent", "Completed tasks per allocation category", "category"),
		activeAlerts:     desc("alerts_active", "Unresolved alerts"),
		droppedEvents:    desc("events_dropped_total", "Event deliveries skipped because a bus subscriber was full"),
	}
}

// Describe implements prometheus.Collector
func (c *engineCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.tasks, c.tasksTotal, c.currentTPS, c.peakTPS, c.averageLatency, c.latencyQuantile, c.successRate,
		c.distributed, c.circuitState, c.circuitFailures, c.queueDepth, c.uptime, c.categoryProgress, c.activeAlerts,
		c.droppedEvents,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *engineCollector) Collect(ch chan<- prometheus.Metric) {
	smp := c.svc.sample()
	m, q := smp.metrics, smp.queue
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	gauge(c.tasks, float64(m.CompletedTasks), "completed")
	gauge(c.tasks, float64(m.FailedTasks), "failed")
	gauge(c.tasks, float64(m.PendingTasks), "pending")
	gauge(c.tasks, float64(m.ProcessingTasks), "processing")
	gauge(c.tasksTotal, float64(m.TotalTasks))
	gauge(c.currentTPS, m.CurrentTPS)
	gauge(c.peakTPS, m.PeakTPS)
	gauge(c.averageLatency, m.AverageLatencyMs)
	gauge(c.latencyQuantile, smp.latency.P50, "0.5")
	gauge(c.latencyQuantile, smp.latency.P95, "0.95")
	gauge(c.latencyQuantile, smp.latency.P99, "0.99")
	gauge(c.successRate, m.SuccessRate)
	gauge(c.distributed, m.TotalDistributed.InexactFloat64())
	gauge(c.circuitState, float64(smp.circuit.State))
	gauge(c.circuitFailures, float64(smp.circuit.FailureCount))
	gauge(c.queueDepth, float64(q.PendingTasks), "tasks")
	gauge(c.queueDepth, float64(q.QueuedBatches), "batches")
	gauge(c.queueDepth, float64(q.ActiveBatches), "active")
	gauge(c.queueDepth, float64(q.HeldBatches), "held")

	c.svc.mu.RLock()
	uptime := smp.at.Sub(c.svc.startedAt).Seconds()
	active := len(c.svc.active)
	bus := c.svc.bus
	c.svc.mu.RUnlock()
	gauge(c.uptime, uptime)
	gauge(c.activeAlerts, float64(active))
	if bus != nil {
		ch <- prometheus.MustNewConstMetric(c.droppedEvents, prometheus.CounterValue, float64(bus.Dropped()))
	}

	for _, cat := range types.AllCategories {
		if p, ok := m.CategoryProgress[cat]; ok {
			gauge(c.categoryProgress, p.Percentage, string(cat))
		}
	}
}

func (s *Service) newRegistry() *prometheus.Registry {
	s.eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "engine_events_total",
		Help:      "Engine events observed on the bus",
	}, []string{"type"})
	s.alertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_triggered_total",
		Help:      "Alerts raised by severity",
	}, []string{"severity"})
	s.snapshotsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshots_total",
		Help:      "Metrics snapshots taken",
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		newEngineCollector(s),
		s.eventsTotal,
		s.alertsTotal,
		s.snapshotsTotal,
		collectors.NewGoCollector(),
	)
	return reg
}

// Registry exposes the service's Prometheus registry, for callers that register their own collectors
func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in the Prometheus exposition format
func (s *Service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// PrometheusText renders every metric in the text exposition format
func (s *Service) PrometheusText() (string, error) {
	families, err := s.registry.Gather()
	if err != nil {
		return "", fmt.Errorf("gathering metrics: %w", err)
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", fmt.Errorf("encoding %s: %w", mf.GetName(), err)
		}
	}
	return buf.String(), nil
}

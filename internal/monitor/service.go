// Package monitor samples the distribution engine on a timer, keeps rolling histories
// and snapshots, raises alerts from threshold policies and exposes Prometheus metrics.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/tburn-genesis-engine/internal/aggregate"
	"github.com/yourorg/tburn-genesis-engine/internal/circuitbreaker"
	"github.com/yourorg/tburn-genesis-engine/internal/events"
	"github.com/yourorg/tburn-genesis-engine/internal/model"
)

const (
	historySize       = 100
	snapshotLimit     = 1000
	alertHistoryLimit = 1000
	eventBuffer       = 256
)

// Source is the read side of the engine the monitor samples
type Source interface {
	GetMetrics() model.DistributionMetrics
	GetQueueStatus() model.QueueStatus
	GetCircuitBreakerState() circuitbreaker.Snapshot
	GetLatencies() []float64
}

// Notifier receives alerts as they trigger and snapshots as they are taken.
// Calls are made outside the service lock and must not block for long.
type Notifier interface {
	NotifyAlert(a Alert)
	NotifySnapshot(s Snapshot)
}

// Options sets the two timers and the startup grace period
type Options struct {
	MetricsInterval  time.Duration
	SnapshotInterval time.Duration
	GracePeriod      time.Duration
}

// DefaultOptions returns a 1s collection tick, a 10s snapshot tick and a 60s grace period
func DefaultOptions() Options {
	return Options{
		MetricsInterval:  time.Second,
		SnapshotInterval: 10 * time.Second,
		GracePeriod:      time.Minute,
	}
}

// LatencySummary describes the engine's rolling task latency history
type LatencySummary struct {
	Samples     int     `json:"samples"`
	Mean        float64 `json:"mean"`
	TrimmedMean float64 `json:"trimmedMean"`
	P50         float64 `json:"p50"`
	P95         float64 `json:"p95"`
	P99         float64 `json:"p99"`
}

// latencyTrim is the share of samples dropped from each end for TrimmedMean
const latencyTrim = 0.1

// Summarize computes a LatencySummary over values in milliseconds
func Summarize(values []float64) LatencySummary {
	return LatencySummary{
		Samples:     len(values),
		Mean:        aggregate.Mean(values),
		TrimmedMean: aggregate.TrimmedMean(values, latencyTrim),
		P50:         aggregate.Median(values),
		P95:         aggregate.Percentile(values, 95),
		P99:         aggregate.Percentile(values, 99),
	}
}

type sample struct {
	at      time.Time
	metrics model.DistributionMetrics
	queue   model.QueueStatus
	circuit circuitbreaker.Snapshot
	latency LatencySummary
}

// Dashboard is the combined live view served to operators
type Dashboard struct {
	Metrics        model.DistributionMetrics `json:"metrics"`
	Queue          model.QueueStatus         `json:"queue"`
	Circuit        circuitbreaker.Snapshot   `json:"circuitBreaker"`
	Latency        LatencySummary            `json:"latency"`
	TPSHistory     []float64                 `json:"tpsHistory"`
	LatencyHistory []float64                 `json:"latencyHistory"`
	ActiveAlerts   []Alert                   `json:"activeAlerts"`
	UptimeSeconds  float64                   `json:"uptimeSeconds"`
}

// Service is the metrics and alerting companion of the engine
type Service struct {
	src  Source
	opts Options

	mu             sync.RWMutex
	policies       []AlertPolicy
	active         map[string]*Alert // by policy ID
	history        []*Alert
	lastTriggered  map[string]time.Time
	tpsHistory     *aggregate.Window
	latencyHistory *aggregate.Window
	snapshots      []Snapshot
	startedAt      time.Time
	running        bool
	cancel         context.CancelFunc
	wg             sync.WaitGroup

	notifier Notifier
	bus      *events.Bus
	now      func() time.Time

	registry       *prometheus.Registry
	eventsTotal    *prometheus.CounterVec
	alertsTotal    *prometheus.CounterVec
	snapshotsTotal prometheus.Counter
}

// New creates a stopped service over src with the default policy set
func New(src Source, opts Options) *Service {
	def := DefaultOptions()
	if opts.MetricsInterval <= 0 {
		opts.MetricsInterval = def.MetricsInterval
	}
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = def.SnapshotInterval
	}
	if opts.GracePeriod < 0 {
		opts.GracePeriod = 0
	}
	s := &Service{
		src:            src,
		opts:           opts,
		policies:       DefaultPolicies(),
		active:         make(map[string]*Alert),
		lastTriggered:  make(map[string]time.Time),
		tpsHistory:     aggregate.NewWindow(historySize),
		latencyHistory: aggregate.NewWindow(historySize),
		now:            time.Now,
	}
	s.startedAt = s.now()
	s.registry = s.newRegistry()
	return s
}

// WithClock replaces the time source and restarts the grace period from the new clock's now
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.startedAt = now()
	return s
}

// WithNotifier forwards alerts and snapshots to n
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithBus counts engine events and re-evaluates alerts on circuit transitions
func (s *Service) WithBus(bus *events.Bus) *Service {
	s.mu.Lock()
	s.bus = bus
	s.mu.Unlock()
	return s
}

// Start launches the collection and snapshot timers
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(2)
	go s.tick(ctx, s.opts.MetricsInterval, s.Collect)
	go s.tick(ctx, s.opts.SnapshotInterval, func() { s.TakeSnapshot() })

	if s.bus != nil {
		ch, unsubscribe := s.bus.Subscribe(eventBuffer)
		s.wg.Add(1)
		go s.consume(ctx, ch, unsubscribe)
	}

	logrus.WithFields(logrus.Fields{
		"metrics_interval":  s.opts.MetricsInterval.String(),
		"snapshot_interval": s.opts.SnapshotInterval.String(),
		"grace_period":      s.opts.GracePeriod.String(),
	}).Info("Metrics service started")
}

// Stop halts the timers and waits for them to exit
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	logrus.Info("Metrics service stopped")
}

func (s *Service) tick(ctx context.Context, every time.Duration, fn func()) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) consume(ctx context.Context, ch <-chan events.Event, unsubscribe func()) {
	defer s.wg.Done()
	defer unsubscribe()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.eventsTotal.WithLabelValues(string(ev.Type)).Inc()
			if ev.Type == events.CircuitOpen || ev.Type == events.CircuitReset {
				s.Collect()
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) sample() sample {
	return sample{
		at:      s.now(),
		metrics: s.src.GetMetrics(),
		queue:   s.src.GetQueueStatus(),
		circuit: s.src.GetCircuitBreakerState(),
		latency: Summarize(s.src.GetLatencies()),
	}
}

// Collect runs one collection tick: it samples the engine into the rolling histories and evaluates alert policies
func (s *Service) Collect() {
	smp := s.sample()

	s.mu.Lock()
	s.tpsHistory.Add(smp.metrics.CurrentTPS)
	s.latencyHistory.Add(smp.metrics.AverageLatencyMs)
	triggered, resolved := s.evaluateLocked(smp)
	s.mu.Unlock()

	for _, a := range resolved {
		logrus.WithFields(logrus.Fields{"alert_id": a.ID, "policy": a.PolicyID, "value": a.Value}).Info("Alert resolved")
	}
	for _, a := range triggered {
		s.alertsTotal.WithLabelValues(string(a.Severity)).Inc()
		entry := logrus.WithFields(logrus.Fields{
			"alert_id":  a.ID,
			"policy":    a.PolicyID,
			"metric":    a.Metric,
			"value":     a.Value,
			"threshold": a.Threshold,
		})
		if a.Severity == SeverityCritical {
			entry.Error(a.Message)
		} else {
			entry.Warn(a.Message)
		}
		if s.notifier != nil {
			s.notifier.NotifyAlert(a)
		}
	}
}

// evaluateLocked applies every enabled policy to smp and returns copies of the alerts it raised and resolved
func (s *Service) evaluateLocked(smp sample) (triggered, resolved []Alert) {
	if smp.at.Sub(s.startedAt) < s.opts.GracePeriod {
		return nil, nil
	}
	for _, p := range s.policies {
		if !p.Enabled {
			continue
		}
		if last, ok := s.lastTriggered[p.ID]; ok && smp.at.Sub(last) < p.Cooldown {
			continue
		}

		value := smp.value(p.Metric)
		hit := p.Operator.Compare(value, p.Threshold)
		if p.RequiresActivity && smp.queue.ActiveBatches == 0 {
			hit = false
		}

		existing := s.active[p.ID]
		switch {
		case hit && existing == nil:
			a := &Alert{
				ID:          uuid.NewString(),
				PolicyID:    p.ID,
				PolicyName:  p.Name,
				Severity:    p.Severity,
				Metric:      p.Metric,
				Value:       value,
				Threshold:   p.Threshold,
				Message:     fmt.Sprintf("%s: %s is %.2f (%s %.2f)", p.Name, p.Metric, value, p.Operator, p.Threshold),
				TriggeredAt: smp.at,
			}
			s.active[p.ID] = a
			s.appendHistoryLocked(a)
			s.lastTriggered[p.ID] = smp.at
			triggered = append(triggered, a.clone())
		case !hit && existing != nil:
			s.resolveLocked(existing, smp.at)
			resolved = append(resolved, existing.clone())
		}
	}
	return triggered, resolved
}

func (s *Service) resolveLocked(a *Alert, at time.Time) {
	a.Resolved = true
	resolvedAt := at
	a.ResolvedAt = &resolvedAt
	delete(s.active, a.PolicyID)
}

func (s *Service) appendHistoryLocked(a *Alert) {
	s.history = append(s.history, a)
	if over := len(s.history) - alertHistoryLimit; over > 0 {
		s.history = append([]*Alert(nil), s.history[over:]...)
	}
}

// GetActiveAlerts returns unresolved alerts, oldest first
func (s *Service) GetActiveAlerts() []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeLocked()
}

func (s *Service) activeLocked() []Alert {
	out := make([]Alert, 0, len(s.active))
	for _, a := range s.active {
		out = append(out, a.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.Before(out[j].TriggeredAt) })
	return out
}

// GetAlertHistory returns up to limit alerts, newest first. A limit of zero or less returns all of them.
func (s *Service) GetAlertHistory(limit int) []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Alert, 0, n)
	for i := len(s.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.history[i].clone())
	}
	return out
}

// AcknowledgeAlert marks an alert as seen by an operator. Acknowledging does not resolve it.
func (s *Service) AcknowledgeAlert(id string) (Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.history {
		if a.ID != id {
			continue
		}
		if !a.Acknowledged {
			a.Acknowledged = true
			at := s.now()
			a.AcknowledgedAt = &at
		}
		return a.clone(), true
	}
	return Alert{}, false
}

// Policies returns the configured policies in evaluation order
func (s *Service) Policies() []AlertPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]AlertPolicy(nil), s.policies...)
}

// AddPolicy adds p, or replaces the policy with the same ID
func (s *Service) AddPolicy(p AlertPolicy) error {
	if err := p.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.policies {
		if s.policies[i].ID == p.ID {
			s.policies[i] = p
			return nil
		}
	}
	s.policies = append(s.policies, p)
	return nil
}

// SetPolicyEnabled toggles a policy. Disabling it resolves its active alert.
func (s *Service) SetPolicyEnabled(id string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.policies {
		if s.policies[i].ID != id {
			continue
		}
		s.policies[i].Enabled = enabled
		if a, ok := s.active[id]; ok && !enabled {
			s.resolveLocked(a, s.now())
		}
		return true
	}
	return false
}

// TPSHistory returns the sampled current TPS, oldest first
func (s *Service) TPSHistory() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tpsHistory.Values()
}

// LatencyHistory returns the sampled average latency, oldest first
func (s *Service) LatencyHistory() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latencyHistory.Values()
}

// Dashboard returns a live view of the engine together with the monitor's histories and alerts
func (s *Service) Dashboard() Dashboard {
	smp := s.sample()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Dashboard{
		Metrics:        smp.metrics,
		Queue:          smp.queue,
		Circuit:        smp.circuit,
		Latency:        smp.latency,
		TPSHistory:     s.tpsHistory.Values(),
		LatencyHistory: s.latencyHistory.Values(),
		ActiveAlerts:   s.activeLocked(),
		UptimeSeconds:  smp.at.Sub(s.startedAt).Seconds(),
	}
}

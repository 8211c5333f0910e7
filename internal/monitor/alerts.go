package monitor

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPolicy is returned by AddPolicy for an incomplete or malformed policy
var ErrInvalidPolicy = errors.New("invalid alert policy")

// Severity grades an alert
type Severity string

// Alert severities
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Operator compares a metric value with a policy threshold
type Operator string

// Comparison operators
const (
	OpGreaterThan    Operator = "gt"
	OpGreaterOrEqual Operator = "gte"
	OpLessThan       Operator = "lt"
	OpLessOrEqual    Operator = "lte"
	OpEqual          Operator = "eq"
)

// Compare evaluates value <op> threshold. Unknown operators never match.
func (o Operator) Compare(value, threshold float64) bool {
	switch o {
	case OpGreaterThan:
		return value > threshold
	case OpGreaterOrEqual:
		return value >= threshold
	case OpLessThan:
		return value < threshold
	case OpLessOrEqual:
		return value <= threshold
	case OpEqual:
		return value == threshold
	}
	return false
}

func (o Operator) valid() bool {
	switch o {
	case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual, OpEqual:
		return true
	}
	return false
}

// Metric names a policy can watch
const (
	MetricCurrentTPS     = "currentTps"
	MetricFailureRate    = "failureRate"
	MetricSuccessRate    = "successRate"
	MetricAverageLatency = "averageLatencyMs"
	MetricP95Latency     = "p95LatencyMs"
	MetricQueueBacklog   = "queueBacklog"
	MetricCircuitState   = "circuitState"
	MetricActiveBatches  = "activeBatches"
)

// AlertPolicy turns a metric threshold into alerts.
// When RequiresActivity is set the policy is only evaluated while batches are running,
// so an idle engine does not read as zero throughput.
type AlertPolicy struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Metric           string        `json:"metric"`
	Operator         Operator      `json:"operator"`
	Threshold        float64       `json:"threshold"`
	Severity         Severity      `json:"severity"`
	Cooldown         time.Duration `json:"cooldown"`
	Enabled          bool          `json:"enabled"`
	RequiresActivity bool          `json:"requiresActivity"`
}

func (p AlertPolicy) validate() error {
	switch {
	case p.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidPolicy)
	case !knownMetric(p.Metric):
		return fmt.Errorf("%w: unknown metric %q", ErrInvalidPolicy, p.Metric)
	case !p.Operator.valid():
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidPolicy, p.Operator)
	case p.Cooldown < 0:
		return fmt.Errorf("%w: negative cooldown", ErrInvalidPolicy)
	}
	switch p.Severity {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return nil
	}
	return fmt.Errorf("%w: unknown severity %q", ErrInvalidPolicy, p.Severity)
}

// Alert is one triggering of a policy. It stays active until the condition clears.
type Alert struct {
	ID             string     `json:"id"`
	PolicyID       string     `json:"policyId"`
	PolicyName     string     `json:"policyName"`
	Severity       Severity   `json:"severity"`
	Metric         string     `json:"metric"`
	Value          float64    `json:"value"`
	Threshold      float64    `json:"threshold"`
	Message        string     `json:"message"`
	TriggeredAt    time.Time  `json:"triggeredAt"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	Resolved       bool       `json:"resolved"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
}

func (a *Alert) clone() Alert {
	c := *a
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		c.AcknowledgedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	return c
}

// DefaultPolicies returns the built-in policy set
func DefaultPolicies() []AlertPolicy {
	return []AlertPolicy{
		{ID: "tps_low", Name: "Low throughput", Metric: MetricCurrentTPS, Operator: OpLessThan, Threshold: 10,
			Severity: SeverityWarning, Cooldown: 5 * time.Minute, Enabled: true, RequiresActivity: true},
		{ID: "tps_critical", Name: "Critical throughput", Metric: MetricCurrentTPS, Operator: OpLessThan, Threshold: 1,
			Severity: SeverityCritical, Cooldown: 2 * time.Minute, Enabled: true, RequiresActivity: true},
		{ID: "failure_rate_warning", Name: "Elevated failure rate", Metric: MetricFailureRate, Operator: OpGreaterThan, Threshold: 5,
			Severity: SeverityWarning, Cooldown: 5 * time.Minute, Enabled: true},
		{ID: "failure_rate_critical", Name: "Critical failure rate", Metric: MetricFailureRate, Operator: OpGreaterThan, Threshold: 15,
			Severity: SeverityCritical, Cooldown: 2 * time.Minute, Enabled: true},
		{ID: "latency_high", Name: "High latency", Metric: MetricAverageLatency, Operator: OpGreaterThan, Threshold: 500,
			Severity: SeverityWarning, Cooldown: 5 * time.Minute, Enabled: true},
		{ID: "queue_backlog", Name: "Queue backlog", Metric: MetricQueueBacklog, Operator: OpGreaterThan, Threshold: 1000,
			Severity: SeverityWarning, Cooldown: 10 * time.Minute, Enabled: true},
		{ID: "circuit_open", Name: "Circuit breaker open", Metric: MetricCircuitState, Operator: OpEqual, Threshold: 1,
			Severity: SeverityCritical, Cooldown: 30 * time.Second, Enabled: true},
	}
}

func knownMetric(name string) bool {
	switch name {
	case MetricCurrentTPS, MetricFailureRate, MetricSuccessRate, MetricAverageLatency,
		MetricP95Latency, MetricQueueBacklog, MetricCircuitState, MetricActiveBatches:
		return true
	}
	return false
}

// value reads a named metric out of a sample
func (s sample) value(metric string) float64 {
	switch metric {
	case MetricCurrentTPS:
		return s.metrics.CurrentTPS
	case MetricFailureRate:
		return s.metrics.FailureRate()
	case MetricSuccessRate:
		return s.metrics.SuccessRate
	case MetricAverageLatency:
		return s.metrics.AverageLatencyMs
	case MetricP95Latency:
		return s.latency.P95
	case MetricQueueBacklog:
		return float64(s.queue.PendingTasks + s.queue.QueuedBatches)
	case MetricCircuitState:
		return float64(s.circuit.State)
	case MetricActiveBatches:
		return float64(s.queue.ActiveBatches)
	}
	return 0
}

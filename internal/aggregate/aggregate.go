// Package aggregate provides the rolling statistics used for throughput and latency reporting.
package aggregate

import (
	"math"
	"sort"
	"time"
)

// Mean returns the arithmetic mean, or 0 for no values
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Median returns the middle value of values without reordering the input
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := sortedCopy(values)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

// Percentile returns the nearest-rank p-th percentile (0 < p <= 100)
func Percentile(values []float64, p float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := sortedCopy(values)
	if p <= 0 {
		return sorted[0]
	}
	rank := int(math.Ceil(p / 100 * float64(n)))
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}

// TrimmedMean drops trim (0..0.5) of the lowest and highest values before averaging
func TrimmedMean(values []float64, trim float64) float64 {
	if len(values) < 3 || trim <= 0 || trim >= 0.5 {
		return Mean(values)
	}
	sorted := sortedCopy(values)
	k := int(float64(len(sorted)) * trim)
	return Mean(sorted[k : len(sorted)-k])
}

func sortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}

// Window is a bounded history of samples; the oldest sample is evicted once capacity is reached.
// It is not safe for concurrent use.
type Window struct {
	values   []float64
	capacity int
}

// NewWindow creates a window holding at most capacity samples
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{values: make([]float64, 0, capacity), capacity: capacity}
}

// Add appends v, evicting the oldest sample when full
func (w *Window) Add(v float64) {
	if len(w.values) == w.capacity {
		copy(w.values, w.values[1:])
		w.values = w.values[:len(w.values)-1]
	}
	w.values = append(w.values, v)
}

// Values returns a copy of the samples, oldest first
func (w *Window) Values() []float64 {
	out := make([]float64, len(w.values))
	copy(out, w.values)
	return out
}

// Len returns the number of samples held
func (w *Window) Len() int { return len(w.values) }

// Capacity returns the maximum number of samples
func (w *Window) Capacity() int { return w.capacity }

// Mean of the held samples
func (w *Window) Mean() float64 { return Mean(w.values) }

// Percentile of the held samples
func (w *Window) Percentile(p float64) float64 { return Percentile(w.values, p) }

// Last returns the newest sample
func (w *Window) Last() (float64, bool) {
	if len(w.values) == 0 {
		return 0, false
	}
	return w.values[len(w.values)-1], true
}

// RateCounter measures events per second over a sliding time window.
// It is not safe for concurrent use.
type RateCounter struct {
	span   time.Duration
	events []time.Time
}

// NewRateCounter counts events over the trailing span
func NewRateCounter(span time.Duration) *RateCounter {
	if span <= 0 {
		span = time.Second
	}
	return &RateCounter{span: span}
}

// Record notes one event at t
func (r *RateCounter) Record(t time.Time) {
	r.events = append(r.events, t)
}

// Rate returns events per second in (now-span, now]
func (r *RateCounter) Rate(now time.Time) float64 {
	cutoff := now.Add(-r.span)
	i := sort.Search(len(r.events), func(i int) bool { return r.events[i].After(cutoff) })
	if i > 0 {
		r.events = append(r.events[:0], r.events[i:]...)
	}
	return float64(len(r.events)) / r.span.Seconds()
}

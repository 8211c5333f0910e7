package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMeanMedianPercentile(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		mean   float64
		median float64
		p95    float64
	}{
		{name: "empty input", values: nil},
		{name: "single value", values: []float64{7}, mean: 7, median: 7, p95: 7},
		{name: "odd count", values: []float64{5, 1, 3}, mean: 3, median: 3, p95: 5},
		{name: "even count", values: []float64{4, 1, 3, 2}, mean: 2.5, median: 2.5, p95: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.mean, Mean(tt.values), 1e-9)
			assert.InDelta(t, tt.median, Median(tt.values), 1e-9)
			assert.InDelta(t, tt.p95, Percentile(tt.values, 95), 1e-9)
		})
	}
}

func TestPercentileNearestRank(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(100 - i)
	}
	assert.Equal(t, 50.0, Percentile(values, 50))
	assert.Equal(t, 99.0, Percentile(values, 99))
	assert.Equal(t, 100.0, Percentile(values, 100))
	assert.Equal(t, 1.0, Percentile(values, 0))
	assert.Equal(t, 100.0, values[0], "input is not reordered")
}

func TestTrimmedMean(t *testing.T) {
	values := []float64{1, 10, 10, 10, 1000}
	assert.InDelta(t, 10, TrimmedMean(values, 0.2), 1e-9)
	assert.InDelta(t, Mean(values), TrimmedMean(values, 0), 1e-9)
}

func TestWindowEvictsOldest(t *testing.T) {
	w := NewWindow(3)
	for i := 1; i <= 5; i++ {
		w.Add(float64(i))
	}
	assert.Equal(t, []float64{3, 4, 5}, w.Values())
	assert.Equal(t, 3, w.Len())
	assert.InDelta(t, 4, w.Mean(), 1e-9)
	last, ok := w.Last()
	assert.True(t, ok)
	assert.Equal(t, 5.0, last)

	_, ok = NewWindow(0).Last()
	assert.False(t, ok)
}

func TestRateCounter(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRateCounter(2 * time.Second)
	for i := 0; i < 10; i++ {
		r.Record(base.Add(time.Duration(i) * 100 * time.Millisecond))
	}
	assert.InDelta(t, 5, r.Rate(base.Add(time.Second)), 1e-9)
	assert.InDelta(t, 4.5, r.Rate(base.Add(2*time.Second)), 1e-9)
	assert.InDelta(t, 1, r.Rate(base.Add(2*time.Second+750*time.Millisecond)), 1e-9)
	assert.InDelta(t, 0, r.Rate(base.Add(time.Minute)), 1e-9)
}

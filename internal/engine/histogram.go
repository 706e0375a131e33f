package engine

import (
	"fmt"
	"sort"
	"strconv"
)

// DefaultBuckets are latency upper bounds in the log's unit (seconds for
// nginx $request_time): 1ms to 10s. An overflow bucket is implicit.
var DefaultBuckets = []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// HistogramPoint is one bucket of the latency distribution.
type HistogramPoint struct {
	Le    string `json:"le"`
	Count int64  `json:"count"`
}

// LatencyHistogram counts records per fixed bucket. Counts are plain
// integers, so merges are exact in any order.
type LatencyHistogram struct {
	Bounds []float64
	Counts []int64 // len(Bounds)+1, last is overflow
}

// NewLatencyHistogram returns an empty histogram. Nil bounds select
// DefaultBuckets.
func NewLatencyHistogram(bounds []float64) *LatencyHistogram {
	if len(bounds) == 0 {
		bounds = DefaultBuckets
	}
	return &LatencyHistogram{
		Bounds: append([]float64(nil), bounds...),
		Counts: make([]int64, len(bounds)+1),
	}
}

// Observe adds v to the first bucket whose bound is >= v.
func (h *LatencyHistogram) Observe(v float64) {
	idx := sort.SearchFloat64s(h.Bounds, v)
	h.Counts[idx]++
}

// Merge returns a new histogram with summed counts.
func (h *LatencyHistogram) Merge(o *LatencyHistogram) (*LatencyHistogram, error) {
	if len(h.Bounds) != len(o.Bounds) {
		return nil, fmt.Errorf("%w: histogram bounds differ", ErrIncompatibleState)
	}
	for i := range h.Bounds {
		if h.Bounds[i] != o.Bounds[i] {
			return nil, fmt.Errorf("%w: histogram bounds differ", ErrIncompatibleState)
		}
	}
	merged := NewLatencyHistogram(h.Bounds)
	for i := range h.Counts {
		merged.Counts[i] = h.Counts[i] + o.Counts[i]
	}
	return merged, nil
}

// Points converts the buckets to report form, ascending by bound.
func (h *LatencyHistogram) Points() []HistogramPoint {
	points := make([]HistogramPoint, 0, len(h.Counts))
	for i, c := range h.Counts {
		le := "+Inf"
		if i < len(h.Bounds) {
			le = strconv.FormatFloat(h.Bounds[i], 'g', -1, 64)
		}
		points = append(points, HistogramPoint{Le: le, Count: c})
	}
	return points
}

// Total is the number of observations across all buckets.
func (h *LatencyHistogram) Total() int64 {
	var total int64
	for _, c := range h.Counts {
		total += c
	}
	return total
}

package engine

import (
	"fmt"
	"math"
)

// Estimator accumulates latency observations and answers quantile queries.
// Merge never mutates its inputs.
type Estimator interface {
	Observe(v float64)
	Quantile(q float64) (float64, error)
	Count() int64
	Merge(other Estimator) (Estimator, error)
	Mode() Mode
}

// NewEstimator returns an empty estimator for cfg.Mode.
func NewEstimator(cfg Config) (Estimator, error) {
	switch cfg.Mode {
	case ModeBatch:
		return NewExactEstimator(), nil
	case ModeStreaming:
		return NewStreamingEstimator(cfg.ErrorBound, cfg.Resolution)
	default:
		return nil, configErrorf("mode", "no estimator for mode %q", cfg.Mode)
	}
}

// nearestRank returns the 1-indexed rank ceil(q*n), clamped to [1, n].
// The small epsilon keeps products like 0.07*100 from rounding up a rank.
func nearestRank(q float64, n int64) int64 {
	rank := int64(math.Ceil(q*float64(n) - 1e-9))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return rank
}

func checkQuantile(q float64) error {
	if math.IsNaN(q) || q < 0 || q > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidQuantile, q)
	}
	return nil
}

package engine

import (
	"fmt"
	"math"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// StreamingEstimator answers quantiles from an HdrHistogram. Values are
// scaled to integer multiples of Resolution before recording.
type StreamingEstimator struct {
	hist       *hdrhistogram.Histogram
	resolution float64
	bound      float64
	clamped    int64
}

// StreamingLayout identifies the bucket layout of a streaming estimator.
// Only estimators with equal layouts can be merged.
type StreamingLayout struct {
	Lowest     int64   `json:"lowest"`
	Highest    int64   `json:"highest"`
	SigFigs    int64   `json:"sig_figs"`
	Resolution float64 `json:"resolution"`
	ErrorBound float64 `json:"error_bound"`
}

// NewStreamingEstimator returns an empty estimator whose reported
// quantiles are within bound of the true nearest-rank value.
func NewStreamingEstimator(bound, resolution float64) (*StreamingEstimator, error) {
	figs, err := significantFigures(bound)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(resolution) || math.IsInf(resolution, 0) || resolution <= 0 {
		return nil, configErrorf("resolution", "must be a positive number, got %v", resolution)
	}
	return &StreamingEstimator{
		hist:       hdrhistogram.New(1, streamingHighest, figs),
		resolution: resolution,
		bound:      bound,
	}, nil
}

// RestoreStreamingEstimator rebuilds an estimator from exported counts.
func RestoreStreamingEstimator(layout StreamingLayout, counts []int64, clamped int64) (*StreamingEstimator, error) {
	if layout.Resolution <= 0 || layout.SigFigs < 1 || layout.SigFigs > 5 ||
		layout.Lowest < 1 || layout.Highest < 2*layout.Lowest {
		return nil, fmt.Errorf("%w: bad streaming layout %+v", ErrIncompatibleState, layout)
	}
	want := len(hdrhistogram.New(layout.Lowest, layout.Highest, int(layout.SigFigs)).Export().Counts)
	if len(counts) != want {
		return nil, fmt.Errorf("%w: expected %d histogram counts, got %d", ErrIncompatibleState, want, len(counts))
	}
	if clamped < 0 {
		return nil, fmt.Errorf("%w: negative clamped count %d", ErrIncompatibleState, clamped)
	}
	for i, c := range counts {
		if c < 0 {
			return nil, fmt.Errorf("%w: negative count %d in bucket %d", ErrIncompatibleState, c, i)
		}
	}
	h := hdrhistogram.Import(&hdrhistogram.Snapshot{
		LowestTrackableValue:  layout.Lowest,
		HighestTrackableValue: layout.Highest,
		SignificantFigures:    layout.SigFigs,
		Counts:                counts,
	})
	return &StreamingEstimator{
		hist:       h,
		resolution: layout.Resolution,
		bound:      layout.ErrorBound,
		clamped:    clamped,
	}, nil
}

func (s *StreamingEstimator) Observe(v float64) {
	scaled := int64(math.Round(v / s.resolution))
	if scaled > s.hist.HighestTrackableValue() || scaled < 0 {
		scaled = s.hist.HighestTrackableValue()
		s.clamped++
	}
	// Cannot fail: the value is within the trackable range.
	_ = s.hist.RecordValue(scaled)
}

// Quantile walks the bucket distribution to the nearest rank and returns
// the highest value equivalent to that bucket.
func (s *StreamingEstimator) Quantile(q float64) (float64, error) {
	if err := checkQuantile(q); err != nil {
		return 0, err
	}
	n := s.hist.TotalCount()
	if n == 0 {
		return 0, ErrEmptyInput
	}
	rank := nearestRank(q, n)

	var seen int64
	for _, bar := range s.hist.Distribution() {
		if bar.Count == 0 {
			continue
		}
		seen += bar.Count
		if seen >= rank {
			return float64(bar.To) * s.resolution, nil
		}
	}
	// Unreachable while counts add up to TotalCount.
	return float64(s.hist.Max()) * s.resolution, nil
}

func (s *StreamingEstimator) Count() int64 {
	return s.hist.TotalCount()
}

func (s *StreamingEstimator) Mode() Mode {
	return ModeStreaming
}

// Clamped is the number of observations above the trackable range.
func (s *StreamingEstimator) Clamped() int64 {
	return s.clamped
}

// ErrorBound is the declared relative error of reported quantiles.
func (s *StreamingEstimator) ErrorBound() float64 {
	return s.bound
}

// Layout describes the histogram buckets for compatibility checks.
func (s *StreamingEstimator) Layout() StreamingLayout {
	return StreamingLayout{
		Lowest:     s.hist.LowestTrackableValue(),
		Highest:    s.hist.HighestTrackableValue(),
		SigFigs:    s.hist.SignificantFigures(),
		Resolution: s.resolution,
		ErrorBound: s.bound,
	}
}

// Counts exports the raw bucket counts.
func (s *StreamingEstimator) Counts() []int64 {
	return append([]int64(nil), s.hist.Export().Counts...)
}

// Merge adds both histograms' counts into a new estimator. Integer addition
// makes the result independent of merge order.
func (s *StreamingEstimator) Merge(other Estimator) (Estimator, error) {
	o, ok := other.(*StreamingEstimator)
	if !ok {
		return nil, fmt.Errorf("%w: cannot merge %s into %s estimator", ErrIncompatibleState, other.Mode(), ModeStreaming)
	}
	if s.Layout() != o.Layout() {
		return nil, fmt.Errorf("%w: streaming layouts differ (%+v vs %+v)", ErrIncompatibleState, s.Layout(), o.Layout())
	}
	merged := hdrhistogram.Import(s.hist.Export())
	if dropped := merged.Merge(o.hist); dropped != 0 {
		return nil, fmt.Errorf("%w: %d values dropped while merging", ErrIncompatibleState, dropped)
	}
	return &StreamingEstimator{
		hist:       merged,
		resolution: s.resolution,
		bound:      s.bound,
		clamped:    s.clamped + o.clamped,
	}, nil
}

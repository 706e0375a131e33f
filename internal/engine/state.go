package engine

import "fmt"

// PartialState is the plain-data form of a Partial, used by the storage
// codec and the HTTP API.
type PartialState struct {
	Shard       int          `json:"shard"`
	Mode        Mode         `json:"mode"`
	K           int          `json:"k"`
	Counts      Counts       `json:"counts"`
	Samples     []ParseError `json:"samples,omitempty"`
	Interrupted bool         `json:"interrupted,omitempty"`

	// Batch mode: every observed value, ascending.
	Values []float64 `json:"values,omitempty"`

	// Streaming mode: histogram layout and bucket counts.
	Layout     *StreamingLayout `json:"layout,omitempty"`
	HistCounts []int64          `json:"hist_counts,omitempty"`
	Clamped    int64            `json:"clamped,omitempty"`

	Top          []LogRecord `json:"top"`
	Buckets      []float64   `json:"buckets"`
	BucketCounts []int64     `json:"bucket_counts"`
}

// Export copies the partial into plain data.
func (p *Partial) Export() PartialState {
	st := PartialState{
		Shard:        p.Shard,
		Mode:         p.Estimator.Mode(),
		K:            p.Top.K(),
		Counts:       p.Counts.merge(newCounts()),
		Samples:      append([]ParseError(nil), p.Samples...),
		Interrupted:  p.Interrupted,
		Top:          p.Top.records(),
		Buckets:      append([]float64(nil), p.Hist.Bounds...),
		BucketCounts: append([]int64(nil), p.Hist.Counts...),
	}
	switch e := p.Estimator.(type) {
	case *ExactEstimator:
		st.Values = e.Values()
	case *StreamingEstimator:
		layout := e.Layout()
		st.Layout = &layout
		st.HistCounts = e.Counts()
		st.Clamped = e.Clamped()
	}
	return st
}

// RestorePartial rebuilds a partial from exported state. Lines observed
// afterwards are parsed and filtered according to cfg.
func RestorePartial(st PartialState, cfg Config) (*Partial, error) {
	var est Estimator
	switch st.Mode {
	case ModeBatch:
		est = NewExactEstimatorFrom(st.Values)
	case ModeStreaming:
		if st.Layout == nil {
			return nil, fmt.Errorf("%w: streaming partial without layout", ErrIncompatibleState)
		}
		s, err := RestoreStreamingEstimator(*st.Layout, st.HistCounts, st.Clamped)
		if err != nil {
			return nil, err
		}
		est = s
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrIncompatibleState, st.Mode)
	}

	top, err := RestoreTopK(st.K, st.Top)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompatibleState, err)
	}

	if len(st.Buckets) == 0 || len(st.BucketCounts) != len(st.Buckets)+1 {
		return nil, fmt.Errorf("%w: %d bucket counts for %d bounds", ErrIncompatibleState, len(st.BucketCounts), len(st.Buckets))
	}
	hist := NewLatencyHistogram(st.Buckets)
	copy(hist.Counts, st.BucketCounts)

	counts := st.Counts
	if counts.ErrorsByReason == nil {
		counts.ErrorsByReason = make(map[ParseErrorReason]int64)
	}
	if counts.Analyzed() != est.Count() {
		return nil, fmt.Errorf("%w: %d analyzed records but %d estimator observations", ErrIncompatibleState, counts.Analyzed(), est.Count())
	}

	filter, err := ParseFilter(cfg.Filter)
	if err != nil {
		return nil, configErrorf("filter", "%v", err)
	}

	samples := st.Samples
	if len(samples) > maxErrorSamples {
		samples = samples[:maxErrorSamples]
	}

	return &Partial{
		Shard:       st.Shard,
		Estimator:   est,
		Top:         top,
		Hist:        hist,
		Counts:      counts,
		Samples:     append([]ParseError(nil), samples...),
		Interrupted: st.Interrupted,
		parser:      cfg.NewParser(),
		filter:      filter,
		lineNo:      counts.TotalLines,
	}, nil
}

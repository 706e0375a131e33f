package engine

import (
	"errors"
	"sort"
)

// PercentileValue is one requested quantile and its value.
type PercentileValue struct {
	Quantile float64 `json:"quantile"`
	Value    float64 `json:"value"`
}

// Report is the result of an analysis run. It shares no memory with the
// partials it was built from.
type Report struct {
	TotalLines     int64                      `json:"total_lines"`
	ValidRecords   int64                      `json:"valid_records"`
	ParseErrors    int64                      `json:"parse_errors"`
	ErrorsByReason map[ParseErrorReason]int64 `json:"errors_by_reason"`
	Excluded       int64                      `json:"excluded,omitempty"`

	Mode        Mode              `json:"mode"`
	ErrorBound  float64           `json:"error_bound,omitempty"`
	Clamped     int64             `json:"clamped,omitempty"`
	Percentiles []PercentileValue `json:"percentiles"`
	Top         []LogRecord       `json:"top"`

	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`

	Histogram    []HistogramPoint `json:"histogram"`
	ErrorSamples []ParseError     `json:"error_samples,omitempty"`

	// NoData is set when no record reached the statistics.
	NoData bool `json:"no_data"`
	// Interrupted is set when input consumption stopped early.
	Interrupted bool `json:"interrupted,omitempty"`
}

// Percentile looks up the value reported for q.
func (r *Report) Percentile(q float64) (float64, bool) {
	for _, p := range r.Percentiles {
		if p.Quantile == q {
			return p.Value, true
		}
	}
	return 0, false
}

// Report builds the final report of p for the quantiles and k in cfg.
// k may be smaller than the partial's tracker, never larger.
func (p *Partial) Report(cfg Config) (*Report, error) {
	if err := cfg.validateReport(); err != nil {
		return nil, err
	}
	if cfg.K > p.Top.K() {
		return nil, configErrorf("k", "%d exceeds the tracker size %d of the input partials", cfg.K, p.Top.K())
	}

	r := &Report{
		TotalLines:     p.Counts.TotalLines,
		ValidRecords:   p.Counts.ValidRecords,
		ParseErrors:    p.Counts.ParseErrors(),
		ErrorsByReason: make(map[ParseErrorReason]int64, len(Reasons)),
		Excluded:       p.Counts.Excluded,
		Mode:           p.Estimator.Mode(),
		Percentiles:    []PercentileValue{},
		Top:            []LogRecord{},
		Histogram:      p.Hist.Points(),
		ErrorSamples:   append([]ParseError(nil), p.Samples...),
		Interrupted:    p.Interrupted,
	}
	for _, reason := range Reasons {
		r.ErrorsByReason[reason] = 0
	}
	for reason, n := range p.Counts.ErrorsByReason {
		r.ErrorsByReason[reason] = n
	}
	if s, ok := p.Estimator.(*StreamingEstimator); ok {
		r.ErrorBound = s.ErrorBound()
		r.Clamped = s.Clamped()
	}

	if p.Counts.Analyzed() == 0 {
		r.NoData = true
		return r, nil
	}

	for _, q := range normalizeQuantiles(cfg.Quantiles) {
		v, err := p.Estimator.Quantile(q)
		if errors.Is(err, ErrEmptyInput) {
			r.NoData = true
			r.Percentiles = []PercentileValue{}
			return r, nil
		}
		if err != nil {
			return nil, err
		}
		r.Percentiles = append(r.Percentiles, PercentileValue{Quantile: q, Value: v})
	}

	top, err := p.Top.Top()
	if err != nil && !errors.Is(err, ErrEmptyInput) {
		return nil, err
	}
	if len(top) > cfg.K {
		top = top[:cfg.K]
	}
	r.Top = append(r.Top, top...)

	r.Min = p.Counts.Min
	r.Max = p.Counts.Max
	r.Mean = p.Counts.Sum / float64(p.Counts.Analyzed())
	return r, nil
}

// normalizeQuantiles returns the quantiles ascending without duplicates.
func normalizeQuantiles(qs []float64) []float64 {
	out := append([]float64(nil), qs...)
	sort.Float64s(out)
	n := 0
	for i, q := range out {
		if i > 0 && q == out[n-1] {
			continue
		}
		out[n] = q
		n++
	}
	return out[:n]
}

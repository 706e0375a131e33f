package engine

import "fmt"

// progressBatch is how many lines a partial counts locally before
// publishing them to its Progress.
const progressBatch = 1024

// Partial is the analysis state of one shard. It is owned by a single
// goroutine while lines are observed; merging never mutates either side.
type Partial struct {
	Shard       int
	Estimator   Estimator
	Top         *TopK
	Hist        *LatencyHistogram
	Counts      Counts
	Samples     []ParseError
	Interrupted bool

	parser   LineParser
	filter   *Filter
	lineNo   int64
	progress *Progress
	pending  int64
}

// NewPartial returns an empty partial for the given shard. cfg must have a
// concrete mode; auto is resolved by the caller.
func NewPartial(shard int, cfg Config) (*Partial, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newPartial(shard, cfg)
}

// newPartial skips validation for callers that already validated cfg.
func newPartial(shard int, cfg Config) (*Partial, error) {
	est, err := NewEstimator(cfg)
	if err != nil {
		return nil, err
	}
	top, err := NewTopK(cfg.K)
	if err != nil {
		return nil, err
	}
	filter, err := ParseFilter(cfg.Filter)
	if err != nil {
		return nil, configErrorf("filter", "%v", err)
	}
	return &Partial{
		Shard:     shard,
		Estimator: est,
		Top:       top,
		Hist:      NewLatencyHistogram(cfg.Buckets),
		Counts:    newCounts(),
		parser:    cfg.NewParser(),
		filter:    filter,
	}, nil
}

// SetProgress makes the partial report consumed lines to pr.
func (p *Partial) SetProgress(pr *Progress) {
	p.progress = pr
}

// Observe consumes one raw line. Malformed lines are tallied by reason,
// never returned as errors.
func (p *Partial) Observe(line string) {
	p.lineNo++
	p.Counts.TotalLines++
	if p.progress != nil {
		p.pending++
		if p.pending == progressBatch {
			p.progress.Add(p.pending)
			p.pending = 0
		}
	}

	rec, perr := p.parser.Parse(line, p.Shard, p.lineNo)
	if perr != nil {
		p.Counts.ErrorsByReason[perr.Reason]++
		if len(p.Samples) < maxErrorSamples {
			p.Samples = append(p.Samples, *perr)
		}
		return
	}

	if !p.filter.Match(rec) {
		p.Counts.ValidRecords++
		p.Counts.Excluded++
		return
	}

	// observe reads Analyzed() before the record is counted
	p.Counts.observe(rec.Latency)
	p.Counts.ValidRecords++
	p.Estimator.Observe(rec.Latency)
	p.Top.Observe(rec)
	p.Hist.Observe(rec.Latency)
}

// Flush publishes lines not yet reported to the progress counter.
func (p *Partial) Flush() {
	if p.progress != nil && p.pending > 0 {
		p.progress.Add(p.pending)
		p.pending = 0
	}
}

// Lines is the number of lines observed so far.
func (p *Partial) Lines() int64 {
	return p.lineNo
}

// Merge returns a new partial holding the combined state of p and o.
// The result keeps the lower shard index and p's parser and filter.
func (p *Partial) Merge(o *Partial) (*Partial, error) {
	est, err := p.Estimator.Merge(o.Estimator)
	if err != nil {
		return nil, fmt.Errorf("shard %d with shard %d: %w", p.Shard, o.Shard, err)
	}
	top, err := p.Top.Merge(o.Top)
	if err != nil {
		return nil, fmt.Errorf("shard %d with shard %d: %w", p.Shard, o.Shard, err)
	}
	hist, err := p.Hist.Merge(o.Hist)
	if err != nil {
		return nil, fmt.Errorf("shard %d with shard %d: %w", p.Shard, o.Shard, err)
	}

	shard := p.Shard
	if o.Shard < shard {
		shard = o.Shard
	}
	return &Partial{
		Shard:       shard,
		Estimator:   est,
		Top:         top,
		Hist:        hist,
		Counts:      p.Counts.merge(o.Counts),
		Samples:     mergeSamples(p.Samples, o.Samples),
		Interrupted: p.Interrupted || o.Interrupted,
		parser:      p.parser,
		filter:      p.filter,
		lineNo:      p.lineNo + o.lineNo,
	}, nil
}

// Release returns pooled buffers. The partial must not be used afterwards.
func (p *Partial) Release() {
	if e, ok := p.Estimator.(*ExactEstimator); ok {
		e.release()
	}
	p.Estimator = nil
}

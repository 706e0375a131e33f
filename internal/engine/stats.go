package engine

import "sort"

// maxErrorSamples bounds the rejected lines kept per partial and report.
const maxErrorSamples = 10

// Counts holds the additive statistics of a shard.
type Counts struct {
	TotalLines     int64                      `json:"total_lines"`
	ValidRecords   int64                      `json:"valid_records"`
	Excluded       int64                      `json:"excluded"`
	ErrorsByReason map[ParseErrorReason]int64 `json:"errors_by_reason"`
	Min            float64                    `json:"min"`
	Max            float64                    `json:"max"`
	Sum            float64                    `json:"sum"`
}

func newCounts() Counts {
	return Counts{ErrorsByReason: make(map[ParseErrorReason]int64)}
}

// ParseErrors is the number of rejected lines over all reasons.
func (c Counts) ParseErrors() int64 {
	var n int64
	for _, v := range c.ErrorsByReason {
		n += v
	}
	return n
}

// Analyzed is the number of records that fed the statistics.
func (c Counts) Analyzed() int64 {
	return c.ValidRecords - c.Excluded
}

func (c *Counts) observe(v float64) {
	if c.Analyzed() == 0 || v < c.Min {
		c.Min = v
	}
	if c.Analyzed() == 0 || v > c.Max {
		c.Max = v
	}
	c.Sum += v
}

// merge returns the sum of both counts. Min and Max only consider sides
// that analyzed at least one record.
func (c Counts) merge(o Counts) Counts {
	out := newCounts()
	out.TotalLines = c.TotalLines + o.TotalLines
	out.ValidRecords = c.ValidRecords + o.ValidRecords
	out.Excluded = c.Excluded + o.Excluded
	for k, v := range c.ErrorsByReason {
		out.ErrorsByReason[k] += v
	}
	for k, v := range o.ErrorsByReason {
		out.ErrorsByReason[k] += v
	}
	out.Sum = c.Sum + o.Sum

	switch {
	case c.Analyzed() > 0 && o.Analyzed() > 0:
		out.Min, out.Max = c.Min, c.Max
		if o.Min < out.Min {
			out.Min = o.Min
		}
		if o.Max > out.Max {
			out.Max = o.Max
		}
	case c.Analyzed() > 0:
		out.Min, out.Max = c.Min, c.Max
	case o.Analyzed() > 0:
		out.Min, out.Max = o.Min, o.Max
	}
	return out
}

// mergeSamples keeps the earliest rejected lines of both sides.
func mergeSamples(a, b []ParseError) []ParseError {
	out := make([]ParseError, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Shard != out[j].Shard {
			return out[i].Shard < out[j].Shard
		}
		return out[i].LineNo < out[j].LineNo
	})
	if len(out) > maxErrorSamples {
		out = out[:maxErrorSamples]
	}
	return out
}

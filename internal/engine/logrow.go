package engine

import "fmt"

// LogRecord is one successfully parsed log line.
// Raw and Fields are kept as-is for display in the slowest-request list.
type LogRecord struct {
	Raw     string  `json:"raw"`
	Fields  string  `json:"fields"`
	Latency float64 `json:"latency"`
	Shard   int     `json:"shard"`
	Line    int64   `json:"line"`
}

// before reports whether r was observed before o. Shards are numbered in
// input order; partials that share a shard index fall back to the text so
// the order stays total.
func (r LogRecord) before(o LogRecord) bool {
	if r.Shard != o.Shard {
		return r.Shard < o.Shard
	}
	if r.Line != o.Line {
		return r.Line < o.Line
	}
	if r.Raw != o.Raw {
		return r.Raw < o.Raw
	}
	return r.Fields < o.Fields
}

// ParseErrorReason classifies why a line was rejected.
type ParseErrorReason string

const (
	ReasonMissingField  ParseErrorReason = "missing_field"
	ReasonNotNumeric    ParseErrorReason = "not_numeric"
	ReasonNegativeValue ParseErrorReason = "negative_value"
)

// Reasons lists every ParseErrorReason in reporting order.
var Reasons = []ParseErrorReason{ReasonMissingField, ReasonNotNumeric, ReasonNegativeValue}

// maxErrorLine bounds the copy of a rejected line kept for diagnostics.
const maxErrorLine = 256

// ParseError is a line that failed the latency contract.
type ParseError struct {
	Line   string           `json:"line"`
	Reason ParseErrorReason `json:"reason"`
	Shard  int              `json:"shard"`
	LineNo int64            `json:"line_no"`
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.LineNo, e.Reason, e.Line)
}

func newParseError(line string, reason ParseErrorReason, shard int, lineNo int64) *ParseError {
	if len(line) > maxErrorLine {
		line = line[:maxErrorLine]
	}
	return &ParseError{Line: line, Reason: reason, Shard: shard, LineNo: lineNo}
}

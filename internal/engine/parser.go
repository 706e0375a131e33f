package engine

import (
	"math"
	"strconv"
	"strings"

	"github.com/valyala/fastjson"
)

// LineParser turns one raw line into a LogRecord or a ParseError.
// Implementations must not fail on malformed input in any other way.
type LineParser interface {
	Parse(line string, shard int, lineNo int64) (LogRecord, *ParseError)
}

// TokenParser implements the reference access-log contract: fields are
// whitespace separated and the last one is the latency.
type TokenParser struct {
	// MinTokens is the minimum number of fields a line must carry.
	MinTokens int
}

// Parse splits the line and validates its last token.
func (p TokenParser) Parse(line string, shard int, lineNo int64) (LogRecord, *ParseError) {
	fields := strings.Fields(line)
	minTokens := p.MinTokens
	if minTokens < 1 {
		minTokens = 1
	}
	if len(fields) < minTokens {
		return LogRecord{}, newParseError(line, ReasonMissingField, shard, lineNo)
	}

	last := fields[len(fields)-1]
	v, reason := parseLatency(last)
	if reason != "" {
		return LogRecord{}, newParseError(line, reason, shard, lineNo)
	}

	// Everything before the latency token, with surrounding blanks removed.
	rest := strings.TrimSpace(line)
	rest = strings.TrimSpace(rest[:len(rest)-len(last)])

	return LogRecord{
		Raw:     line,
		Fields:  rest,
		Latency: v,
		Shard:   shard,
		Line:    lineNo,
	}, nil
}

// JSONParser reads the latency from a field of a JSON object per line,
// e.g. nginx log_format with escape=json.
type JSONParser struct {
	Field  string
	parser fastjson.ParserPool
}

// NewJSONParser returns a parser reading the given field.
func NewJSONParser(field string) *JSONParser {
	if field == "" {
		field = DefaultJSONField
	}
	return &JSONParser{Field: field}
}

// Parse accepts the field as a JSON number or as a decimal string.
func (p *JSONParser) Parse(line string, shard int, lineNo int64) (LogRecord, *ParseError) {
	fp := p.parser.Get()
	defer p.parser.Put(fp)

	v, err := fp.Parse(line)
	if err != nil || v.Type() != fastjson.TypeObject {
		return LogRecord{}, newParseError(line, ReasonMissingField, shard, lineNo)
	}
	val := v.Get(p.Field)
	if val == nil {
		return LogRecord{}, newParseError(line, ReasonMissingField, shard, lineNo)
	}

	var latency float64
	switch val.Type() {
	case fastjson.TypeNumber:
		// The number grammar is JSON's, which allows exponents. Re-check
		// the literal so both formats accept the same values.
		f, reason := parseLatency(string(val.MarshalTo(nil)))
		if reason != "" {
			return LogRecord{}, newParseError(line, reason, shard, lineNo)
		}
		latency = f
	case fastjson.TypeString:
		f, reason := parseLatency(string(val.GetStringBytes()))
		if reason != "" {
			return LogRecord{}, newParseError(line, reason, shard, lineNo)
		}
		latency = f
	default:
		return LogRecord{}, newParseError(line, ReasonNotNumeric, shard, lineNo)
	}

	return LogRecord{
		Raw:     line,
		Fields:  line,
		Latency: latency,
		Shard:   shard,
		Line:    lineNo,
	}, nil
}

// parseLatency validates a base-10 integer or decimal token.
// Exponents, hex, inf/nan and digit separators are rejected.
func parseLatency(tok string) (float64, ParseErrorReason) {
	if !isDecimal(tok) {
		return 0, ReasonNotNumeric
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, ReasonNotNumeric
	}
	if v < 0 {
		return 0, ReasonNegativeValue
	}
	return v, ""
}

// isDecimal matches [+-]?(digits[.digits*] | .digits).
func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	i := 0
	if s[0] == '+' || s[0] == '-' {
		i++
	}
	intDigits, fracDigits := 0, 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
		intDigits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
			fracDigits++
		}
	}
	return i == len(s) && intDigits+fracDigits > 0
}

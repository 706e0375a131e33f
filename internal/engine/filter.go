package engine

import (
	"strings"

	"github.com/coffersTech/tailstat/internal/pkg/lineql"
)

// Filter selects the records that feed the statistics.
// A nil *Filter matches everything.
type Filter struct {
	query string
	node  lineql.Node
}

// ParseFilter compiles a lineql expression. A blank query returns nil.
func ParseFilter(query string) (*Filter, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	node, err := lineql.Parse(query)
	if err != nil {
		return nil, err
	}
	return &Filter{query: query, node: node}, nil
}

// Match reports whether rec passes the filter.
func (f *Filter) Match(rec LogRecord) bool {
	if f == nil {
		return true
	}
	return lineql.Match(f.node, rec)
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.query
}

// GetRaw, GetField and GetLatency let lineql evaluate a LogRecord.

func (r LogRecord) GetRaw() string { return r.Raw }

func (r LogRecord) GetLatency() float64 { return r.Latency }

func (r LogRecord) GetField(i int) (string, bool) {
	fields := strings.Fields(r.Fields)
	if i < 1 || i > len(fields) {
		return "", false
	}
	return fields[i-1], true
}

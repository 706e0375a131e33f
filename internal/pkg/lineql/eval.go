package lineql

import (
	"strconv"
	"strings"
)

// Record is a parsed log line that can be matched.
// This decouples lineql from the engine package.
type Record interface {
	// GetRaw returns the whole line.
	GetRaw() string
	// GetField returns the 1-based identifying token; ok is false past the end.
	GetField(i int) (string, bool)
	GetLatency() float64
}

// Match evaluates the AST node against a record.
func Match(node Node, rec Record) bool {
	if node == nil {
		return true
	}

	switch n := node.(type) {
	case BinaryExpr:
		switch n.Op {
		case "AND":
			return Match(n.Left, rec) && Match(n.Right, rec)
		case "OR":
			return Match(n.Left, rec) || Match(n.Right, rec)
		}
		return false
	case MatchExpr:
		return evalMatch(n, rec)
	case NotExpr:
		return !Match(n.Expr, rec)
	default:
		return false
	}
}

func evalMatch(expr MatchExpr, rec Record) bool {
	if expr.Key == "" {
		return containsIgnoreCase(rec.GetRaw(), expr.Value)
	}

	value, ok := fieldValue(expr.Key, rec)
	if !ok {
		// a missing field only satisfies "not equal"
		return expr.Op == "!="
	}

	op := expr.Op
	if op == "=" && isLineKey(expr.Key) {
		op = "CONTAINS"
	}

	switch op {
	case "=":
		return matchEqual(value, expr.Value)
	case "!=":
		return !matchEqual(value, expr.Value)
	case "CONTAINS":
		return containsIgnoreCase(value, expr.Value)
	case ">", ">=", "<", "<=":
		return compareNumeric(value, expr.Op, expr.Value)
	default:
		return false
	}
}

// fieldValue resolves a key: line, latency or fN.
func fieldValue(key string, rec Record) (string, bool) {
	switch k := strings.ToLower(key); {
	case isLineKey(k):
		return rec.GetRaw(), true
	case k == "latency" || k == "lat":
		return strconv.FormatFloat(rec.GetLatency(), 'g', -1, 64), true
	case len(k) > 1 && k[0] == 'f':
		i, err := strconv.Atoi(k[1:])
		if err != nil || i < 1 {
			return "", false
		}
		return rec.GetField(i)
	default:
		return "", false
	}
}

// line:x searches the whole line rather than comparing it.
func isLineKey(key string) bool {
	return strings.EqualFold(key, "line") || strings.EqualFold(key, "raw")
}

// matchEqual is a case-insensitive comparison. A trailing '*' in the query
// turns it into a prefix match, and numbers compare by value.
func matchEqual(fieldValue, queryValue string) bool {
	if prefix, ok := strings.CutSuffix(queryValue, "*"); ok {
		return len(fieldValue) >= len(prefix) && strings.EqualFold(fieldValue[:len(prefix)], prefix)
	}
	if strings.EqualFold(fieldValue, queryValue) {
		return true
	}
	a, errA := strconv.ParseFloat(fieldValue, 64)
	b, errB := strconv.ParseFloat(queryValue, 64)
	return errA == nil && errB == nil && a == b
}

func compareNumeric(fieldValue, op, queryValue string) bool {
	a, err := strconv.ParseFloat(fieldValue, 64)
	if err != nil {
		return false
	}
	b, err := strconv.ParseFloat(queryValue, 64)
	if err != nil {
		return false
	}
	switch op {
	case ">":
		return a > b
	case ">=":
		return a >= b
	case "<":
		return a < b
	case "<=":
		return a <= b
	}
	return false
}

func containsIgnoreCase(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

package expr

import (
	"fmt"
	"strings"
)

// AggregateOp enumerates the primitive aggregation operators.
type AggregateOp int

// Aggregation operators.
const (
	OpSum AggregateOp = iota
	OpMax
	OpMin
	OpCount
)

// String returns the stack-language word for the operator.
func (op AggregateOp) String() string {
	switch op {
	case OpSum:
		return ":sum"
	case OpMax:
		return ":max"
	case OpMin:
		return ":min"
	case OpCount:
		return ":count"
	default:
		return ":sum"
	}
}

// label returns the function-style name used in output labels.
func (op AggregateOp) label() string {
	switch op {
	case OpSum:
		return "sum"
	case OpMax:
		return "max"
	case OpMin:
		return "min"
	case OpCount:
		return "count"
	default:
		return "sum"
	}
}

// Combine merges two contributed values under the operator. Count values
// are per-measurement contributed counts, so counting is addition too.
func (op AggregateOp) Combine(a, b float64) float64 {
	switch op {
	case OpSum, OpCount:
		return a + b
	case OpMax:
		if a > b {
			return a
		}
		return b
	case OpMin:
		if a < b {
			return a
		}
		return b
	default:
		return a + b
	}
}

// DataExpr is a primitive aggregation expression: a tag query combined with
// an aggregation operator and an optional group-by key list. It is the unit
// the need-set tracks and the window aggregator computes.
type DataExpr struct {
	Query   *Query
	Op      AggregateOp
	GroupBy []string // nil for ungrouped
}

// Grouped reports whether the expression partitions by tag keys.
func (d *DataExpr) Grouped() bool { return len(d.GroupBy) > 0 }

// Key returns the canonical content-based identity of the expression.
// Structurally equal expressions produce equal keys; the need-set and the
// datapoint routing contract both key on this string.
func (d *DataExpr) Key() string {
	var sb strings.Builder
	sb.WriteString(d.Query.String())
	sb.WriteByte(',')
	sb.WriteString(d.Op.String())
	if d.Grouped() {
		sb.WriteString(",(,")
		sb.WriteString(strings.Join(d.GroupBy, ","))
		sb.WriteString(",),:by")
	}
	return sb.String()
}

// Label returns the human-readable rendering used in output labels.
func (d *DataExpr) Label() string {
	base := fmt.Sprintf("%s(%s)", d.Op.label(), d.Query.Label())
	if d.Grouped() {
		return fmt.Sprintf("%s by [%s]", base, strings.Join(d.GroupBy, ","))
	}
	return base
}

// WithGroupBy returns a copy of d grouped by keys.
func (d *DataExpr) WithGroupBy(keys []string) *DataExpr {
	return &DataExpr{Query: d.Query, Op: d.Op, GroupBy: keys}
}

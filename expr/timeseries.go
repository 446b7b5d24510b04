package expr

import (
	"fmt"
	"math"
	"sort"

	"github.com/jmrinaldi/atlas/pkg/timestamp"
)

// NoData is the explicit no-data sentinel. It is distinct from zero: an
// empty window still produces an output for ungrouped expressions, carrying
// this value.
var NoData = math.NaN()

// IsNoData reports whether v is the no-data sentinel.
func IsNoData(v float64) bool { return math.IsNaN(v) }

// ExprKind enumerates the final-expression tree variants.
type ExprKind int

// Final expression variants.
const (
	KindData ExprKind = iota
	KindTime
	KindBinary
	KindGroupBy
)

// BinaryOp enumerates the arithmetic operators combining two subtrees.
type BinaryOp int

// Binary operators.
const (
	BinAdd BinaryOp = iota
	BinSub
	BinMul
	BinDiv
)

func (op BinaryOp) symbol() string {
	switch op {
	case BinAdd:
		return "+"
	case BinSub:
		return "-"
	case BinMul:
		return "*"
	case BinDiv:
		return "/"
	default:
		return "?"
	}
}

func (op BinaryOp) apply(a, b float64) float64 {
	switch op {
	case BinAdd:
		return a + b
	case BinSub:
		return a - b
	case BinMul:
		return a * b
	case BinDiv:
		return a / b
	default:
		return NoData
	}
}

// timeFields enumerates the chrono fields usable with :time. Anything else
// is a parse error.
var timeFields = map[string]func(ms int64) float64{
	"secondOfMinute": func(ms int64) float64 { return float64(timestamp.ToTime(ms).UTC().Second()) },
	"secondOfDay": func(ms int64) float64 {
		t := timestamp.ToTime(ms).UTC()
		return float64(t.Hour()*3600 + t.Minute()*60 + t.Second())
	},
	"minuteOfHour": func(ms int64) float64 { return float64(timestamp.ToTime(ms).UTC().Minute()) },
	"minuteOfDay": func(ms int64) float64 {
		t := timestamp.ToTime(ms).UTC()
		return float64(t.Hour()*60 + t.Minute())
	},
	"hourOfDay":   func(ms int64) float64 { return float64(timestamp.ToTime(ms).UTC().Hour()) },
	"dayOfWeek":   func(ms int64) float64 { return float64(timestamp.ToTime(ms).UTC().Weekday()) },
	"dayOfMonth":  func(ms int64) float64 { return float64(timestamp.ToTime(ms).UTC().Day()) },
	"dayOfYear":   func(ms int64) float64 { return float64(timestamp.ToTime(ms).UTC().YearDay()) },
	"monthOfYear": func(ms int64) float64 { return float64(timestamp.ToTime(ms).UTC().Month()) },
	"year":        func(ms int64) float64 { return float64(timestamp.ToTime(ms).UTC().Year()) },
}

// IsTimeField reports whether name is a supported :time chrono field.
func IsTimeField(name string) bool {
	_, ok := timeFields[name]
	return ok
}

// TimeSeriesExpr is a subscriber's final expression: a formula tree over
// primitive aggregation expressions. Like Query it is a tagged variant
// evaluated by a recursive function.
type TimeSeriesExpr struct {
	Kind ExprKind

	Data      *DataExpr       // KindData
	TimeField string          // KindTime
	Op        BinaryOp        // KindBinary
	LHS, RHS  *TimeSeriesExpr // KindBinary
	Keys      []string        // KindGroupBy
	Inner     *TimeSeriesExpr // KindGroupBy
}

// DataLeaf wraps a primitive expression as a final expression.
func DataLeaf(d *DataExpr) *TimeSeriesExpr {
	return &TimeSeriesExpr{Kind: KindData, Data: d}
}

// TimeLeaf returns the final expression yielding a chrono field of the
// window timestamp. The field must be validated with IsTimeField first.
func TimeLeaf(field string) *TimeSeriesExpr {
	return &TimeSeriesExpr{Kind: KindTime, TimeField: field}
}

// Binary combines two subtrees with an arithmetic operator.
func Binary(op BinaryOp, lhs, rhs *TimeSeriesExpr) *TimeSeriesExpr {
	return &TimeSeriesExpr{Kind: KindBinary, Op: op, LHS: lhs, RHS: rhs}
}

// GroupBy regroups a subtree by the given tag keys.
func GroupBy(inner *TimeSeriesExpr, keys []string) *TimeSeriesExpr {
	return &TimeSeriesExpr{Kind: KindGroupBy, Inner: inner, Keys: keys}
}

// Grouped reports whether the expression produces a tag-set mapping rather
// than a single scalar.
func (e *TimeSeriesExpr) Grouped() bool {
	switch e.Kind {
	case KindData:
		return e.Data.Grouped()
	case KindTime:
		return false
	case KindBinary:
		return e.LHS.Grouped() || e.RHS.Grouped()
	case KindGroupBy:
		return true
	default:
		return false
	}
}

// Label returns the static human-readable label of the expression.
func (e *TimeSeriesExpr) Label() string {
	switch e.Kind {
	case KindData:
		return e.Data.Label()
	case KindTime:
		return e.TimeField
	case KindBinary:
		return fmt.Sprintf("(%s %s %s)", e.LHS.Label(), e.Op.symbol(), e.RHS.Label())
	case KindGroupBy:
		return e.Inner.Label()
	default:
		return ""
	}
}

// DataExprs returns the primitive aggregation expressions the window
// aggregator must compute for this tree. The union of these across all
// active subscribers is the need-set. Ungrouped leaves under a group-by node
// are reported grouped by the node's keys, matching how Eval reads them.
func (e *TimeSeriesExpr) DataExprs() []*DataExpr {
	return e.collect(nil)
}

func (e *TimeSeriesExpr) collect(regroupKeys []string) []*DataExpr {
	switch e.Kind {
	case KindData:
		if len(regroupKeys) > 0 && !e.Data.Grouped() {
			return []*DataExpr{e.Data.WithGroupBy(regroupKeys)}
		}
		return []*DataExpr{e.Data}
	case KindTime:
		return nil
	case KindBinary:
		return append(e.LHS.collect(regroupKeys), e.RHS.collect(regroupKeys)...)
	case KindGroupBy:
		if len(regroupKeys) > 0 {
			// Outer keys win over an inner regroup.
			return e.Inner.collect(regroupKeys)
		}
		return e.Inner.collect(e.Keys)
	default:
		return nil
	}
}

// GroupedValue is a single present partition of a grouped result.
type GroupedValue struct {
	Tags  TagSet
	Value float64
}

// Result is the value of a final expression for one window: either a single
// scalar with a composed label, or a mapping of present tag sets to values.
type Result struct {
	Grouped bool
	Value   float64 // when !Grouped
	Label   string  // when !Grouped; substitutes "NO DATA" for absent operands
	Groups  []GroupedValue
}

// Aggregates holds one window's aggregation output, keyed by DataExpr.Key().
// Ungrouped entries are present only when data contributed; absence at
// evaluation time becomes the no-data sentinel. Grouped entries list only
// partitions that had data.
type Aggregates struct {
	Timestamp int64
	scalars   map[string]float64
	groups    map[string][]GroupedValue
}

// NewAggregates returns an empty aggregate set for a window.
func NewAggregates(ts int64) *Aggregates {
	return &Aggregates{
		Timestamp: ts,
		scalars:   make(map[string]float64),
		groups:    make(map[string][]GroupedValue),
	}
}

// SetScalar records the combined scalar for an ungrouped expression.
func (a *Aggregates) SetScalar(key string, v float64) {
	a.scalars[key] = v
}

// Scalar returns the combined value for an ungrouped expression and whether
// any data contributed this window.
func (a *Aggregates) Scalar(key string) (float64, bool) {
	v, ok := a.scalars[key]
	return v, ok
}

// SetGroups records the present partitions for a grouped expression.
func (a *Aggregates) SetGroups(key string, groups []GroupedValue) {
	a.groups[key] = groups
}

// Groups returns the present partitions for a grouped expression. A nil
// slice means no partition had data this window.
func (a *Aggregates) Groups(key string) []GroupedValue {
	return a.groups[key]
}

// Eval evaluates the expression against one window's aggregates. The rules
// here are the correctness core of the whole system:
//
//   - ungrouped leaves use the no-data sentinel when absent
//   - grouped leaves return only present partitions
//   - binary nodes over grouped operands intersect present tag sets for this
//     window only; one grouped and one scalar operand broadcasts the scalar,
//     except a no-data scalar which drops every partition
//   - group-by nodes re-partition without re-aggregating beyond the wrapped
//     operator
func (e *TimeSeriesExpr) Eval(agg *Aggregates) Result {
	switch e.Kind {
	case KindData:
		if e.Data.Grouped() {
			return Result{Grouped: true, Groups: agg.Groups(e.Data.Key())}
		}
		v, ok := agg.Scalar(e.Data.Key())
		if !ok {
			return Result{Value: NoData, Label: "NO DATA"}
		}
		return Result{Value: v, Label: e.Data.Label()}

	case KindTime:
		field := timeFields[e.TimeField]
		if field == nil {
			return Result{Value: NoData, Label: "NO DATA"}
		}
		return Result{Value: field(agg.Timestamp), Label: e.TimeField}

	case KindBinary:
		return evalBinary(e.Op, e.LHS.Eval(agg), e.RHS.Eval(agg))

	case KindGroupBy:
		return regroupExpr(e.Inner, e.Keys, agg)

	default:
		return Result{Value: NoData, Label: "NO DATA"}
	}
}

func evalBinary(op BinaryOp, l, r Result) Result {
	switch {
	case !l.Grouped && !r.Grouped:
		// Scalar arithmetic: the sentinel propagates through the value and
		// the label names each operand, absent operands as NO DATA.
		return Result{
			Value: op.apply(l.Value, r.Value),
			Label: fmt.Sprintf("(%s %s %s)", l.Label, op.symbol(), r.Label),
		}

	case l.Grouped && r.Grouped:
		// Intersection of present tag sets for this window only.
		byKey := make(map[string]GroupedValue, len(r.Groups))
		for _, g := range r.Groups {
			byKey[g.Tags.Key()] = g
		}
		out := make([]GroupedValue, 0, len(l.Groups))
		for _, g := range l.Groups {
			other, ok := byKey[g.Tags.Key()]
			if !ok {
				continue
			}
			out = append(out, GroupedValue{Tags: g.Tags, Value: op.apply(g.Value, other.Value)})
		}
		return Result{Grouped: true, Groups: sortGroups(out)}

	case l.Grouped:
		// Grouped op scalar: broadcast. A no-data scalar means no operand
		// value exists for any tag set, so nothing is emitted.
		if IsNoData(r.Value) {
			return Result{Grouped: true}
		}
		out := make([]GroupedValue, 0, len(l.Groups))
		for _, g := range l.Groups {
			out = append(out, GroupedValue{Tags: g.Tags, Value: op.apply(g.Value, r.Value)})
		}
		return Result{Grouped: true, Groups: sortGroups(out)}

	default:
		// Scalar op grouped.
		if IsNoData(l.Value) {
			return Result{Grouped: true}
		}
		out := make([]GroupedValue, 0, len(r.Groups))
		for _, g := range r.Groups {
			out = append(out, GroupedValue{Tags: g.Tags, Value: op.apply(l.Value, g.Value)})
		}
		return Result{Grouped: true, Groups: sortGroups(out)}
	}
}

// regroupExpr applies a group-by node: the regroup is pushed down to each
// grouped operand, whose mapping is re-projected onto the new keys with
// collisions combined by that operand's own aggregation operator, and the
// combining arithmetic is then applied on the intersection of the regrouped
// keys. No values are invented for keys absent on either side.
func regroupExpr(e *TimeSeriesExpr, keys []string, agg *Aggregates) Result {
	switch e.Kind {
	case KindData:
		if !e.Data.Grouped() {
			// An ungrouped leaf under a regroup is aggregated partitioned by
			// the new keys; DataExprs reports the grouped variant.
			return Result{Grouped: true, Groups: agg.Groups(e.Data.WithGroupBy(keys).Key())}
		}
		return Result{
			Grouped: true,
			Groups:  reproject(agg.Groups(e.Data.Key()), keys, e.Data.Op),
		}

	case KindTime:
		// A chrono value carries no tags to partition by.
		return Result{Grouped: true}

	case KindBinary:
		l := regroupOperand(e.LHS, keys, agg)
		r := regroupOperand(e.RHS, keys, agg)
		return evalBinary(e.Op, l, r)

	case KindGroupBy:
		// Outer keys win over an inner regroup.
		return regroupExpr(e.Inner, keys, agg)

	default:
		return Result{Grouped: true}
	}
}

// regroupOperand regroups one operand of a pushed-down binary regroup.
// Chrono scalars stay scalar and broadcast as usual.
func regroupOperand(e *TimeSeriesExpr, keys []string, agg *Aggregates) Result {
	if e.Kind == KindTime {
		return e.Eval(agg)
	}
	return regroupExpr(e, keys, agg)
}

// reproject re-partitions grouped values onto new keys, combining collisions
// with the operand's own aggregation operator. Partitions missing a new key
// are dropped.
func reproject(groups []GroupedValue, keys []string, op AggregateOp) []GroupedValue {
	merged := make(map[string]GroupedValue)
	for _, g := range groups {
		tags, ok := g.Tags.Project(keys)
		if !ok {
			continue
		}
		k := tags.Key()
		if prev, exists := merged[k]; exists {
			prev.Value = op.Combine(prev.Value, g.Value)
			merged[k] = prev
		} else {
			merged[k] = GroupedValue{Tags: tags, Value: g.Value}
		}
	}

	out := make([]GroupedValue, 0, len(merged))
	for _, g := range merged {
		out = append(out, g)
	}
	return sortGroups(out)
}

// sortGroups orders grouped values by canonical tag key for deterministic
// emission.
func sortGroups(groups []GroupedValue) []GroupedValue {
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Tags.Key() < groups[j].Tags.Key()
	})
	return groups
}

package evaluator

import (
	"sort"

	"github.com/jmrinaldi/atlas/expr"
	"github.com/jmrinaldi/atlas/message"
)

// Aggregate computes one window's aggregates for every expression in the
// need set. Each window is self-contained; nothing carries over between
// calls. A datapoint contributes to an expression when it carries that
// expression's identity and its tags satisfy the expression's query.
// Datapoints missing a tag the query requires simply do not match.
func Aggregate(needSet []*expr.DataExpr, window *message.TimeGroupPayload) *expr.Aggregates {
	agg := expr.NewAggregates(window.Timestamp)
	for _, e := range needSet {
		if e.Grouped() {
			aggregateGrouped(agg, e, window.Datapoints)
		} else {
			aggregateScalar(agg, e, window.Datapoints)
		}
	}
	return agg
}

// aggregateScalar folds all matching values into a single scalar. Zero
// matches leaves the entry absent, which evaluation reports as no data.
func aggregateScalar(agg *expr.Aggregates, e *expr.DataExpr, datapoints []message.Datapoint) {
	key := e.Key()
	var acc float64
	matched := false
	for i := range datapoints {
		dp := &datapoints[i]
		if dp.Expr != key || !e.Query.Matches(dp.Tags) {
			continue
		}
		if !matched {
			acc = dp.Value
			matched = true
			continue
		}
		acc = e.Op.Combine(acc, dp.Value)
	}
	if matched {
		agg.SetScalar(key, acc)
	}
}

// aggregateGrouped partitions matching datapoints by the projection of
// their tags onto the group keys and folds per partition. Datapoints
// missing a group key are dropped; partitions with no data do not appear.
func aggregateGrouped(agg *expr.Aggregates, e *expr.DataExpr, datapoints []message.Datapoint) {
	key := e.Key()
	partitions := make(map[string]*expr.GroupedValue)
	for i := range datapoints {
		dp := &datapoints[i]
		if dp.Expr != key || !e.Query.Matches(dp.Tags) {
			continue
		}
		tags, ok := expr.TagSet(dp.Tags).Project(e.GroupBy)
		if !ok {
			continue
		}
		pk := tags.Key()
		if gv, exists := partitions[pk]; exists {
			gv.Value = e.Op.Combine(gv.Value, dp.Value)
		} else {
			partitions[pk] = &expr.GroupedValue{Tags: tags, Value: dp.Value}
		}
	}
	if len(partitions) == 0 {
		return
	}

	groups := make([]expr.GroupedValue, 0, len(partitions))
	for _, gv := range partitions {
		groups = append(groups, *gv)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Tags.Key() < groups[j].Tags.Key()
	})
	agg.SetGroups(key, groups)
}

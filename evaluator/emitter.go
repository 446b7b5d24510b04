package evaluator

import (
	"fmt"

	"github.com/jmrinaldi/atlas/expr"
	"github.com/jmrinaldi/atlas/message"
	"github.com/jmrinaldi/atlas/subscription"
)

// Emit evaluates one subscriber's expression against a window's aggregates
// and shapes the output payloads:
//
//   - an ungrouped expression always yields exactly one payload, carrying
//     the no-data sentinel and a label naming the absent operands when
//     nothing matched this window
//   - a grouped expression yields one payload per present tag set, so a
//     window where no tag set survived the evaluation yields none
func Emit(sub *subscription.Subscriber, agg *expr.Aggregates) []*message.TimeSeriesPayload {
	res := sub.Expr.Eval(agg)

	if !res.Grouped {
		return []*message.TimeSeriesPayload{{
			ID:        sub.ID,
			Timestamp: agg.Timestamp,
			Value:     res.Value,
			Label:     res.Label,
		}}
	}

	out := make([]*message.TimeSeriesPayload, 0, len(res.Groups))
	base := sub.Expr.Label()
	for _, g := range res.Groups {
		out = append(out, &message.TimeSeriesPayload{
			ID:        sub.ID,
			Timestamp: agg.Timestamp,
			Tags:      g.Tags.Clone(),
			Value:     g.Value,
			Label:     fmt.Sprintf("%s (%s)", base, g.Tags.Key()),
		})
	}
	return out
}

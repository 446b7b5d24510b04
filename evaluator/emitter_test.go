package evaluator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmrinaldi/atlas/expr"
	"github.com/jmrinaldi/atlas/subscription"
)

func subscriber(t *testing.T, id, query string) *subscription.Subscriber {
	t.Helper()
	tree, err := expr.ParseQueryURI("http://host/api/v1/subscribe?q=" + query)
	require.NoError(t, err)
	return &subscription.Subscriber{ID: id, Expr: tree}
}

func TestEmit_UngroupedAlwaysOnePayload(t *testing.T) {
	sub := subscriber(t, "a", "name,rps,:eq,:sum")
	agg := expr.NewAggregates(60000)

	payloads := Emit(sub, agg)
	require.Len(t, payloads, 1)
	assert.Equal(t, "a", payloads[0].ID)
	assert.Equal(t, int64(60000), payloads[0].Timestamp)
	assert.True(t, math.IsNaN(payloads[0].Value))
	assert.Equal(t, "NO DATA", payloads[0].Label)
	assert.Nil(t, payloads[0].Tags)
}

func TestEmit_OneSidedNoDataNamesBothOperands(t *testing.T) {
	sub := subscriber(t, "a", "name,latency,:eq,:sum,name,latency,:eq,:count,:div")
	agg := expr.NewAggregates(60000)
	agg.SetScalar("name,latency,:eq,:sum", 9.0)

	payloads := Emit(sub, agg)
	require.Len(t, payloads, 1)
	assert.True(t, math.IsNaN(payloads[0].Value))
	assert.Equal(t, "(sum(name=latency) / NO DATA)", payloads[0].Label)
}

func TestEmit_GroupedOnePayloadPerTagSet(t *testing.T) {
	sub := subscriber(t, "a", "name,rps,:eq,:sum,(,node,),:by")
	agg := expr.NewAggregates(60000)
	agg.SetGroups("name,rps,:eq,:sum,(,node,),:by", []expr.GroupedValue{
		{Tags: expr.TagSet{"node": "i-1"}, Value: 42.0},
		{Tags: expr.TagSet{"node": "i-2"}, Value: 7.0},
	})

	payloads := Emit(sub, agg)
	require.Len(t, payloads, 2)

	assert.Equal(t, map[string]string{"node": "i-1"}, payloads[0].Tags)
	assert.Equal(t, 42.0, payloads[0].Value)
	assert.Contains(t, payloads[0].Label, "(node=i-1)")

	assert.Equal(t, map[string]string{"node": "i-2"}, payloads[1].Tags)
	assert.Equal(t, 7.0, payloads[1].Value)
	assert.Contains(t, payloads[1].Label, "(node=i-2)")
}

func TestEmit_GroupedEmptyWindowEmitsNothing(t *testing.T) {
	sub := subscriber(t, "a", "name,rps,:eq,:sum,(,node,),:by")
	agg := expr.NewAggregates(60000)

	payloads := Emit(sub, agg)
	assert.Empty(t, payloads)
}

package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDataExpr_Key(t *testing.T) {
	tests := []struct {
		name string
		expr *DataExpr
		want string
	}{
		{
			name: "ungrouped sum",
			expr: &DataExpr{Query: Equal("name", "rps"), Op: OpSum},
			want: "name,rps,:eq,:sum",
		},
		{
			name: "grouped sum",
			expr: &DataExpr{Query: Equal("name", "rps"), Op: OpSum, GroupBy: []string{"node"}},
			want: "name,rps,:eq,:sum,(,node,),:by",
		},
		{
			name: "multi-key group",
			expr: &DataExpr{Query: Equal("name", "rps"), Op: OpMax, GroupBy: []string{"node", "cluster"}},
			want: "name,rps,:eq,:max,(,node,cluster,),:by",
		},
		{
			name: "count",
			expr: &DataExpr{Query: Equal("name", "rps"), Op: OpCount},
			want: "name,rps,:eq,:count",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.expr.Key())
		})
	}
}

// Same structure from different subscribers must share one key: the key is
// what deduplicates aggregation work across subscribers.
func TestDataExpr_KeyDeduplicates(t *testing.T) {
	a := &DataExpr{Query: Equal("name", "rps"), Op: OpSum, GroupBy: []string{"node"}}
	b := &DataExpr{Query: Equal("name", "rps"), Op: OpSum, GroupBy: []string{"node"}}
	assert.Equal(t, a.Key(), b.Key())

	// Operator is part of the identity: sum and count over the same tags are
	// different need-set entries.
	c := &DataExpr{Query: Equal("name", "rps"), Op: OpCount, GroupBy: []string{"node"}}
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestAggregateOp_Combine(t *testing.T) {
	tests := []struct {
		name string
		op   AggregateOp
		a, b float64
		want float64
	}{
		{"sum adds", OpSum, 42, 43, 85},
		{"count adds contributed counts", OpCount, 2, 3, 5},
		{"max keeps larger", OpMax, 41, 45, 45},
		{"min keeps smaller", OpMin, 41, 45, 41},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.Combine(tt.a, tt.b))
			assert.Equal(t, tt.want, tt.op.Combine(tt.b, tt.a))
		})
	}
}

func TestDataExpr_Label(t *testing.T) {
	ungrouped := &DataExpr{Query: Equal("name", "rps"), Op: OpSum}
	assert.Equal(t, "sum(name=rps)", ungrouped.Label())

	grouped := ungrouped.WithGroupBy([]string{"node"})
	assert.Equal(t, "sum(name=rps) by [node]", grouped.Label())
}

package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuery_Matches(t *testing.T) {
	tags := TagSet{"name": "rps", "node": "i-1", "cluster": "web"}

	tests := []struct {
		name  string
		query *Query
		want  bool
	}{
		{"true matches anything", True(), true},
		{"false matches nothing", False(), false},
		{"equal match", Equal("name", "rps"), true},
		{"equal wrong value", Equal("name", "latency"), false},
		{"equal missing key", Equal("zone", "us-east"), false},
		{"has present", Has("node"), true},
		{"has missing", Has("zone"), false},
		{"in match", In("node", []string{"i-1", "i-2"}), true},
		{"in no match", In("node", []string{"i-3"}), false},
		{"in missing key", In("zone", []string{"us-east"}), false},
		{"and both", And(Equal("name", "rps"), Has("node")), true},
		{"and one side", And(Equal("name", "rps"), Has("zone")), false},
		{"or either", Or(Equal("name", "latency"), Has("node")), true},
		{"or neither", Or(Equal("name", "latency"), Has("zone")), false},
		{"not", Not(Equal("name", "latency")), true},
		{"not matching", Not(Equal("name", "rps")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.query.Matches(tags))
		})
	}
}

// A measurement that lost a tag the predicate requires is simply non-matching.
func TestQuery_MissingTagExcludes(t *testing.T) {
	q := And(Equal("name", "rps"), Equal("node", "i-1"))

	assert.True(t, q.Matches(TagSet{"name": "rps", "node": "i-1"}))
	assert.False(t, q.Matches(TagSet{"name": "rps"}))
	assert.False(t, q.Matches(nil))
}

func TestQuery_String(t *testing.T) {
	tests := []struct {
		query *Query
		want  string
	}{
		{Equal("name", "rps"), "name,rps,:eq"},
		{Has("node"), "node,:has"},
		{In("node", []string{"i-1", "i-2"}), "node,(,i-1,i-2,),:in"},
		{And(Equal("name", "rps"), Has("node")), "name,rps,:eq,node,:has,:and"},
		{Not(Equal("name", "rps")), "name,rps,:eq,:not"},
		{True(), ":true"},
		{False(), ":false"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.query.String())
	}
}

// Structurally equal queries must render identically: the rendering is the
// content-based identity the need-set depends on.
func TestQuery_StringIsStructural(t *testing.T) {
	a := And(Equal("name", "rps"), Equal("node", "i-1"))
	b := And(Equal("name", "rps"), Equal("node", "i-1"))
	assert.Equal(t, a.String(), b.String())

	c := And(Equal("node", "i-1"), Equal("name", "rps"))
	assert.NotEqual(t, a.String(), c.String())
}

func TestTagSet_Key(t *testing.T) {
	assert.Equal(t, "", TagSet{}.Key())
	assert.Equal(t, "name=rps", TagSet{"name": "rps"}.Key())
	// Keys are sorted, insertion order is irrelevant
	assert.Equal(t, "name=rps,node=i-1", TagSet{"node": "i-1", "name": "rps"}.Key())
}

func TestTagSet_Project(t *testing.T) {
	tags := TagSet{"name": "rps", "node": "i-1", "cluster": "web"}

	projected, ok := tags.Project([]string{"node"})
	assert.True(t, ok)
	assert.Equal(t, TagSet{"node": "i-1"}, projected)

	_, ok = tags.Project([]string{"node", "zone"})
	assert.False(t, ok)
}

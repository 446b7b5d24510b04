package expr

import (
	"sort"
	"strings"
)

// TagSet is an immutable-by-convention key-value label set identifying a
// distinct series within a grouped expression.
type TagSet map[string]string

// Key returns a canonical "k=v,k=v" rendering with keys sorted. Equal tag
// sets always produce equal keys, so the key is usable as a map key when
// intersecting grouped results.
func (t TagSet) Key() string {
	if len(t) == 0 {
		return ""
	}

	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(t[k])
	}
	return sb.String()
}

// Project returns the subset of t restricted to keys. The second result is
// false when any key is missing; a measurement without a group key cannot
// belong to any partition.
func (t TagSet) Project(keys []string) (TagSet, bool) {
	out := make(TagSet, len(keys))
	for _, k := range keys {
		v, ok := t[k]
		if !ok {
			return nil, false
		}
		out[k] = v
	}
	return out, true
}

// Clone returns a copy of t.
func (t TagSet) Clone() TagSet {
	out := make(TagSet, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

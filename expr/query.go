package expr

import (
	"fmt"
	"strings"
)

// QueryKind enumerates the tag query variants. Queries are tagged variants
// evaluated by a recursive function rather than method-per-type dispatch,
// which keeps the matching rules in one place.
type QueryKind int

// Query variants.
const (
	QueryTrue QueryKind = iota
	QueryFalse
	QueryEqual
	QueryHas
	QueryIn
	QueryAnd
	QueryOr
	QueryNot
)

// Query is a predicate over tag sets. The zero value matches nothing useful;
// construct queries with the helpers below or the parser.
type Query struct {
	Kind   QueryKind
	Key    string   // Equal, Has, In
	Value  string   // Equal
	Values []string // In
	L, R   *Query   // And, Or; Not uses L only
}

// True returns the query matching every tag set.
func True() *Query { return &Query{Kind: QueryTrue} }

// False returns the query matching no tag set.
func False() *Query { return &Query{Kind: QueryFalse} }

// Equal returns the query matching tag sets where key has exactly value.
func Equal(key, value string) *Query {
	return &Query{Kind: QueryEqual, Key: key, Value: value}
}

// Has returns the query matching tag sets that carry key with any value.
func Has(key string) *Query { return &Query{Kind: QueryHas, Key: key} }

// In returns the query matching tag sets where key has one of values.
func In(key string, values []string) *Query {
	return &Query{Kind: QueryIn, Key: key, Values: values}
}

// And returns the conjunction of two queries.
func And(l, r *Query) *Query { return &Query{Kind: QueryAnd, L: l, R: r} }

// Or returns the disjunction of two queries.
func Or(l, r *Query) *Query { return &Query{Kind: QueryOr, L: l, R: r} }

// Not returns the negation of q.
func Not(q *Query) *Query { return &Query{Kind: QueryNot, L: q} }

// Matches reports whether tags satisfy the query. A tag set missing a key the
// query requires does not match; malformed measurements fall out here rather
// than failing the window.
func (q *Query) Matches(tags TagSet) bool {
	switch q.Kind {
	case QueryTrue:
		return true
	case QueryFalse:
		return false
	case QueryEqual:
		v, ok := tags[q.Key]
		return ok && v == q.Value
	case QueryHas:
		_, ok := tags[q.Key]
		return ok
	case QueryIn:
		v, ok := tags[q.Key]
		if !ok {
			return false
		}
		for _, want := range q.Values {
			if v == want {
				return true
			}
		}
		return false
	case QueryAnd:
		return q.L.Matches(tags) && q.R.Matches(tags)
	case QueryOr:
		return q.L.Matches(tags) || q.R.Matches(tags)
	case QueryNot:
		return !q.L.Matches(tags)
	default:
		return false
	}
}

// String returns the canonical postfix rendering of the query. Structurally
// equal queries render identically, which makes the rendering usable as a
// content-based identity.
func (q *Query) String() string {
	switch q.Kind {
	case QueryTrue:
		return ":true"
	case QueryFalse:
		return ":false"
	case QueryEqual:
		return fmt.Sprintf("%s,%s,:eq", q.Key, q.Value)
	case QueryHas:
		return fmt.Sprintf("%s,:has", q.Key)
	case QueryIn:
		return fmt.Sprintf("%s,(,%s,),:in", q.Key, strings.Join(q.Values, ","))
	case QueryAnd:
		return fmt.Sprintf("%s,%s,:and", q.L, q.R)
	case QueryOr:
		return fmt.Sprintf("%s,%s,:or", q.L, q.R)
	case QueryNot:
		return fmt.Sprintf("%s,:not", q.L)
	default:
		return ":false"
	}
}

// Label returns a human-readable rendering used when composing output labels.
func (q *Query) Label() string {
	switch q.Kind {
	case QueryTrue:
		return "true"
	case QueryFalse:
		return "false"
	case QueryEqual:
		return fmt.Sprintf("%s=%s", q.Key, q.Value)
	case QueryHas:
		return fmt.Sprintf("has(%s)", q.Key)
	case QueryIn:
		return fmt.Sprintf("%s in (%s)", q.Key, strings.Join(q.Values, ","))
	case QueryAnd:
		return fmt.Sprintf("%s and %s", q.L.Label(), q.R.Label())
	case QueryOr:
		return fmt.Sprintf("%s or %s", q.L.Label(), q.R.Label())
	case QueryNot:
		return fmt.Sprintf("not(%s)", q.L.Label())
	default:
		return "false"
	}
}

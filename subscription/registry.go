// Package subscription tracks the active subscriber set and the
// reference-counted need-set of aggregation expressions it implies.
package subscription

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/jmrinaldi/atlas/expr"
	"github.com/jmrinaldi/atlas/message"
)

// Subscriber is one registered subscriber: its query, and either the parsed
// final expression or the terminal parse error.
type Subscriber struct {
	ID   string
	URI  string
	Expr *expr.TimeSeriesExpr // nil when parsing failed
	Err  error                // non-nil when parsing failed

	seq uint64 // registration order
}

// Active reports whether the subscriber participates in aggregation and
// evaluation. A parse failure leaves the subscriber registered but inactive
// until re-registered with a corrected query.
func (s *Subscriber) Active() bool { return s.Err == nil }

// needEntry is one reference-counted need-set member.
type needEntry struct {
	expr *expr.DataExpr
	refs int
}

// Registry maps subscriber identifiers to their parsed final expressions and
// maintains the need-set: the deduplicated union of leaf aggregation
// expressions across all active subscribers, reference-counted so an
// expression leaves the set exactly when its last referencing subscriber
// does.
//
// The evaluator stage serializes all calls, but the registry carries its own
// lock so metrics and introspection can read it safely from outside the
// stage goroutine.
type Registry struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	needSet     map[string]*needEntry
	nextSeq     uint64
	logger      *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		subscribers: make(map[string]*Subscriber),
		needSet:     make(map[string]*needEntry),
		logger:      logger,
	}
}

// Update replaces the full active set with the snapshot. New subscribers are
// parsed once; each new parse failure produces exactly one diagnostic
// envelope in the returned slice and leaves the subscriber inactive.
// Subscribers absent from the snapshot are removed and their need-set
// references released. Unchanged subscribers are never re-parsed.
func (r *Registry) Update(snapshot []message.Subscription) []message.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	var diagnostics []message.Envelope
	seen := make(map[string]struct{}, len(snapshot))

	for _, sub := range snapshot {
		seen[sub.ID] = struct{}{}

		existing, ok := r.subscribers[sub.ID]
		if ok && existing.URI == sub.URI {
			continue
		}
		if ok {
			// Re-registration with a different query: drop the old
			// references before parsing the new expression.
			r.release(existing)
		}

		s := &Subscriber{ID: sub.ID, URI: sub.URI, seq: r.nextSeq}
		r.nextSeq++

		tree, err := expr.ParseQueryURI(sub.URI)
		if err != nil {
			s.Err = err
			r.logger.Warn("subscription rejected",
				"subscriber", sub.ID,
				"error", err)
			diagnostics = append(diagnostics, message.Envelope{
				SubscriberID: sub.ID,
				Payload:      &message.DiagnosticPayload{ID: sub.ID, Message: err.Error()},
			})
		} else {
			s.Expr = tree
			r.retain(s)
		}

		r.subscribers[sub.ID] = s
	}

	for id, s := range r.subscribers {
		if _, ok := seen[id]; ok {
			continue
		}
		r.release(s)
		delete(r.subscribers, id)
		r.logger.Debug("subscriber removed", "subscriber", id)
	}

	return diagnostics
}

// retain adds one reference per distinct leaf expression of s.
func (r *Registry) retain(s *Subscriber) {
	for key, leaf := range distinctLeaves(s.Expr) {
		entry, ok := r.needSet[key]
		if !ok {
			entry = &needEntry{expr: leaf}
			r.needSet[key] = entry
		}
		entry.refs++
	}
}

// release drops one reference per distinct leaf expression of s, removing
// entries whose count reaches zero.
func (r *Registry) release(s *Subscriber) {
	if s.Expr == nil {
		return
	}
	for key := range distinctLeaves(s.Expr) {
		entry, ok := r.needSet[key]
		if !ok {
			continue
		}
		entry.refs--
		if entry.refs <= 0 {
			delete(r.needSet, key)
		}
	}
}

// distinctLeaves deduplicates a tree's leaves by content key: a subscriber
// referencing the same expression twice holds one reference, not two.
func distinctLeaves(tree *expr.TimeSeriesExpr) map[string]*expr.DataExpr {
	leaves := make(map[string]*expr.DataExpr)
	for _, leaf := range tree.DataExprs() {
		leaves[leaf.Key()] = leaf
	}
	return leaves
}

// Active returns the active (successfully parsed) subscribers in stable
// registration order. Output emission per window follows this order.
func (r *Registry) Active() []*Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Subscriber, 0, len(r.subscribers))
	for _, s := range r.subscribers {
		if s.Active() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// NeedSet returns the current need-set expressions. Order is not significant;
// aggregation treats entries independently.
func (r *Registry) NeedSet() []*expr.DataExpr {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*expr.DataExpr, 0, len(r.needSet))
	for _, entry := range r.needSet {
		out = append(out, entry.expr)
	}
	return out
}

// Counts returns the number of active subscribers and need-set entries, for
// metrics.
func (r *Registry) Counts() (active, needSet int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.subscribers {
		if s.Active() {
			active++
		}
	}
	return active, len(r.needSet)
}

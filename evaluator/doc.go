// Package evaluator turns windowed batches of tagged datapoints into the
// exact time series each subscriber asked for.
//
// The stage consumes two event kinds from one ordered input: subscription
// snapshots, which reshape the registry and emit parse diagnostics, and
// time groups, which drive one aggregate-evaluate-emit pass. Aggregation
// is stateless per window: the need set of primitive expressions is folded
// over the window's datapoints, each subscriber's expression tree is
// evaluated against the result, and outputs are emitted in registration
// order before the next event is read. Absent data surfaces as an explicit
// sentinel for ungrouped expressions and as missing tag sets for grouped
// ones; neither stalls the stream.
//
// Component wraps the stage for NATS: it subscribes to the time group and
// subscription subjects and publishes each envelope to the subscriber's own
// subject under the output prefix.
package evaluator

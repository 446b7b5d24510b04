// Package message defines the wire envelopes exchanged between the metrics
// bridge, the evaluator, and subscriber output streams.
//
// A Message pairs a typed Payload with identity and lifecycle metadata. The
// platform's own payloads cover the full evaluator round trip:
//
//   - TimeGroupPayload: one window's datapoints, keyed by aggregation expression
//   - SubscriptionsPayload: a full snapshot of the desired subscriber set
//   - TimeSeriesPayload: one evaluated value for one subscriber and window
//   - DiagnosticPayload: a subscriber-scoped error report
//
// Payload types register themselves with the component payload registry at
// init time so BaseMessage.UnmarshalJSON can reconstruct typed payloads from
// raw NATS data.
//
// TimeSeriesPayload values may be NaN, the no-data sentinel. JSON numbers
// cannot encode NaN, so the wire format uses the string "NaN" and both
// directions of the codec understand it.
package message

package message

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/jmrinaldi/atlas/component"
	"github.com/jmrinaldi/atlas/errors"
)

// Message types for the evaluator's own payloads.
var (
	// TimeGroupMessage carries one window's worth of datapoints.
	TimeGroupMessage = Type{Domain: "metrics", Category: "timegroup", Version: "v1"}

	// SubscriptionsMessage carries a full snapshot of the desired subscriber set.
	SubscriptionsMessage = Type{Domain: "metrics", Category: "subscriptions", Version: "v1"}

	// TimeSeriesMessage carries one evaluated output value for a subscriber.
	TimeSeriesMessage = Type{Domain: "metrics", Category: "timeseries", Version: "v1"}

	// DiagnosticMessage carries a subscriber-scoped error report.
	DiagnosticMessage = Type{Domain: "metrics", Category: "diagnostic", Version: "v1"}
)

func init() {
	component.MustRegisterPayload(&component.PayloadRegistration{
		Factory:     func() any { return &TimeGroupPayload{} },
		Domain:      TimeGroupMessage.Domain,
		Category:    TimeGroupMessage.Category,
		Version:     TimeGroupMessage.Version,
		Description: "Time-grouped measurement datapoints",
	})
	component.MustRegisterPayload(&component.PayloadRegistration{
		Factory:     func() any { return &SubscriptionsPayload{} },
		Domain:      SubscriptionsMessage.Domain,
		Category:    SubscriptionsMessage.Category,
		Version:     SubscriptionsMessage.Version,
		Description: "Subscriber set snapshot",
	})
	component.MustRegisterPayload(&component.PayloadRegistration{
		Factory:     func() any { return &TimeSeriesPayload{} },
		Domain:      TimeSeriesMessage.Domain,
		Category:    TimeSeriesMessage.Category,
		Version:     TimeSeriesMessage.Version,
		Description: "Evaluated time series output",
	})
	component.MustRegisterPayload(&component.PayloadRegistration{
		Factory:     func() any { return &DiagnosticPayload{} },
		Domain:      DiagnosticMessage.Domain,
		Category:    DiagnosticMessage.Category,
		Version:     DiagnosticMessage.Version,
		Description: "Subscriber diagnostic report",
	})
}

// Datapoint is a single measurement routed to the evaluator. The Expr field
// carries the canonical key of the aggregation expression the upstream stage
// matched this measurement against; Tags carries the measurement's full tag
// map after that match.
type Datapoint struct {
	Timestamp int64             `json:"timestamp"`
	Expr      string            `json:"expr"`
	Source    string            `json:"source,omitempty"`
	Tags      map[string]string `json:"tags"`
	Value     float64           `json:"value"`
}

// TimeGroupPayload carries all datapoints for one time window. Upstream
// grouping guarantees every datapoint shares the window timestamp.
type TimeGroupPayload struct {
	Timestamp  int64       `json:"timestamp"`
	Datapoints []Datapoint `json:"datapoints"`
}

// Schema returns the payload type.
func (p *TimeGroupPayload) Schema() Type { return TimeGroupMessage }

// Validate checks datapoints belong to the advertised window.
func (p *TimeGroupPayload) Validate() error {
	if p.Timestamp <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "TimeGroupPayload", "Validate",
			"window timestamp must be positive")
	}
	for i, d := range p.Datapoints {
		if d.Expr == "" {
			return errors.WrapInvalid(errors.ErrInvalidData, "TimeGroupPayload", "Validate",
				fmt.Sprintf("datapoint %d missing expression key", i))
		}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p *TimeGroupPayload) MarshalJSON() ([]byte, error) {
	type Alias TimeGroupPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *TimeGroupPayload) UnmarshalJSON(data []byte) error {
	type Alias TimeGroupPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// Subscription pairs a subscriber identifier with its query URI.
type Subscription struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

// SubscriptionsPayload carries a complete snapshot of the desired subscriber
// set. Snapshots replace the active set; they are not deltas.
type SubscriptionsPayload struct {
	Subscriptions []Subscription `json:"subscriptions"`
}

// Schema returns the payload type.
func (p *SubscriptionsPayload) Schema() Type { return SubscriptionsMessage }

// Validate checks every entry carries an identifier and a URI.
func (p *SubscriptionsPayload) Validate() error {
	seen := make(map[string]struct{}, len(p.Subscriptions))
	for i, s := range p.Subscriptions {
		if s.ID == "" {
			return errors.WrapInvalid(errors.ErrInvalidData, "SubscriptionsPayload", "Validate",
				fmt.Sprintf("subscription %d missing id", i))
		}
		if s.URI == "" {
			return errors.WrapInvalid(errors.ErrInvalidData, "SubscriptionsPayload", "Validate",
				fmt.Sprintf("subscription %s missing uri", s.ID))
		}
		if _, dup := seen[s.ID]; dup {
			return errors.WrapInvalid(errors.ErrInvalidData, "SubscriptionsPayload", "Validate",
				fmt.Sprintf("duplicate subscription id %s", s.ID))
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p *SubscriptionsPayload) MarshalJSON() ([]byte, error) {
	type Alias SubscriptionsPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *SubscriptionsPayload) UnmarshalJSON(data []byte) error {
	type Alias SubscriptionsPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// TimeSeriesPayload carries one evaluated value for one subscriber and one
// window. A NaN value means no data contributed to the window; it is encoded
// as the JSON string "NaN" because JSON numbers cannot represent it.
type TimeSeriesPayload struct {
	ID        string            `json:"id"`
	Timestamp int64             `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
	Value     float64           `json:"value"`
	Label     string            `json:"label"`
}

// Schema returns the payload type.
func (p *TimeSeriesPayload) Schema() Type { return TimeSeriesMessage }

// Validate checks required fields.
func (p *TimeSeriesPayload) Validate() error {
	if p.ID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "TimeSeriesPayload", "Validate",
			"subscriber id is required")
	}
	if p.Timestamp <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "TimeSeriesPayload", "Validate",
			"window timestamp must be positive")
	}
	return nil
}

// timeSeriesWire mirrors TimeSeriesPayload with the value as raw JSON so NaN
// can round-trip as the string "NaN".
type timeSeriesWire struct {
	ID        string            `json:"id"`
	Timestamp int64             `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
	Value     json.RawMessage   `json:"value"`
	Label     string            `json:"label"`
}

// MarshalJSON implements json.Marshaler with NaN-safe value encoding.
func (p *TimeSeriesPayload) MarshalJSON() ([]byte, error) {
	wire := timeSeriesWire{
		ID:        p.ID,
		Timestamp: p.Timestamp,
		Tags:      p.Tags,
		Label:     p.Label,
	}

	if math.IsNaN(p.Value) {
		wire.Value = json.RawMessage(`"NaN"`)
	} else {
		wire.Value = json.RawMessage(strconv.FormatFloat(p.Value, 'g', -1, 64))
	}

	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler, accepting either a JSON number
// or the string "NaN" for the value.
func (p *TimeSeriesPayload) UnmarshalJSON(data []byte) error {
	var wire timeSeriesWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return errors.WrapInvalid(err, "TimeSeriesPayload", "UnmarshalJSON", "decode wire format")
	}

	p.ID = wire.ID
	p.Timestamp = wire.Timestamp
	p.Tags = wire.Tags
	p.Label = wire.Label

	var value float64
	if err := json.Unmarshal(wire.Value, &value); err != nil {
		var s string
		if strErr := json.Unmarshal(wire.Value, &s); strErr != nil || s != "NaN" {
			return errors.WrapInvalid(err, "TimeSeriesPayload", "UnmarshalJSON", "decode value")
		}
		value = math.NaN()
	}
	p.Value = value

	return nil
}

// DiagnosticPayload reports a subscriber-scoped failure, most commonly a
// query that failed to parse.
type DiagnosticPayload struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Schema returns the payload type.
func (p *DiagnosticPayload) Schema() Type { return DiagnosticMessage }

// Validate checks required fields.
func (p *DiagnosticPayload) Validate() error {
	if p.ID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "DiagnosticPayload", "Validate",
			"subscriber id is required")
	}
	if p.Message == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "DiagnosticPayload", "Validate",
			"message is required")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p *DiagnosticPayload) MarshalJSON() ([]byte, error) {
	type Alias DiagnosticPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *DiagnosticPayload) UnmarshalJSON(data []byte) error {
	type Alias DiagnosticPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// Envelope pairs an output payload with the subscriber it belongs to.
// The transport layer maps the subscriber ID onto its output subject.
type Envelope struct {
	SubscriberID string
	Payload      Payload
}

package message

import "encoding/json"

// Payload represents the data carried by a message.
// All message payloads must implement this interface to provide
// schema information, validation, and serialization capabilities.
//
// Example implementation:
//
//	type DiagnosticPayload struct {
//	    ID      string `json:"id"`
//	    Message string `json:"message"`
//	}
//
//	func (p *DiagnosticPayload) Schema() Type {
//	    return Type{Domain: "metrics", Category: "diagnostic", Version: "v1"}
//	}
//
//	func (p *DiagnosticPayload) Validate() error {
//	    if p.ID == "" {
//	        return errors.New("subscriber id is required")
//	    }
//	    return nil
//	}
//
//	func (p *DiagnosticPayload) MarshalJSON() ([]byte, error) {
//	    // Use alias to avoid infinite recursion
//	    type Alias DiagnosticPayload
//	    return json.Marshal((*Alias)(p))
//	}
//
//	func (p *DiagnosticPayload) UnmarshalJSON(data []byte) error {
//	    // Use alias to avoid infinite recursion
//	    type Alias DiagnosticPayload
//	    return json.Unmarshal(data, (*Alias)(p))
//	}
type Payload interface {
	// Schema returns the Type that defines this payload's structure.
	// This enables type-safe routing and processing throughout the system.
	Schema() Type

	// Validate checks the payload data for correctness.
	// Returns nil if valid, or an error describing the validation failure.
	// Should validate:
	//   - Required fields are present
	//   - Values are within acceptable ranges
	//   - Business rules are satisfied
	Validate() error

	// JSON serialization using standard Go interfaces.
	// Payloads must implement json.Marshaler and json.Unmarshaler
	// for deterministic serialization. The same payload must always
	// produce the same JSON output.
	json.Marshaler
	json.Unmarshaler
}

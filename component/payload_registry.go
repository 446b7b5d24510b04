package component

import (
	"fmt"
	"sync"

	"github.com/jmrinaldi/atlas/errors"
)

// PayloadFactory creates a payload instance for a specific message type.
// The factory returns an any to avoid import cycles; the actual payload
// implements the message.Payload interface.
type PayloadFactory func() any

// PayloadRegistration holds factory and metadata for a payload type.
type PayloadRegistration struct {
	Factory     PayloadFactory `json:"-"`           // Factory function (not serializable)
	Domain      string         `json:"domain"`      // Message domain (e.g., "metrics")
	Category    string         `json:"category"`    // Message category (e.g., "timegroup")
	Version     string         `json:"version"`     // Schema version (e.g., "v1")
	Description string         `json:"description"` // Human-readable description
}

// MessageType returns the formatted message type string for this registration.
// Format: "domain.category.version" (e.g., "metrics.timegroup.v1").
func (pr *PayloadRegistration) MessageType() string {
	return fmt.Sprintf("%s.%s.%s", pr.Domain, pr.Category, pr.Version)
}

// PayloadRegistry manages payload factories for message deserialization.
// It provides thread-safe registration and lookup of payload factories,
// enabling BaseMessage.UnmarshalJSON to recreate typed payloads from JSON.
type PayloadRegistry struct {
	registrations map[string]*PayloadRegistration
	mu            sync.RWMutex
}

// NewPayloadRegistry creates a new empty payload registry.
func NewPayloadRegistry() *PayloadRegistry {
	return &PayloadRegistry{
		registrations: make(map[string]*PayloadRegistration),
	}
}

// RegisterPayload registers a payload factory with validation.
// The message type is derived from the registration's Domain, Category, and
// Version fields. Returns an error if validation fails or the type is
// already registered.
func (pr *PayloadRegistry) RegisterPayload(registration *PayloadRegistration) error {
	if registration == nil || registration.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"PayloadRegistry", "RegisterPayload", "registration validation")
	}

	if registration.Domain == "" || registration.Category == "" || registration.Version == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"PayloadRegistry", "RegisterPayload", "type fields validation")
	}

	msgType := registration.MessageType()

	pr.mu.Lock()
	defer pr.mu.Unlock()

	if _, exists := pr.registrations[msgType]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("payload type '%s' is already registered", msgType),
			"PayloadRegistry", "RegisterPayload", "duplicate payload check")
	}

	pr.registrations[msgType] = registration
	return nil
}

// CreatePayload creates a payload instance using the registered factory.
// Returns nil if the message type is not registered, letting callers handle
// unknown types gracefully.
func (pr *PayloadRegistry) CreatePayload(domain, category, version string) any {
	typeStr := fmt.Sprintf("%s.%s.%s", domain, category, version)

	pr.mu.RLock()
	registration, exists := pr.registrations[typeStr]
	pr.mu.RUnlock()

	if !exists {
		return nil
	}

	return registration.Factory()
}

// ListPayloads returns all registered payload type strings.
func (pr *PayloadRegistry) ListPayloads() []string {
	pr.mu.RLock()
	defer pr.mu.RUnlock()

	result := make([]string, 0, len(pr.registrations))
	for msgType := range pr.registrations {
		result = append(result, msgType)
	}
	return result
}

// globalPayloadRegistry backs the package-level registration helpers used by
// payload init() functions.
var globalPayloadRegistry = NewPayloadRegistry()

// RegisterPayload registers a payload factory in the global registry.
func RegisterPayload(registration *PayloadRegistration) error {
	return globalPayloadRegistry.RegisterPayload(registration)
}

// MustRegisterPayload registers a payload factory and panics on failure.
// Intended for init() registration of the platform's own payload types.
func MustRegisterPayload(registration *PayloadRegistration) {
	if err := RegisterPayload(registration); err != nil {
		panic(err)
	}
}

// CreatePayload creates a payload instance from the global registry.
func CreatePayload(domain, category, version string) any {
	return globalPayloadRegistry.CreatePayload(domain, category, version)
}

package component

import "fmt"

// Direction for data flow
type Direction string

// Direction constants for port data flow
const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Port describes any I/O interface
type Port struct {
	Name        string    `json:"name"`
	Direction   Direction `json:"direction"`
	Required    bool      `json:"required"`
	Description string    `json:"description"`
	Config      Portable  `json:"config"`
}

// Portable is the minimal interface every port config implements
type Portable interface {
	ResourceID() string // Unique identifier for conflict detection
	IsExclusive() bool  // Whether multiple components can share
	Type() string       // Port type identifier
}

// InterfaceContract defines the expected message interface on a port
type InterfaceContract struct {
	Type    string `json:"type"`              // e.g., "metrics.timegroup.v1"
	Version string `json:"version,omitempty"` // e.g., "v1"
}

// NATSPort - NATS pub/sub
type NATSPort struct {
	Subject   string             `json:"subject"`
	Queue     string             `json:"queue,omitempty"`
	Interface *InterfaceContract `json:"interface,omitempty"`
}

// ResourceID returns unique identifier for NATS ports
func (n NATSPort) ResourceID() string {
	return fmt.Sprintf("nats:%s", n.Subject)
}

// IsExclusive returns false as multiple components can subscribe
func (n NATSPort) IsExclusive() bool {
	return false
}

// Type returns the port type identifier
func (n NATSPort) Type() string {
	return "nats"
}

// NetworkPort - a listening network endpoint (e.g. the websocket stream server)
type NetworkPort struct {
	Protocol string `json:"protocol"` // "tcp", "http", "ws"
	Address  string `json:"address"`
	Path     string `json:"path,omitempty"`
}

// ResourceID returns unique identifier for network ports
func (n NetworkPort) ResourceID() string {
	return fmt.Sprintf("%s:%s", n.Protocol, n.Address)
}

// IsExclusive returns true as only one component can bind an address
func (n NetworkPort) IsExclusive() bool {
	return true
}

// Type returns the port type identifier
func (n NetworkPort) Type() string {
	return "network"
}

// PortDefinition represents a port configuration from JSON
type PortDefinition struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Interface   string `json:"interface,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Description string `json:"description,omitempty"`
}

// PortConfig represents port configuration in component config
type PortConfig struct {
	Inputs  []PortDefinition `json:"inputs,omitempty"`
	Outputs []PortDefinition `json:"outputs,omitempty"`
}

// BuildPortFromDefinition creates a Port from a PortDefinition
func BuildPortFromDefinition(def PortDefinition, direction Direction) Port {
	port := Port{
		Name:        def.Name,
		Direction:   direction,
		Required:    def.Required,
		Description: def.Description,
	}

	var iface *InterfaceContract
	if def.Interface != "" {
		iface = &InterfaceContract{
			Type:    def.Interface,
			Version: "v1",
		}
	}
	port.Config = NATSPort{
		Subject:   def.Subject,
		Interface: iface,
	}

	return port
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"
)

// ComponentType represents the category of a component
type ComponentType string

// Component type constants
const (
	ComponentTypeInput     ComponentType = "input"
	ComponentTypeProcessor ComponentType = "processor"
	ComponentTypeOutput    ComponentType = "output"
)

// ComponentConfig provides configuration for creating a component instance.
// The instance name comes from the map key in the components configuration.
type ComponentConfig struct {
	Type    ComponentType   `json:"type"`    // Component type (input/processor/output)
	Name    string          `json:"name"`    // Factory name (e.g., "evaluator", "websocket")
	Enabled bool            `json:"enabled"` // Whether component is enabled
	Config  json.RawMessage `json:"config"`  // Component-specific configuration
}

// Validate ensures the component configuration is valid
func (c ComponentConfig) Validate() error {
	if c.Type == "" {
		return errors.New("component type cannot be empty")
	}
	if c.Name == "" {
		return errors.New("component factory name cannot be empty")
	}

	switch c.Type {
	case ComponentTypeInput, ComponentTypeProcessor, ComponentTypeOutput:
		return nil
	default:
		return fmt.Errorf("invalid component type: %s", c.Type)
	}
}

// ComponentConfigs holds component instance configurations.
// The map key is the instance name (e.g., "evaluator-main").
// Components are only created if both:
// 1. Their factory has been registered via Register()
// 2. They have an entry in this config map with enabled=true
type ComponentConfigs map[string]ComponentConfig

// Config represents the complete application configuration
type Config struct {
	Version    string           `json:"version"` // Semantic version (e.g., "1.0.0")
	Platform   PlatformConfig   `json:"platform"`
	NATS       NATSConfig       `json:"nats"`
	Metrics    MetricsConfig    `json:"metrics,omitempty"`
	Components ComponentConfigs `json:"components"` // Map of component instance configs
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{
		config: cfg,
	}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically updates the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	// Validate before updating
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	// Use JSON marshaling/unmarshaling for deep copy
	data, err := json.Marshal(c)
	if err != nil {
		// Fallback to shallow copy if marshaling fails
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		// Fallback to shallow copy if unmarshaling fails
		copied := *c
		return &copied
	}

	return &clone
}

// PlatformConfig defines platform identity
type PlatformConfig struct {
	Org string `json:"org"` // Organization namespace (e.g., "netops")
	ID  string `json:"id"`  // Platform identifier (e.g., "eval-1")

	// Federation support for multi-instance deployments
	InstanceID  string `json:"instance_id,omitempty"` // e.g., "west-1", "dev-local"
	Environment string `json:"environment,omitempty"` // "prod", "dev", "test"
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	TLS           NATSTLSConfig `json:"tls,omitempty"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// MetricsConfig defines the Prometheus scrape endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// URL joins the configured NATS URLs into a single connection string
func (n NATSConfig) URL() string {
	return strings.Join(n.URLs, ",")
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	// Validate and normalize org
	if c.Platform.Org == "" {
		return errors.New("platform.org is required")
	}

	// Normalize org to lowercase
	c.Platform.Org = strings.ToLower(c.Platform.Org)

	// Validate org is NATS-subject compatible
	if !isValidNATSSubjectPart(c.Platform.Org) {
		return fmt.Errorf(
			"platform.org '%s' is not valid for NATS subjects (must be alphanumeric with dots, dashes, underscores)",
			c.Platform.Org,
		)
	}

	if c.Platform.ID == "" {
		return errors.New("platform.id is required")
	}

	if err := c.validateNATS(); err != nil {
		return fmt.Errorf("nats configuration: %w", err)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
		}
	}

	// Validate Components
	for instanceName, config := range c.Components {
		if instanceName == "" {
			return errors.New("component instance name cannot be empty")
		}
		if err := config.Validate(); err != nil {
			return fmt.Errorf("component %s: %w", instanceName, err)
		}
	}

	return nil
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// validateNATS validates the NATS connection configuration
func (c *Config) validateNATS() error {
	if len(c.NATS.URLs) == 0 {
		return errors.New("at least one URL is required")
	}

	if c.NATS.TLS.Enabled {
		if c.NATS.TLS.CertFile == "" {
			return errors.New("tls.cert_file is required when TLS is enabled")
		}
		if c.NATS.TLS.KeyFile == "" {
			return errors.New("tls.key_file is required when TLS is enabled")
		}

		// Check if cert file exists
		if _, err := os.Stat(c.NATS.TLS.CertFile); err != nil {
			return fmt.Errorf("tls.cert_file: %w", err)
		}

		// Check if key file exists
		if _, err := os.Stat(c.NATS.TLS.KeyFile); err != nil {
			return fmt.Errorf("tls.key_file: %w", err)
		}
	}

	return nil
}

// GetOrg returns the organization from platform config
func (c *Config) GetOrg() string {
	return c.Platform.Org
}

// GetPlatform returns the platform identifier (prefer instance_id over id)
func (c *Config) GetPlatform() string {
	if c.Platform.InstanceID != "" {
		return c.Platform.InstanceID
	}
	return c.Platform.ID
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

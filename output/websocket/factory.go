package websocket

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmrinaldi/atlas/component"
	"github.com/jmrinaldi/atlas/errors"
)

// payloadID extracts the subscriber id from an evaluator output message.
func payloadID(data []byte) string {
	var probe struct {
		Payload struct {
			ID string `json:"id"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}
	return probe.Payload.ID
}

// CreateOutput creates a WebSocket output component from configuration.
func CreateOutput(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	cfg := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "WebSocketOutput", "CreateOutput", "config unmarshal")
		}
	}
	if cfg.Ports == nil {
		cfg = DefaultConfig()
	}

	var port int
	var path string
	if len(cfg.Ports.Outputs) > 0 && cfg.Ports.Outputs[0].Subject != "" {
		// The listen URL is encoded in the network port's Subject field.
		url := cfg.Ports.Outputs[0].Subject
		if _, err := fmt.Sscanf(url, "http://0.0.0.0:%d", &port); err != nil {
			return nil, errors.WrapInvalid(err, "WebSocketOutput", "CreateOutput", "parse listen URL")
		}
		if idx := strings.Index(url, fmt.Sprintf(":%d", port)); idx >= 0 {
			path = url[idx+len(fmt.Sprintf(":%d", port)):]
		}
	}
	if port == 0 {
		port = 8081
	}
	if path == "" {
		path = "/stream/"
	}

	var subjectPrefix string
	for _, input := range cfg.Ports.Inputs {
		if input.Type == "nats" && input.Subject != "" {
			subjectPrefix = strings.TrimSuffix(input.Subject, ".>")
			break
		}
	}
	if subjectPrefix == "" {
		subjectPrefix = "metrics.output"
	}

	if deps.NATSClient == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"WebSocketOutput", "CreateOutput", "NATS client required")
	}

	return NewOutput(port, path, subjectPrefix,
		deps.NATSClient, deps.MetricsRegistry, deps.GetLoggerWithComponent("websocket-output")), nil
}

// Register registers the WebSocket output component factory.
func Register(registry *component.Registry) error {
	return registry.Register(component.Registration{
		Name:        "websocket",
		Type:        "output",
		Description: "WebSocket stream server for per-subscriber evaluator output",
		Version:     "0.1.0",
		Schema:      websocketSchema,
		Factory:     CreateOutput,
	})
}

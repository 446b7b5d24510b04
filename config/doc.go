// Package config provides configuration management for the streaming
// evaluation service.
//
// This package handles loading and validation of application configuration
// from JSON files and environment variables.
//
// # Core Components
//
// Config: Main configuration structure containing platform identity, NATS
// connection details, the metrics endpoint, and component definitions.
//
// SafeConfig: Thread-safe wrapper using RWMutex and deep cloning to prevent
// concurrent access issues and accidental mutations.
//
// Loader: Loads configuration with layer merging (base + overrides) and
// environment variable substitution for flexible deployment scenarios.
//
// # Basic Usage
//
// Loading configuration from files with layer merging:
//
//	loader := config.NewLoader()
//	loader.AddLayer("config/base.json")
//	loader.AddLayer("config/production.json") // Overrides base
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Environment variables with the ATLAS_ prefix override file values, for
// example ATLAS_NATS_URLS or ATLAS_PLATFORM_ID.
package config

// Package main implements the entry point for the Atlas streaming
// evaluation service. Atlas evaluates subscriber time series expressions
// against windowed measurement data arriving over NATS and streams the
// results to subscribers over WebSocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmrinaldi/atlas/component"
	"github.com/jmrinaldi/atlas/componentregistry"
	"github.com/jmrinaldi/atlas/config"
	"github.com/jmrinaldi/atlas/metric"
	"github.com/jmrinaldi/atlas/natsclient"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "atlas"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	// Parse and validate CLI flags
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	// Load and validate configuration
	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	// The validated config lives behind the thread-safe wrapper; every
	// wiring step below reads its own deep-copy snapshot.
	safeCfg := config.NewSafeConfig(cfg)

	ctx := context.Background()

	// Setup core infrastructure
	metricsRegistry := metric.NewMetricsRegistry()
	natsClient, err := createNATSClient(safeCfg.Get(), metricsRegistry)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}

	if err := connectToNATS(ctx, natsClient); err != nil {
		return err
	}
	defer func() {
		_ = natsClient.Close(ctx)
	}()

	// Register component factories and create configured instances
	registry := component.NewRegistry()
	if err := componentregistry.Register(registry); err != nil {
		return fmt.Errorf("register components: %w", err)
	}
	slog.Info("Component factories registered", "factories", registry.ListFactories())

	deps := component.Dependencies{
		NATSClient:      natsClient,
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
	}

	components, err := createComponents(safeCfg.Get(), registry, deps)
	if err != nil {
		return err
	}
	if len(components) == 0 {
		return errors.New("no components enabled in configuration")
	}

	return runWithSignalHandling(ctx, safeCfg.Get(), metricsRegistry, components, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting Atlas (streaming time series evaluation)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// loadConfig loads configuration from the specified file path
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path == "" {
		return loader.Load()
	}
	return loader.LoadFile(path)
}

// createNATSClient builds a NATS client from connection settings
func createNATSClient(cfg *config.Config, registry *metric.MetricsRegistry) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithMetrics(registry),
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	if cfg.NATS.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile, cfg.NATS.TLS.CAFile))
	}

	return natsclient.NewClient(cfg.NATS.URL(), opts...)
}

// connectToNATS establishes NATS connection and waits for it to be ready
func connectToNATS(ctx context.Context, natsClient *natsclient.Client) error {
	slog.Info("Connecting to NATS", "url", natsClient.URL())
	if err := natsClient.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := natsClient.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}

	return nil
}

// managedComponent pairs a lifecycle component with its instance name for logging
type managedComponent struct {
	name string
	comp component.LifecycleComponent
}

// createComponents instantiates and initializes all enabled components
func createComponents(
	cfg *config.Config,
	registry *component.Registry,
	deps component.Dependencies,
) ([]managedComponent, error) {
	var components []managedComponent

	for instanceName, compCfg := range cfg.Components {
		if !compCfg.Enabled {
			slog.Info("Component disabled in config", "instance", instanceName)
			continue
		}

		comp, err := registry.Create(compCfg.Name, instanceName, compCfg.Config, deps)
		if err != nil {
			return nil, fmt.Errorf("create component %s: %w", instanceName, err)
		}

		lc, ok := component.AsLifecycleComponent(comp)
		if !ok {
			return nil, fmt.Errorf("component %s does not support lifecycle management", instanceName)
		}

		if err := lc.Initialize(); err != nil {
			return nil, fmt.Errorf("initialize component %s: %w", instanceName, err)
		}

		slog.Info("Created component", "instance", instanceName, "factory", compCfg.Name)
		components = append(components, managedComponent{name: instanceName, comp: lc})
	}

	return components, nil
}

// runWithSignalHandling starts everything and blocks until shutdown
func runWithSignalHandling(
	ctx context.Context,
	cfg *config.Config,
	metricsRegistry *metric.MetricsRegistry,
	components []managedComponent,
	shutdownTimeout time.Duration,
) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	g, gctx := errgroup.WithContext(signalCtx)

	// Metrics endpoint runs alongside the components
	if cfg.Metrics.Enabled {
		metricsServer := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry)
		g.Go(metricsServer.Start)
		g.Go(func() error {
			<-gctx.Done()
			return metricsServer.Stop()
		})
		slog.Info("Metrics endpoint enabled", "address", metricsServer.Address())
	}

	started := make([]managedComponent, 0, len(components))
	for _, mc := range components {
		if err := mc.comp.Start(gctx); err != nil {
			stopComponents(started, shutdownTimeout)
			return fmt.Errorf("start component %s: %w", mc.name, err)
		}
		slog.Info("Started component", "instance", mc.name)
		started = append(started, mc)
	}

	slog.Info("Atlas started successfully")

	<-gctx.Done()
	slog.Info("Received shutdown signal")

	stopComponents(started, shutdownTimeout)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("Atlas shutdown complete")
	return nil
}

// stopComponents stops components in reverse start order
func stopComponents(components []managedComponent, timeout time.Duration) {
	for i := len(components) - 1; i >= 0; i-- {
		mc := components[i]
		if err := mc.comp.Stop(timeout); err != nil {
			slog.Error("Error stopping component", "instance", mc.name, "error", err)
		} else {
			slog.Info("Stopped component", "instance", mc.name)
		}
	}
}

package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmrinaldi/atlas/component"
	"github.com/jmrinaldi/atlas/errors"
	"github.com/jmrinaldi/atlas/message"
	"github.com/jmrinaldi/atlas/natsclient"
	"github.com/jmrinaldi/atlas/subscription"
)

// Config holds configuration for the evaluator component.
type Config struct {
	Ports      *component.PortConfig `json:"ports"`
	Workers    int                   `json:"workers,omitempty"`
	QueueSize  int                   `json:"queue_size,omitempty"`
	BufferSize int                   `json:"buffer_size,omitempty"`
}

// DefaultConfig returns the default configuration for the evaluator.
func DefaultConfig() Config {
	inputDefs := []component.PortDefinition{
		{
			Name:        "nats_timegroups",
			Type:        "nats",
			Subject:     "metrics.timegroup",
			Interface:   "metrics.timegroup.v1",
			Required:    true,
			Description: "Windowed datapoint batches in timestamp order",
		},
		{
			Name:        "nats_subscriptions",
			Type:        "nats",
			Subject:     "metrics.subscriptions",
			Interface:   "metrics.subscriptions.v1",
			Required:    true,
			Description: "Full subscription snapshots",
		},
	}

	outputDefs := []component.PortDefinition{
		{
			Name:        "nats_output",
			Type:        "nats",
			Subject:     "metrics.output",
			Interface:   "metrics.timeseries.v1",
			Required:    true,
			Description: "Per-subscriber output stream prefix",
		},
	}

	return Config{
		Ports: &component.PortConfig{
			Inputs:  inputDefs,
			Outputs: outputDefs,
		},
	}
}

var evaluatorSchema = component.ConfigSchema{
	Properties: map[string]component.PropertySchema{
		"ports": {
			Type:        "object",
			Description: "Input subjects for time groups and subscription snapshots, output subject prefix",
		},
		"workers": {
			Type:        "int",
			Description: "Parallel subscriber evaluations per window",
			Default:     10,
		},
		"queue_size": {
			Type:        "int",
			Description: "Evaluation queue capacity",
			Default:     1000,
		},
		"buffer_size": {
			Type:        "int",
			Description: "Stage input channel capacity, 0 for a direct handoff",
			Default:     0,
		},
	},
	Required: []string{"ports"},
}

// Component is the NATS-facing evaluator: it feeds time groups and
// subscription snapshots into the stage and publishes each output envelope
// to the subscriber's own subject under the output prefix.
type Component struct {
	name         string
	timegroupSub string
	snapshotSub  string
	outputPrefix string

	natsClient *natsclient.Client
	logger     *slog.Logger
	registry   *subscription.Registry
	stage      *Stage

	shutdown    chan struct{}
	runCancel   context.CancelFunc
	running     bool
	stopped     bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex
	wg          sync.WaitGroup

	eventsReceived int64
	errorCount     int64
	lastActivity   time.Time
}

// NewComponent creates an evaluator component from configuration.
func NewComponent(
	rawConfig json.RawMessage, deps component.Dependencies,
) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, errors.WrapInvalid(err, "Evaluator", "NewComponent", "config unmarshal")
	}

	if config.Ports == nil {
		config = DefaultConfig()
	}

	var timegroupSub, snapshotSub string
	for _, input := range config.Ports.Inputs {
		if input.Type != "nats" {
			continue
		}
		switch {
		case input.Interface == "metrics.subscriptions.v1",
			strings.Contains(input.Name, "subscription"):
			snapshotSub = input.Subject
		default:
			timegroupSub = input.Subject
		}
	}
	if timegroupSub == "" || snapshotSub == "" {
		return nil, errors.WrapInvalid(
			errors.ErrInvalidConfig, "Evaluator", "NewComponent",
			"both time group and subscription input subjects required")
	}

	var outputPrefix string
	for _, output := range config.Ports.Outputs {
		if output.Type == "nats" && output.Subject != "" {
			outputPrefix = output.Subject
			break
		}
	}
	if outputPrefix == "" {
		return nil, errors.WrapInvalid(
			errors.ErrInvalidConfig, "Evaluator", "NewComponent",
			"output subject prefix required")
	}

	logger := deps.GetLoggerWithComponent("evaluator")

	c := &Component{
		name:         "evaluator",
		timegroupSub: timegroupSub,
		snapshotSub:  snapshotSub,
		outputPrefix: outputPrefix,
		natsClient:   deps.NATSClient,
		logger:       logger,
		registry:     subscription.NewRegistry(logger),
		shutdown:     make(chan struct{}),
	}
	c.stage = NewStage(
		StageConfig{
			Workers:    config.Workers,
			QueueSize:  config.QueueSize,
			BufferSize: config.BufferSize,
		},
		c.registry,
		c.publish,
		logger,
		deps.MetricsRegistry,
	)

	return c, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	return nil
}

// Start subscribes to the input subjects and launches the stage loop.
func (c *Component) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Evaluator", "Start", "check running state")
	}
	// The stage and its worker pool are single-use, so the component is too.
	if c.stopped {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Evaluator", "Start",
			"component cannot be restarted after stop")
	}
	if c.natsClient == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "Evaluator", "Start", "NATS client required")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.runCancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.stage.Run(runCtx); err != nil && runCtx.Err() == nil {
			atomic.AddInt64(&c.errorCount, 1)
			c.logger.Error("Stage terminated", "error", err)
		}
	}()

	if err := c.natsClient.Subscribe(ctx, c.timegroupSub, c.handleTimeGroup); err != nil {
		cancel()
		return errors.WrapTransient(err, "Evaluator", "Start",
			fmt.Sprintf("subscribe to %s", c.timegroupSub))
	}
	if err := c.natsClient.Subscribe(ctx, c.snapshotSub, c.handleSnapshot); err != nil {
		cancel()
		return errors.WrapTransient(err, "Evaluator", "Start",
			fmt.Sprintf("subscribe to %s", c.snapshotSub))
	}

	c.mu.Lock()
	c.running = true
	c.startTime = time.Now()
	c.mu.Unlock()

	c.logger.Info("Evaluator started",
		"timegroup_subject", c.timegroupSub,
		"subscription_subject", c.snapshotSub,
		"output_prefix", c.outputPrefix)
	return nil
}

// Stop halts the stage and waits for it to drain.
func (c *Component) Stop(timeout time.Duration) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if !c.running || c.stopped {
		return nil
	}
	c.stopped = true

	close(c.shutdown)
	if c.runCancel != nil {
		c.runCancel()
	}

	waitCh := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"Evaluator", "Stop", "graceful shutdown")
	}

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	return nil
}

// handleTimeGroup decodes one windowed batch and feeds it to the stage.
// The blocking send is the backpressure point toward NATS delivery.
func (c *Component) handleTimeGroup(ctx context.Context, data []byte) {
	payload, ok := c.decode(data)
	if !ok {
		return
	}
	window, ok := payload.(*message.TimeGroupPayload)
	if !ok {
		atomic.AddInt64(&c.errorCount, 1)
		c.logger.Debug("Unexpected payload on time group subject",
			"actual_type", fmt.Sprintf("%T", payload))
		return
	}

	select {
	case c.stage.Input() <- Event{Kind: EventTimeGroup, Window: window}:
	case <-c.shutdown:
	case <-ctx.Done():
	}
}

// handleSnapshot decodes one subscription snapshot and feeds it to the stage.
func (c *Component) handleSnapshot(ctx context.Context, data []byte) {
	payload, ok := c.decode(data)
	if !ok {
		return
	}
	snapshot, ok := payload.(*message.SubscriptionsPayload)
	if !ok {
		atomic.AddInt64(&c.errorCount, 1)
		c.logger.Debug("Unexpected payload on subscription subject",
			"actual_type", fmt.Sprintf("%T", payload))
		return
	}

	select {
	case c.stage.Input() <- Event{Kind: EventSubscriptions, Subscriptions: snapshot.Subscriptions}:
	case <-c.shutdown:
	case <-ctx.Done():
	}
}

func (c *Component) decode(data []byte) (message.Payload, bool) {
	atomic.AddInt64(&c.eventsReceived, 1)
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()

	var baseMsg message.BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		atomic.AddInt64(&c.errorCount, 1)
		c.logger.Debug("Failed to parse message", "error", err)
		return nil, false
	}
	payload := baseMsg.Payload()
	if err := payload.Validate(); err != nil {
		atomic.AddInt64(&c.errorCount, 1)
		c.logger.Debug("Message validation failed", "error", err)
		return nil, false
	}
	return payload, true
}

// publish sends one output envelope to the subscriber's subject.
func (c *Component) publish(ctx context.Context, env message.Envelope) error {
	msg := message.NewBaseMessage(env.Payload.Schema(), env.Payload, c.name)
	data, err := json.Marshal(msg)
	if err != nil {
		atomic.AddInt64(&c.errorCount, 1)
		return errors.WrapInvalid(err, "Evaluator", "publish", "marshal output")
	}

	subject := c.outputPrefix + "." + env.SubscriberID
	if err := c.natsClient.Publish(ctx, subject, data); err != nil {
		atomic.AddInt64(&c.errorCount, 1)
		return errors.WrapTransient(err, "Evaluator", "publish", subject)
	}
	return nil
}

// Meta returns metadata describing the evaluator component.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        c.name,
		Type:        "processor",
		Description: "Windowed subscription evaluator",
		Version:     "0.1.0",
	}
}

// InputPorts returns the NATS input ports the evaluator subscribes to.
func (c *Component) InputPorts() []component.Port {
	return []component.Port{
		{
			Name:      "nats_timegroups",
			Direction: component.DirectionInput,
			Required:  true,
			Config: component.NATSPort{
				Subject:   c.timegroupSub,
				Interface: &component.InterfaceContract{Type: "metrics.timegroup.v1", Version: "v1"},
			},
		},
		{
			Name:      "nats_subscriptions",
			Direction: component.DirectionInput,
			Required:  true,
			Config: component.NATSPort{
				Subject:   c.snapshotSub,
				Interface: &component.InterfaceContract{Type: "metrics.subscriptions.v1", Version: "v1"},
			},
		},
	}
}

// OutputPorts returns the NATS output prefix the evaluator publishes to.
func (c *Component) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:      "nats_output",
			Direction: component.DirectionOutput,
			Required:  true,
			Config: component.NATSPort{
				Subject:   c.outputPrefix + ".>",
				Interface: &component.InterfaceContract{Type: "metrics.timeseries.v1", Version: "v1"},
			},
		},
	}
}

// ConfigSchema returns the configuration schema for the evaluator.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return evaluatorSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    c.running,
		LastCheck:  time.Now(),
		ErrorCount: int(atomic.LoadInt64(&c.errorCount)),
		Uptime:     time.Since(c.startTime),
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	received := atomic.LoadInt64(&c.eventsReceived)
	errCount := atomic.LoadInt64(&c.errorCount)

	var errorRate float64
	if received > 0 {
		errorRate = float64(errCount) / float64(received)
	}

	return component.FlowMetrics{
		ErrorRate:    errorRate,
		LastActivity: c.lastActivity,
	}
}

// Register registers the evaluator component factory.
func Register(registry *component.Registry) error {
	return registry.Register(component.Registration{
		Name:        "evaluator",
		Type:        "processor",
		Description: "Evaluates subscriber queries against windowed datapoint batches",
		Version:     "0.1.0",
		Schema:      evaluatorSchema,
		Factory:     NewComponent,
	})
}

// Package websocket serves each subscriber's evaluated time series over a
// WebSocket endpoint.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmrinaldi/atlas/component"
	"github.com/jmrinaldi/atlas/errors"
	"github.com/jmrinaldi/atlas/metric"
	"github.com/jmrinaldi/atlas/natsclient"
)

// Config holds configuration for the WebSocket output component.
type Config struct {
	Ports *component.PortConfig `json:"ports"`
}

// DefaultConfig returns the default configuration: subscribe to every
// evaluator output subject and serve streams on port 8081.
func DefaultConfig() Config {
	inputDefs := []component.PortDefinition{
		{
			Name:        "nats_input",
			Type:        "nats",
			Subject:     "metrics.output.>",
			Interface:   "metrics.timeseries.v1",
			Required:    true,
			Description: "Evaluator output subjects, one per subscriber",
		},
	}

	// Network ports encode the listen URL in the Subject field.
	outputDefs := []component.PortDefinition{
		{
			Name:        "websocket_server",
			Type:        "network",
			Subject:     "http://0.0.0.0:8081/stream/",
			Required:    false,
			Description: "WebSocket stream endpoint, path suffix selects the subscriber",
		},
	}

	return Config{
		Ports: &component.PortConfig{
			Inputs:  inputDefs,
			Outputs: outputDefs,
		},
	}
}

var websocketSchema = component.ConfigSchema{
	Properties: map[string]component.PropertySchema{
		"ports": {
			Type:        "object",
			Description: "NATS input subject pattern and WebSocket listen URL",
		},
	},
	Required: []string{"ports"},
}

// Metrics holds Prometheus metrics for the stream server.
type Metrics struct {
	messagesReceived prometheus.Counter
	messagesSent     prometheus.Counter
	clientsConnected prometheus.Gauge
	errorsTotal      *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "atlas",
			Subsystem: "websocket",
			Name:      "messages_received_total",
			Help:      "Total messages received from the evaluator output subjects",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "atlas",
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Total messages sent to WebSocket clients",
		}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "atlas",
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlas",
			Subsystem: "websocket",
			Name:      "errors_total",
			Help:      "WebSocket server errors",
		}, []string{"error_type"}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.messagesReceived,
		m.messagesSent,
		m.clientsConnected,
		m.errorsTotal,
	)
	return m
}

// clientInfo tracks one connected stream client.
type clientInfo struct {
	conn        *websocket.Conn
	connectedAt time.Time
	writeMutex  sync.Mutex // gorilla/websocket panics on concurrent writes
	closed      atomic.Bool
	closeOnce   sync.Once
}

// Output is a WebSocket server that routes each subscriber's output stream
// to the clients watching that subscriber. Clients connect to
// <path><subscriber-id> and receive the raw evaluator messages published on
// <subject-prefix>.<subscriber-id>.
type Output struct {
	name          string
	port          int
	path          string
	subjectPrefix string
	natsClient    *natsclient.Client
	logger        *slog.Logger

	server    *http.Server
	upgrader  websocket.Upgrader
	clients   map[string]map[*websocket.Conn]*clientInfo
	clientsMu sync.RWMutex

	shutdown    chan struct{}
	running     bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex
	wg          sync.WaitGroup

	messagesSent int64
	bytesSent    int64
	errorCount   int64
	lastActivity time.Time

	metrics *Metrics
}

var _ component.LifecycleComponent = (*Output)(nil)

// NewOutput creates a WebSocket output component. The NATS client may be
// nil for tests that drive deliver directly.
func NewOutput(
	port int, path, subjectPrefix string,
	natsClient *natsclient.Client,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) *Output {
	if logger == nil {
		logger = slog.Default()
	}
	return &Output{
		name:          "websocket-output",
		port:          port,
		path:          path,
		subjectPrefix: subjectPrefix,
		natsClient:    natsClient,
		logger:        logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(_ *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:   make(map[string]map[*websocket.Conn]*clientInfo),
		startTime: time.Now(),
		metrics:   newMetrics(registry),
	}
}

// Initialize validates the configuration.
func (w *Output) Initialize() error {
	if w.port < 1024 || w.port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "WebSocketOutput", "Initialize",
			fmt.Sprintf("invalid port %d (out of range 1024-65535)", w.port))
	}
	if w.path == "" || !strings.HasSuffix(w.path, "/") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "WebSocketOutput", "Initialize",
			"stream path must end with /")
	}
	if w.subjectPrefix == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "WebSocketOutput", "Initialize",
			"subject prefix cannot be empty")
	}
	return nil
}

// Start begins the HTTP server and the NATS subscription.
func (w *Output) Start(ctx context.Context) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.shutdown = make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc(w.path, w.handleWebSocket)
	w.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", w.port),
		Handler: mux,
	}
	w.running = true
	w.startTime = time.Now()
	w.mu.Unlock()

	if w.natsClient != nil {
		subject := w.subjectPrefix + ".>"
		if err := w.natsClient.Subscribe(ctx, subject, w.handleNATSMessage); err != nil {
			return errors.WrapTransient(err, "WebSocketOutput", "Start",
				fmt.Sprintf("subscribe to %s", subject))
		}
	}

	w.wg.Add(2)
	go w.runServer()
	go w.maintainClients(ctx)

	w.logger.Info("WebSocket output started",
		"port", w.port,
		"path", w.path,
		"subject_prefix", w.subjectPrefix)
	return nil
}

// Stop shuts the server down and closes every client connection.
func (w *Output) Stop(timeout time.Duration) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.shutdown)
	server := w.server
	w.server = nil
	w.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			w.logger.Warn("HTTP server shutdown error", "error", err)
		}
	}

	waitCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"WebSocketOutput", "Stop", "graceful shutdown")
	}

	w.closeAllClients()
	return nil
}

func (w *Output) runServer() {
	defer w.wg.Done()

	w.mu.RLock()
	server := w.server
	w.mu.RUnlock()
	if server == nil {
		return
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		atomic.AddInt64(&w.errorCount, 1)
		w.logger.Error("HTTP server failed", "error", err)
	}
}

// handleWebSocket upgrades a connection and registers it for the subscriber
// named by the path suffix.
func (w *Output) handleWebSocket(wr http.ResponseWriter, r *http.Request) {
	subscriberID := strings.TrimPrefix(r.URL.Path, w.path)
	if subscriberID == "" || strings.Contains(subscriberID, "/") {
		http.Error(wr, "subscriber id required", http.StatusNotFound)
		return
	}

	conn, err := w.upgrader.Upgrade(wr, r, nil)
	if err != nil {
		atomic.AddInt64(&w.errorCount, 1)
		if w.metrics != nil {
			w.metrics.errorsTotal.WithLabelValues("connection_upgrade").Inc()
		}
		return
	}

	info := &clientInfo{conn: conn, connectedAt: time.Now()}

	w.clientsMu.Lock()
	if w.clients[subscriberID] == nil {
		w.clients[subscriberID] = make(map[*websocket.Conn]*clientInfo)
	}
	w.clients[subscriberID][conn] = info
	total := w.clientCountLocked()
	w.clientsMu.Unlock()

	if w.metrics != nil {
		w.metrics.clientsConnected.Set(float64(total))
	}
	w.logger.Debug("Client connected", "subscriber", subscriberID)

	w.wg.Add(1)
	go w.readClient(subscriberID, conn, info)
}

// readClient drains control frames until the client disconnects.
func (w *Output) readClient(subscriberID string, conn *websocket.Conn, info *clientInfo) {
	defer w.wg.Done()
	defer w.removeClient(subscriberID, conn, info)

	conn.SetPongHandler(func(string) error { return nil })
	for {
		select {
		case <-w.shutdown:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (w *Output) removeClient(subscriberID string, conn *websocket.Conn, info *clientInfo) {
	info.closeOnce.Do(func() {
		info.closed.Store(true)

		w.clientsMu.Lock()
		delete(w.clients[subscriberID], conn)
		if len(w.clients[subscriberID]) == 0 {
			delete(w.clients, subscriberID)
		}
		total := w.clientCountLocked()
		w.clientsMu.Unlock()

		if w.metrics != nil {
			w.metrics.clientsConnected.Set(float64(total))
		}
		_ = conn.Close()
	})
}

func (w *Output) clientCountLocked() int {
	total := 0
	for _, conns := range w.clients {
		total += len(conns)
	}
	return total
}

func (w *Output) closeAllClients() {
	w.clientsMu.Lock()
	for _, conns := range w.clients {
		for conn := range conns {
			_ = conn.Close()
		}
	}
	w.clients = make(map[string]map[*websocket.Conn]*clientInfo)
	w.clientsMu.Unlock()
}

// handleNATSMessage routes one evaluator output message to the clients
// watching its subscriber. Routing uses the subscriber id embedded in the
// payload, which matches the output subject suffix.
func (w *Output) handleNATSMessage(ctx context.Context, data []byte) {
	select {
	case <-ctx.Done():
		return
	case <-w.shutdown:
		return
	default:
	}

	if w.metrics != nil {
		w.metrics.messagesReceived.Inc()
	}
	w.mu.Lock()
	w.lastActivity = time.Now()
	w.mu.Unlock()

	id := payloadID(data)
	if id == "" {
		atomic.AddInt64(&w.errorCount, 1)
		if w.metrics != nil {
			w.metrics.errorsTotal.WithLabelValues("missing_id").Inc()
		}
		return
	}
	w.deliver(id, data)
}

// deliver fans one message out to every client watching a subscriber.
func (w *Output) deliver(subscriberID string, data []byte) {
	w.clientsMu.RLock()
	conns := make([]*clientInfo, 0, len(w.clients[subscriberID]))
	for _, info := range w.clients[subscriberID] {
		if !info.closed.Load() {
			conns = append(conns, info)
		}
	}
	w.clientsMu.RUnlock()

	for _, info := range conns {
		if err := w.writeClient(info, data); err != nil {
			atomic.AddInt64(&w.errorCount, 1)
			if w.metrics != nil {
				w.metrics.errorsTotal.WithLabelValues("client_send").Inc()
			}
			w.removeClient(subscriberID, info.conn, info)
			continue
		}
		atomic.AddInt64(&w.messagesSent, 1)
		atomic.AddInt64(&w.bytesSent, int64(len(data)))
		if w.metrics != nil {
			w.metrics.messagesSent.Inc()
		}
	}
}

func (w *Output) writeClient(info *clientInfo, data []byte) error {
	info.writeMutex.Lock()
	defer info.writeMutex.Unlock()

	_ = info.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return info.conn.WriteMessage(websocket.TextMessage, data)
}

// maintainClients pings clients periodically and drops the unresponsive.
func (w *Output) maintainClients(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case <-ticker.C:
			w.pingClients()
		}
	}
}

func (w *Output) pingClients() {
	w.clientsMu.RLock()
	type pinged struct {
		id   string
		info *clientInfo
	}
	targets := make([]pinged, 0)
	for id, conns := range w.clients {
		for _, info := range conns {
			if !info.closed.Load() {
				targets = append(targets, pinged{id: id, info: info})
			}
		}
	}
	w.clientsMu.RUnlock()

	for _, t := range targets {
		t.info.writeMutex.Lock()
		err := t.info.conn.WriteMessage(websocket.PingMessage, nil)
		t.info.writeMutex.Unlock()
		if err != nil {
			w.removeClient(t.id, t.info.conn, t.info)
		}
	}
}

// Meta returns the component metadata.
func (w *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        w.name,
		Type:        "output",
		Description: fmt.Sprintf("WebSocket stream server on :%d%s", w.port, w.path),
		Version:     "0.1.0",
	}
}

// InputPorts returns the NATS subjects this component listens on.
func (w *Output) InputPorts() []component.Port {
	return []component.Port{
		{
			Name:      "nats_input",
			Direction: component.DirectionInput,
			Required:  true,
			Config: component.NATSPort{
				Subject:   w.subjectPrefix + ".>",
				Interface: &component.InterfaceContract{Type: "metrics.timeseries.v1", Version: "v1"},
			},
		},
	}
}

// OutputPorts returns the WebSocket listen endpoint.
func (w *Output) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:      "websocket_endpoint",
			Direction: component.DirectionOutput,
			Required:  false,
			Config: component.NetworkPort{
				Protocol: "ws",
				Address:  fmt.Sprintf("0.0.0.0:%d", w.port),
				Path:     w.path,
			},
		},
	}
}

// ConfigSchema returns the configuration schema for this component.
func (w *Output) ConfigSchema() component.ConfigSchema {
	return websocketSchema
}

// Health returns the current health status.
func (w *Output) Health() component.HealthStatus {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(atomic.LoadInt64(&w.errorCount)),
		Uptime:     time.Since(w.startTime),
	}
}

// DataFlow returns current data flow metrics.
func (w *Output) DataFlow() component.FlowMetrics {
	messages := atomic.LoadInt64(&w.messagesSent)
	bytes := atomic.LoadInt64(&w.bytesSent)
	errCount := atomic.LoadInt64(&w.errorCount)

	var messagesPerSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(w.startTime).Seconds(); uptime > 0 {
		messagesPerSecond = float64(messages) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if messages > 0 {
		errorRate = float64(errCount) / float64(messages)
	}

	w.mu.RLock()
	lastActivity := w.lastActivity
	w.mu.RUnlock()

	return component.FlowMetrics{
		MessagesPerSecond: messagesPerSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

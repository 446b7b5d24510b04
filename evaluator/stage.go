package evaluator

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmrinaldi/atlas/errors"
	"github.com/jmrinaldi/atlas/expr"
	"github.com/jmrinaldi/atlas/message"
	"github.com/jmrinaldi/atlas/metric"
	"github.com/jmrinaldi/atlas/pkg/worker"
	"github.com/jmrinaldi/atlas/subscription"
)

// EventKind distinguishes the two inputs the stage serializes.
type EventKind int

// Event kinds carried on the stage input channel.
const (
	EventSubscriptions EventKind = iota
	EventTimeGroup
)

// Event is one unit of stage input: a full subscription snapshot or one
// time window of datapoints.
type Event struct {
	Kind          EventKind
	Subscriptions []message.Subscription
	Window        *message.TimeGroupPayload
}

// Sink receives output envelopes in emission order. A slow sink holds the
// stage on the current window, which is the backpressure mechanism toward
// the input channel.
type Sink func(ctx context.Context, env message.Envelope) error

// evalTask evaluates one subscriber against one window's aggregates and
// writes its payloads into a slot owned by that task alone.
type evalTask struct {
	sub *subscription.Subscriber
	agg *expr.Aggregates
	out *[]*message.TimeSeriesPayload
}

// StageConfig sizes the stage's internals.
type StageConfig struct {
	Workers    int // parallel subscriber evaluations per window
	QueueSize  int // worker queue capacity
	BufferSize int // input channel capacity, 0 for a direct handoff
}

// Stage is the evaluation state machine. Events are consumed strictly in
// arrival order from a single input channel: subscription snapshots reshape
// the registry and emit parse diagnostics immediately; each time window
// runs one aggregation pass over the need set, fans subscriber evaluation
// out across the worker pool, then emits every payload in subscriber
// registration order before reading the next event. Registry state is only
// touched on the event loop goroutine.
type Stage struct {
	registry *subscription.Registry
	pool     *worker.Pool[evalTask]
	sink     Sink
	logger   *slog.Logger
	metrics  *metric.Metrics
	input    chan Event
}

// NewStage creates a stage. The metrics registry may be nil. With the
// default BufferSize of 0 the input channel is unbuffered, so a new event
// is only accepted once every output for the previous window has been
// handed to the sink.
func NewStage(
	cfg StageConfig,
	registry *subscription.Registry,
	sink Sink,
	logger *slog.Logger,
	metricsRegistry *metric.MetricsRegistry,
) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 0 {
		cfg.BufferSize = 0
	}

	var metrics *metric.Metrics
	var poolOpts []worker.Option[evalTask]
	if metricsRegistry != nil {
		metrics = metricsRegistry.CoreMetrics()
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[evalTask](metricsRegistry, "evaluator_pool"))
	}

	s := &Stage{
		registry: registry,
		sink:     sink,
		logger:   logger,
		metrics:  metrics,
		input:    make(chan Event, cfg.BufferSize),
	}
	s.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, func(_ context.Context, t evalTask) error {
		*t.out = Emit(t.sub, t.agg)
		return nil
	}, poolOpts...)
	return s
}

// Input returns the channel events are submitted on. Closing it terminates
// Run after the in-flight event drains.
func (s *Stage) Input() chan<- Event {
	return s.input
}

// Run consumes events until the input channel closes or the context is
// canceled. It owns the worker pool lifecycle.
func (s *Stage) Run(ctx context.Context) error {
	if err := s.pool.Start(ctx); err != nil {
		return errors.WrapFatal(err, "Stage", "Run", "start worker pool")
	}
	defer func() {
		if err := s.pool.Stop(5 * time.Second); err != nil {
			s.logger.Warn("Worker pool did not stop cleanly", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.input:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case EventSubscriptions:
				s.handleSubscriptions(ctx, ev.Subscriptions)
			case EventTimeGroup:
				if err := s.handleWindow(ctx, ev.Window); err != nil {
					return err
				}
			}
		}
	}
}

// handleSubscriptions replaces the active set and emits one diagnostic per
// newly failed subscriber. Changes apply from the next window onward.
func (s *Stage) handleSubscriptions(ctx context.Context, snapshot []message.Subscription) {
	diagnostics := s.registry.Update(snapshot)
	for _, env := range diagnostics {
		if s.metrics != nil {
			s.metrics.RecordParseError()
		}
		if err := s.sink(ctx, env); err != nil {
			s.logger.Error("Failed to emit diagnostic",
				"subscriber", env.SubscriberID,
				"error", err)
			continue
		}
		if s.metrics != nil {
			s.metrics.RecordMessageEmitted("diagnostic")
		}
	}

	active, needSet := s.registry.Counts()
	if s.metrics != nil {
		s.metrics.RecordSubscriptions(active, needSet)
	}
	s.logger.Debug("Subscription snapshot applied",
		"active", active,
		"need_set", needSet,
		"diagnostics", len(diagnostics))
}

// handleWindow runs one full aggregate-evaluate-emit pass. Every payload
// for this window reaches the sink before handleWindow returns, in
// subscriber registration order.
func (s *Stage) handleWindow(ctx context.Context, window *message.TimeGroupPayload) error {
	start := time.Now()

	needSet := s.registry.NeedSet()
	agg := Aggregate(needSet, window)

	subscribers := s.registry.Active()
	results := make([][]*message.TimeSeriesPayload, len(subscribers))
	tasks := make([]evalTask, len(subscribers))
	for i, sub := range subscribers {
		tasks[i] = evalTask{sub: sub, agg: agg, out: &results[i]}
	}

	if err := s.pool.RunBatch(ctx, tasks); err != nil {
		return errors.WrapTransient(err, "Stage", "handleWindow", "subscriber evaluation")
	}

	for i, sub := range subscribers {
		for _, payload := range results[i] {
			env := message.Envelope{SubscriberID: sub.ID, Payload: payload}
			if err := s.sink(ctx, env); err != nil {
				s.logger.Error("Failed to emit time series",
					"subscriber", sub.ID,
					"timestamp", window.Timestamp,
					"error", err)
				continue
			}
			if s.metrics != nil {
				s.metrics.RecordMessageEmitted("timeseries")
			}
		}
	}

	if s.metrics != nil {
		s.metrics.RecordDatapoints(len(window.Datapoints))
		s.metrics.RecordWindowProcessed(time.Since(start))
	}
	s.logger.Debug("Window processed",
		"timestamp", window.Timestamp,
		"datapoints", len(window.Datapoints),
		"subscribers", len(subscribers),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

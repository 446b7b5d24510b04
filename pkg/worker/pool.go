package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmrinaldi/atlas/metric"
)

// Processor is the function invoked for each work item.
type Processor[T any] func(ctx context.Context, item T) error

// workItem wraps a queued item with an optional completion callback.
// Batch submissions use the callback to observe per-item completion.
type workItem[T any] struct {
	item T
	done func(error)
}

// poolMetrics holds the optional Prometheus instruments for a pool.
type poolMetrics struct {
	queueDepth     prometheus.Gauge
	utilization    prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Pool is a generic fixed-size worker pool with a bounded queue.
//
// Submit is non-blocking and returns ErrQueueFull under backpressure.
// RunBatch submits a set of items with blocking sends and waits for
// every item in the set to finish processing, which gives callers a
// completion barrier per batch.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor Processor[T]

	workChan chan workItem[T]

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	wg          sync.WaitGroup
	cancelFn    context.CancelFunc

	// Always-on statistics, updated atomically.
	statSubmitted atomic.Int64
	statProcessed atomic.Int64
	statFailed    atomic.Int64
	statDropped   atomic.Int64

	metrics     *poolMetrics
	registry    *metric.MetricsRegistry
	metricsName string
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetricsRegistry enables Prometheus metrics for the pool, registered
// under the given component name.
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, name string) Option[T] {
	return func(p *Pool[T]) {
		p.registry = registry
		p.metricsName = name
	}
}

// NewPool creates a worker pool. Zero or negative workers defaults to 10,
// zero or negative queueSize defaults to 1000. Panics if processor is nil.
func NewPool[T any](workers, queueSize int, processor Processor[T], opts ...Option[T]) *Pool[T] {
	if processor == nil {
		panic(ErrNilProcessor)
	}
	if workers <= 0 {
		workers = 10
	}
	if queueSize <= 0 {
		queueSize = 1000
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan workItem[T], queueSize),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.registry != nil {
		p.initializeMetrics()
	}

	return p
}

func (p *Pool[T]) initializeMetrics() {
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: p.metricsName + "_queue_depth",
			Help: "Current number of items waiting in the work queue",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: p.metricsName + "_utilization",
			Help: "Queue depth as a fraction of queue capacity",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: p.metricsName + "_submitted_total",
			Help: "Total work items submitted",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: p.metricsName + "_processed_total",
			Help: "Total work items processed successfully",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: p.metricsName + "_failed_total",
			Help: "Total work items whose processor returned an error",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: p.metricsName + "_dropped_total",
			Help: "Total work items dropped because the queue was full",
		}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    p.metricsName + "_processing_duration_seconds",
			Help:    "Work item processing duration by status",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}, []string{"status"}),
	}

	// Registration failures (duplicate names) leave that instrument nil-op;
	// statistics remain available either way.
	_ = p.registry.RegisterGauge(p.metricsName, "queue_depth", m.queueDepth)
	_ = p.registry.RegisterGauge(p.metricsName, "utilization", m.utilization)
	_ = p.registry.RegisterCounter(p.metricsName, "submitted_total", m.submitted)
	_ = p.registry.RegisterCounter(p.metricsName, "processed_total", m.processed)
	_ = p.registry.RegisterCounter(p.metricsName, "failed_total", m.failed)
	_ = p.registry.RegisterCounter(p.metricsName, "dropped_total", m.dropped)
	_ = p.registry.RegisterHistogramVec(p.metricsName, "processing_duration_seconds", m.processingTime)

	p.metrics = m
}

// Start launches the worker goroutines. It may be called once.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	workerCtx, cancel := context.WithCancel(ctx)
	p.cancelFn = cancel
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(workerCtx)
	}

	if p.metrics != nil {
		go p.metricsUpdater(workerCtx)
	}

	return nil
}

// Submit enqueues a single item without blocking. Returns ErrQueueFull
// when the queue is at capacity.
func (p *Pool[T]) Submit(item T) error {
	return p.submit(workItem[T]{item: item})
}

func (p *Pool[T]) submit(w workItem[T]) error {
	p.lifecycleMu.Lock()
	if !p.started {
		p.lifecycleMu.Unlock()
		return ErrPoolNotStarted
	}
	if p.stopped {
		p.lifecycleMu.Unlock()
		return ErrPoolStopped
	}
	p.lifecycleMu.Unlock()

	select {
	case p.workChan <- w:
		p.statSubmitted.Add(1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
		}
		return nil
	default:
		p.statDropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// RunBatch submits every item and waits until all of them have been
// processed. Sends block when the queue is full, so a batch larger than
// the queue still goes through. The first processor error is returned
// after the whole batch has drained. A canceled context aborts waiting
// for queue space and returns once already-queued items finish.
func (p *Pool[T]) RunBatch(ctx context.Context, items []T) error {
	p.lifecycleMu.Lock()
	if !p.started {
		p.lifecycleMu.Unlock()
		return ErrPoolNotStarted
	}
	if p.stopped {
		p.lifecycleMu.Unlock()
		return ErrPoolStopped
	}
	p.lifecycleMu.Unlock()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		batchErr error
	)
	done := func(err error) {
		if err != nil {
			errOnce.Do(func() { batchErr = err })
		}
		wg.Done()
	}

	var sendErr error
	for i := range items {
		w := workItem[T]{item: items[i], done: done}
		wg.Add(1)
		select {
		case p.workChan <- w:
			p.statSubmitted.Add(1)
			if p.metrics != nil {
				p.metrics.submitted.Inc()
			}
		case <-ctx.Done():
			wg.Done()
			sendErr = ctx.Err()
		}
		if sendErr != nil {
			break
		}
	}

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	if sendErr != nil {
		return sendErr
	}
	return batchErr
}

// Stop closes the queue, waits for workers to drain it, and returns
// ErrStopTimeout if they do not finish in time. Idempotent.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.workChan)
	p.lifecycleMu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		if p.cancelFn != nil {
			p.cancelFn()
		}
		return nil
	case <-time.After(timeout):
		if p.cancelFn != nil {
			p.cancelFn()
		}
		return ErrStopTimeout
	}
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Workers    int
	QueueSize  int
	QueueDepth int
	Submitted  int64
	Processed  int64
	Failed     int64
	Dropped    int64
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  p.statSubmitted.Load(),
		Processed:  p.statProcessed.Load(),
		Failed:     p.statFailed.Load(),
		Dropped:    p.statDropped.Load(),
	}
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-p.workChan:
			if !ok {
				return
			}
			start := time.Now()
			err := p.processor(ctx, w.item)
			duration := time.Since(start)

			status := "success"
			if err != nil {
				status = "error"
				p.statFailed.Add(1)
				if p.metrics != nil {
					p.metrics.failed.Inc()
				}
			} else {
				p.statProcessed.Add(1)
				if p.metrics != nil {
					p.metrics.processed.Inc()
				}
			}
			if p.metrics != nil {
				p.metrics.processingTime.WithLabelValues(status).Observe(duration.Seconds())
			}

			if w.done != nil {
				w.done(err)
			}
		}
	}
}

func (p *Pool[T]) metricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth := len(p.workChan)
			p.metrics.queueDepth.Set(float64(depth))
			p.metrics.utilization.Set(float64(depth) / float64(p.queueSize))
		}
	}
}

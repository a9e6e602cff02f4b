package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"transfer-ledger/pkg/logging"
	"transfer-ledger/pkg/metrics"

	"go.uber.org/zap"
)

// Dispatcher delivers events to a Sink through a bounded queue and a worker pool
// so a slow broker never holds up the transfer path.
type Dispatcher struct {
	sink       Sink
	queue      chan TransferCompleted
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	config     DispatcherConfig
	metrics    metrics.Collector
	logger     *logging.Logger
	closeOnce  sync.Once

	// mu is held for reading across an enqueue and for writing while closing,
	// so no event lands in the queue after the workers drained it.
	mu     sync.RWMutex
	closed bool

	// Statistics (accessed atomically)
	queued    int64
	dropped   int64
	delivered int64
	failed    int64

	metricsTicker *time.Ticker
	metricsStop   chan struct{}
}

// DispatcherConfig configures the dispatcher behavior.
type DispatcherConfig struct {
	// QueueSize is the bounded queue size (default: 1000)
	QueueSize int

	// Workers is the number of concurrent workers (default: 2)
	Workers int

	// MaxWaitTime is the max time Notify waits on a full queue (default: 10ms)
	MaxWaitTime time.Duration

	// SendTimeout bounds a single delivery (default: 5s)
	SendTimeout time.Duration

	// ReportInterval is how often the queue depth is reported (default: 5s)
	ReportInterval time.Duration
}

// DefaultDispatcherConfig returns the default dispatcher configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:      1000,
		Workers:        2,
		MaxWaitTime:    10 * time.Millisecond,
		SendTimeout:    5 * time.Second,
		ReportInterval: 5 * time.Second,
	}
}

// NewDispatcher starts a dispatcher for sink. It must be closed with Close().
func NewDispatcher(sink Sink, config DispatcherConfig, collector metrics.Collector, logger *logging.Logger) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.MaxWaitTime == 0 {
		config.MaxWaitTime = defaults.MaxWaitTime
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = defaults.SendTimeout
	}
	if config.ReportInterval <= 0 {
		config.ReportInterval = defaults.ReportInterval
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		sink:          sink,
		queue:         make(chan TransferCompleted, config.QueueSize),
		ctx:           ctx,
		cancelFunc:    cancel,
		config:        config,
		metrics:       collector,
		logger:        logger.Named("notify").With(zap.String("sink", sink.Name())),
		metricsTicker: time.NewTicker(config.ReportInterval),
		metricsStop:   make(chan struct{}),
	}

	for i := 0; i < config.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	go d.reportMetrics()

	return d
}

// Notify enqueues event. If the queue is full it waits up to MaxWaitTime and
// then drops the event with ErrQueueFull.
func (d *Dispatcher) Notify(ctx context.Context, event TransferCompleted) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// Fast path when there is room
	select {
	case d.queue <- event:
		atomic.AddInt64(&d.queued, 1)
		return nil
	default:
	}

	if d.config.MaxWaitTime < 0 {
		return d.drop(event)
	}

	timer := time.NewTimer(d.config.MaxWaitTime)
	defer timer.Stop()

	select {
	case d.queue <- event:
		atomic.AddInt64(&d.queued, 1)
		return nil
	case <-timer.C:
		return d.drop(event)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) drop(event TransferCompleted) error {
	atomic.AddInt64(&d.dropped, 1)
	d.metrics.RecordNotificationDropped(d.sink.Name())
	d.logger.Warn("notification dropped", logging.TransferID(event.TransferID))
	return ErrQueueFull
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.ctx.Done():
			// Drain what is left before exiting
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event TransferCompleted) {
	ctx, cancel := context.WithTimeout(context.Background(), d.config.SendTimeout)
	defer cancel()

	start := time.Now()
	err := d.sink.Send(ctx, event)
	d.metrics.RecordNotification(d.sink.Name(), err == nil, time.Since(start))

	if err != nil {
		atomic.AddInt64(&d.failed, 1)
		d.logger.Error("notification failed",
			logging.TransferID(event.TransferID),
			zap.Error(err),
		)
		return
	}
	atomic.AddInt64(&d.delivered, 1)
}

// Flush waits until the queue is empty or timeout elapses.
func (d *Dispatcher) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		if len(d.queue) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrFlushTimeout
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Close stops accepting events, delivers what is queued and closes the sink.
func (d *Dispatcher) Close() error {
	var err error
	d.closeOnce.Do(func() {
		// Waits for in-flight Notify calls, at most MaxWaitTime each
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		close(d.metricsStop)
		d.metricsTicker.Stop()

		d.cancelFunc()
		d.wg.Wait()

		err = d.sink.Close()
	})
	return err
}

func (d *Dispatcher) reportMetrics() {
	for {
		select {
		case <-d.metricsTicker.C:
			d.metrics.RecordQueueDepth(d.sink.Name(), len(d.queue))
		case <-d.metricsStop:
			return
		}
	}
}

// Stats returns current dispatcher statistics.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		QueueDepth: len(d.queue),
		Queued:     atomic.LoadInt64(&d.queued),
		Dropped:    atomic.LoadInt64(&d.dropped),
		Delivered:  atomic.LoadInt64(&d.delivered),
		Failed:     atomic.LoadInt64(&d.failed),
	}
}

// DispatcherStats provides statistics about dispatcher operations.
type DispatcherStats struct {
	// QueueDepth is the current number of pending events
	QueueDepth int

	// Queued is the total number of accepted events
	Queued int64

	// Dropped is the total number of events dropped due to backpressure
	Dropped int64

	// Delivered is the total number of events the sink accepted
	Delivered int64

	// Failed is the total number of events the sink rejected
	Failed int64
}

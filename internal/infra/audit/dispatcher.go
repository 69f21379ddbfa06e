// Package audit decouples audit delivery from the engine's decision path.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
	"github.com/nobodyz328/MyWeb-sub005/internal/core/port"
	"github.com/nobodyz328/MyWeb-sub005/internal/infra/telemetry"
)

const (
	kindSecurity = "security"
	kindLogin    = "login"
	kindLogout   = "logout"
)

const (
	defaultQueueSize   = 1024
	defaultWorkers     = 2
	defaultEmitTimeout = 5 * time.Second
)

// ErrClosed is returned by Close when the dispatcher was already closed.
var ErrClosed = errors.New("audit dispatcher closed")

// Options sizes the dispatcher.
type Options struct {
	QueueSize   int
	Workers     int
	EmitTimeout time.Duration
	Registerer  prometheus.Registerer
}

type job struct {
	ctx     context.Context
	kind    string
	deliver func(context.Context) error
}

// Dispatcher is an AuditSink that queues events for background delivery.
// Calls never block: when the queue is full the event is dropped and counted.
type Dispatcher struct {
	sink    port.AuditSink
	logger  *zap.Logger
	timeout time.Duration
	queue   chan job
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	dropped *prometheus.CounterVec
	failed  *prometheus.CounterVec
}

// NewDispatcher starts the worker pool in front of sink.
func NewDispatcher(sink port.AuditSink, logger *zap.Logger, opts Options) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.EmitTimeout <= 0 {
		opts.EmitTimeout = defaultEmitTimeout
	}

	dropped, err := telemetry.Register(opts.Registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blog",
		Subsystem: "audit",
		Name:      "events_dropped_total",
		Help:      "Audit events discarded because the dispatch queue was full or closed.",
	}, []string{"kind"}))
	if err != nil {
		return nil, err
	}
	failed, err := telemetry.Register(opts.Registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blog",
		Subsystem: "audit",
		Name:      "events_failed_total",
		Help:      "Audit events the backing sink rejected.",
	}, []string{"kind"}))
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		sink:    sink,
		logger:  logger,
		timeout: opts.EmitTimeout,
		queue:   make(chan job, opts.QueueSize),
		dropped: dropped,
		failed:  failed,
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d, nil
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for j := range d.queue {
		ctx, cancel := context.WithTimeout(j.ctx, d.timeout)
		if err := j.deliver(ctx); err != nil {
			d.failed.WithLabelValues(j.kind).Inc()
			d.logger.Warn("audit delivery failed", zap.String("kind", j.kind), zap.Error(err))
		}
		cancel()
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, kind string, deliver func(context.Context) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.WithLabelValues(kind).Inc()
		d.logger.Warn("audit event dropped after close", zap.String("kind", kind))
		return nil
	}

	// Request cancellation must not abort delivery; trace values are kept.
	j := job{ctx: context.WithoutCancel(ctx), kind: kind, deliver: deliver}
	select {
	case d.queue <- j:
	default:
		d.dropped.WithLabelValues(kind).Inc()
		d.logger.Warn("audit queue full, event dropped", zap.String("kind", kind))
	}
	return nil
}

func (d *Dispatcher) LogSecurityEvent(ctx context.Context, event domain.SecurityEvent) error {
	return d.enqueue(ctx, kindSecurity, func(ctx context.Context) error { return d.sink.LogSecurityEvent(ctx, event) })
}

func (d *Dispatcher) LogUserLogin(ctx context.Context, event domain.LoginEvent) error {
	return d.enqueue(ctx, kindLogin, func(ctx context.Context) error { return d.sink.LogUserLogin(ctx, event) })
}

func (d *Dispatcher) LogUserLogout(ctx context.Context, event domain.LogoutEvent) error {
	return d.enqueue(ctx, kindLogout, func(ctx context.Context) error { return d.sink.LogUserLogout(ctx, event) })
}

// Close stops accepting events and waits for queued ones to be delivered or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ port.AuditSink = (*Dispatcher)(nil)

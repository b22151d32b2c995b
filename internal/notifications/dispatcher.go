package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/smartpay-pos/smartpay-backend/pkg/enums"
	"github.com/smartpay-pos/smartpay-backend/pkg/logger"
	"github.com/smartpay-pos/smartpay-backend/pkg/metrics"
)

var (
	// ErrQueueFull is returned when no worker slot frees up within the handoff timeout.
	ErrQueueFull = errors.New("notification queue full")
	// ErrClosed is returned after Close has been called.
	ErrClosed = errors.New("notification dispatcher closed")
	// ErrNoRecipient is returned by a sender when the receipt lacks its address.
	ErrNoRecipient = errors.New("no recipient for channel")
)

// Sender delivers a receipt over one channel.
type Sender interface {
	Channel() enums.NotificationChannel
	Send(ctx context.Context, receipt Receipt) error
}

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	Workers        int
	QueueSize      int
	HandoffTimeout time.Duration
	SendTimeout    time.Duration
}

type job struct {
	ctx     context.Context
	receipt Receipt
}

// AsyncDispatcher hands receipts to a fixed worker pool through a bounded
// queue. Dispatch never waits longer than the handoff timeout and delivery
// errors never reach the caller.
type AsyncDispatcher struct {
	cfg     DispatcherConfig
	senders []Sender
	metrics *metrics.NotificationMetrics
	logger  *logger.Logger

	queue  chan job
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsyncDispatcher starts cfg.Workers workers immediately.
func NewAsyncDispatcher(cfg DispatcherConfig, senders []Sender, m *metrics.NotificationMetrics, logg *logger.Logger) (*AsyncDispatcher, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workers must be positive")
	}
	if cfg.QueueSize < 0 {
		return nil, fmt.Errorf("queue size must not be negative")
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if logg == nil {
		logg = logger.Nop()
	}
	d := &AsyncDispatcher{
		cfg:     cfg,
		senders: senders,
		metrics: m,
		logger:  logg,
		queue:   make(chan job, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d, nil
}

// Dispatch enqueues the receipt. The request context's values (request id,
// user id) travel with the job but its cancellation does not.
func (d *AsyncDispatcher) Dispatch(ctx context.Context, receipt Receipt) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.IncDropped("closed")
		return ErrClosed
	}

	j := job{ctx: context.WithoutCancel(ctx), receipt: receipt}
	select {
	case d.queue <- j:
		d.accepted()
		return nil
	default:
	}

	if d.cfg.HandoffTimeout <= 0 {
		d.metrics.IncDropped("queue_full")
		return ErrQueueFull
	}
	timer := time.NewTimer(d.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case d.queue <- j:
		d.accepted()
		return nil
	case <-timer.C:
		d.metrics.IncDropped("queue_full")
		return ErrQueueFull
	case <-ctx.Done():
		d.metrics.IncDropped("canceled")
		return ctx.Err()
	}
}

func (d *AsyncDispatcher) accepted() {
	d.metrics.IncEnqueued()
	d.metrics.SetQueueDepth(len(d.queue))
}

// Close stops intake and waits for queued receipts to drain or ctx to end.
func (d *AsyncDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
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
		return fmt.Errorf("draining notifications: %w", ctx.Err())
	}
}

func (d *AsyncDispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		d.metrics.SetQueueDepth(len(d.queue))
		d.deliver(j)
	}
}

func (d *AsyncDispatcher) deliver(j job) {
	ctx := d.logger.WithReference(j.ctx, j.receipt.Reference)
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error(ctx, "receipt delivery panicked", fmt.Errorf("panic: %v", r))
		}
	}()

	if len(d.senders) == 0 {
		d.logger.Debug(ctx, "no notification channels configured")
		return
	}

	var errs error
	for _, sender := range d.senders {
		channel := sender.Channel()
		err := d.sendOne(ctx, sender, j.receipt)
		if errors.Is(err, ErrNoRecipient) {
			continue
		}
		d.metrics.ObserveDelivery(string(channel), err == nil)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", channel, err))
		}
	}
	if errs != nil {
		d.logger.Error(ctx, "receipt delivery failed", errs)
		return
	}
	d.logger.Info(ctx, "receipt delivered")
}

func (d *AsyncDispatcher) sendOne(ctx context.Context, sender Sender, receipt Receipt) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()
	return sender.Send(ctx, receipt)
}

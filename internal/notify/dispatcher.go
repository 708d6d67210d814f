package notify

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

var (
	// ErrNoRecipient is returned when a notification has nobody to go to.
	ErrNoRecipient = errors.New("notification recipient is empty")
	// ErrQueueFull is returned when the dispatcher cannot accept more work.
	ErrQueueFull = errors.New("notification queue is full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("notification dispatcher is closed")
)

// DispatcherConfig sizes the background delivery pool.
type DispatcherConfig struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

func (c *DispatcherConfig) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
}

// Dispatcher is an asynchronous Notifier. Notify renders and enqueues the
// message; workers deliver it through the Sender and log failures.
type Dispatcher struct {
	sender  Sender
	lg      *zap.Logger
	timeout time.Duration
	queue   chan Message
	sent    metric.Int64Counter

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

var _ Notifier = (*Dispatcher)(nil)

// NewDispatcher starts cfg.Workers delivery goroutines. Call Close to drain
// the queue and stop them.
func NewDispatcher(sender Sender, lg *zap.Logger, meter metric.Meter, cfg DispatcherConfig) (*Dispatcher, error) {
	cfg.setDefaults()

	sent, err := meter.Int64Counter("notifications.sent",
		metric.WithDescription("Notifications handed to the sender, by event and outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create notifications counter")
	}

	d := &Dispatcher{
		sender:  sender,
		lg:      lg,
		timeout: cfg.SendTimeout,
		queue:   make(chan Message, cfg.QueueSize),
		sent:    sent,
	}
	for range cfg.Workers {
		d.wg.Add(1)
		go d.work()
	}
	return d, nil
}

// Notify implements Notifier. It never blocks on delivery.
func (d *Dispatcher) Notify(_ context.Context, event Event, recipient string, payload Payload) error {
	if recipient == "" {
		return ErrNoRecipient
	}
	msg := Render(event, recipient, payload)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Backlog is the number of queued, undelivered messages.
func (d *Dispatcher) Backlog() int { return len(d.queue) }

// Close stops accepting messages and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	outcome := "ok"
	if err := d.sender.Send(ctx, msg); err != nil {
		outcome = "error"
		d.lg.Warn("Notification delivery failed",
			zap.String("event", string(msg.Event)),
			zap.String("recipient", msg.Recipient),
			zap.Error(err),
		)
	}
	d.sent.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", string(msg.Event)),
		attribute.String("outcome", outcome),
	))
}

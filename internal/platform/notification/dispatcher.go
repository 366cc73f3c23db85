package notification

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrQueueFull        = errors.New("notification queue full")
	ErrDispatcherClosed = errors.New("notification dispatcher closed")
)

// Config sizes the dispatcher's worker queue.
type Config struct {
	Workers         int
	QueueSize       int
	MaxAttempts     int
	RetryBackoff    time.Duration
	SendTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:         4,
		QueueSize:       256,
		MaxAttempts:     2,
		RetryBackoff:    250 * time.Millisecond,
		SendTimeout:     5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue size must not be negative, got %d", c.QueueSize)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive, got %d", c.MaxAttempts)
	}
	return nil
}

// FailureObserver is told about every failed delivery, e.g. a metrics counter.
type FailureObserver interface {
	NotificationFailed(event string)
}

// Dispatcher fans events out to a fixed set of workers over a bounded queue.
// Notify never blocks and never reports delivery errors to the caller.
type Dispatcher struct {
	cfg      Config
	sender   Sender
	failures FailureLog
	observer FailureObserver
	logger   zerolog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

type Option func(*Dispatcher)

func WithObserver(o FailureObserver) Option {
	return func(d *Dispatcher) { d.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(cfg Config, sender Sender, failures FailureLog, logger zerolog.Logger, opts ...Option) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if failures == nil {
		failures = NewMemoryFailureLog()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:      cfg,
		sender:   sender,
		failures: failures,
		logger:   logger.With().Str("component", "notification").Logger(),
		now:      time.Now,
		queue:    make(chan Event, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, o := range opts {
		o(d)
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d, nil
}

// Failures returns the log failures are written to.
func (d *Dispatcher) Failures() FailureLog { return d.failures }

// Notify enqueues ev. When the queue is full or the dispatcher is closed the
// event is recorded as a failure instead.
func (d *Dispatcher) Notify(_ context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = d.now().UTC()
	}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		d.fail(ev, ErrDispatcherClosed, 0)
		return
	}
	select {
	case d.queue <- ev:
		d.mu.RUnlock()
	default:
		d.mu.RUnlock()
		d.fail(ev, ErrQueueFull, 0)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("claim_id", ev.ClaimID).
				Str("event", string(ev.Event)).
				Str("stack", string(debug.Stack())).
				Msgf("notification sender panicked: %v", r)
			d.fail(ev, fmt.Errorf("panic: %v", r), 1)
		}
	}()

	var err error
	attempt := 0
	for attempt < d.cfg.MaxAttempts {
		attempt++
		ctx, cancel := context.WithTimeout(d.ctx, d.sendTimeout())
		err = d.sender.Send(ctx, ev)
		cancel()
		if err == nil {
			return
		}
		if attempt < d.cfg.MaxAttempts && !d.sleep(d.cfg.RetryBackoff*time.Duration(attempt)) {
			break
		}
	}
	d.fail(ev, err, attempt)
}

func (d *Dispatcher) sendTimeout() time.Duration {
	if d.cfg.SendTimeout > 0 {
		return d.cfg.SendTimeout
	}
	return 5 * time.Second
}

// sleep waits for dur unless the dispatcher is torn down first.
func (d *Dispatcher) sleep(dur time.Duration) bool {
	if dur <= 0 {
		return true
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-d.ctx.Done():
		return false
	}
}

func (d *Dispatcher) fail(ev Event, err error, attempts int) {
	d.logger.Warn().
		Err(err).
		Str("claim_id", ev.ClaimID).
		Str("event", string(ev.Event)).
		Int("attempts", attempts).
		Msg("notification delivery failed")

	if d.observer != nil {
		d.observer.NotificationFailed(string(ev.Event))
	}

	// Workers may be draining after Close; the log write gets its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if rerr := d.failures.Record(ctx, newFailure(ev, err, attempts, d.now())); rerr != nil {
		d.logger.Error().Err(rerr).Str("claim_id", ev.ClaimID).Msg("record notification failure")
	}
}

// Close stops accepting events and drains the queue. Events still queued when
// ShutdownTimeout elapses are abandoned.
func (d *Dispatcher) Close() error {
	var err error
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		timeout := d.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		select {
		case <-done:
		case <-time.After(timeout):
			d.cancel()
			<-done
			err = fmt.Errorf("notification dispatcher: shutdown timed out after %s", timeout)
		}
		d.cancel()
	})
	return err
}

package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"booking-service/internal/util"

	"go.uber.org/zap"
)

// ErrPoolClosed is returned by Enqueue after Stop.
var ErrPoolClosed = errors.New("notification pool closed")

// PoolConfig sizes the delivery pool.
type PoolConfig struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	Backoff     time.Duration
	SendTimeout time.Duration
}

// Pool is a bounded in-process delivery queue drained by a fixed number of
// workers. Sends are retried with exponential backoff.
type Pool struct {
	renderer *Renderer
	sender   Sender
	cfg      PoolConfig
	logger   *zap.Logger

	queue  chan Notification
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a pool. Call Start before dispatching.
func NewPool(renderer *Renderer, sender Sender, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &Pool{
		renderer: renderer,
		sender:   sender,
		cfg:      cfg,
		logger:   util.GetLogger(),
		queue:    make(chan Notification, cfg.QueueSize),
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

// Dispatch queues n without blocking. A full queue drops the notification.
func (p *Pool) Dispatch(_ context.Context, n Notification) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.drop(n, "closed")
		return
	}
	select {
	case p.queue <- n:
		util.NotificationsTotal.WithLabelValues(string(n.Kind), "queued").Inc()
	default:
		p.drop(n, "queue_full")
	}
}

// Enqueue queues n, waiting for room until ctx is done.
func (p *Pool) Enqueue(ctx context.Context, n Notification) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- n:
		util.NotificationsTotal.WithLabelValues(string(n.Kind), "queued").Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the queue and waits for queued notifications to drain or ctx
// to expire.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) run() {
	defer p.wg.Done()
	for n := range p.queue {
		p.deliver(n)
	}
}

func (p *Pool) deliver(n Notification) {
	msg, err := p.renderer.Render(n)
	if err != nil {
		p.logger.Error("Failed to render notification",
			zap.String("kind", string(n.Kind)),
			zap.String("reference", n.BookingReference),
			zap.Error(err))
		util.NotificationsTotal.WithLabelValues(string(n.Kind), "failed").Inc()
		return
	}

	backoff := p.cfg.Backoff
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SendTimeout)
		err = p.sender.Send(ctx, msg)
		cancel()
		if err == nil {
			util.NotificationsTotal.WithLabelValues(string(n.Kind), "sent").Inc()
			return
		}

		if attempt >= p.cfg.MaxAttempts {
			break
		}
		p.logger.Warn("Notification send failed, retrying",
			zap.String("kind", string(n.Kind)),
			zap.String("reference", n.BookingReference),
			zap.Int("attempt", attempt),
			zap.Error(err))
		time.Sleep(backoff)
		backoff *= 2
	}

	p.logger.Error("Notification send failed",
		zap.String("kind", string(n.Kind)),
		zap.String("reference", n.BookingReference),
		zap.Int("attempts", p.cfg.MaxAttempts),
		zap.Error(err))
	util.NotificationsTotal.WithLabelValues(string(n.Kind), "failed").Inc()
}

func (p *Pool) drop(n Notification, reason string) {
	p.logger.Warn("Notification dropped",
		zap.String("kind", string(n.Kind)),
		zap.String("reference", n.BookingReference),
		zap.String("reason", reason))
	util.NotificationsTotal.WithLabelValues(string(n.Kind), "dropped").Inc()
}

// Publisher writes a keyed message to a topic.
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// QueueDispatcher hands notifications to a message topic for a separate
// consumer to deliver. When publishing fails the fallback is used.
type QueueDispatcher struct {
	publisher Publisher
	fallback  Dispatcher
	logger    *zap.Logger
}

func NewQueueDispatcher(publisher Publisher, fallback Dispatcher) *QueueDispatcher {
	return &QueueDispatcher{
		publisher: publisher,
		fallback:  fallback,
		logger:    util.GetLogger(),
	}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, n Notification) {
	if err := d.publisher.PublishEvent(ctx, "booking-"+n.BookingReference, n); err != nil {
		d.logger.Warn("Failed to publish notification, delivering in process",
			zap.String("kind", string(n.Kind)),
			zap.String("reference", n.BookingReference),
			zap.Error(err))
		if d.fallback != nil {
			d.fallback.Dispatch(ctx, n)
		}
		return
	}
	util.NotificationsTotal.WithLabelValues(string(n.Kind), "published").Inc()
}

package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/punchamoorthee/webledger/internal/domain"
)

var (
	notifySent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webledger_notifications_sent_total",
		Help: "Notifications delivered",
	})
	notifyFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webledger_notifications_failed_total",
		Help: "Notifications the sender rejected",
	})
	notifyDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webledger_notifications_dropped_total",
		Help: "Notifications dropped because the queue was full or closed",
	})
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("notifier closed")

type Options struct {
	QueueSize     int
	RatePerSecond float64
	SendTimeout   time.Duration
	// Location renders record timestamps; UTC when nil.
	Location *time.Location
}

// Notifier queues messages and delivers them from a single worker at a
// throttled pace. It never blocks the caller; a full queue drops the message.
type Notifier struct {
	sender  Sender
	limiter *rate.Limiter
	queue   chan string
	timeout time.Duration
	loc     *time.Location
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	cancel context.CancelFunc
}

func New(sender Sender, opts Options, logger zerolog.Logger) *Notifier {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 15 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		sender:  sender,
		limiter: rate.NewLimiter(limit, 1),
		queue:   make(chan string, opts.QueueSize),
		timeout: opts.SendTimeout,
		loc:     opts.Location,
		logger:  logger.With().Str("component", "notifier").Logger(),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go n.run(ctx)
	return n
}

func (n *Notifier) run(ctx context.Context) {
	defer close(n.done)
	for text := range n.queue {
		if err := n.limiter.Wait(ctx); err != nil {
			notifyDropped.Inc()
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, n.timeout)
		err := n.sender.Send(sendCtx, text)
		cancel()
		if err != nil {
			notifyFailed.Inc()
			n.logger.Warn().Err(err).Msg("Notification failed")
			continue
		}
		notifySent.Inc()
	}
}

// Enqueue schedules text for delivery.
func (n *Notifier) Enqueue(text string) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		notifyDropped.Inc()
		return ErrClosed
	}
	select {
	case n.queue <- text:
		return nil
	default:
		notifyDropped.Inc()
		n.logger.Warn().Msg("Notification queue full, message dropped")
		return nil
	}
}

// RecordCreated implements service.Notifier.
func (n *Notifier) RecordCreated(rec domain.Record) {
	_ = n.Enqueue(RecordCreatedMessage(rec, n.loc))
}

// Close stops accepting messages and waits for the queue to drain until ctx
// expires; anything left is abandoned.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		n.cancel()
		<-n.done
		return ctx.Err()
	}
}

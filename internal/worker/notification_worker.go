package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/civictrack/internal/metrics"
	"github.com/example/civictrack/internal/notification"
)

// Deliverer sends one notice synchronously.
type Deliverer interface {
	Deliver(ctx context.Context, n notification.Notice) error
}

// NotificationWorker drains a bounded in-process queue of notices and hands
// them to a Deliverer. Notify never blocks: when the queue is full the notice
// is dropped. Each notice is attempted at most once.
type NotificationWorker struct {
	id          string
	queue       chan notification.Notice
	deliverer   Deliverer
	workers     int
	sendTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewNotificationWorker creates the worker with a random identifier.
func NewNotificationWorker(d Deliverer, queueSize, workers int, sendTimeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *NotificationWorker {
	if queueSize < 1 {
		queueSize = 1
	}
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	return &NotificationWorker{
		id:          id,
		queue:       make(chan notification.Notice, queueSize),
		deliverer:   d,
		workers:     workers,
		sendTimeout: sendTimeout,
		metrics:     m,
		logger:      logger.With("component", "notification_worker", "worker_id", id),
	}
}

// Notify enqueues n without waiting for delivery.
func (w *NotificationWorker) Notify(_ context.Context, n notification.Notice) {
	select {
	case w.queue <- n:
	default:
		w.metrics.IncNotification("dropped")
		w.logger.Warn("notification queue full, dropping notice", "reference", n.Reference, "status", n.Status)
	}
}

// Run starts the delivery goroutines and blocks until ctx is cancelled and
// all in-flight deliveries have returned. Notices still queued at shutdown
// are discarded.
func (w *NotificationWorker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
	if n := len(w.queue); n > 0 {
		w.logger.Warn("discarding queued notices on shutdown", "count", n)
	}
	w.logger.Info("notification worker shutting down")
}

func (w *NotificationWorker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-w.queue:
			w.deliver(ctx, n)
		}
	}
}

func (w *NotificationWorker) deliver(ctx context.Context, n notification.Notice) {
	sendCtx := ctx
	if w.sendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, w.sendTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			w.metrics.IncNotification("failed")
			w.logger.Error("notification delivery panicked", "reference", n.Reference, "panic", r)
		}
	}()
	if err := w.deliverer.Deliver(sendCtx, n); err != nil {
		w.metrics.IncNotification("failed")
		w.logger.Error("notification delivery failed", "reference", n.Reference, "status", n.Status, "error", err)
		return
	}
	w.metrics.IncNotification("sent")
	w.logger.Info("notification sent", "reference", n.Reference, "status", n.Status)
}

package mq

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/example/civictrack/internal/metrics"
	"github.com/example/civictrack/internal/notification"
)

// NoticeRoutingPrefix prefixes the routing key of every published notice;
// the suffix is the application status.
const NoticeRoutingPrefix = "notification."

// NoticeBindingKey matches every notice routing key.
const NoticeBindingKey = NoticeRoutingPrefix + "*"

// NoticePublisher hands notices to the broker for cmd/notifier to deliver.
// Publishing happens off the request goroutine and failures are only logged.
type NoticePublisher struct {
	publisher Publisher
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewNoticePublisher(p Publisher, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *NoticePublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoticePublisher{publisher: p, timeout: timeout, metrics: m, logger: logger.With("component", "notice_publisher")}
}

// Notify publishes n asynchronously.
func (p *NoticePublisher) Notify(ctx context.Context, n notification.Notice) {
	// the request context ends with the response; keep its values only
	base := context.WithoutCancel(ctx)
	go p.publish(base, n)
}

func (p *NoticePublisher) publish(ctx context.Context, n notification.Notice) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.publisher.Publish(ctx, NoticeRoutingPrefix+string(n.Status), n); err != nil {
		p.metrics.IncNotification("dropped")
		p.logger.Error("publish notice failed", "reference", n.Reference, "status", n.Status, "error", err)
		return
	}
	p.metrics.IncNotification("published")
}

// NoticeHandler returns a delivery handler that decodes notices and passes
// them to deliver. Messages are acknowledged before delivery, so a notice is
// attempted at most once even if the process dies mid-send.
func NoticeHandler(ctx context.Context, deliver func(context.Context, notification.Notice) error, logger *slog.Logger) func(amqp091.Delivery) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(msg amqp091.Delivery) {
		var n notification.Notice
		if err := json.Unmarshal(msg.Body, &n); err != nil {
			logger.Error("discarding malformed notice", "routing_key", msg.RoutingKey, "error", err)
			if err := msg.Nack(false, false); err != nil {
				logger.Warn("nack failed", "error", err)
			}
			return
		}
		if err := msg.Ack(false); err != nil {
			logger.Warn("ack failed", "reference", n.Reference, "error", err)
			return
		}
		if err := deliver(ctx, n); err != nil {
			logger.Error("notice delivery failed", "reference", n.Reference, "status", n.Status, "error", err)
		}
	}
}

package mq

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"
)

// AppID marks messages published by this service.
const AppID = "civictrack"

// Publisher defines a minimal interface for publishing events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Consumer defines a minimal interface for subscribing to queue messages.
type Consumer interface {
	Consume(handler func(amqp091.Delivery)) error
	Close() error
}

// session is one connection with one channel on which the topic exchange
// has been declared.
type session struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	closed  chan *amqp091.Error
}

func dial(url, exchange string) (*session, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %s", exchange)
	}
	return &session{conn: conn, channel: ch, closed: conn.NotifyClose(make(chan *amqp091.Error, 1))}, nil
}

func (s *session) close() error {
	if err := s.channel.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
		slog.Warn("close channel", "error", err)
	}
	return s.conn.Close()
}

// newPublishing wraps a JSON body with the metadata every message carries.
func newPublishing(routingKey string, body []byte, now time.Time) amqp091.Publishing {
	return amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    now.UTC(),
		Type:         routingKey,
		AppId:        AppID,
		Body:         body,
	}
}

// RabbitPublisher publishes JSON events to a RabbitMQ exchange and waits for
// the broker to confirm each message.
type RabbitPublisher struct {
	mu       sync.Mutex
	session  *session
	exchange string
}

// NewRabbitPublisher creates a publisher connecting to RabbitMQ.
func NewRabbitPublisher(url, exchange string) (*RabbitPublisher, error) {
	s, err := dial(url, exchange)
	if err != nil {
		return nil, err
	}
	if err := s.channel.Confirm(false); err != nil {
		s.close()
		return nil, errors.Wrap(err, "enable publisher confirms")
	}
	return &RabbitPublisher{session: s, exchange: exchange}, nil
}

// Publish serializes the payload to JSON and sends it to the exchange. It
// returns once the broker has confirmed the message or ctx ends.
func (p *RabbitPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	if p == nil {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.WithStack(err)
	}
	p.mu.Lock()
	confirm, err := p.session.channel.PublishWithDeferredConfirmWithContext(ctx, p.exchange, routingKey, false, false, newPublishing(routingKey, body, time.Now()))
	p.mu.Unlock()
	if err != nil {
		return errors.Wrapf(err, "publish %s", routingKey)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "await confirm for %s", routingKey)
	}
	if !acked {
		return errors.Errorf("broker rejected %s", routingKey)
	}
	return nil
}

// Close terminates the connection.
func (p *RabbitPublisher) Close() error {
	if p == nil {
		return nil
	}
	return p.session.close()
}

// RabbitConsumer consumes messages from a durable queue bound to the exchange.
type RabbitConsumer struct {
	session *session
	queue   string
}

// NewRabbitConsumer sets up the queue bound to bindingKey and returns a
// consumer that holds at most prefetch unacknowledged messages.
func NewRabbitConsumer(url, exchange, queue, bindingKey string, prefetch int) (*RabbitConsumer, error) {
	s, err := dial(url, exchange)
	if err != nil {
		return nil, err
	}
	q, err := s.channel.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		s.close()
		return nil, errors.Wrapf(err, "declare queue %s", queue)
	}
	if err := s.channel.QueueBind(q.Name, bindingKey, exchange, false, nil); err != nil {
		s.close()
		return nil, errors.Wrapf(err, "bind queue %s", queue)
	}
	if prefetch > 0 {
		if err := s.channel.Qos(prefetch, 0, false); err != nil {
			s.close()
			return nil, errors.Wrap(err, "set prefetch")
		}
	}
	return &RabbitConsumer{session: s, queue: q.Name}, nil
}

// Consume begins delivering messages to handler.
func (c *RabbitConsumer) Consume(handler func(amqp091.Delivery)) error {
	deliveries, err := c.session.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	go func() {
		for msg := range deliveries {
			handler(msg)
		}
	}()
	return nil
}

// Closed is signalled when the broker connection goes away. The error is nil
// after a regular Close.
func (c *RabbitConsumer) Closed() <-chan *amqp091.Error {
	return c.session.closed
}

// Close closes the consumer resources.
func (c *RabbitConsumer) Close() error {
	if c == nil {
		return nil
	}
	return c.session.close()
}

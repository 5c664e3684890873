package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jk-nd/noumena-mcp-gateway/pkg/protocol"
)

var errClosed = errors.New("publisher is closed")

// Publisher owns one broker connection and one channel, publishing
// execution notifications to a durable queue on the default exchange.
// Publish is best-effort; durability is the broker's job once a message
// is accepted.
type Publisher struct {
	url               string
	queue             string
	reconnectInterval time.Duration

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
	done    chan struct{}
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithReconnectInterval overrides the reconnect delay.
func WithReconnectInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.reconnectInterval = d
		}
	}
}

// NewPublisher creates a publisher for the given amqp URL and queue
// name. Connect must be called before publishing.
func NewPublisher(url, queue string, opts ...Option) *Publisher {
	p := &Publisher{
		url:               url,
		queue:             queue,
		reconnectInterval: 5 * time.Second,
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Connect dials the broker, declares the durable queue, and starts the
// reconnect watcher. A failed initial dial is returned to the caller;
// later drops are retried in the background.
func (p *Publisher) Connect() error {
	if err := p.connect(); err != nil {
		return err
	}
	go p.watchConnection()
	return nil
}

func (p *Publisher) connect() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errClosed
	}
	p.mu.Unlock()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}

	// Durable, non-exclusive, survives broker restart.
	if _, err := channel.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return err
	}

	p.mu.Lock()
	if p.closed {
		// Close ran while the dial was in flight; do not resurrect the
		// connection.
		p.mu.Unlock()
		channel.Close()
		conn.Close()
		return errClosed
	}
	p.conn = conn
	p.channel = channel
	p.mu.Unlock()

	slog.Info("Connected to message broker", "queue", p.queue)
	return nil
}

func (p *Publisher) watchConnection() {
	for {
		p.mu.Lock()
		conn := p.conn
		p.mu.Unlock()
		if conn == nil {
			return
		}

		closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-p.done:
			return
		case err, ok := <-closeCh:
			if !ok || err == nil {
				// Clean shutdown.
				return
			}
			slog.Warn("Broker connection lost, reconnecting", "error", err)
		}

		for {
			select {
			case <-p.done:
				return
			case <-time.After(p.reconnectInterval):
			}

			if err := p.connect(); err != nil {
				if errors.Is(err, errClosed) {
					return
				}
				slog.Warn("Broker reconnect failed", "error", err)
				continue
			}
			break
		}
	}
}

// Publish serializes the notification and submits it to the queue with
// persistent delivery. Returns false instead of an error when the
// channel is unavailable or the publish fails; the caller translates
// that into an executor-unavailable result.
func (p *Publisher) Publish(ctx context.Context, notification *protocol.ExecutionNotification) bool {
	p.mu.Lock()
	channel := p.channel
	closed := p.closed
	p.mu.Unlock()

	if closed || channel == nil || channel.IsClosed() {
		slog.Error("Cannot publish, broker channel unavailable", "queue", p.queue)
		return false
	}

	body, err := json.Marshal(notification)
	if err != nil {
		slog.Error("Failed to serialize execution notification", "error", err)
		return false
	}

	err = channel.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		slog.Error("Failed to publish execution notification",
			"queue", p.queue, "request_id", notification.RequestID, "error", err)
		return false
	}

	slog.Debug("Published execution notification",
		"queue", p.queue, "request_id", notification.RequestID)
	return true
}

// Close shuts down channel then connection. Safe to call twice.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.done)

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			slog.Debug("Channel close", "error", err)
		}
		p.channel = nil
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			slog.Debug("Connection close", "error", err)
		}
		p.conn = nil
	}
}

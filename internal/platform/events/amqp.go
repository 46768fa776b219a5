package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Dialer opens a channel to the broker.
type Dialer func() (Channel, error)

// DialURL returns a Dialer that opens a fresh connection per channel.
func DialURL(url string) Dialer {
	return func() (Channel, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, fmt.Errorf("dial amqp: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("open amqp channel: %w", err)
		}
		return &connChannel{Channel: ch, conn: conn}, nil
	}
}

// connChannel closes its connection along with the channel.
type connChannel struct {
	*amqp.Channel
	conn *amqp.Connection
}

func (c *connChannel) Close() error {
	err := c.Channel.Close()
	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// AMQPConfig configures the AMQP publisher.
type AMQPConfig struct {
	Exchange    string
	QueueSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func DefaultAMQPConfig(exchange string) AMQPConfig {
	return AMQPConfig{
		Exchange:    exchange,
		QueueSize:   1024,
		MaxAttempts: 5,
		BaseBackoff: 200 * time.Millisecond,
		MaxBackoff:  10 * time.Second,
	}
}

// AMQPPublisher queues events in memory and delivers them to a topic
// exchange from a single background worker, routing by event type.
// Failed deliveries are retried with exponential backoff, reopening the
// channel each time; an event is dropped after MaxAttempts.
type AMQPPublisher struct {
	cfg   AMQPConfig
	dial  Dialer
	log   zerolog.Logger
	queue chan Event

	mu     sync.Mutex
	closed bool
	ch     Channel
	done   chan struct{}
}

// NewAMQPPublisher starts a publisher that delivers events in the background.
func NewAMQPPublisher(dial Dialer, cfg AMQPConfig, log zerolog.Logger) *AMQPPublisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	p := &AMQPPublisher{
		cfg:   cfg,
		dial:  dial,
		log:   log,
		queue: make(chan Event, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish enqueues evt. When the queue is full or the publisher is closed
// the event is dropped and logged.
func (p *AMQPPublisher) Publish(_ context.Context, evt Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.log.Error().Str("event_type", evt.Type).Str("event_id", evt.ID).Msg("event publisher closed, dropping event")
		return
	}
	select {
	case p.queue <- evt:
	default:
		p.log.Error().Str("event_type", evt.Type).Str("event_id", evt.ID).Msg("event queue full, dropping event")
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to
// end, whichever comes first.
func (p *AMQPPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *AMQPPublisher) run() {
	defer close(p.done)
	defer p.resetChannel()
	for evt := range p.queue {
		p.deliver(evt)
	}
}

func (p *AMQPPublisher) deliver(evt Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		p.log.Error().Err(err).Str("event_type", evt.Type).Msg("encode event")
		return
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.ID,
		Type:         evt.Type,
		Timestamp:    evt.OccurredAt,
		Body:         body,
	}

	backoff := p.cfg.BaseBackoff
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		err = p.publishOnce(evt.Type, msg)
		if err == nil {
			return
		}
		p.resetChannel()
		if attempt == p.cfg.MaxAttempts {
			break
		}
		p.log.Warn().Err(err).
			Str("event_type", evt.Type).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("event publish failed, retrying")
		time.Sleep(backoff)
		backoff *= 2
		if p.cfg.MaxBackoff > 0 && backoff > p.cfg.MaxBackoff {
			backoff = p.cfg.MaxBackoff
		}
	}
	p.log.Error().Err(err).
		Str("event_type", evt.Type).
		Str("event_id", evt.ID).
		Msg("event publish failed, giving up")
}

func (p *AMQPPublisher) publishOnce(routingKey string, msg amqp.Publishing) error {
	if p.ch == nil {
		ch, err := p.dial()
		if err != nil {
			return err
		}
		if err := ch.ExchangeDeclare(p.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
			ch.Close()
			return fmt.Errorf("declare exchange %s: %w", p.cfg.Exchange, err)
		}
		p.ch = ch
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.ch.PublishWithContext(ctx, p.cfg.Exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

func (p *AMQPPublisher) resetChannel() {
	if p.ch == nil {
		return
	}
	if err := p.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		p.log.Debug().Err(err).Msg("close amqp channel")
	}
	p.ch = nil
}

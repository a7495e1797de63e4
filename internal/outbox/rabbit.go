package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker/v2"
)

// EventsExchange is the topic exchange events are published to. The routing
// key is the event type.
const EventsExchange = "teamcart.events"

// Channel is the subset of *amqp.Channel used for publishing.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Dialer opens a publishing channel. closed fires or is closed once the
// channel stops being usable.
type Dialer func() (ch Channel, closed <-chan *amqp.Error, err error)

// RabbitPublisher publishes outbox messages to RabbitMQ. Calls go through a
// circuit breaker so a broker outage fails fast instead of stalling the
// dispatcher on every message. A closed channel is replaced on the next call.
type RabbitPublisher struct {
	dial    Dialer
	cb      *gobreaker.CircuitBreaker[struct{}]
	timeout time.Duration

	mu     sync.Mutex
	ch     Channel
	closed <-chan *amqp.Error
}

// RabbitConn owns the broker connection and replaces it once it closes.
type RabbitConn struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
}

// NewRabbitConn creates a connection manager for url. Nothing is dialed until
// the first Channel call.
func NewRabbitConn(url string) *RabbitConn {
	return &RabbitConn{url: url}
}

// Channel opens a channel with the events exchange declared, dialing a new
// connection when the previous one is gone.
func (r *RabbitConn) Channel() (Channel, <-chan *amqp.Error, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil || r.conn.IsClosed() {
		conn, err := amqp.Dial(r.url)
		if err != nil {
			return nil, nil, errors.Wrap(err, "dial rabbitmq")
		}
		r.conn = conn
	}
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, nil, errors.Wrapf(err, "declare %s", EventsExchange)
	}
	return ch, ch.NotifyClose(make(chan *amqp.Error, 1)), nil
}

// Close closes the current connection, if any.
func (r *RabbitConn) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	return r.conn.Close()
}

// NewRabbitPublisher publishes over channels from dial, behind a circuit
// breaker that opens after five consecutive failures.
func NewRabbitPublisher(dial Dialer) *RabbitPublisher {
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "rabbitmq",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
	return &RabbitPublisher{dial: dial, cb: cb, timeout: 3 * time.Second}
}

// Connect opens the first channel so a misconfigured broker fails startup.
func (p *RabbitPublisher) Connect() error {
	_, err := p.channel()
	return err
}

// IsClosed reports whether no usable channel could be obtained. A closed
// channel is redialed first.
func (p *RabbitPublisher) IsClosed() bool {
	_, err := p.channel()
	return err != nil
}

func (p *RabbitPublisher) channel() (Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		select {
		case <-p.closed:
			p.ch, p.closed = nil, nil
		default:
			return p.ch, nil
		}
	}
	ch, closed, err := p.dial()
	if err != nil {
		return nil, err
	}
	p.ch, p.closed = ch, closed
	return ch, nil
}

// drop forgets ch so the next call redials.
func (p *RabbitPublisher) drop(ch Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == ch {
		p.ch, p.closed = nil, nil
	}
}

// Publish sends msg as a persistent JSON message.
func (p *RabbitPublisher) Publish(ctx context.Context, msg Message) error {
	_, err := p.cb.Execute(func() (struct{}, error) {
		ch, err := p.channel()
		if err != nil {
			return struct{}{}, err
		}

		pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		err = ch.PublishWithContext(pubCtx, EventsExchange, msg.EventType, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID.String(),
			Timestamp:    msg.CreatedAt,
			Type:         msg.EventType,
			Headers: amqp.Table{
				"aggregate_type": msg.AggregateType,
				"aggregate_id":   msg.AggregateID,
			},
			Body: msg.Payload,
		})
		if errors.Is(err, amqp.ErrClosed) {
			p.drop(ch)
		}
		return struct{}{}, err
	})
	if err != nil {
		return errors.Wrapf(err, "publish %s", msg.EventType)
	}
	return nil
}

// State reports the circuit breaker state, for readiness probes.
func (p *RabbitPublisher) State() gobreaker.State {
	return p.cb.State()
}

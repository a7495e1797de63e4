package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	calls    int
	err      error
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.calls++
	c.exchange, c.key, c.msg = exchange, key, msg
	return c.err
}

// fakeDialer hands out chs in order, each with its own close notification.
type fakeDialer struct {
	chs    []*fakeChannel
	closed []chan *amqp.Error
	dials  int
}

func (d *fakeDialer) dial() (Channel, <-chan *amqp.Error, error) {
	if d.dials >= len(d.chs) {
		return nil, nil, errors.New("connection refused")
	}
	ch := d.chs[d.dials]
	closed := make(chan *amqp.Error, 1)
	d.closed = append(d.closed, closed)
	d.dials++
	return ch, closed, nil
}

func publisherFor(chs ...*fakeChannel) (*RabbitPublisher, *fakeDialer) {
	d := &fakeDialer{chs: chs}
	return NewRabbitPublisher(d.dial), d
}

func TestRabbitPublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	p, _ := publisherFor(ch)

	m, err := NewMessage("teamcart", "cart-1", "TeamCartConverted", map[string]string{"order_id": "o1"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), m))

	assert.Equal(t, EventsExchange, ch.exchange)
	assert.Equal(t, "TeamCartConverted", ch.key)
	assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)
	assert.Equal(t, "application/json", ch.msg.ContentType)
	assert.Equal(t, m.ID.String(), ch.msg.MessageId)
	assert.Equal(t, "cart-1", ch.msg.Headers["aggregate_id"])
	assert.JSONEq(t, `{"order_id":"o1"}`, string(ch.msg.Body))
}

func TestRabbitPublisher_BreakerOpens(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	p, _ := publisherFor(ch)
	m, err := NewMessage("teamcart", "cart-1", "TeamCartCreated", struct{}{}, time.Now())
	require.NoError(t, err)

	for range 5 {
		require.Error(t, p.Publish(context.Background(), m))
	}
	assert.Equal(t, gobreaker.StateOpen, p.State())

	err = p.Publish(context.Background(), m)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 5, ch.calls)
}

func TestRabbitPublisher_RedialsAfterChannelClose(t *testing.T) {
	first, second := &fakeChannel{}, &fakeChannel{}
	p, d := publisherFor(first, second)
	m, err := NewMessage("teamcart", "cart-1", "TeamCartLocked", struct{}{}, time.Now())
	require.NoError(t, err)

	require.NoError(t, p.Connect())
	require.NoError(t, p.Publish(context.Background(), m))
	assert.Equal(t, 1, d.dials)

	d.closed[0] <- amqp.ErrClosed
	require.NoError(t, p.Publish(context.Background(), m))
	assert.Equal(t, 2, d.dials)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.False(t, p.IsClosed())
}

func TestRabbitPublisher_RedialsAfterClosedError(t *testing.T) {
	first, second := &fakeChannel{err: amqp.ErrClosed}, &fakeChannel{}
	p, d := publisherFor(first, second)
	m, err := NewMessage("teamcart", "cart-1", "TeamCartLocked", struct{}{}, time.Now())
	require.NoError(t, err)

	require.ErrorIs(t, p.Publish(context.Background(), m), amqp.ErrClosed)
	require.NoError(t, p.Publish(context.Background(), m))
	assert.Equal(t, 2, d.dials)
	assert.Equal(t, 1, second.calls)
}

func TestRabbitPublisher_DialFailure(t *testing.T) {
	p, _ := publisherFor()
	m, err := NewMessage("teamcart", "cart-1", "TeamCartLocked", struct{}{}, time.Now())
	require.NoError(t, err)

	require.Error(t, p.Connect())
	assert.True(t, p.IsClosed())
	require.Error(t, p.Publish(context.Background(), m))
}

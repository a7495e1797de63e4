package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu        sync.Mutex
	msgs      []Message
	published map[uuid.UUID]time.Time
	fetchErr  error
}

func (s *memStore) Pending(_ context.Context, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var out []Message
	for _, m := range s.msgs {
		if _, ok := s.published[m.ID]; ok {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) MarkPublished(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published[id] = at
	return nil
}

func (s *memStore) publishedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.published)
}

type recordingPublisher struct {
	sent   []string
	failOn map[string]bool
}

func (p *recordingPublisher) Publish(_ context.Context, msg Message) error {
	if p.failOn[msg.EventType] {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, msg.AggregateID+":"+msg.EventType)
	return nil
}

func msg(t *testing.T, aggregateID, event string) Message {
	t.Helper()
	m, err := NewMessage("teamcart", aggregateID, event, map[string]string{"teamcart_id": aggregateID}, time.Now())
	require.NoError(t, err)
	return m
}

func TestDispatcher_DispatchOnce(t *testing.T) {
	store := &memStore{
		msgs: []Message{
			msg(t, "a", "Created"),
			msg(t, "b", "Created"),
			msg(t, "a", "Broken"),
			msg(t, "b", "Joined"),
			msg(t, "a", "Joined"),
		},
		published: map[uuid.UUID]time.Time{},
	}
	pub := &recordingPublisher{failOn: map[string]bool{"Broken": true}}
	d := NewDispatcher(store, pub, time.Second, 10)

	n, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"a:Created", "b:Created", "b:Joined"}, pub.sent)

	// The held back message of aggregate a goes out once the broker recovers.
	pub.failOn = nil
	n, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a:Created", "b:Created", "b:Joined", "a:Broken", "a:Joined"}, pub.sent)
}

func TestDispatcher_FetchError(t *testing.T) {
	d := NewDispatcher(&memStore{fetchErr: errors.New("db down")}, &recordingPublisher{}, 0, 0)
	_, err := d.DispatchOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 100, d.batch)
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	store := &memStore{msgs: []Message{msg(t, "a", "Created")}, published: map[uuid.UUID]time.Time{}}
	pub := &recordingPublisher{}
	d := NewDispatcher(store, pub, 5*time.Millisecond, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return store.publishedCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

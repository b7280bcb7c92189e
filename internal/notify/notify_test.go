package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rpattn/lexsign/internal/domain"
	"github.com/rpattn/lexsign/internal/repository"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu       sync.Mutex
	channels []string
	messages [][]byte
	err      error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	if b, ok := message.([]byte); ok {
		f.messages = append(f.messages, b)
	}
	return redis.NewIntResult(1, f.err)
}

type recordingDispatcher struct {
	mu   sync.Mutex
	seen []domain.Notification
	err  error
}

func (r *recordingDispatcher) Dispatch(ctx context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, n)
	return r.err
}

func (r *recordingDispatcher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func TestRedisPublisherUsesDocumentChannel(t *testing.T) {
	rdb := &fakeRedis{}
	pub := NewRedisPublisher(rdb, "lexsign:", nil)
	docID := uuid.New()
	n := domain.NewNotification(docID, domain.NotifyStatusUpdate, "", map[string]any{"status": "PENDING_NOTARY"}, time.Now().UTC())

	require.NoError(t, pub.Dispatch(context.Background(), n))
	require.Len(t, rdb.channels, 1)
	assert.Equal(t, "lexsign:document-"+docID.String(), rdb.channels[0])

	var event StatusEvent
	require.NoError(t, json.Unmarshal(rdb.messages[0], &event))
	assert.Equal(t, "status-update", event.Event)
	assert.Equal(t, "PENDING_NOTARY", event.Data["status"])
}

func TestRedisPublisherSurfacesErrors(t *testing.T) {
	pub := NewRedisPublisher(&fakeRedis{err: errors.New("connection refused")}, "", nil)
	err := pub.Dispatch(context.Background(), domain.NewNotification(uuid.New(), domain.NotifyStatusUpdate, "", nil, time.Now()))
	require.Error(t, err)
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &recordingDispatcher{}
	failing := &recordingDispatcher{err: errors.New("smtp down")}
	err := Multi{ok, nil, failing}.Dispatch(context.Background(), domain.Notification{})
	require.Error(t, err)
	assert.Equal(t, 1, ok.count())
	assert.Equal(t, 1, failing.count())
}

func seedOutbox(t *testing.T, store *repository.MemoryStore, n domain.Notification) {
	t.Helper()
	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return tx.EnqueueNotifications(ctx, []domain.Notification{n})
	}))
}

func TestAsyncMarksDeliveredIntents(t *testing.T) {
	store := repository.NewMemoryStore()
	n := domain.NewNotification(uuid.New(), domain.NotifyDocumentInvitation, "b@example.com", nil, time.Now().UTC())
	seedOutbox(t, store, n)

	dispatcher := &recordingDispatcher{}
	async := NewAsync(dispatcher, store.Outbox(), time.Second, nil)
	async.Deliver(context.Background(), []domain.Notification{n})
	async.Wait()

	assert.Equal(t, 1, dispatcher.count())
	pending, err := store.Outbox().ListPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAsyncLeavesFailedIntentsPending(t *testing.T) {
	store := repository.NewMemoryStore()
	n := domain.NewNotification(uuid.New(), domain.NotifyReadyForNotary, "notary@example.com", nil, time.Now().UTC())
	seedOutbox(t, store, n)

	async := NewAsync(&recordingDispatcher{err: errors.New("down")}, store.Outbox(), time.Second, nil)
	async.Deliver(context.Background(), []domain.Notification{n})
	async.Wait()

	pending, err := store.Outbox().ListPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	recovered := &recordingDispatcher{}
	relay := NewAsync(recovered, store.Outbox(), time.Second, nil)
	delivered, err := relay.Relay(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	pending, err = store.Outbox().ListPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAsyncSurvivesCancelledCaller(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	async := NewAsync(dispatcher, nil, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	async.Deliver(ctx, []domain.Notification{domain.NewNotification(uuid.New(), domain.NotifyStatusUpdate, "", nil, time.Now())})
	async.Wait()
	assert.Equal(t, 1, dispatcher.count())
}

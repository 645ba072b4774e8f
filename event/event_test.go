package event

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hatlonely/secidx/build"
	"github.com/hatlonely/secidx/cfg/storage"
	"github.com/hatlonely/secidx/field"
	"github.com/hatlonely/secidx/index"
	"github.com/hatlonely/secidx/kv/store"
	"github.com/hatlonely/secidx/ref"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStatus(completed int64) *build.IndexBuildStatus {
	idx := &index.Index{
		Database: "db",
		Table:    "users",
		Name:     "email",
		Fields:   []index.IndexField{{Name: "email", Type: field.TypeText}},
	}
	s := build.NewIndexBuildStatus(uuid.New(), idx, 100, time.Now())
	s.RecordsCompleted = completed
	return s
}

type failingPublisher struct{}

func (failingPublisher) Publish(ctx context.Context, status *build.IndexBuildStatus) error {
	return errors.New("unavailable")
}

func (failingPublisher) Close() error { return nil }

func TestBus(t *testing.T) {
	ctx := context.Background()

	t.Run("fan out to subscribers", func(t *testing.T) {
		bus := NewBusWithOptions(&BusOptions{Buffer: 4})
		a, cancelA := bus.Subscribe()
		b, cancelB := bus.Subscribe()
		defer cancelA()
		defer cancelB()

		status := testStatus(10)
		require.NoError(t, bus.Publish(ctx, status))
		assert.Same(t, status, <-a)
		assert.Same(t, status, <-b)
	})

	t.Run("full subscribers do not block", func(t *testing.T) {
		bus := NewBusWithOptions(&BusOptions{Buffer: 1})
		ch, cancel := bus.Subscribe()
		defer cancel()

		require.NoError(t, bus.Publish(ctx, testStatus(1)))
		require.NoError(t, bus.Publish(ctx, testStatus(2)))
		assert.Equal(t, int64(1), bus.Dropped())
		assert.Equal(t, int64(1), (<-ch).RecordsCompleted)
	})

	t.Run("cancel closes the channel", func(t *testing.T) {
		bus := NewBusWithOptions(nil)
		ch, cancel := bus.Subscribe()
		cancel()
		cancel()
		_, ok := <-ch
		assert.False(t, ok)
		require.NoError(t, bus.Publish(ctx, testStatus(1)))
	})

	t.Run("close closes every subscriber", func(t *testing.T) {
		bus := NewBusWithOptions(nil)
		ch, cancel := bus.Subscribe()
		require.NoError(t, bus.Close())
		_, ok := <-ch
		assert.False(t, ok)
		cancel()

		late, _ := bus.Subscribe()
		_, ok = <-late
		assert.False(t, ok)
	})
}

func TestRedisPublisher(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	publisher, err := NewRedisPublisherWithOptions(&RedisPublisherOptions{
		Redis:   store.RedisStoreOptions{Endpoint: mr.Addr()},
		Channel: "build:{database}.{table}.{index}",
	})
	require.NoError(t, err)
	defer publisher.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	sub := client.Subscribe(ctx, "build:db.users.email")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	status := testStatus(42)
	assert.Equal(t, "build:db.users.email", publisher.Channel(status))
	require.NoError(t, publisher.Publish(ctx, status))

	select {
	case msg := <-sub.Channel():
		var got build.IndexBuildStatus
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, status.ID, got.ID)
		assert.Equal(t, int64(42), got.RecordsCompleted)
		assert.Equal(t, "email", got.Index.Name)
		assert.Equal(t, field.TypeText, got.Index.Fields[0].Type)
	case <-time.After(3 * time.Second):
		t.Fatal("no message received")
	}

	_, err = NewRedisPublisherWithOptions(&RedisPublisherOptions{Redis: store.RedisStoreOptions{Endpoint: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond}})
	assert.Error(t, err)
}

func TestMultiPublisher(t *testing.T) {
	ctx := context.Background()

	bus := NewBusWithOptions(nil)
	ch, cancel := bus.Subscribe()
	defer cancel()

	p := NewMultiPublisher(failingPublisher{}, bus, NewLogPublisher(nil))
	err := p.Publish(ctx, testStatus(5))
	assert.ErrorContains(t, err, "unavailable")
	assert.Equal(t, int64(5), (<-ch).RecordsCompleted)
	assert.NoError(t, p.Close())
}

func TestNewPublisherWithOptions(t *testing.T) {
	t.Run("nil options logs", func(t *testing.T) {
		p, err := NewPublisherWithOptions(nil)
		require.NoError(t, err)
		assert.IsType(t, &LogPublisher{}, p)
	})

	t.Run("from config", func(t *testing.T) {
		p, err := NewPublisherWithOptions(&ref.TypeOptions{
			Type: "MultiPublisher",
			Options: storage.NewMapStorage(map[string]any{
				"publishers": []any{
					map[string]any{"type": "Bus", "options": map[string]any{"buffer": 8}},
					map[string]any{"type": "LogPublisher"},
				},
			}),
		})
		require.NoError(t, err)
		multi, ok := p.(*MultiPublisher)
		require.True(t, ok)
		assert.Len(t, multi.publishers, 2)
		assert.Equal(t, 8, multi.publishers[0].(*Bus).buffer)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := NewPublisherWithOptions(&ref.TypeOptions{Type: "Kafka"})
		assert.Error(t, err)
	})
}

package invalidation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"permguard/internal/permission/cache"
	"permguard/internal/permission/models"
	"permguard/pkg/platform/sentinel"
)

type recordingProducer struct {
	records []*kgo.Record
	err     error
}

func (p *recordingProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	p.records = append(p.records, rs...)
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		results = append(results, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return results
}

func TestPublisherPublish(t *testing.T) {
	producer := &recordingProducer{}
	pub := NewPublisher(producer, "permguard.invalidations", "node-a")
	pub.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	require.NoError(t, pub.Publish(context.Background(), []string{"role:Sales", "user:u1"}))
	require.Len(t, producer.records, 1)

	rec := producer.records[0]
	assert.Equal(t, "permguard.invalidations", rec.Topic)
	assert.Equal(t, "role:Sales", string(rec.Key))
	msg, err := decode(rec.Value)
	require.NoError(t, err)
	assert.Equal(t, "node-a", msg.Origin)
	assert.Equal(t, []string{"role:Sales", "user:u1"}, msg.Keys)
}

func TestPublisherSkipsEmptyKeys(t *testing.T) {
	producer := &recordingProducer{}
	require.NoError(t, NewPublisher(producer, "t", "node-a").Publish(context.Background(), nil))
	assert.Empty(t, producer.records)
}

func TestPublisherReturnsProduceError(t *testing.T) {
	producer := &recordingProducer{err: errors.New("not leader for partition")}
	err := NewPublisher(producer, "t", "node-a").Publish(context.Background(), []string{"user:u1"})
	assert.ErrorContains(t, err, "not leader")
}

func seeded(t *testing.T, keys ...string) *cache.InMemoryCache {
	t.Helper()
	c := cache.NewInMemory()
	for _, k := range keys {
		require.NoError(t, c.Set(context.Background(), k, []models.EffectivePermission{}, time.Hour))
	}
	return c
}

func record(t *testing.T, m Message) *kgo.Record {
	t.Helper()
	b, err := encode(m)
	require.NoError(t, err)
	return &kgo.Record{Topic: "t", Value: b}
}

func TestHandlerDeletesRemoteKeys(t *testing.T) {
	c := seeded(t, "user:u1", "user:u2", "role:Sales")
	h := NewHandler(c, "node-b")

	require.NoError(t, h.Handle(context.Background(), record(t, Message{Origin: "node-a", Keys: []string{"role:Sales", "user:u1"}})))

	_, err := c.Get(context.Background(), "user:u1")
	assert.ErrorIs(t, err, sentinel.ErrCacheMiss)
	_, err = c.Get(context.Background(), "role:Sales")
	assert.ErrorIs(t, err, sentinel.ErrCacheMiss)
	_, err = c.Get(context.Background(), "user:u2")
	assert.NoError(t, err)
}

func TestHandlerForgetsBeforeDeleting(t *testing.T) {
	c := seeded(t, "user:u1")
	var forgotten []string
	h := NewHandler(c, "node-b", WithForget(func(keys ...string) {
		assert.Equal(t, 1, c.Len(), "forget runs while the key is still cached")
		forgotten = append(forgotten, keys...)
	}))

	require.NoError(t, h.Handle(context.Background(), record(t, Message{Origin: "node-a", Keys: []string{"user:u1"}})))
	assert.Equal(t, []string{"user:u1"}, forgotten)
	assert.Equal(t, 0, c.Len())
}

func TestHandlerIgnoresOwnMessages(t *testing.T) {
	c := seeded(t, "user:u1")
	h := NewHandler(c, "node-a")

	require.NoError(t, h.Handle(context.Background(), record(t, Message{Origin: "node-a", Keys: []string{"user:u1"}})))
	assert.Equal(t, 1, c.Len())
}

func TestHandlerSkipsMalformedRecords(t *testing.T) {
	h := NewHandler(seeded(t), "node-b")
	assert.NoError(t, h.Handle(context.Background(), &kgo.Record{Value: []byte("{not json")}))
}

type scriptedFetcher struct {
	batches []kgo.Fetches
}

func (f *scriptedFetcher) PollFetches(context.Context) kgo.Fetches {
	if len(f.batches) == 0 {
		return kgo.NewErrFetch(kgo.ErrClientClosed)
	}
	next := f.batches[0]
	f.batches = f.batches[1:]
	return next
}

func TestConsumerRunAppliesRecordsUntilClosed(t *testing.T) {
	c := seeded(t, "user:u1", "user:u2")
	rec := record(t, Message{Origin: "node-a", Keys: []string{"user:u1"}})
	fetcher := &scriptedFetcher{batches: []kgo.Fetches{{{
		Topics: []kgo.FetchTopic{{
			Topic:      "t",
			Partitions: []kgo.FetchPartition{{Partition: 0, Records: []*kgo.Record{rec}}},
		}},
	}}}}

	err := NewConsumer(fetcher, NewHandler(c, "node-b"), nil).Run(context.Background())
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "user:u1")
	assert.ErrorIs(t, err, sentinel.ErrCacheMiss)
	assert.Equal(t, 1, c.Len())
}

package invalidation

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"permguard/internal/permission/ports"
)

// Producer is the slice of *kgo.Client the publisher needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Publisher writes invalidation messages to a topic. Records are keyed by
// the first cache key so one subject's invalidations stay ordered.
type Publisher struct {
	producer Producer
	topic    string
	origin   string
	now      func() time.Time
}

func NewPublisher(producer Producer, topic, origin string) *Publisher {
	return &Publisher{producer: producer, topic: topic, origin: origin, now: time.Now}
}

// Publish sends keys to every other instance.
func (p *Publisher) Publish(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	value, err := encode(Message{Origin: p.origin, Keys: keys, At: p.now().UTC()})
	if err != nil {
		return err
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(keys[0]),
		Value: value,
	}
	if err := p.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}

var _ ports.InvalidationPublisher = (*Publisher)(nil)

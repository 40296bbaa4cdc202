package invalidation

import (
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// NewClient connects to the brokers as a group-less consumer of topic, so
// every instance sees every invalidation, starting from the newest offset.
// The same client produces to topic.
func NewClient(brokers []string, topic string) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

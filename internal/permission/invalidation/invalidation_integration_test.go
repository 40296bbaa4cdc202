//go:build integration

package invalidation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"permguard/internal/permission/cache"
	"permguard/internal/permission/invalidation"
	"permguard/internal/permission/models"
	"permguard/pkg/platform/sentinel"
	"permguard/pkg/testutil/containers"
)

type BroadcastSuite struct {
	suite.Suite
	kafka *containers.KafkaContainer
}

func TestBroadcastSuite(t *testing.T) {
	suite.Run(t, new(BroadcastSuite))
}

func (s *BroadcastSuite) SetupSuite() {
	s.kafka = containers.GetManager().GetKafka(s.T())
}

func (s *BroadcastSuite) newClient(topic string) *kgo.Client {
	client, err := invalidation.NewClient(s.kafka.Brokers, topic)
	s.Require().NoError(err)
	s.T().Cleanup(client.Close)
	return client
}

func (s *BroadcastSuite) TestEnsureTopicIsIdempotent() {
	ctx := context.Background()
	client := s.newClient("permguard.ensure")
	s.Require().NoError(invalidation.EnsureTopic(ctx, client, "permguard.ensure"))
	s.Require().NoError(invalidation.EnsureTopic(ctx, client, "permguard.ensure"))
}

func (s *BroadcastSuite) TestRemoteInstanceDropsKeys() {
	const topic = "permguard.cache-invalidations"
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	producer := s.newClient(topic)
	s.Require().NoError(invalidation.EnsureTopic(ctx, producer, topic))

	remoteCache := cache.NewInMemory()
	perms := []models.EffectivePermission{{Subject: models.UserSubject("u1"), Resource: "Item", Action: models.ActionCreate, HasAccess: true}}
	s.Require().NoError(remoteCache.Set(ctx, "user:u1", perms, time.Hour))
	s.Require().NoError(remoteCache.Set(ctx, "user:u2", perms, time.Hour))

	remote := s.newClient(topic)
	consumer := invalidation.NewConsumer(remote, invalidation.NewHandler(remoteCache, "node-b"), nil)
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	// The consumer starts at the end offset; give it time to resolve that
	// offset before publishing.
	time.Sleep(2 * time.Second)

	pub := invalidation.NewPublisher(producer, topic, "node-a")
	s.Require().NoError(pub.Publish(ctx, []string{"user:u1"}))

	require.Eventually(s.T(), func() bool {
		_, err := remoteCache.Get(ctx, "user:u1")
		return err == sentinel.ErrCacheMiss
	}, 20*time.Second, 100*time.Millisecond)

	_, err := remoteCache.Get(ctx, "user:u2")
	s.NoError(err, "keys not named in the message survive")

	cancel()
	s.NoError(<-done)
}

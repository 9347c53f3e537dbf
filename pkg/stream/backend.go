// Package stream builds the pub/sub transport the update pipeline runs on:
// an in-process channel by default, Redis Streams when enabled.
package stream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Backend wraps transport setup concerns and exposes publisher/subscriber
// construction for the update stream.
type Backend interface {
	Publisher() message.Publisher
	Subscriber(ctx context.Context, topic string) (message.Subscriber, error)
	Close() error
}

// NewBackend returns a Redis Streams backend when enabled, otherwise a
// shared in-process pub/sub.
func NewBackend(s Settings) (Backend, error) {
	if !s.Enabled {
		ps := gochannel.NewGoChannel(gochannel.Config{}, NewWatermillLogger(log.Logger))
		return &memoryBackend{pubsub: ps}, nil
	}
	if s.Addr == "" {
		return nil, errors.New("redis stream backend: addr is empty")
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, NewWatermillLogger(log.Logger))
	if err != nil {
		return nil, errors.Wrap(err, "build redis publisher")
	}
	return &redisBackend{settings: s, publisher: pub}, nil
}

type memoryBackend struct {
	pubsub *gochannel.GoChannel
}

func (b *memoryBackend) Publisher() message.Publisher {
	return b.pubsub
}

func (b *memoryBackend) Subscriber(_ context.Context, _ string) (message.Subscriber, error) {
	// publisher and subscriber must share the in-process channel
	return b.pubsub, nil
}

func (b *memoryBackend) Close() error {
	return b.pubsub.Close()
}

type redisBackend struct {
	settings  Settings
	publisher message.Publisher
}

func (b *redisBackend) Publisher() message.Publisher {
	return b.publisher
}

// Subscriber builds a consumer-group subscriber for the topic. The group is
// created at the stream tail so a fresh subscriber does not replay history.
func (b *redisBackend) Subscriber(ctx context.Context, topic string) (message.Subscriber, error) {
	if err := ensureGroupAtTail(ctx, b.settings.Addr, topic, b.settings.Group); err != nil {
		log.Warn().Err(err).Str("component", "stream").Str("topic", topic).Msg("could not ensure consumer group")
	}
	client := redis.NewClient(&redis.Options{Addr: b.settings.Addr})
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: b.settings.Group,
		Consumer:      b.settings.Consumer,
	}, NewWatermillLogger(log.Logger))
	if err != nil {
		return nil, errors.Wrap(err, "build redis subscriber")
	}
	return sub, nil
}

func (b *redisBackend) Close() error {
	return b.publisher.Close()
}

// ensureGroupAtTail creates the consumer group at $ if it doesn't exist, so
// first subscribe starts at the tail instead of replaying the whole stream.
func ensureGroupAtTail(ctx context.Context, addr, stream, group string) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		// BUSYGROUP means the group already exists
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return err
	}
	log.Info().Str("component", "stream").Str("stream", stream).Str("group", group).Msg("created redis consumer group at tail")
	return nil
}

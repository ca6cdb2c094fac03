// Package redisstream builds the watermill transport that carries session
// frames: Redis Streams when enabled, an in-process channel otherwise.
package redisstream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/go-go-golems/geppetto/pkg/helpers"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/sessioncore/pkg/session"
)

// Build returns a publisher/subscriber pair for session frames. When redis is
// disabled both ends are the same in-memory gochannel, so frames published in
// this process reach sessions in this process. Each publish waits for the
// subscriber's ack, which keeps a session's frames in publish order.
func Build(s Settings) (message.Publisher, message.Subscriber, error) {
	logger := helpers.NewWatermill(log.Logger)
	if !s.Enabled {
		ch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            256,
			BlockPublishUntilSubscriberAck: true,
		}, logger)
		return ch, ch, nil
	}
	if err := s.Validate(); err != nil {
		return nil, nil, err
	}

	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "redis publisher")
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, nil, errors.Wrap(err, "redis subscriber")
	}
	log.Info().Str("component", "redisstream").Str("addr", s.Addr).Str("group", s.Group).Msg("using redis streams transport")
	return pub, sub, nil
}

// EnsureGroupAtTail creates the consumer group for a stream at the tail ($) if
// it does not exist, so a new consumer does not replay the stream's history.
func EnsureGroupAtTail(ctx context.Context, addr, stream, group string) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "create group %s on %s", group, stream)
	}
	log.Info().Str("component", "redisstream").Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}

// EnsureSessionGroup is EnsureGroupAtTail for a session's topic. It is a no-op
// when redis is disabled.
func EnsureSessionGroup(ctx context.Context, s Settings, sessionID string) error {
	if !s.Enabled {
		return nil
	}
	return EnsureGroupAtTail(ctx, s.Addr, session.TopicForSession(sessionID), s.Group)
}

// Publish sends one frame to a session's topic.
func Publish(pub message.Publisher, sessionID string, msg *message.Message) error {
	if pub == nil {
		return errors.New("publisher is nil")
	}
	return errors.Wrapf(pub.Publish(session.TopicForSession(sessionID), msg), "publish to session %s", sessionID)
}

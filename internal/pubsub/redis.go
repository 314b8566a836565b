package pubsub

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradesim/internal/schema"
)

// Publisher publishes ticks on a Redis channel.
type Publisher struct {
	client  redis.UniversalClient
	channel string
}

// NewPublisher creates a publisher. An empty channel uses DefaultChannel.
func NewPublisher(client redis.UniversalClient, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{client: client, channel: channel}
}

// Publish sends one message for the tick.
func (p *Publisher) Publish(ctx context.Context, t schema.Tick) error {
	payload, err := Encode(t)
	if err != nil {
		return errors.Wrap(err, "encode tick")
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return errors.Wrap(err, "redis publish").With("channel", p.channel)
	}
	return nil
}

// Subscriber reads ticks from a Redis channel.
type Subscriber struct {
	client   redis.UniversalClient
	channel  string
	registry *schema.Registry
}

// NewSubscriber creates a subscriber. An empty channel uses DefaultChannel.
// When registry is set, ticks for unknown instruments or at other scales are
// skipped.
func NewSubscriber(client redis.UniversalClient, channel string, registry *schema.Registry) *Subscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Subscriber{client: client, channel: channel, registry: registry}
}

// Run delivers every decoded tick to handler until ctx is done. Malformed
// messages are logged and skipped.
func (s *Subscriber) Run(ctx context.Context, handler func(schema.Tick)) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrap(err, "redis subscribe").With("channel", s.channel)
	}
	logs.Infof("subscribed redis channel %s", s.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			tick, err := s.decode([]byte(msg.Payload))
			if err != nil {
				logs.Errorf("skip redis message, err: %+v", err)
				continue
			}
			handler(tick)
		}
	}
}

func (s *Subscriber) decode(payload []byte) (schema.Tick, error) {
	tick, err := Decode(payload)
	if err != nil {
		return schema.Tick{}, err
	}
	if s.registry != nil {
		if _, err := s.registry.Conform(tick); err != nil {
			return schema.Tick{}, err
		}
	}
	return tick, nil
}

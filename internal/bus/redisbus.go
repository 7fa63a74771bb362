package bus

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus on top of Redis Pub/Sub, selected when
// REDIS_URL is configured (spec §6). The teacher's go.mod already
// declared a go-redis client without ever wiring a Pub/Sub path; this
// is where it is finally exercised.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus parses redisURL (a redis:// connection string) and
// returns a Bus backed by it.
func NewRedisBus(redisURL string) (*RedisBus, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisBus{client: redis.NewClient(opt)}, nil
}

// Publish sends payload on channel via Redis PUBLISH.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

type redisSub struct {
	pubsub *redis.PubSub
	msgs   chan []byte
	cancel context.CancelFunc
}

func (s *redisSub) Messages() <-chan []byte { return s.msgs }

func (s *redisSub) Close() error {
	s.cancel()
	return s.pubsub.Close()
}

// Subscribe opens a Redis subscription on channel and translates
// *redis.Message payloads into raw []byte on the returned
// Subscription's channel.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &redisSub{pubsub: pubsub, msgs: make(chan []byte, 256), cancel: cancel}

	go func() {
		defer close(s.msgs)
		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case s.msgs <- []byte(msg.Payload):
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return s, nil
}

// Close closes the underlying Redis client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

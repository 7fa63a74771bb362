// Package bus abstracts the pub/sub transport the StreamingManager
// publishes normalized upstream messages onto, and the SubscriptionService
// listens on (spec §1: "treated as a reliable channel-oriented broker").
package bus

import "context"

// Subscription is a live listener on one channel. Messages() yields
// published payloads in publish order; Close releases the underlying
// subscription resources and is idempotent.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Bus is the pub/sub transport interface. Implementations must not
// reorder messages within a single channel (spec §5, Ordering
// guarantees).
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Close() error
}

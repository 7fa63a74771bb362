package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryBusDeliversInOrder(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), "ch")
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(context.Background(), "ch", []byte{byte(i)}))
	}

	for i := 0; i < 5; i++ {
		select {
		case msg := <-sub.Messages():
			require.Equal(t, byte(i), msg[0])
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
}

func TestMemoryBusMultipleSubscribers(t *testing.T) {
	b := NewMemoryBus()
	s1, _ := b.Subscribe(context.Background(), "ch")
	s2, _ := b.Subscribe(context.Background(), "ch")
	defer s1.Close()
	defer s2.Close()

	require.NoError(t, b.Publish(context.Background(), "ch", []byte("hi")))

	for _, s := range []Subscription{s1, s2} {
		select {
		case msg := <-s.Messages():
			require.Equal(t, "hi", string(msg))
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
}

func TestMemoryBusCloseStopsDelivery(t *testing.T) {
	b := NewMemoryBus()
	sub, _ := b.Subscribe(context.Background(), "ch")
	require.NoError(t, sub.Close())

	// Publish after close must not panic or block.
	require.NoError(t, b.Publish(context.Background(), "ch", []byte("x")))

	_, ok := <-sub.Messages()
	require.False(t, ok, "closed subscription should yield a closed channel")
}

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInOrder(t *testing.T) {
	b := New()
	sub := b.Subscribe("test")

	b.Publish(BankSelected{BankID: 0})
	b.Publish(BankSelected{BankID: 1})
	b.Publish(BankSelected{BankID: 2})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ev, lagged, ok := sub.Recv(ctx)
		require.True(t, ok)
		assert.Equal(t, uint64(0), lagged)
		assert.Equal(t, BankSelected{BankID: i}, ev)
	}
}

func TestPublishNoSubscribersReturnsZero(t *testing.T) {
	b := New()
	assert.Equal(t, 0, b.Publish(SnapSelected{}))
}

func TestHighPriorityPreemptsQueuedLow(t *testing.T) {
	b := New(WithCapacity(4))
	sub := b.Subscribe("test")

	b.Publish(BankSelected{BankID: 0}) // low
	b.Publish(PadPressed{Pad: 8})      // high

	ev, _, ok := sub.Recv(context.Background())
	require.True(t, ok)
	assert.Equal(t, PadPressed{Pad: 8}, ev)
}

func TestLossyUnderLagDropsOldestAndSignals(t *testing.T) {
	b := New(WithCapacity(2))
	sub := b.Subscribe("slow")

	for i := 0; i < 5; i++ {
		b.Publish(BankSelected{BankID: i})
	}

	ev, lagged, ok := sub.Recv(context.Background())
	require.True(t, ok)
	// Capacity 2: the lane held {3,4} after drops; first Recv surfaces the
	// oldest retained event, not event 0.
	assert.Equal(t, BankSelected{BankID: 3}, ev)
	assert.True(t, lagged > 0)
}

func TestDropHookFiresOnOverflow(t *testing.T) {
	var dropped string
	b := New(WithCapacity(1), WithDropHook(func(name string) { dropped = name }))
	b.Subscribe("watcher")

	b.Publish(BankSelected{BankID: 0})
	b.Publish(BankSelected{BankID: 1})

	assert.Equal(t, "watcher", dropped)
}

func TestRecvRespectsContextCancellation(t *testing.T) {
	b := New()
	sub := b.Subscribe("idle")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, ok := sub.Recv(ctx)
	assert.False(t, ok)
}

func TestCloseUnsubscribes(t *testing.T) {
	b := New()
	sub := b.Subscribe("ephemeral")
	assert.Equal(t, 1, b.SubscriberCount())
	sub.Close()
	assert.Equal(t, 0, b.SubscriberCount())
}

package conn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay.dev/nostr"
)

func TestSubscribeNeverExceedsMax(t *testing.T) {
	c := New("127.0.0.1", 2, nil)
	require.NoError(t, c.Subscribe(&nostr.Subscription{ID: "a"}, nil))
	require.NoError(t, c.Subscribe(&nostr.Subscription{ID: "b"}, nil))
	err := c.Subscribe(&nostr.Subscription{ID: "c"}, nil)
	require.Error(t, err)
	var maxErr *SubMaxExceededError
	require.ErrorAs(t, err, &maxErr)
	assert.Equal(t, 2, c.SubscriptionCount())
}

func TestSubscribeReplaceSameIDPreservesSize(t *testing.T) {
	c := New("127.0.0.1", 2, nil)
	require.NoError(t, c.Subscribe(&nostr.Subscription{ID: "a", Filters: []*nostr.ReqFilter{{}}}, nil))
	require.NoError(t, c.Subscribe(&nostr.Subscription{ID: "b"}, nil))
	require.NoError(t, c.Subscribe(&nostr.Subscription{ID: "a", Filters: nil}, nil))
	assert.Equal(t, 2, c.SubscriptionCount())
}

func TestSubscribeCancelsPriorOnReplace(t *testing.T) {
	c := New("127.0.0.1", 4, nil)
	cancelled := false
	require.NoError(t, c.Subscribe(&nostr.Subscription{ID: "a"}, func() { cancelled = true }))
	require.NoError(t, c.Subscribe(&nostr.Subscription{ID: "a"}, nil))
	assert.True(t, cancelled)
}

func TestSubIDLengthBoundary(t *testing.T) {
	c := New("127.0.0.1", 4, nil)
	ok := make([]byte, 256)
	for i := range ok {
		ok[i] = 'x'
	}
	require.NoError(t, c.Subscribe(&nostr.Subscription{ID: string(ok)}, nil))

	tooLong := make([]byte, 257)
	for i := range tooLong {
		tooLong[i] = 'x'
	}
	err := c.Subscribe(&nostr.Subscription{ID: string(tooLong)}, nil)
	require.Error(t, err)
}

func TestUnsubscribeAbsentIsTolerated(t *testing.T) {
	c := New("127.0.0.1", 4, nil)
	c.Unsubscribe("does-not-exist")
	assert.Equal(t, 0, c.SubscriptionCount())
}

func TestCloseAllCancelsEverySubscription(t *testing.T) {
	c := New("127.0.0.1", 4, nil)
	var cancelled int
	require.NoError(t, c.Subscribe(&nostr.Subscription{ID: "a"}, func() { cancelled++ }))
	require.NoError(t, c.Subscribe(&nostr.Subscription{ID: "b"}, func() { cancelled++ }))
	c.CloseAll()
	assert.Equal(t, 2, cancelled)
	assert.Equal(t, 0, c.SubscriptionCount())
}

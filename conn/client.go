package conn

import (
	"encoding/hex"
	"sync"

	"golang.org/x/time/rate"
	"lukechampine.com/frand"

	"relay.dev/internal/relayerr"
	"relay.dev/nostr"
)

// DefaultMaxSubscriptions is the default cap on a connection's live
// subscription map (spec §3).
const DefaultMaxSubscriptions = 32

// SubMaxExceededError is returned by Subscribe when the connection already
// holds MaxSubscriptions distinct subscription ids.
type SubMaxExceededError struct {
	Max int
}

func (e *SubMaxExceededError) Error() string {
	return relayerr.New(relayerr.SubMaxExceeded, "subscription map already holds %d entries", e.Max).Error()
}

// Client is the per-connection state of spec §3: never shared across
// connections, created on socket accept and dropped on disconnect.
type Client struct {
	ID   string // stable 128-bit id, hex-encoded
	IP   string
	Auth Authenticator

	PubLimiter *rate.Limiter // nil when unmetered (e.g. whitelisted IP)

	mu            sync.Mutex
	subs          map[string]*nostr.Subscription
	maxSubs       int
	cancels       map[string]func()
}

// New constructs a Client for a freshly accepted socket. pubLimiter may be
// nil to exempt this connection from per-connection publish rate limiting.
func New(ip string, maxSubs int, pubLimiter *rate.Limiter) *Client {
	if maxSubs <= 0 {
		maxSubs = DefaultMaxSubscriptions
	}
	return &Client{
		ID:         newClientID(),
		IP:         ip,
		PubLimiter: pubLimiter,
		subs:       make(map[string]*nostr.Subscription, maxSubs),
		cancels:    make(map[string]func(), maxSubs),
		maxSubs:    maxSubs,
	}
}

func newClientID() string {
	return hex.EncodeToString(frand.Bytes(16))
}

// Subscribe installs sub into the subscription map. Reissuing an existing
// id atomically replaces the prior subscription (remove then insert),
// preserving map size (spec §4.1, §8). cancel is stored alongside sub; when
// an entry with the same id exists, the cancel stored with it (if non-nil)
// is called before that entry is removed, so the prior historical query is
// aborted.
func (c *Client) Subscribe(sub *nostr.Subscription, cancel func()) error {
	if len(sub.ID) == 0 || len(sub.ID) > nostr.MaxSubIDLen {
		return relayerr.New(relayerr.SubIdMaxLength, "sub_id length %d exceeds %d", len(sub.ID), nostr.MaxSubIDLen)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if prevCancel, exists := c.cancels[sub.ID]; exists {
		if prevCancel != nil {
			prevCancel()
		}
		delete(c.subs, sub.ID)
		delete(c.cancels, sub.ID)
	} else if len(c.subs) >= c.maxSubs {
		return &SubMaxExceededError{Max: c.maxSubs}
	}
	c.subs[sub.ID] = sub
	c.cancels[sub.ID] = cancel
	return nil
}

// Unsubscribe removes a subscription by id. Absence is silently tolerated
// (spec §4.1).
func (c *Client) Unsubscribe(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.cancels[id]; ok && cancel != nil {
		cancel()
	}
	delete(c.subs, id)
	delete(c.cancels, id)
}

// MatchingSubscriptions returns every live subscription that matches e,
// for broadcast fan-out against this connection's filter set (spec §4.1).
func (c *Client) MatchingSubscriptions(e *nostr.Event) []*nostr.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*nostr.Subscription
	for _, sub := range c.subs {
		if sub.Matches(e) {
			out = append(out, sub)
		}
	}
	return out
}

// SubscriptionCount reports the number of live subscriptions, for tests
// and diagnostics.
func (c *Client) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// CloseAll cancels every live subscription's historical query and empties
// the map, called when the socket disconnects (spec §4.3 "Cancellation").
func (c *Client) CloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, cancel := range c.cancels {
		if cancel != nil {
			cancel()
		}
		delete(c.subs, id)
		delete(c.cancels, id)
	}
}

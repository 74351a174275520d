// Package broadcast is the in-memory fan-out bus coupling the Writer to
// every live connection handler (spec §4.4), grounded on the teacher's
// socketapi publisher (a mutex-guarded registry of per-listener state) but
// reshaped around a per-consumer bounded channel instead of a synchronous
// Deliver loop: the Writer only ever offers an Envelope, and every handler
// does its own filter matching and drop/backpressure handling by draining
// its own channel.
package broadcast

import (
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"

	"relay.dev/internal/lol"
	"relay.dev/nostr"
)

// Envelope carries one persisted (or ephemeral) event along with the
// monotone sequence number assigned at commit time, so tests can observe
// that broadcast order equals writer commit order (spec §8).
type Envelope struct {
	Seq   uint64
	Event *nostr.Event
}

// DefaultBufferSize is the default per-consumer channel depth.
const DefaultBufferSize = 64

// Bus fans every Publish out to every currently subscribed consumer. The
// consumer registry is a sharded concurrent map (grounded on the teacher's
// ws.Pool.Relays *xsync.MapOf) rather than a single RWMutex, since Publish
// ranges over every consumer on every write while Subscribe/Unsubscribe
// churn independently per connection.
type Bus struct {
	consumers *xsync.MapOf[uint64, chan Envelope]
	nextID    atomic.Uint64
	bufSize   int
	dropped   atomic.Uint64
	lastSeq   atomic.Uint64
}

// New creates a Bus whose consumer channels are sized bufSize; a bufSize
// below 1 selects DefaultBufferSize.
func New(bufSize int) *Bus {
	if bufSize < 1 {
		bufSize = DefaultBufferSize
	}
	return &Bus{consumers: xsync.NewMapOf[uint64, chan Envelope](), bufSize: bufSize}
}

// Subscribe registers a new consumer and returns its receive channel and an
// Unsubscribe func. The channel is closed by Unsubscribe, never by Publish.
func (b *Bus) Subscribe() (ch <-chan Envelope, unsubscribe func()) {
	id := b.nextID.Add(1)
	c := make(chan Envelope, b.bufSize)
	b.consumers.Store(id, c)
	return c, func() { b.unsubscribe(id) }
}

func (b *Bus) unsubscribe(id uint64) {
	if c, ok := b.consumers.LoadAndDelete(id); ok {
		close(c)
	}
}

// Publish offers env to every current consumer. A consumer whose buffer is
// full is slow: its oldest undelivered envelope is dropped to make room,
// preserving liveness for every other consumer (spec §4.4). Publish never
// blocks.
func (b *Bus) Publish(env Envelope) {
	b.lastSeq.Store(env.Seq)
	b.consumers.Range(func(id uint64, c chan Envelope) bool {
		select {
		case c <- env:
		default:
			select {
			case <-c:
				b.dropped.Add(1)
				lol.W.F("consumer %d buffer full, dropped oldest envelope (seq=%d)", id, env.Seq)
			default:
			}
			select {
			case c <- env:
			default:
				// the consumer drained concurrently and is full again;
				// give up on this publish for this consumer rather than
				// block the bus on one slow reader.
				b.dropped.Add(1)
			}
		}
		return true
	})
}

// Dropped returns the cumulative count of dropped envelopes across all
// consumers, for observability and tests.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// CurrentSeq returns the sequence number of the most recently published
// envelope, or 0 if nothing has been published yet. A subscriber that
// captures this value before reading its historical backlog can tell
// events already reflected in that snapshot (Seq <= CurrentSeq() at
// capture time) apart from events committed afterward, which still need
// to reach it once its historical drain completes (spec §5/§9).
func (b *Bus) CurrentSeq() uint64 { return b.lastSeq.Load() }

// ConsumerCount reports how many consumers are currently subscribed.
func (b *Bus) ConsumerCount() int { return b.consumers.Size() }

package ingest

import (
	"context"

	"relay.dev/internal/relayerr"
	"relay.dev/nostr"
)

// Channel is the bounded multi-producer, single-consumer submission queue
// of spec §2: every connection handler is a producer, the Writer is the
// sole consumer.
type Channel chan Submission

// NewChannel allocates a submission channel with the given capacity.
func NewChannel(capacity int) Channel {
	return make(Channel, capacity)
}

// Submit enqueues e and waits for the Writer's outcome, respecting ctx
// cancellation on both the enqueue and the wait. A full channel blocks the
// caller (backpressure), per spec §2/§5.
func (c Channel) Submit(ctx context.Context, e *nostr.Event) (Outcome, error) {
	result := make(chan Outcome, 1)
	select {
	case c <- Submission{Event: e, Result: result}:
	case <-ctx.Done():
		return Outcome{}, relayerr.Wrap(relayerr.Cancelled, ctx.Err(), "submitting event")
	}
	select {
	case o := <-result:
		return o, nil
	case <-ctx.Done():
		return Outcome{}, relayerr.Wrap(relayerr.Cancelled, ctx.Err(), "awaiting writer outcome")
	}
}

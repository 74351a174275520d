// Package ingest implements the single-writer funnel of spec §4.3: one
// goroutine drains a bounded submission channel, applies authorization,
// NIP-05 gating, persistence, and the replacement/deletion rules, then
// publishes every successfully admitted event onto the broadcast bus.
package ingest

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"relay.dev/broadcast"
	"relay.dev/config"
	"relay.dev/internal/chk"
	"relay.dev/internal/lol"
	"relay.dev/internal/relayerr"
	"relay.dev/nostr"
	"relay.dev/store"
)

// Outcome is what the Writer reports back to the handler that submitted an
// event, shaped after the wire OK frame of spec §6: `OK id accepted reason`.
type Outcome struct {
	Accepted bool
	Reason   string // "saved", "duplicate: ...", "blocked: ...", "error: ..."
}

// Submission pairs one event with the channel its outcome is reported on.
// Result is always buffered by at least 1 so the Writer never blocks
// delivering it.
type Submission struct {
	Event  *nostr.Event
	Result chan<- Outcome
}

// Whitelist gates which authors the Writer admits. A nil or empty
// Whitelist admits everyone.
type Whitelist struct {
	pubkeys map[string]struct{}
}

// NewWhitelist builds a Whitelist from a set of lowercase-hex pubkeys.
func NewWhitelist(pubkeys []string) *Whitelist {
	if len(pubkeys) == 0 {
		return nil
	}
	w := &Whitelist{pubkeys: make(map[string]struct{}, len(pubkeys))}
	for _, pk := range pubkeys {
		w.pubkeys[pk] = struct{}{}
	}
	return w
}

// Allows reports whether e's author or delegator is on the list.
func (w *Whitelist) Allows(e *nostr.Event) bool {
	if w == nil {
		return true
	}
	if _, ok := w.pubkeys[e.Pubkey]; ok {
		return true
	}
	if e.DelegatedBy != "" {
		_, ok := w.pubkeys[e.DelegatedBy]
		return ok
	}
	return false
}

// Writer is the sole path that may write to the event store (spec §4.3).
type Writer struct {
	cfg       *config.C
	repo      store.I
	bus       *broadcast.Bus
	whitelist *Whitelist
	submitCh  <-chan Submission
	nip05Ch   chan<- *nostr.Event

	limiter *rate.Limiter

	freshness           time.Duration
	writesSinceOptimize int
	seq                 uint64
}

// New constructs a Writer. submitCh is the bounded submission channel fed
// by connection handlers; nip05Ch, if non-nil, receives every kind-0 event
// unless VerifiedUsersMode is disabled, so the NIP-05 worker can refresh its
// claims (spec §4.3 step 2).
func New(cfg *config.C, repo store.I, bus *broadcast.Bus, submitCh <-chan Submission, nip05Ch chan<- *nostr.Event) *Writer {
	w := &Writer{
		cfg:       cfg,
		repo:      repo,
		bus:       bus,
		whitelist: NewWhitelist(cfg.PubkeyWhitelist),
		submitCh:  submitCh,
		nip05Ch:   nip05Ch,
		freshness: time.Duration(cfg.VerifiedUsersFreshMs) * time.Millisecond,
	}
	if cfg.MessagesPerSec > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(cfg.MessagesPerSec), cfg.MessagesPerSec)
	}
	return w
}

// Run processes submissions until ctx is cancelled or submitCh is closed.
// On cancellation it returns once the in-flight event is finished;
// submissions still queued in the channel are not processed.
func (w *Writer) Run(ctx context.Context) {
	lol.I.F("writer started")
	for {
		select {
		case <-ctx.Done():
			lol.I.F("writer stopping")
			return
		case sub, ok := <-w.submitCh:
			if !ok {
				return
			}
			w.process(ctx, sub)
		}
	}
}

// publish hands e to the bus under the Writer's own commit-order sequence
// number. Every publish, ephemeral or persisted, draws from this single
// counter rather than storage's per-backend serial: the two are not
// comparable, and transport/ws relies on Envelope.Seq being one global
// monotone sequence to gate live events against a subscription's
// historical-query snapshot (spec §5/§9).
func (w *Writer) publish(e *nostr.Event) {
	w.seq++
	w.bus.Publish(broadcast.Envelope{Seq: w.seq, Event: e})
}

func (w *Writer) process(ctx context.Context, sub Submission) {
	e := sub.Event
	report := func(o Outcome) {
		select {
		case sub.Result <- o:
		default:
		}
	}

	// Step 1: authorization.
	if !w.whitelist.Allows(e) {
		lol.T.F("blocked unauthorized pubkey %s", e.Pubkey)
		report(Outcome{Accepted: false, Reason: "blocked: pubkey is not whitelisted"})
		return
	}

	// Step 2: NIP-05 gating. Metadata events are forwarded to the verifier
	// whenever verification is consulted at all (passive or enabled);
	// disabled mode skips the worker entirely rather than doing idle work.
	if e.Kind == nostr.Metadata && w.nip05Ch != nil && w.cfg.VerifiedUsersMode != config.VerifiedDisabled {
		select {
		case w.nip05Ch <- e:
		default:
			lol.W.F("nip05 worker channel full, dropping refresh request for %s", e.Pubkey)
		}
	}
	if w.cfg.VerifiedUsersMode == config.VerifiedEnabled {
		rec, err := w.repo.GetLatestVerificationByPubkey(ctx, e.Pubkey)
		if chk.E(err) {
			report(Outcome{Accepted: false, Reason: "error: verification lookup failed"})
			return
		}
		if !rec.IsValid(w.freshness) {
			report(Outcome{Accepted: false, Reason: "blocked: NIP-05 verification missing or stale"})
			return
		}
	}

	// Step 3: ephemeral shortcut.
	if e.Kind.IsEphemeral() {
		w.publish(e)
		report(Outcome{Accepted: true, Reason: "saved"})
		return
	}

	// Step 10 (gate, not drop): a configured writes-per-second quota
	// blocks here until a token is available, so the writer never drops
	// an event — it just falls behind (spec §4.3 step 10).
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			report(Outcome{Accepted: false, Reason: "error: cancelled while rate limited"})
			return
		}
	}

	// Steps 4-7: persistence, tag indexing, replacement, deletion.
	added, _, err := w.repo.WriteEvent(ctx, e)
	if err != nil {
		if relayerr.Fatal(err) {
			lol.F.F("storage fatal error, writer halting: %v", err)
		}
		chk.E(err)
		report(Outcome{Accepted: false, Reason: "error: storage failure"})
		return
	}
	if added == 0 {
		report(Outcome{Accepted: false, Reason: "duplicate: event already stored or superseded"})
		return
	}

	// Step 8: commit, publish, reply.
	w.publish(e)
	report(Outcome{Accepted: true, Reason: "saved"})

	// Step 9: optimizer trigger.
	w.writesSinceOptimize++
	if w.writesSinceOptimize >= store.EventCountOptimizeTrigger {
		w.writesSinceOptimize = 0
		if err := w.repo.Optimize(ctx); chk.E(err) {
			lol.W.F("optimize failed: %v", err)
		}
	}
}

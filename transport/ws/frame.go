package ws

import (
	"context"
	"time"

	"relay.dev/conn"
	"relay.dev/internal/chk"
	"relay.dev/internal/lol"
	"relay.dev/nostr"
)

func (sess *session) handleFrame(ctx context.Context, raw []byte) {
	env, err := nostr.ParseClientEnvelope(raw)
	if err != nil {
		sess.sendNotice(err.Error())
		return
	}
	switch e := env.(type) {
	case *nostr.EventEnvelope:
		sess.handleEvent(ctx, e.Event)
	case *nostr.ReqEnvelope:
		sess.handleReq(ctx, e)
	case *nostr.CloseEnvelope:
		sess.c.Unsubscribe(e.SubID)
		delete(sess.live, e.SubID)
	case *nostr.AuthEnvelope:
		sess.handleAuth(e.Event)
	}
}

func (sess *session) handleEvent(ctx context.Context, e *nostr.Event) {
	if e.SizeBytes() > sess.Cfg.MaxEventBytes {
		sess.sendOK(e.ID, false, "invalid: event exceeds max size")
		return
	}
	if err := e.Validate(); err != nil {
		sess.sendOK(e.ID, false, "invalid: "+err.Error())
		return
	}
	if sess.Cfg.AuthRequired && sess.c.Auth.State() != conn.AuthPubkey {
		sess.sendOK(e.ID, false, "auth-required: publishing requires authentication")
		return
	}
	if sess.c.PubLimiter != nil && !sess.c.PubLimiter.Allow() {
		sess.sendOK(e.ID, false, "rate-limited: slow down")
		return
	}
	outcome, err := sess.Submit.Submit(ctx, e)
	if chk.E(err) {
		sess.sendOK(e.ID, false, "error: "+err.Error())
		return
	}
	sess.sendOK(e.ID, outcome.Accepted, outcome.Reason)
}

// handleReq installs the subscription, captures the bus sequence it must
// be gated against, and spawns its historical drain (spec §4.1, §5).
func (sess *session) handleReq(ctx context.Context, req *nostr.ReqEnvelope) {
	sub := &nostr.Subscription{ID: req.SubID, Filters: req.Filters}
	queryCtx, cancel := context.WithCancel(ctx)
	if err := sess.c.Subscribe(sub, cancel); err != nil {
		cancel()
		sess.sendNotice(err.Error())
		return
	}
	sess.epoch++
	epoch := sess.epoch
	sess.live[sub.ID] = &liveSub{epoch: epoch, snapshot: sess.Bus.CurrentSeq()}
	go sess.runHistoricalQuery(queryCtx, sub, epoch)
}

func (sess *session) runHistoricalQuery(ctx context.Context, sub *nostr.Subscription, epoch uint64) {
	out := make(chan *nostr.Event, 64)
	go func() {
		if err := sess.Repo.QueryEvents(ctx, sub, out); chk.E(err) {
			lol.W.F("historical query failed for %s: %v", sub.ID, err)
		}
	}()
	for e := range out {
		sess.sendEvent(sub.ID, e)
	}
	select {
	case <-ctx.Done():
		return
	default:
	}
	select {
	case sess.done <- historicalDone{subID: sub.ID, epoch: epoch}:
	case <-ctx.Done():
	}
}

func (sess *session) sendEOSE(subID string) {
	b, err := nostr.EncodeEOSE(subID)
	if chk.E(err) {
		return
	}
	_ = sess.l.writeText(b)
}

func (sess *session) handleAuth(e *nostr.Event) {
	if err := sess.c.Auth.Authenticate(e, sess.Cfg.RelayURL, time.Now()); err != nil {
		sess.sendOK(e.ID, false, "restricted: "+err.Error())
		return
	}
	sess.sendOK(e.ID, true, "")
}

package ws

import (
	"context"
	"net/http"
	"time"

	"relay.dev/broadcast"
	"relay.dev/config"
	"relay.dev/conn"
	"relay.dev/ingest"
	"relay.dev/internal/chk"
	"relay.dev/internal/lol"
	"relay.dev/nostr"
	"relay.dev/store"
	"relay.dev/transport"

	"github.com/fasthttp/websocket"
)

// Server upgrades HTTP requests to websockets and runs the per-connection
// handler loop of spec §4.1.
type Server struct {
	Cfg    *config.C
	Repo   store.I
	Bus    *broadcast.Bus
	Submit ingest.Channel
}

// NewServer constructs a Server.
func NewServer(cfg *config.C, repo store.I, bus *broadcast.Bus, submit ingest.Channel) *Server {
	return &Server{Cfg: cfg, Repo: repo, Bus: bus, Submit: submit}
}

// liveSub tracks, for one subscription id, how live broadcast events are
// gated against its historical backfill (spec §5: "historical rows
// complete before EOSE and before any live event for that subscription is
// emitted"; spec §9: "drop-if-older-than-query-snapshot, re-delivered if
// within bounds"). snapshot is the bus sequence captured when the
// subscription was installed, before its historical query ran: a live
// envelope at or below it is assumed already covered by the historical
// read and dropped, one above it is buffered until EOSE has been sent for
// this subscription, then flushed in commit order.
type liveSub struct {
	epoch    uint64
	snapshot uint64
	ready    bool
	buf      []*nostr.Event
}

// historicalDone signals that one subscription's historical drain finished
// reading rows from storage and is ready for its EOSE plus buffer flush.
type historicalDone struct {
	subID string
	epoch uint64
}

// session is the mutable state of one connection, owned by exactly one
// goroutine: ServeHTTP's select loop below. The historical-query goroutine
// and the pinger goroutine only ever write to the socket (serialized by
// listener's own mutex) or signal back over sess.done; they never touch
// sess.live directly, which is what keeps EOSE/live-event ordering race
// free without an extra lock.
type session struct {
	*Server
	l     *listener
	c     *conn.Client
	live  map[string]*liveSub
	done  chan historicalDone
	epoch uint64
}

// ServeHTTP upgrades the connection and runs its handler loop until the
// socket closes or the server shuts down.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := Upgrader.Upgrade(w, r, nil)
	if chk.E(err) {
		return
	}
	l := newListener(wsConn)
	ip := transport.RemoteAddr(r)
	sess := &session{
		Server: s,
		l:      l,
		c:      conn.New(ip, s.Cfg.MaxSubscriptions, conn.NewPubLimiter(s.Cfg, ip)),
		live:   make(map[string]*liveSub),
		done:   make(chan historicalDone, 8),
	}

	ctx, cancel := context.WithCancel(context.Background())
	broadcastCh, unsubscribe := s.Bus.Subscribe()
	defer func() {
		cancel()
		unsubscribe()
		sess.c.CloseAll()
		_ = l.close()
	}()

	wsConn.SetReadLimit(s.Cfg.MaxWSMessageBytes)
	_ = wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		_ = wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if s.Cfg.AuthRequired {
		nonce := sess.c.Auth.GenerateChallenge()
		if b, eerr := nostr.EncodeAuthChallenge(nonce); eerr == nil {
			_ = l.writeText(b)
		}
	}

	go s.pinger(ctx, l)

	incoming := make(chan []byte, 16)
	go s.readLoop(wsConn, incoming, cancel)

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-broadcastCh:
			if !ok {
				return
			}
			sess.dispatch(env)
		case msg, ok := <-incoming:
			if !ok {
				return
			}
			sess.handleFrame(ctx, msg)
		case d, ok := <-sess.done:
			if !ok {
				return
			}
			sess.finishHistorical(d)
		}
	}
}

// dispatch routes one broadcast envelope to every subscription it matches,
// gating delivery against that subscription's historical drain state.
func (sess *session) dispatch(env broadcast.Envelope) {
	for _, sub := range sess.c.MatchingSubscriptions(env.Event) {
		ls, ok := sess.live[sub.ID]
		if !ok {
			continue
		}
		if !ls.ready {
			if env.Seq > ls.snapshot {
				ls.buf = append(ls.buf, env.Event)
			}
			continue
		}
		sess.sendEvent(sub.ID, env.Event)
	}
}

// finishHistorical sends EOSE for a subscription once its historical drain
// completes, then flushes whatever live events arrived during the drain,
// in the order they were observed, before marking it fully live.
func (sess *session) finishHistorical(d historicalDone) {
	ls, ok := sess.live[d.subID]
	if !ok || ls.epoch != d.epoch {
		return // stale signal from a closed or superseded subscription
	}
	sess.sendEOSE(d.subID)
	buffered := ls.buf
	ls.buf = nil
	ls.ready = true
	for _, e := range buffered {
		sess.sendEvent(d.subID, e)
	}
}

func (s *Server) pinger(ctx context.Context, l *listener) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.writePing(); chk.E(err) {
				return
			}
		}
	}
}

func (s *Server) readLoop(wsConn *websocket.Conn, out chan<- []byte, cancel context.CancelFunc) {
	defer close(out)
	defer cancel()
	for {
		typ, msg, err := wsConn.ReadMessage()
		if err != nil {
			if isUnexpectedClose(err) {
				lol.W.F("unexpected websocket close: %v", err)
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		out <- msg
	}
}

func (sess *session) sendEvent(subID string, e *nostr.Event) {
	b, err := nostr.EncodeEvent(subID, e)
	if chk.E(err) {
		return
	}
	_ = sess.l.writeText(b)
}

func (sess *session) sendNotice(msg string) {
	b, err := nostr.EncodeNotice(msg)
	if chk.E(err) {
		return
	}
	_ = sess.l.writeText(b)
}

func (sess *session) sendOK(eventID string, accepted bool, reason string) {
	b, err := nostr.EncodeOK(eventID, accepted, reason)
	if chk.E(err) {
		return
	}
	_ = sess.l.writeText(b)
}

// Package ws implements the websocket connection handler of spec §4.1: it
// upgrades an HTTP request, reads client frames, drives one conn.Client's
// authentication and subscription state, and writes back matching events.
package ws

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait / 2
)

// Upgrader is shared across all connections; origin checking is left open
// since Nostr clients are browser and non-browser alike and the relay has
// no session-cookie attack surface to protect.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// listener serializes writes to one underlying websocket connection, since
// *websocket.Conn forbids concurrent writers.
type listener struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newListener(conn *websocket.Conn) *listener {
	return &listener{conn: conn}
}

func (l *listener) writeText(p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := l.conn.WriteMessage(websocket.TextMessage, p)
	if err != nil && strings.Contains(err.Error(), "close sent") {
		return nil
	}
	return err
}

func (l *listener) writePing() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return l.conn.WriteMessage(websocket.PingMessage, nil)
}

func (l *listener) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.Close()
}

func isUnexpectedClose(err error) bool {
	return websocket.IsUnexpectedCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure,
	)
}

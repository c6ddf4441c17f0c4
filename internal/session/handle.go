// Package session tracks which traders are currently reachable for
// notifications. The registry owns sessions: nothing else mutates them.
package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Handle is a trader's live notification channel.
type Handle interface {
	// Send delivers one message, JSON-encoded.
	Send(v any) error
	// Ping probes the peer within timeout. An error means the peer is gone.
	Ping(timeout time.Duration) error
	Close() error
}

var errHandleClosed = errors.New("session handle closed")

// WSHandle adapts a gorilla websocket connection to Handle. Gorilla permits
// one concurrent writer, so all data writes go through the mutex.
type WSHandle struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
	closed       atomic.Bool
}

func NewWSHandle(conn *websocket.Conn, writeTimeout time.Duration) *WSHandle {
	return &WSHandle{conn: conn, writeTimeout: writeTimeout}
}

func (h *WSHandle) Send(v any) error {
	if h.closed.Load() {
		return errHandleClosed
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	return h.conn.WriteJSON(v)
}

func (h *WSHandle) Ping(timeout time.Duration) error {
	if h.closed.Load() {
		return errHandleClosed
	}
	return h.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

func (h *WSHandle) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	return h.conn.Close()
}

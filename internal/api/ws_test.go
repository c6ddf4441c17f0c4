package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func handshake(t *testing.T, srv *httptest.Server, op, trader, password string) *websocket.Conn {
	t.Helper()
	conn := dialWS(t, srv)
	require.NoError(t, conn.WriteJSON(authFrame{Op: op, Trader: trader, Password: password}))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]string
	require.NoError(t, json.Unmarshal(msg, &frame))
	return frame
}

func TestSessionHandshake(t *testing.T) {
	t.Run("register yields a welcome and a live session", func(t *testing.T) {
		f := newFixture(t)
		srv := httptest.NewServer(f.router)
		defer srv.Close()

		conn := handshake(t, srv, "register", "alice", testPassword)
		frame := readFrame(t, conn)
		assert.Equal(t, "ok", frame["status"])
		assert.Equal(t, "alice", frame["trader"])

		// The session authorizes REST calls for the same trader.
		f.bank.Open("alice", 100)
		rec := f.do(t, "POST", "/api/v1/sell",
			`{"trader":"alice","name":"hammer","price":"25","quantity":1}`)
		assert.Equal(t, 200, rec.Code)
	})

	t.Run("login with the wrong password is refused", func(t *testing.T) {
		f := newFixture(t)
		srv := httptest.NewServer(f.router)
		defer srv.Close()

		conn := handshake(t, srv, "register", "alice", testPassword)
		readFrame(t, conn)
		conn.Close()

		conn = handshake(t, srv, "login", "alice", "wrong-password")
		frame := readFrame(t, conn)
		assert.Contains(t, frame["error"], "password")
	})

	t.Run("unknown op is refused", func(t *testing.T) {
		f := newFixture(t)
		srv := httptest.NewServer(f.router)
		defer srv.Close()

		conn := handshake(t, srv, "subscribe", "alice", testPassword)
		frame := readFrame(t, conn)
		assert.Equal(t, "op must be login or register", frame["error"])
	})

	t.Run("handshake requires trader and password", func(t *testing.T) {
		f := newFixture(t)
		srv := httptest.NewServer(f.router)
		defer srv.Close()

		conn := handshake(t, srv, "login", "alice", "")
		frame := readFrame(t, conn)
		assert.Equal(t, "trader and password are required", frame["error"])
	})
}

func TestSessionNotificationDelivery(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	carol := handshake(t, srv, "register", "carol", testPassword)
	readFrame(t, carol)

	rec := f.do(t, "POST", "/api/v1/wish",
		`{"trader":"carol","name":"hammer","max_price":"30","quantity":1}`)
	require.Equal(t, 201, rec.Code)

	alice := handshake(t, srv, "register", "alice", testPassword)
	readFrame(t, alice)
	f.bank.Open("alice", 100)

	rec = f.do(t, "POST", "/api/v1/sell",
		`{"trader":"alice","name":"hammer","price":"25","quantity":2}`)
	require.Equal(t, 200, rec.Code)

	frame := readFrame(t, carol)
	assert.Equal(t, "availability", frame["kind"])
	assert.Contains(t, frame["body"], "hammer")
}

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/punchamoorthee/marketops/internal/domain"
	"github.com/punchamoorthee/marketops/internal/service"
	"github.com/punchamoorthee/marketops/internal/session"
)

var activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "market_active_sessions",
	Help: "Currently connected trader sessions",
})

const handshakeTimeout = 5 * time.Second

// WSHandler owns the websocket endpoint. register and login carry the
// callback handle, so they ride the connection handshake; after a successful
// handshake the connection is the trader's notification channel until it
// closes or the session is evicted.
type WSHandler struct {
	market       *service.Market
	registry     *session.Registry
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
	log          *zap.Logger
}

func NewWSHandler(market *service.Market, registry *session.Registry, writeTimeout time.Duration, log *zap.Logger) *WSHandler {
	return &WSHandler{
		market:       market,
		registry:     registry,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

type authFrame struct {
	Op       string `json:"op"`
	Trader   string `json:"trader"`
	Password string `json:"password"`
}

type welcomeFrame struct {
	Status string `json:"status"`
	Trader string `json:"trader"`
}

func (s *WSHandler) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		auth, ok := s.readAuth(conn)
		if !ok {
			return
		}

		h := session.NewWSHandle(conn, s.writeTimeout)
		switch auth.Op {
		case "register":
			err = s.market.Register(r.Context(), auth.Trader, auth.Password, h)
		case "login":
			err = s.market.Login(r.Context(), auth.Trader, auth.Password, h)
		default:
			s.closeWith(conn, "op must be login or register")
			return
		}
		if err != nil {
			if !domain.IsRejection(err) {
				s.log.Error("session handshake failed",
					zap.String("trader", auth.Trader), zap.Error(err))
				s.closeWith(conn, "system unavailable")
				return
			}
			s.closeWith(conn, err.Error())
			return
		}

		if err := h.Send(welcomeFrame{Status: "ok", Trader: auth.Trader}); err != nil {
			s.registry.EvictHandle(auth.Trader, h)
			return
		}

		activeSessions.Inc()
		defer activeSessions.Dec()

		// The connection now only carries server-pushed notifications.
		// Reading keeps ping/pong processing alive and detects the close.
		_ = conn.SetReadDeadline(time.Time{})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		s.registry.EvictHandle(auth.Trader, h)
	}
}

func (s *WSHandler) readAuth(conn *websocket.Conn) (authFrame, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return authFrame{}, false
	}

	var auth authFrame
	if err := json.Unmarshal(msg, &auth); err != nil {
		s.closeWith(conn, "malformed handshake frame")
		return authFrame{}, false
	}
	if auth.Trader == "" || auth.Password == "" {
		s.closeWith(conn, "trader and password are required")
		return authFrame{}, false
	}
	return auth, true
}

func (s *WSHandler) closeWith(conn *websocket.Conn, msg string) {
	_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	_ = conn.WriteJSON(map[string]string{"error": msg})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg),
		time.Now().Add(time.Second))
}

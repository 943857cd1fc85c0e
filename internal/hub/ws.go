package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"fruitripe.dev/chamber-hub/internal/auth"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum control message size allowed from peer.
	maxMessageSize = 512

	// Time allowed to complete the WebSocket handshake.
	handshakeTimeout = 10 * time.Second

	// Budget for the ownership lookup behind a join.
	joinTimeout = 5 * time.Second
)

// roomPrefix is the naming scheme for chamber rooms: "chamber_<id>".
const roomPrefix = "chamber_"

// TokenVerifier statelessly validates access tokens at connect time.
// Implemented by the auth service.
type TokenVerifier interface {
	VerifyAccessToken(token string) (*auth.Claims, error)
}

// controlMessage is the shape of client control frames.
type controlMessage struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

// WSHandler upgrades authenticated viewers to WebSocket sessions and wires
// them into the hub.
type WSHandler struct {
	hub      *Hub
	verifier TokenVerifier
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// WSConfig holds the settings for the WebSocket handler.
type WSConfig struct {
	// AllowedOrigins restricts browser origins. "*" allows all.
	AllowedOrigins []string
}

// NewWSHandler creates the WebSocket endpoint handler.
func NewWSHandler(h *Hub, verifier TokenVerifier, logger *slog.Logger, cfg WSConfig) (*WSHandler, error) {
	if h == nil {
		return nil, errors.New("hub cannot be nil")
	}
	if verifier == nil {
		return nil, errors.New("token verifier cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	allowAll := false
	origins := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			allowAll = true
		}
		origins[o] = struct{}{}
	}

	return &WSHandler{
		hub:      h,
		verifier: verifier,
		logger:   logger,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					// Non-browser client.
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
	}, nil
}

// ServeHTTP authenticates the handshake, upgrades the connection, and runs
// the session's read and write loops. Connection establishment is rejected
// outright when token verification fails.
func (ws *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := ws.verifier.VerifyAccessToken(bearerToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	session := NewSession(claims.UserID)
	if ws.hub.metrics != nil {
		ws.hub.metrics.ActiveSessions.Inc()
	}

	ws.logger.Info("viewer connected",
		"session_id", session.ID,
		"user_id", session.UserID,
	)

	go ws.writePump(session, conn)
	go ws.readPump(session, conn)
}

// readPump consumes control frames until the connection dies, then detaches
// the session from every room.
func (ws *WSHandler) readPump(s *Session, conn *websocket.Conn) {
	defer func() {
		ws.hub.Detach(s)
		_ = conn.Close()
		if ws.hub.metrics != nil {
			ws.hub.metrics.ActiveSessions.Dec()
		}
		ws.logger.Info("viewer disconnected", "session_id", s.ID)
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.logger.Warn("websocket read error", "session_id", s.ID, "error", err)
			}
			return
		}

		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			ws.logger.Debug("ignoring malformed control message", "session_id", s.ID)
			continue
		}

		chamberID, ok := parseRoom(msg.Room)
		if !ok {
			continue
		}

		switch msg.Action {
		case "join_room":
			ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
			ws.hub.Join(ctx, s, chamberID)
			cancel()
		case "leave_room":
			ws.hub.Leave(s, chamberID)
		}
	}
}

// writePump drains the session outbox onto the wire in order and keeps the
// connection alive with pings.
func (ws *WSHandler) writePump(s *Session, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-s.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case payload := <-s.Outbox():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// bearerToken extracts the access token from the Authorization header or,
// for browser WebSocket clients that cannot set headers, the token query
// parameter.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// parseRoom extracts the chamber id from a "chamber_<id>" room name.
// Anything that is not a finite positive identifier is rejected.
func parseRoom(room string) (uint, bool) {
	raw, found := strings.CutPrefix(room, roomPrefix)
	if !found {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/onnwee/swrcache/internal/apierr"
	"github.com/onnwee/swrcache/internal/engine"
	"github.com/onnwee/swrcache/internal/logger"
	"github.com/onnwee/swrcache/internal/metrics"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// Updates buffered per connection before new ones are dropped
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// KeyMessage is one frame on a key subscription.
type KeyMessage struct {
	Type string `json:"type"` // "snapshot" or "update"
	Key  string `json:"key"`
	Data any    `json:"data"`
}

// WebSocketHandler streams writes to a single key over a websocket.
type WebSocketHandler struct {
	eng *engine.Engine
}

// NewWebSocketHandler creates a websocket handler over eng's subscription bus.
func NewWebSocketHandler(eng *engine.Engine) *WebSocketHandler {
	return &WebSocketHandler{eng: eng}
}

// HandleWebSocket upgrades the connection and forwards every write to the
// key until the peer goes away. The current cached value, if any, is sent
// first as a snapshot.
// GET /ws/keys/{key}
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if key == "" {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("key"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnContext(r.Context(), "WebSocket upgrade failed", "error", err)
		return
	}
	metrics.WebSocketConnections.Inc()
	defer metrics.WebSocketConnections.Dec()

	send := make(chan []byte, sendBuffer)
	if data, ok := h.eng.GetCached(key); ok {
		if msg, err := json.Marshal(KeyMessage{Type: "snapshot", Key: key, Data: data}); err == nil {
			send <- msg
		}
	}

	unsubscribe := h.eng.SubscribeKey(key, func(data any) {
		msg, err := json.Marshal(KeyMessage{Type: "update", Key: key, Data: data})
		if err != nil {
			logger.Warn("Failed to marshal key update", "key", key, "error", err)
			return
		}
		select {
		case send <- msg:
		default:
			logger.Warn("WebSocket send buffer full, dropping update", "key", key)
		}
	})
	defer unsubscribe()

	done := make(chan struct{})
	go readPump(conn, done)
	writePump(conn, send, done)
}

// readPump drains the peer so control frames are processed; it closes done
// when the connection ends.
func readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket unexpected close", "error", err)
			}
			return
		}
	}
}

// writePump sends queued updates and pings until the reader stops.
func writePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case message := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			metrics.WebSocketMessagesSent.Inc()
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

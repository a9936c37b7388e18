package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"fleetwatch/internal/broadcast"
	"fleetwatch/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Hub upgrades HTTP connections to websockets and bridges each one onto a
// broadcaster subscription. Every connected client gets alerts and telemetry
// as they are published; a client that falls behind has events dropped by the
// broadcaster's per-subscriber queue, never blocking the rest.
type Hub struct {
	broadcaster *broadcast.Broadcaster
	upgrader    websocket.Upgrader
	log         zerolog.Logger
}

// NewHub creates the websocket hub.
func NewHub(broadcaster *broadcast.Broadcaster) *Hub {
	return &Hub{
		broadcaster: broadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The engine carries no auth; origin checks belong to a fronting proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logger.WithComponent("ws_hub"),
	}
}

// ServeHTTP handles GET /ws
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	sub := h.broadcaster.Subscribe()
	h.log.Info().Str("subscriber_id", sub.ID).Str("remote_addr", r.RemoteAddr).Msg("websocket client connected")

	go h.writePump(conn, sub)
	go h.readPump(conn, sub)
}

// writePump forwards broadcast events to the client until the subscription
// closes or a write fails.
func (h *Hub) writePump(conn *websocket.Conn, sub *broadcast.Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.broadcaster.Unsubscribe(sub)
		conn.Close()
	}()

	for {
		select {
		case event, ok := <-sub.C:
			if !ok {
				conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				h.log.Debug().Err(err).Str("subscriber_id", sub.ID).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound messages and tears the connection down on close.
func (h *Hub) readPump(conn *websocket.Conn, sub *broadcast.Subscriber) {
	defer func() {
		h.broadcaster.Unsubscribe(sub)
		conn.Close()
		h.log.Info().Str("subscriber_id", sub.ID).Msg("websocket client disconnected")
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

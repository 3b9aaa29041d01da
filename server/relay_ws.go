package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// ServeWS upgrades the request and runs the connection until either side
// closes it. Leaving is implicit on disconnect.
func (h *Hub) ServeWS(up *websocket.Upgrader, maxMessage int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already answered the client.
			h.log.Debug("ws upgrade", "err", err)
			return
		}
		s := h.newSubscriber()
		done := make(chan struct{})
		go func() {
			h.writePump(conn, s)
			close(done)
		}()
		h.readPump(conn, s, maxMessage)
		h.Drop(s)
		<-done
	}
}

func (h *Hub) readPump(conn *websocket.Conn, s *subscriber, maxMessage int64) {
	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.log.Debug("ws read", "err", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		h.Handle(s, msg)
	}
}

// writePump owns every write on conn. It returns once the subscriber queue
// is closed or a write fails.
func (h *Hub) writePump(conn *websocket.Conn, s *subscriber) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

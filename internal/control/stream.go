package control

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lowaak/treadmill-pacer/internal/app"
	"github.com/lowaak/treadmill-pacer/internal/pacer"
	"github.com/lowaak/treadmill-pacer/internal/safego"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// local control surface; bind http_addr to loopback to keep it private
		return true
	},
}

// Stream handles GET /v1/session/stream. It pushes every session snapshot,
// starting with the current one, and accepts command frames.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("Control: WebSocket upgrade failed: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	states := make(chan pacer.SessionState, 16)
	unregister := h.sessions.Listen(states)
	defer unregister()

	replies := make(chan StreamMessage, 4)
	closed := make(chan struct{})
	safego.Go(h.logger, func() {
		defer close(closed)
		h.readCommands(conn, replies)
	})

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		var msg StreamMessage
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case state := <-states:
			msg = StreamMessage{Type: MessageState, State: &state}
		case msg = <-replies:
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			h.logger.Printf("Control: WebSocket write failed: %v", err)
			return
		}
	}
}

// readCommands applies command frames until the connection closes. Only
// failures are answered; success shows up as the next state frame.
func (h *Handler) readCommands(conn *websocket.Conn, replies chan<- StreamMessage) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var msg StreamMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != MessageCommand {
			reply(replies, StreamMessage{Type: MessageError, Error: "expected a command frame"})
			continue
		}
		if err := h.sessions.Control(msg.SessionID, app.Command(msg.Command)); err != nil {
			reply(replies, StreamMessage{Type: MessageError, SessionID: msg.SessionID, Command: msg.Command, Error: err.Error()})
		}
	}
}

func reply(replies chan<- StreamMessage, msg StreamMessage) {
	select {
	case replies <- msg:
	default:
	}
}

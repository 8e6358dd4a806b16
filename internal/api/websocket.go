package api

import (
	"net/http"
	"time"

	"github.com/RichardoC/localchat/internal/chat"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// The default origin check only accepts pages served by this host.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// StreamState pushes a state snapshot to the client after every change.
// Slow clients skip intermediate snapshots and always get the latest.
func (h *Handler) StreamState(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade the websocket", zap.Error(err))
		return
	}
	defer conn.Close()

	updates := make(chan chat.State, 1)
	push := func(s chat.State) {
		for {
			select {
			case updates <- s:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	}
	unsubscribe := h.session.Subscribe(push)
	defer unsubscribe()
	push(h.session.Snapshot())

	// the client sends nothing; reading surfaces the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	h.logger.Debug("websocket client connected")

	for {
		select {
		case <-closed:
			h.logger.Debug("websocket client disconnected")
			return
		case s := <-updates:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(s); err != nil {
				h.logger.Warn("failed to write state", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

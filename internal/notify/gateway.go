package notify

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const writeWait = 10 * time.Second

// Gateway bridges a user's pub/sub channel to a websocket connection.
type Gateway struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *logrus.Logger
}

func NewGateway(hub *Hub, checkOrigin func(r *http.Request) bool, logger *logrus.Logger) *Gateway {
	if logger == nil {
		logger = logrus.New()
	}
	return &Gateway{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
}

// Serve upgrades the request and relays every message published for userID
// until the client disconnects. The caller must have authenticated userID.
func (g *Gateway) Serve(w http.ResponseWriter, r *http.Request, userID int64) {
	logger := g.logger.WithField("user_id", userID)

	sub, err := g.hub.Subscribe(r.Context(), userID)
	if err != nil {
		logger.Errorf("subscribe: %v", err)
		http.Error(w, "notifications unavailable", http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()
	logger.Debug("user has joined")

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
					logger.Debugf("write to websocket: %v", err)
					// unblocks the read loop below
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType == websocket.TextMessage {
			logger.Debugf("user sent: %s", data)
		}
	}

	cancel()
	<-relayDone
	logger.Debug("user has left")
}

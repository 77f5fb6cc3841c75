package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ukydev/hajj-fleet-dispatch/internal/apperr"
	"github.com/ukydev/hajj-fleet-dispatch/internal/hub"
)

const (
	sendBufferSize = 256
	pingInterval   = 30 * time.Second
	writeTimeout   = 5 * time.Second
	maxFrameBytes  = 64 << 10
)

// EventHandler processes one inbound event of a connection.
type EventHandler interface {
	Handle(ctx context.Context, c *hub.Client, event string, raw json.RawMessage) error
}

// WSHandler upgrades /ws requests and pumps frames between the socket and the hub.
type WSHandler struct {
	hub     *hub.Hub
	events  EventHandler
	origins []string
	logger  logrus.FieldLogger
}

// NewWSHandler creates a websocket handler. origins are the accepted Origin
// patterns; nil accepts any.
func NewWSHandler(h *hub.Hub, events EventHandler, origins []string, logger logrus.FieldLogger) *WSHandler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &WSHandler{hub: h, events: events, origins: origins, logger: logger.WithField("component", "ws")}
}

// inboundFrame is what a client sends: an event name and its payload.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ServeWS accepts the connection and serves it until either side closes.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.WithError(err).Error("Websocket accept failed")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	client := hub.NewClient(uuid.New().String(), sendBufferSize, h.hub.Now())
	h.hub.Register(client)
	h.logger.WithFields(logrus.Fields{"client_id": client.ID, "remote": r.RemoteAddr}).Info("Client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, cancel, conn, client)

	h.readLoop(ctx, conn, client)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close(websocket.StatusNormalClosure, "")
		h.logger.WithFields(logrus.Fields{
			"client_id":     client.ID,
			"connected_for": h.hub.Now().Sub(client.ConnectedAt()).Round(time.Second).String(),
		}).Info("Client disconnected")
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
				h.logger.WithError(err).WithField("client_id", client.ID).Debug("Websocket read error")
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			h.hub.Emit(client, "error", errorResponse{
				Status: apperr.StatusInvalidData,
				Errors: []string{`frame must be {"event": string, "data": object}`},
			})
			continue
		}
		// Failures are already reported to the client by the dispatcher.
		_ = h.events.Handle(ctx, client, frame.Event, frame.Data)
	}
}

// writeLoop drains the client queue to the socket. A closed queue means the
// hub dropped the client (idle sweep or shutdown), so the socket is closed too.
func (h *WSHandler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-client.Send:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "session closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancelWrite()
			if err != nil {
				return
			}

		case <-ticker.C:
			pingCtx, cancelPing := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancelPing()
			if err != nil {
				return
			}
		}
	}
}

package ws

import (
	"encoding/json"
	nethttp "net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"lobbysim/server"
	"lobbysim/server/internal/telemetry"
)

type HandlerConfig struct {
	Logger telemetry.Logger
}

// Handler upgrades HTTP requests into replication sessions and runs the
// per-connection read loop.
type Handler struct {
	hub      *server.Hub
	sessions *Sessions
	logger   telemetry.Logger
	upgrader websocket.Upgrader
}

func NewHandler(hub *server.Hub, sessions *Sessions, cfg HandlerConfig) *Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		hub:      hub,
		sessions: sessions,
		logger:   cfg.Logger,
		upgrader: upgrader,
	}
}

// Handle serves one websocket session. Clients may supply their ID via the
// query string; absent one, a fresh ID is minted.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	clientID := r.URL.Query().Get("id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.printf("upgrade failed for %s: %v", clientID, err)
		return
	}

	// The session must exist before the hub processes the connect event, or
	// the first dispatch pass would find no transport for the client.
	if _, err := h.sessions.Attach(clientID, conn); err != nil {
		h.printf("hello write failed for %s: %v", clientID, err)
		return
	}

	if !h.hub.Connect(clientID) {
		message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "duplicate client")
		conn.WriteMessage(websocket.CloseMessage, message)
		h.sessions.Remove(clientID)
		return
	}

	h.readLoop(clientID, conn)
}

func (h *Handler) readLoop(clientID string, conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.disconnect(clientID)
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.printf("discarding malformed message from %s: %v", clientID, err)
			continue
		}

		switch msg.Type {
		case "heartbeat":
			ack := heartbeatMessage{
				Ver:        server.ProtocolVersion,
				Type:       "heartbeat",
				ServerTime: time.Now().UnixMilli(),
				ClientTime: msg.SentAt,
			}
			data, err := json.Marshal(ack)
			if err != nil {
				h.printf("failed to marshal heartbeat ack for %s: %v", clientID, err)
				continue
			}
			if err := h.writeTo(clientID, data); err != nil {
				h.disconnect(clientID)
				return
			}
		case "spawn":
			if !h.hub.SpawnEntity(msg.Payload, clientID, msg.Label) {
				h.printf("spawn rejected for %s", clientID)
			}
		default:
			h.printf("unknown message type %q from %s", msg.Type, clientID)
		}
	}
}

func (h *Handler) writeTo(clientID string, data []byte) error {
	session, ok := h.sessions.get(clientID)
	if !ok {
		return errNoSession
	}
	return session.write(data)
}

func (h *Handler) disconnect(clientID string) {
	h.sessions.Remove(clientID)
	h.hub.Disconnect(clientID)
}

func (h *Handler) printf(format string, args ...any) {
	if h.logger != nil {
		h.logger.Printf(format, args...)
	}
}

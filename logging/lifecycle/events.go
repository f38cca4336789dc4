package lifecycle

import (
	"context"

	"lobbysim/server/logging"
)

const (
	// EventClientConnected is emitted when a client connection is accepted.
	EventClientConnected logging.EventType = "lifecycle.client_connected"
	// EventClientDisconnected is emitted when a client connection ends.
	EventClientDisconnected logging.EventType = "lifecycle.client_disconnected"
)

// ClientConnectedPayload captures session metadata for a new client.
type ClientConnectedPayload struct {
	SessionID string `json:"sessionId"`
}

// ClientDisconnectedPayload captures the reason a client left.
type ClientDisconnectedPayload struct {
	Reason string `json:"reason"`
}

// ClientConnected publishes a client connect event.
func ClientConnected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ClientConnectedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventClientConnected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// ClientDisconnected publishes a client disconnect event.
func ClientDisconnected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ClientDisconnectedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventClientDisconnected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

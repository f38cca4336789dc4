package replication

import (
	"context"

	"lobbysim/server/logging"
)

const (
	// EventInterestResolved is emitted after a connect event has been mapped to
	// room memberships.
	EventInterestResolved logging.EventType = "replication.interest_resolved"
	// EventBatchDispatched is emitted once per replication interval after
	// directives have been handed to the transport.
	EventBatchDispatched logging.EventType = "replication.batch_dispatched"
	// EventSnapshotPersisted is emitted when a background snapshot write finishes.
	EventSnapshotPersisted logging.EventType = "replication.snapshot_persisted"
	// EventSnapshotFailed is emitted when snapshot serialization or IO fails.
	EventSnapshotFailed logging.EventType = "replication.snapshot_failed"
)

// InterestResolvedPayload summarizes the room work done for one connect event.
type InterestResolvedPayload struct {
	RoomID   string `json:"roomId"`
	Entities int    `json:"entities"`
}

// BatchDispatchedPayload summarizes the directives emitted in one interval.
type BatchDispatchedPayload struct {
	Starts  int `json:"starts"`
	Updates int `json:"updates"`
	Stops   int `json:"stops"`
	Clients int `json:"clients"`
}

// SnapshotPayload describes a snapshot write attempt.
type SnapshotPayload struct {
	Location string `json:"location"`
	Bytes    int    `json:"bytes,omitempty"`
	Error    string `json:"error,omitempty"`
}

// InterestResolved publishes the room assignment outcome for a connect event.
func InterestResolved(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload InterestResolvedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventInterestResolved,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryReplication,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// BatchDispatched publishes a debug event describing one dispatch interval.
func BatchDispatched(ctx context.Context, pub logging.Publisher, tick uint64, payload BatchDispatchedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventBatchDispatched,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryReplication,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// SnapshotPersisted publishes a successful snapshot write.
func SnapshotPersisted(ctx context.Context, pub logging.Publisher, tick uint64, payload SnapshotPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventSnapshotPersisted,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryReplication,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// SnapshotFailed publishes a failed snapshot attempt. Snapshot failures are
// never fatal to the server.
func SnapshotFailed(ctx context.Context, pub logging.Publisher, tick uint64, payload SnapshotPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventSnapshotFailed,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryReplication,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

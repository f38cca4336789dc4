package server

import (
	"sync/atomic"
	"time"
)

type telemetryCounters struct {
	directivesStart    atomic.Uint64
	directivesUpdate   atomic.Uint64
	directivesStop     atomic.Uint64
	deliveryFailures   atomic.Uint64
	tickDurationMillis atomic.Int64
	connectedClients   atomic.Uint64
	roomsActive        atomic.Uint64
	entitiesLive       atomic.Uint64
	snapshotWrites     atomic.Uint64
	snapshotFailures   atomic.Uint64
}

// TelemetrySnapshot is a point-in-time copy of the hub's counters, served on
// the diagnostics endpoint.
type TelemetrySnapshot struct {
	DirectivesStart  uint64 `json:"directivesStart"`
	DirectivesUpdate uint64 `json:"directivesUpdate"`
	DirectivesStop   uint64 `json:"directivesStop"`
	DeliveryFailures uint64 `json:"deliveryFailures"`
	TickDuration     int64  `json:"tickDurationMillis"`
	ConnectedClients uint64 `json:"connectedClients"`
	RoomsActive      uint64 `json:"roomsActive"`
	EntitiesLive     uint64 `json:"entitiesLive"`
	SnapshotWrites   uint64 `json:"snapshotWrites"`
	SnapshotFailures uint64 `json:"snapshotFailures"`
}

func newTelemetryCounters() *telemetryCounters {
	return &telemetryCounters{}
}

func (t *telemetryCounters) RecordDispatch(starts, updates, stops, failures int) {
	t.directivesStart.Add(uint64(max(starts, 0)))
	t.directivesUpdate.Add(uint64(max(updates, 0)))
	t.directivesStop.Add(uint64(max(stops, 0)))
	t.deliveryFailures.Add(uint64(max(failures, 0)))
}

func (t *telemetryCounters) RecordTickDuration(duration time.Duration) {
	millis := duration.Milliseconds()
	if millis < 0 {
		millis = 0
	}
	t.tickDurationMillis.Store(millis)
}

func (t *telemetryCounters) RecordPopulation(clients, roomCount, entities int) {
	t.connectedClients.Store(uint64(max(clients, 0)))
	t.roomsActive.Store(uint64(max(roomCount, 0)))
	t.entitiesLive.Store(uint64(max(entities, 0)))
}

func (t *telemetryCounters) RecordSnapshot(ok bool) {
	if ok {
		t.snapshotWrites.Add(1)
	} else {
		t.snapshotFailures.Add(1)
	}
}

func (t *telemetryCounters) Snapshot() TelemetrySnapshot {
	return TelemetrySnapshot{
		DirectivesStart:  t.directivesStart.Load(),
		DirectivesUpdate: t.directivesUpdate.Load(),
		DirectivesStop:   t.directivesStop.Load(),
		DeliveryFailures: t.deliveryFailures.Load(),
		TickDuration:     t.tickDurationMillis.Load(),
		ConnectedClients: t.connectedClients.Load(),
		RoomsActive:      t.roomsActive.Load(),
		EntitiesLive:     t.entitiesLive.Load(),
		SnapshotWrites:   t.snapshotWrites.Load(),
		SnapshotFailures: t.snapshotFailures.Load(),
	}
}

package server

import (
	"time"

	"lobbysim/server/internal/jobs"
	"lobbysim/server/internal/replication"
	"lobbysim/server/internal/snapshot"
	"lobbysim/server/internal/telemetry"
	"lobbysim/server/logging"
)

const (
	// ProtocolVersion tags every wire envelope sent to clients.
	ProtocolVersion = 1

	defaultTickRate      = 64
	defaultSendInterval  = 100 * time.Millisecond
	defaultSnapshotPath  = "assets/scene.json"
	defaultEventCapacity = 256
)

// HubConfig tunes the hub and carries its injected dependencies.
type HubConfig struct {
	// TickRate is the fixed simulation frequency in ticks per second.
	TickRate int
	// SendInterval is how often the replication dispatcher runs.
	SendInterval time.Duration
	// SnapshotPath is the durable location for entity snapshots.
	SnapshotPath string
	// EventCapacity bounds the pending connection-event queue.
	EventCapacity int

	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Publisher logging.Publisher
	Jobs      *jobs.Runner
	Transport replication.Transport
	Types     *snapshot.TypeRegistry
}

// DefaultHubConfig returns the tuning used in production.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		TickRate:      defaultTickRate,
		SendInterval:  defaultSendInterval,
		SnapshotPath:  defaultSnapshotPath,
		EventCapacity: defaultEventCapacity,
	}
}

func (c HubConfig) withDefaults() HubConfig {
	if c.TickRate <= 0 {
		c.TickRate = defaultTickRate
	}
	if c.SendInterval <= 0 {
		c.SendInterval = defaultSendInterval
	}
	if c.SnapshotPath == "" {
		c.SnapshotPath = defaultSnapshotPath
	}
	if c.EventCapacity <= 0 {
		c.EventCapacity = defaultEventCapacity
	}
	if c.Metrics == nil {
		c.Metrics = telemetry.NopMetrics()
	}
	if c.Publisher == nil {
		c.Publisher = logging.NopPublisher()
	}
	return c
}

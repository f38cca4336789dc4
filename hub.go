// Package server wires the entity registry, room table, interest resolver,
// replication dispatcher, and snapshot codec into a single tick-driven hub.
package server

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"lobbysim/server/internal/interest"
	"lobbysim/server/internal/jobs"
	"lobbysim/server/internal/registry"
	"lobbysim/server/internal/replication"
	"lobbysim/server/internal/rooms"
	"lobbysim/server/internal/snapshot"
	"lobbysim/server/internal/telemetry"
	"lobbysim/server/logging"
	lifecyclelog "lobbysim/server/logging/lifecycle"
	replicationlog "lobbysim/server/logging/replication"
)

// ConnState tracks the lifecycle of one client connection.
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
)

// Fixture values for the representative snapshot entity written on connect.
const (
	snapshotPayloadValue = 2
	snapshotEntityLabel  = "Replicated entity"
)

type clientConn struct {
	ID       string
	State    ConnState
	JoinedAt time.Time
}

type eventKind int

const (
	eventConnect eventKind = iota
	eventDisconnect
	eventSpawn
)

type hubEvent struct {
	kind     eventKind
	clientID string
	payload  int
	carrier  string
	label    string
}

// Hub owns all simulation-side replication state. The registry, room table,
// resolver, and dispatcher are touched only from the tick goroutine; the
// mutex guards the connection map and the pending event queue shared with
// transport goroutines.
type Hub struct {
	cfg       HubConfig
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	publisher logging.Publisher
	jobs      *jobs.Runner
	ownsJobs  bool

	registry   *registry.Registry
	rooms      *rooms.Table
	resolver   *interest.Resolver
	dispatcher *replication.Dispatcher
	codec      *snapshot.Codec
	policy     interest.Policy

	mu      sync.Mutex
	conns   map[string]*clientConn
	pending []hubEvent

	tick          atomic.Uint64
	sinceDispatch time.Duration
	counters      *telemetryCounters
}

// NewHub constructs a hub from the given configuration.
func NewHub(cfg HubConfig) *Hub {
	cfg = cfg.withDefaults()

	reg := registry.New()
	table := rooms.NewTable()
	runner := cfg.Jobs
	ownsJobs := false
	if runner == nil {
		runner = jobs.NewRunner(1, 16, cfg.Logger, cfg.Metrics)
		ownsJobs = true
	}

	h := &Hub{
		cfg:        cfg,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		publisher:  cfg.Publisher,
		jobs:       runner,
		ownsJobs:   ownsJobs,
		registry:   reg,
		rooms:      table,
		resolver:   interest.NewResolver(reg, table, cfg.Publisher, cfg.Metrics),
		dispatcher: replication.NewDispatcher(reg, table, cfg.Transport, cfg.Logger, cfg.Metrics, cfg.Publisher),
		codec:      snapshot.NewCodec(cfg.Types),
		policy:     interest.PolicyNotYetInitialized,
		conns:      make(map[string]*clientConn),
		counters:   newTelemetryCounters(),
	}
	return h
}

// Close releases hub-owned resources. In-flight snapshot writes are drained
// within the context deadline; losing one during shutdown is acceptable.
func (h *Hub) Close(ctx context.Context) error {
	if h.ownsJobs {
		return h.jobs.Close(ctx)
	}
	return nil
}

// Tick reports the current simulation tick.
func (h *Hub) Tick() uint64 { return h.tick.Load() }

// Connect registers a client connection and stages its connect event for the
// next tick. It reports whether the connection was accepted.
func (h *Hub) Connect(clientID string) bool {
	if clientID == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.conns[clientID]; exists {
		return false
	}
	if len(h.pending) >= h.cfg.EventCapacity {
		h.printf("hub: event queue full, rejecting connect from %s", clientID)
		h.metrics.Add("hub.events_dropped", 1)
		return false
	}
	h.conns[clientID] = &clientConn{ID: clientID, State: StateConnecting, JoinedAt: time.Now()}
	h.pending = append(h.pending, hubEvent{kind: eventConnect, clientID: clientID})
	return true
}

// Disconnect removes a client connection and stages its cleanup. Unknown
// clients are a no-op.
func (h *Hub) Disconnect(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.conns[clientID]
	if !ok {
		return
	}
	conn.State = StateDisconnected
	delete(h.conns, clientID)
	// Cleanup must run even when the queue is saturated, or room membership
	// would leak.
	h.pending = append(h.pending, hubEvent{kind: eventDisconnect, clientID: clientID})
}

// SpawnEntity stages a payload-bearing entity for creation on the next tick.
func (h *Hub) SpawnEntity(payload int, carrierID, label string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) >= h.cfg.EventCapacity {
		h.printf("hub: event queue full, dropping spawn")
		h.metrics.Add("hub.events_dropped", 1)
		return false
	}
	h.pending = append(h.pending, hubEvent{kind: eventSpawn, payload: payload, carrier: carrierID, label: label})
	return true
}

// LoadSnapshot restores persisted entities at startup. A missing snapshot is
// normal on first run; a malformed one is logged and the server proceeds with
// an empty registry. Never fatal.
func (h *Hub) LoadSnapshot(ctx context.Context) {
	location := h.cfg.SnapshotPath
	snap, found, err := h.codec.Load(location)
	if err != nil {
		h.printf("hub: snapshot load failed, starting empty: %v", err)
		replicationlog.SnapshotFailed(ctx, h.publisher, h.tick.Load(),
			replicationlog.SnapshotPayload{Location: location, Error: err.Error()}, nil)
		return
	}
	if !found {
		h.printf("hub: no snapshot at %s, starting empty", location)
		return
	}
	ids := snapshot.Instantiate(h.registry, snap)
	h.resolver.ResolveBaseline(ctx, h.tick.Load(), ids)
	h.registry.DrainChanged()
	h.printf("hub: restored %d entities from %s", len(ids), location)
}

// RunSimulation drives the fixed-rate tick loop until the stop channel closes.
func (h *Hub) RunSimulation(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second / time.Duration(h.cfg.TickRate))
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			dt := now.Sub(last)
			if dt <= 0 {
				dt = time.Second / time.Duration(h.cfg.TickRate)
			}
			last = now
			h.advance(now, dt)
		}
	}
}

// advance runs one tick: staged events first, then incremental interest
// resolution, then (on the send-interval boundary) replication dispatch.
// Event processing always completes before dispatch reads target state.
func (h *Hub) advance(now time.Time, dt time.Duration) {
	ctx := context.Background()
	tick := h.tick.Add(1)

	for _, event := range h.drainEvents() {
		switch event.kind {
		case eventConnect:
			h.handleConnect(ctx, tick, event.clientID)
		case eventDisconnect:
			h.handleDisconnect(ctx, tick, event.clientID)
		case eventSpawn:
			opts := []registry.SpawnOption{registry.WithPayload(event.payload)}
			if event.carrier != "" {
				opts = append(opts, registry.WithCarrier(event.carrier))
			}
			if event.label != "" {
				opts = append(opts, registry.WithLabel(event.label))
			}
			h.registry.Spawn(opts...)
		}
	}

	if changed := h.registry.DrainChanged(); len(changed) > 0 {
		h.resolver.ResolveChanged(ctx, h.policy, tick, changed)
	}

	h.sinceDispatch += dt
	if h.sinceDispatch >= h.cfg.SendInterval {
		h.sinceDispatch = 0
		clients := h.connectedClients()
		stats := h.dispatcher.Dispatch(ctx, tick, clients)
		h.counters.RecordDispatch(stats.Starts, stats.Updates, stats.Stops, stats.Failures)
	}

	h.counters.RecordPopulation(h.connCount(), h.rooms.Len(), h.registry.Len())
	h.counters.RecordTickDuration(time.Since(now))
}

func (h *Hub) handleConnect(ctx context.Context, tick uint64, clientID string) {
	// The rooming policy flips to Active when the first connect event is
	// processed and stays there for the process lifetime.
	if h.policy == interest.PolicyNotYetInitialized {
		h.policy = interest.PolicyActive
	}
	h.resolver.ResolveConnect(ctx, h.policy, tick, clientID)

	h.mu.Lock()
	if conn, ok := h.conns[clientID]; ok {
		conn.State = StateConnected
	}
	h.mu.Unlock()

	lifecyclelog.ClientConnected(ctx, h.publisher, tick,
		logging.EntityRef{ID: clientID, Kind: logging.EntityKindClient},
		lifecyclelog.ClientConnectedPayload{SessionID: clientID}, nil)

	h.persistConnectSnapshot(ctx, tick, clientID)
}

func (h *Hub) handleDisconnect(ctx context.Context, tick uint64, clientID string) {
	h.resolver.ResolveDisconnect(ctx, tick, clientID)
	h.dispatcher.Forget(clientID)

	lifecyclelog.ClientDisconnected(ctx, h.publisher, tick,
		logging.EntityRef{ID: clientID, Kind: logging.EntityKindClient},
		lifecyclelog.ClientDisconnectedPayload{Reason: "transport closed"}, nil)
}

// persistConnectSnapshot encodes a snapshot of one representative entity for
// the connecting client and hands the durable write to the background runner.
// Serialization happens on the tick thread against an isolated copy; only the
// IO leaves the loop.
func (h *Hub) persistConnectSnapshot(ctx context.Context, tick uint64, clientID string) {
	views := h.registry.CloneSelected(func(e *registry.Entity) bool {
		return e.Payload() != nil && e.Carrier() != nil && e.Carrier().ClientID == clientID
	})
	if len(views) == 0 {
		views = []registry.View{{
			Payload: &registry.Payload{Value: snapshotPayloadValue},
			Carrier: &registry.Carrier{ClientID: clientID},
			Label:   &registry.Label{Name: snapshotEntityLabel},
		}}
	}
	snap := h.codec.Build(views[:1])

	data, err := h.codec.Encode(snap)
	if err != nil {
		h.printf("hub: snapshot encode failed for %s: %v", clientID, err)
		h.counters.RecordSnapshot(false)
		replicationlog.SnapshotFailed(ctx, h.publisher, tick,
			replicationlog.SnapshotPayload{Location: h.cfg.SnapshotPath, Error: err.Error()}, nil)
		return
	}

	location := h.cfg.SnapshotPath
	publisher := h.publisher
	counters := h.counters
	logger := h.logger
	h.jobs.Submit(jobs.Job{
		Name: "snapshot-persist",
		Run: func() {
			if err := snapshot.Persist(data, location); err != nil {
				if logger != nil {
					logger.Printf("hub: snapshot persist failed: %v", err)
				}
				counters.RecordSnapshot(false)
				replicationlog.SnapshotFailed(context.Background(), publisher, tick,
					replicationlog.SnapshotPayload{Location: location, Error: err.Error()}, nil)
				return
			}
			counters.RecordSnapshot(true)
			replicationlog.SnapshotPersisted(context.Background(), publisher, tick,
				replicationlog.SnapshotPayload{Location: location, Bytes: len(data)}, nil)
		},
	})
}

func (h *Hub) drainEvents() []hubEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) == 0 {
		return nil
	}
	drained := h.pending
	h.pending = nil
	return drained
}

func (h *Hub) connectedClients() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.conns))
	for id, conn := range h.conns {
		if conn.State == StateConnected {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ClientDiagnostics describes one tracked connection on the diagnostics
// endpoint.
type ClientDiagnostics struct {
	ID       string    `json:"id"`
	State    ConnState `json:"state"`
	JoinedAt int64     `json:"joinedAtMillis"`
}

// DiagnosticsSnapshot returns the tracked connections, sorted by client ID.
func (h *Hub) DiagnosticsSnapshot() []ClientDiagnostics {
	h.mu.Lock()
	out := make([]ClientDiagnostics, 0, len(h.conns))
	for _, conn := range h.conns {
		out = append(out, ClientDiagnostics{
			ID:       conn.ID,
			State:    conn.State,
			JoinedAt: conn.JoinedAt.UnixMilli(),
		})
	}
	h.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TelemetrySnapshot returns a copy of the hub's telemetry counters.
func (h *Hub) TelemetrySnapshot() TelemetrySnapshot {
	return h.counters.Snapshot()
}

// TickRate reports the configured simulation frequency.
func (h *Hub) TickRate() int { return h.cfg.TickRate }

func (h *Hub) connCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) printf(format string, args ...any) {
	if h.logger != nil {
		h.logger.Printf(format, args...)
	}
}

// Package replication computes, once per replication interval, the minimal
// set of directives needed to bring each client's visible entity set in line
// with the room table and replication targets.
package replication

import (
	"context"
	"sort"

	"lobbysim/server/internal/registry"
	"lobbysim/server/internal/rooms"
	"lobbysim/server/internal/telemetry"
	"lobbysim/server/logging"
	replicationlog "lobbysim/server/logging/replication"
)

// BatchStats summarizes one dispatch pass.
type BatchStats struct {
	Starts   int
	Updates  int
	Stops    int
	Clients  int
	Failures int
}

// Dispatcher diffs each client's desired visible set against what was last
// delivered and emits start/update/stop directives. It is owned by the tick
// loop; interest resolution for a tick always completes before Dispatch runs.
type Dispatcher struct {
	registry  *registry.Registry
	rooms     *rooms.Table
	transport Transport
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	publisher logging.Publisher

	// clientID -> entityID -> version last delivered.
	delivered map[string]map[registry.EntityID]uint64
}

func NewDispatcher(reg *registry.Registry, table *rooms.Table, transport Transport, logger telemetry.Logger, metrics telemetry.Metrics, publisher logging.Publisher) *Dispatcher {
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Dispatcher{
		registry:  reg,
		rooms:     table,
		transport: transport,
		logger:    logger,
		metrics:   metrics,
		publisher: publisher,
		delivered: make(map[string]map[registry.EntityID]uint64),
	}
}

// Dispatch emits directives for the given connected clients. Returns per-pass
// statistics. Delivery failures are logged and counted, never propagated.
func (d *Dispatcher) Dispatch(ctx context.Context, tick uint64, clients []string) BatchStats {
	stats := BatchStats{Clients: len(clients)}
	broadcast := d.broadcastEntities()

	for _, clientID := range clients {
		desired := d.desiredSet(clientID, broadcast)
		d.reconcile(clientID, desired, &stats)
	}

	d.metrics.Add("replication.directives_start", uint64(stats.Starts))
	d.metrics.Add("replication.directives_update", uint64(stats.Updates))
	d.metrics.Add("replication.directives_stop", uint64(stats.Stops))
	d.metrics.Add("replication.delivery_failures", uint64(stats.Failures))
	d.metrics.Store("replication.clients", uint64(stats.Clients))

	if stats.Starts+stats.Updates+stats.Stops > 0 {
		replicationlog.BatchDispatched(ctx, d.publisher, tick, replicationlog.BatchDispatchedPayload{
			Starts:  stats.Starts,
			Updates: stats.Updates,
			Stops:   stats.Stops,
			Clients: stats.Clients,
		}, nil)
	}

	return stats
}

// Forget drops delivery bookkeeping for a disconnected client. No stop
// directives are emitted; the connection is gone.
func (d *Dispatcher) Forget(clientID string) {
	delete(d.delivered, clientID)
}

// VisibleTo reports the entity set the dispatcher last delivered to a client.
func (d *Dispatcher) VisibleTo(clientID string) []registry.EntityID {
	sent, ok := d.delivered[clientID]
	if !ok {
		return nil
	}
	out := make([]registry.EntityID, 0, len(sent))
	for entityID := range sent {
		out = append(out, entityID)
	}
	sortEntityIDs(out)
	return out
}

// broadcastEntities collects live entities whose relevance is ungated.
func (d *Dispatcher) broadcastEntities() []*registry.Entity {
	var out []*registry.Entity
	for _, id := range d.registry.All() {
		entity, ok := d.registry.Get(id)
		if !ok {
			continue
		}
		target := entity.Target()
		if target == nil || target.Relevance != registry.RelevanceBroadcast {
			continue
		}
		out = append(out, entity)
	}
	return out
}

func (d *Dispatcher) desiredSet(clientID string, broadcast []*registry.Entity) map[registry.EntityID]*registry.Entity {
	desired := make(map[registry.EntityID]*registry.Entity)

	for entityID := range d.rooms.MembersVisibleTo(clientID) {
		entity, ok := d.registry.Get(entityID)
		if !ok {
			// Rooms may reference ids lazily; stale entries are benign.
			continue
		}
		target := entity.Target()
		if target == nil || target.Relevance != registry.RelevanceInterestManaged {
			continue
		}
		if !scopeAdmits(target, clientID) {
			continue
		}
		desired[entityID] = entity
	}

	for _, entity := range broadcast {
		if scopeAdmits(entity.Target(), clientID) {
			desired[entity.ID()] = entity
		}
	}

	return desired
}

func scopeAdmits(target *registry.ReplicationTarget, clientID string) bool {
	if target == nil {
		return false
	}
	switch target.Scope {
	case registry.ScopeAll:
		return true
	case registry.ScopeClients:
		for _, id := range target.Clients {
			if id == clientID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (d *Dispatcher) reconcile(clientID string, desired map[registry.EntityID]*registry.Entity, stats *BatchStats) {
	sent, ok := d.delivered[clientID]
	if !ok {
		sent = make(map[registry.EntityID]uint64)
		d.delivered[clientID] = sent
	}

	startIDs := make([]registry.EntityID, 0)
	updateIDs := make([]registry.EntityID, 0)
	for entityID, entity := range desired {
		version, known := sent[entityID]
		switch {
		case !known:
			startIDs = append(startIDs, entityID)
		case entity.Version() > version:
			updateIDs = append(updateIDs, entityID)
		}
	}
	stopIDs := make([]registry.EntityID, 0)
	for entityID := range sent {
		if _, keep := desired[entityID]; !keep {
			stopIDs = append(stopIDs, entityID)
		}
	}
	sortEntityIDs(startIDs)
	sortEntityIDs(updateIDs)
	sortEntityIDs(stopIDs)

	for _, entityID := range startIDs {
		entity := desired[entityID]
		directive := Directive{
			Kind:       DirectiveStart,
			EntityID:   entityID,
			Version:    entity.Version(),
			Components: entity.Components(),
		}
		if d.deliver(clientID, directive) {
			sent[entityID] = entity.Version()
			stats.Starts++
		} else {
			stats.Failures++
		}
	}
	for _, entityID := range updateIDs {
		entity := desired[entityID]
		directive := Directive{
			Kind:       DirectiveUpdate,
			EntityID:   entityID,
			Version:    entity.Version(),
			Components: entity.Components(),
		}
		if d.deliver(clientID, directive) {
			sent[entityID] = entity.Version()
			stats.Updates++
		} else {
			stats.Failures++
		}
	}
	for _, entityID := range stopIDs {
		// Bookkeeping is cleared even when delivery fails; the entity is no
		// longer visible regardless.
		delete(sent, entityID)
		if d.deliver(clientID, Directive{Kind: DirectiveStop, EntityID: entityID}) {
			stats.Stops++
		} else {
			stats.Failures++
		}
	}
}

func (d *Dispatcher) deliver(clientID string, directive Directive) bool {
	if d.transport == nil {
		return false
	}
	if err := d.transport.Deliver(clientID, directive); err != nil {
		if d.logger != nil {
			d.logger.Printf("replication: deliver %s %s to %s: %v", directive.Kind, directive.EntityID, clientID, err)
		}
		return false
	}
	return true
}

func sortEntityIDs(ids []registry.EntityID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

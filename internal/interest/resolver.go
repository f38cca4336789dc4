// Package interest decides, per connection event, which rooms a client and
// the payload-bearing entities join, and what replication target each entity
// carries.
package interest

import (
	"context"

	"lobbysim/server/internal/registry"
	"lobbysim/server/internal/rooms"
	"lobbysim/server/internal/telemetry"
	"lobbysim/server/logging"
	replicationlog "lobbysim/server/logging/replication"
)

// Policy selects the rooming behavior for a resolution pass. It is passed
// explicitly through the invocation rather than held as ambient state; the
// hub owns the transition from NotYetInitialized to Active when it processes
// the first connect event.
type Policy int

const (
	// PolicyNotYetInitialized applies before any connect event has been
	// processed: entities are replicated broadcast-all with no room gating.
	PolicyNotYetInitialized Policy = iota
	// PolicyActive scopes every payload-bearing entity into the connecting
	// client's room.
	PolicyActive
)

// ChildPayloadBaseline is the reset value for the child payload component
// attached during resolution.
const ChildPayloadBaseline = 0

// RoomFor derives the room identifier for a client deterministically.
func RoomFor(clientID string) rooms.ID {
	return rooms.ID("room-" + clientID)
}

// ConnectResult reports the room work performed for one connect event.
type ConnectResult struct {
	RoomID   rooms.ID
	Entities []registry.EntityID
}

// Resolver applies the rooming policy against the registry and room table.
// It is owned by the tick loop.
type Resolver struct {
	registry  *registry.Registry
	rooms     *rooms.Table
	publisher logging.Publisher
	metrics   telemetry.Metrics
}

func NewResolver(reg *registry.Registry, table *rooms.Table, publisher logging.Publisher, metrics telemetry.Metrics) *Resolver {
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Resolver{
		registry:  reg,
		rooms:     table,
		publisher: publisher,
		metrics:   metrics,
	}
}

// ResolveConnect processes one client-connect event. Under PolicyActive every
// payload-bearing entity joins the room derived from the client identity,
// gets a broadcast-all interest-managed replication target, and receives a
// child payload reset to the baseline (once per entity). Under
// PolicyNotYetInitialized entities are given ungated broadcast targets and no
// room is created.
func (r *Resolver) ResolveConnect(ctx context.Context, policy Policy, tick uint64, clientID string) ConnectResult {
	tagged := r.registry.WithPayloadComponent()

	if policy == PolicyNotYetInitialized {
		r.applyBaseline(tagged)
		return ConnectResult{Entities: tagged}
	}

	roomID := RoomFor(clientID)
	r.rooms.AddClient(roomID, clientID)
	for _, entityID := range tagged {
		r.rooms.AddEntity(roomID, entityID)
		r.ensureInterestTarget(entityID)
	}

	r.metrics.Add("interest.connects_resolved", 1)
	r.metrics.Add("interest.entities_resolved", uint64(len(tagged)))
	r.metrics.Store("interest.rooms_active", uint64(r.rooms.Len()))

	replicationlog.InterestResolved(ctx, r.publisher, tick,
		logging.EntityRef{ID: clientID, Kind: logging.EntityKindClient},
		replicationlog.InterestResolvedPayload{RoomID: string(roomID), Entities: len(tagged)},
		nil,
	)

	return ConnectResult{RoomID: roomID, Entities: tagged}
}

// ResolveBaseline assigns ungated broadcast targets to the given entities.
// The hub uses it for entities instantiated from a snapshot before the first
// connect event arrives.
func (r *Resolver) ResolveBaseline(ctx context.Context, tick uint64, entities []registry.EntityID) {
	applied := make([]registry.EntityID, 0, len(entities))
	for _, entityID := range entities {
		entity, ok := r.registry.Get(entityID)
		if !ok || entity.Payload() == nil {
			continue
		}
		applied = append(applied, entityID)
	}
	r.applyBaseline(applied)
}

// ResolveDisconnect removes the client from every room it belongs to.
// Entities keep their room memberships and components; an interest-managed
// entity left in no room is simply visible to nobody until a later connect
// re-registers it.
func (r *Resolver) ResolveDisconnect(ctx context.Context, tick uint64, clientID string) []rooms.ID {
	removed := r.rooms.RemoveClientEverywhere(clientID)
	if len(removed) > 0 {
		r.metrics.Add("interest.disconnects_resolved", 1)
		r.metrics.Store("interest.rooms_active", uint64(r.rooms.Len()))
	}
	return removed
}

// ResolveChanged processes the registry change-set between connect events:
// entities created or updated since the last resolution. Cost is proportional
// to the change-set, not the registry. A changed payload entity whose carrier
// already has a room joins that room; entities carried by unknown or
// not-yet-connected clients are left for a future connect event.
func (r *Resolver) ResolveChanged(ctx context.Context, policy Policy, tick uint64, changed []registry.EntityID) {
	resolved := 0
	for _, entityID := range changed {
		entity, ok := r.registry.Get(entityID)
		if !ok || entity.Payload() == nil {
			continue
		}
		if policy == PolicyNotYetInitialized {
			r.ensureBaselineTarget(entityID)
			continue
		}
		carrier := entity.Carrier()
		if carrier == nil {
			continue
		}
		roomID := RoomFor(carrier.ClientID)
		if !r.rooms.HasClient(roomID, carrier.ClientID) {
			continue
		}
		r.rooms.AddEntity(roomID, entityID)
		r.ensureInterestTarget(entityID)
		resolved++
	}
	if resolved > 0 {
		r.metrics.Add("interest.entities_resolved", uint64(resolved))
	}
}

func (r *Resolver) applyBaseline(entities []registry.EntityID) {
	for _, entityID := range entities {
		r.ensureBaselineTarget(entityID)
	}
}

// ensureInterestTarget sets the interest-managed target and attaches the
// child payload, mutating only when the entity does not already match so
// re-resolution never churns entity versions.
func (r *Resolver) ensureInterestTarget(entityID registry.EntityID) {
	entity, ok := r.registry.Get(entityID)
	if !ok {
		return
	}
	target := entity.Target()
	if target == nil || target.Scope != registry.ScopeAll || target.Relevance != registry.RelevanceInterestManaged {
		r.registry.SetTarget(entityID, registry.ReplicationTarget{
			Scope:     registry.ScopeAll,
			Relevance: registry.RelevanceInterestManaged,
		})
	}
	r.registry.AttachChildPayload(entityID, ChildPayloadBaseline)
}

func (r *Resolver) ensureBaselineTarget(entityID registry.EntityID) {
	entity, ok := r.registry.Get(entityID)
	if !ok {
		return
	}
	target := entity.Target()
	if target == nil || target.Scope != registry.ScopeAll || target.Relevance != registry.RelevanceBroadcast {
		r.registry.SetTarget(entityID, registry.ReplicationTarget{
			Scope:     registry.ScopeAll,
			Relevance: registry.RelevanceBroadcast,
		})
	}
}

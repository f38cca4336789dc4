// Package registry is the authoritative store of simulation entities and
// their replicable components. It is owned by the tick loop; nothing in this
// package synchronizes.
package registry

import "fmt"

// EntityID identifies an entity for the lifetime of its visibility. IDs are
// minted from a monotonic counter and never reused while referenced.
type EntityID string

// Component kind names as they appear in snapshots and directives.
const (
	KindPayload      = "core.payload"
	KindCarrier      = "core.carrier"
	KindLabel        = "core.label"
	KindChildPayload = "core.child_payload"
)

// Payload is an arbitrary server-computed value replicated to clients.
type Payload struct {
	Value int `json:"value"`
}

// Carrier records which client owns or triggered creation of an entity.
type Carrier struct {
	ClientID string `json:"clientId"`
}

// Label is a display name for an entity.
type Label struct {
	Name string `json:"name"`
}

// Scope selects which clients a replicated entity may reach.
type Scope int

const (
	ScopeAll Scope = iota
	ScopeClients
)

// Relevance decides whether visibility is gated by room membership.
type Relevance int

const (
	RelevanceBroadcast Relevance = iota
	RelevanceInterestManaged
)

// ReplicationTarget is mutated by the interest resolver and read by the
// replication dispatcher.
type ReplicationTarget struct {
	Scope     Scope
	Clients   []string
	Relevance Relevance
}

// Entity bundles an identifier with its replicable components. Component
// fields are nil when the component is absent.
type Entity struct {
	id      EntityID
	version uint64

	payload      *Payload
	carrier      *Carrier
	label        *Label
	childPayload *Payload
	target       *ReplicationTarget
}

func (e *Entity) ID() EntityID { return e.id }
func (e *Entity) Version() uint64 { return e.version }
func (e *Entity) Payload() *Payload { return e.payload }
func (e *Entity) Carrier() *Carrier { return e.carrier }
func (e *Entity) Label() *Label { return e.label }
func (e *Entity) ChildPayload() *Payload { return e.childPayload }
func (e *Entity) Target() *ReplicationTarget { return e.target }

// Components returns the entity's present components keyed by kind name.
// Values are copies.
func (e *Entity) Components() map[string]any {
	out := make(map[string]any, 4)
	if e.payload != nil {
		out[KindPayload] = *e.payload
	}
	if e.carrier != nil {
		out[KindCarrier] = *e.carrier
	}
	if e.label != nil {
		out[KindLabel] = *e.label
	}
	if e.childPayload != nil {
		out[KindChildPayload] = *e.childPayload
	}
	return out
}

// View is an isolated deep copy of one entity's replicable components, safe
// to hand to background work.
type View struct {
	ID           EntityID
	Version      uint64
	Payload      *Payload
	Carrier      *Carrier
	Label        *Label
	ChildPayload *Payload
}

// Registry tracks live entities plus the change-set of entities created or
// mutated since the last drain.
type Registry struct {
	nextID   uint64
	entities map[EntityID]*Entity
	order    []EntityID
	dirty    map[EntityID]struct{}
}

func New() *Registry {
	return &Registry{
		entities: make(map[EntityID]*Entity),
		dirty:    make(map[EntityID]struct{}),
	}
}

// SpawnOption configures components on a freshly spawned entity.
type SpawnOption func(*Entity)

func WithPayload(value int) SpawnOption {
	return func(e *Entity) { e.payload = &Payload{Value: value} }
}

func WithCarrier(clientID string) SpawnOption {
	return func(e *Entity) { e.carrier = &Carrier{ClientID: clientID} }
}

func WithLabel(name string) SpawnOption {
	return func(e *Entity) { e.label = &Label{Name: name} }
}

// Spawn creates an entity, applies the options, and records it in the
// change-set.
func (r *Registry) Spawn(opts ...SpawnOption) EntityID {
	r.nextID++
	id := EntityID(fmt.Sprintf("entity-%d", r.nextID))
	entity := &Entity{id: id, version: 1}
	for _, opt := range opts {
		opt(entity)
	}
	r.entities[id] = entity
	r.order = append(r.order, id)
	r.dirty[id] = struct{}{}
	return id
}

// Get looks up a live entity.
func (r *Registry) Get(id EntityID) (*Entity, bool) {
	entity, ok := r.entities[id]
	return entity, ok
}

// Len reports the number of live entities.
func (r *Registry) Len() int { return len(r.entities) }

// All returns live entity IDs in spawn order.
func (r *Registry) All() []EntityID {
	out := make([]EntityID, 0, len(r.entities))
	for _, id := range r.order {
		if _, ok := r.entities[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// WithPayloadComponent returns, in spawn order, the IDs of entities carrying
// the payload component.
func (r *Registry) WithPayloadComponent() []EntityID {
	out := make([]EntityID, 0, len(r.entities))
	for _, id := range r.order {
		if entity, ok := r.entities[id]; ok && entity.payload != nil {
			out = append(out, id)
		}
	}
	return out
}

// SetPayload replaces the payload component, bumping the entity version.
func (r *Registry) SetPayload(id EntityID, value int) bool {
	entity, ok := r.entities[id]
	if !ok {
		return false
	}
	entity.payload = &Payload{Value: value}
	r.touch(entity)
	return true
}

// AttachChildPayload attaches a freshly initialized child payload component.
// It is a no-op when a child payload is already present.
func (r *Registry) AttachChildPayload(id EntityID, baseline int) bool {
	entity, ok := r.entities[id]
	if !ok {
		return false
	}
	if entity.childPayload != nil {
		return false
	}
	entity.childPayload = &Payload{Value: baseline}
	r.touch(entity)
	return true
}

// SetTarget replaces the replication target component.
func (r *Registry) SetTarget(id EntityID, target ReplicationTarget) bool {
	entity, ok := r.entities[id]
	if !ok {
		return false
	}
	copied := target
	if len(target.Clients) > 0 {
		copied.Clients = append([]string(nil), target.Clients...)
	}
	entity.target = &copied
	r.touch(entity)
	return true
}

// DrainChanged returns and clears the change-set, in spawn order.
func (r *Registry) DrainChanged() []EntityID {
	if len(r.dirty) == 0 {
		return nil
	}
	out := make([]EntityID, 0, len(r.dirty))
	for _, id := range r.order {
		if _, ok := r.dirty[id]; ok {
			out = append(out, id)
		}
	}
	r.dirty = make(map[EntityID]struct{})
	return out
}

// PendingChanges reports the change-set size without draining it.
func (r *Registry) PendingChanges() int { return len(r.dirty) }

// CloneSelected deep-copies the components of every entity matching the
// selector. The result shares no memory with live state.
func (r *Registry) CloneSelected(selector func(*Entity) bool) []View {
	views := make([]View, 0)
	for _, id := range r.order {
		entity, ok := r.entities[id]
		if !ok {
			continue
		}
		if selector != nil && !selector(entity) {
			continue
		}
		views = append(views, cloneEntity(entity))
	}
	return views
}

func cloneEntity(entity *Entity) View {
	view := View{ID: entity.id, Version: entity.version}
	if entity.payload != nil {
		copied := *entity.payload
		view.Payload = &copied
	}
	if entity.carrier != nil {
		copied := *entity.carrier
		view.Carrier = &copied
	}
	if entity.label != nil {
		copied := *entity.label
		view.Label = &copied
	}
	if entity.childPayload != nil {
		copied := *entity.childPayload
		view.ChildPayload = &copied
	}
	return view
}

func (r *Registry) touch(entity *Entity) {
	entity.version++
	r.dirty[entity.id] = struct{}{}
}

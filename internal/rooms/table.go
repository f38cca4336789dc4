// Package rooms maintains the interest-management grouping of clients and
// entities. A client's membership in a room means it receives replication
// updates for every entity in that room. The table is owned by the tick loop
// and does not synchronize.
package rooms

import (
	"sort"

	"lobbysim/server/internal/registry"
)

// ID names a room. In the default policy one room is derived per client, but
// the table supports arbitrary many-to-many membership.
type ID string

type room struct {
	clients  map[string]struct{}
	entities map[registry.EntityID]struct{}
}

func (r *room) empty() bool {
	return len(r.clients) == 0 && len(r.entities) == 0
}

// Table maps room IDs to their member sets and keeps a reverse index from
// client to rooms so visibility queries cost only the client's room count.
type Table struct {
	rooms       map[ID]*room
	clientRooms map[string]map[ID]struct{}
}

func NewTable() *Table {
	return &Table{
		rooms:       make(map[ID]*room),
		clientRooms: make(map[string]map[ID]struct{}),
	}
}

// CreateOrGet ensures a room exists. It is idempotent.
func (t *Table) CreateOrGet(id ID) {
	if _, ok := t.rooms[id]; !ok {
		t.rooms[id] = &room{
			clients:  make(map[string]struct{}),
			entities: make(map[registry.EntityID]struct{}),
		}
	}
}

// AddClient adds a client to a room, creating the room lazily. Re-adding an
// existing member is a no-op.
func (t *Table) AddClient(id ID, clientID string) {
	t.CreateOrGet(id)
	t.rooms[id].clients[clientID] = struct{}{}
	memberships, ok := t.clientRooms[clientID]
	if !ok {
		memberships = make(map[ID]struct{})
		t.clientRooms[clientID] = memberships
	}
	memberships[id] = struct{}{}
}

// AddEntity adds an entity to a room, creating the room lazily. Entity IDs
// are accepted without registry validation; stale references are filtered at
// dispatch time.
func (t *Table) AddEntity(id ID, entityID registry.EntityID) {
	t.CreateOrGet(id)
	t.rooms[id].entities[entityID] = struct{}{}
}

// RemoveClient removes a client from a room. Unknown rooms or members are
// no-ops. A room whose member sets both drain is reclaimed.
func (t *Table) RemoveClient(id ID, clientID string) {
	r, ok := t.rooms[id]
	if !ok {
		return
	}
	delete(r.clients, clientID)
	if memberships, ok := t.clientRooms[clientID]; ok {
		delete(memberships, id)
		if len(memberships) == 0 {
			delete(t.clientRooms, clientID)
		}
	}
	if r.empty() {
		delete(t.rooms, id)
	}
}

// RemoveEntity removes an entity from a room. Unknown rooms or members are
// no-ops. A room whose member sets both drain is reclaimed.
func (t *Table) RemoveEntity(id ID, entityID registry.EntityID) {
	r, ok := t.rooms[id]
	if !ok {
		return
	}
	delete(r.entities, entityID)
	if r.empty() {
		delete(t.rooms, id)
	}
}

// RemoveClientEverywhere drops the client from every room it belongs to and
// returns the rooms it was removed from.
func (t *Table) RemoveClientEverywhere(clientID string) []ID {
	memberships, ok := t.clientRooms[clientID]
	if !ok {
		return nil
	}
	removed := make([]ID, 0, len(memberships))
	for id := range memberships {
		removed = append(removed, id)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	for _, id := range removed {
		t.RemoveClient(id, clientID)
	}
	return removed
}

// MembersVisibleTo returns the union of entity sets across every room the
// client belongs to. Cost is proportional to the client's rooms and their
// entity counts, not the total entity count.
func (t *Table) MembersVisibleTo(clientID string) map[registry.EntityID]struct{} {
	memberships, ok := t.clientRooms[clientID]
	if !ok {
		return nil
	}
	visible := make(map[registry.EntityID]struct{})
	for id := range memberships {
		r, ok := t.rooms[id]
		if !ok {
			continue
		}
		for entityID := range r.entities {
			visible[entityID] = struct{}{}
		}
	}
	return visible
}

// HasClient reports whether the client is a member of the room.
func (t *Table) HasClient(id ID, clientID string) bool {
	r, ok := t.rooms[id]
	if !ok {
		return false
	}
	_, member := r.clients[clientID]
	return member
}

// HasEntity reports whether the entity is a member of the room.
func (t *Table) HasEntity(id ID, entityID registry.EntityID) bool {
	r, ok := t.rooms[id]
	if !ok {
		return false
	}
	_, member := r.entities[entityID]
	return member
}

// Len reports the number of live rooms.
func (t *Table) Len() int { return len(t.rooms) }

// RoomIDs enumerates live rooms in sorted order.
func (t *Table) RoomIDs() []ID {
	out := make([]ID, 0, len(t.rooms))
	for id := range t.rooms {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EntityRoomCount reports how many rooms still reference the entity.
func (t *Table) EntityRoomCount(entityID registry.EntityID) int {
	count := 0
	for _, r := range t.rooms {
		if _, ok := r.entities[entityID]; ok {
			count++
		}
	}
	return count
}

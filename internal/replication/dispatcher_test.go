package replication

import (
	"context"
	"errors"
	"testing"

	"lobbysim/server/internal/interest"
	"lobbysim/server/internal/registry"
	"lobbysim/server/internal/rooms"
)

type recordedDirective struct {
	ClientID  string
	Directive Directive
}

type fakeTransport struct {
	directives []recordedDirective
	failFor    map[string]error
}

func (f *fakeTransport) Deliver(clientID string, directive Directive) error {
	if err, ok := f.failFor[clientID]; ok {
		return err
	}
	f.directives = append(f.directives, recordedDirective{ClientID: clientID, Directive: directive})
	return nil
}

func (f *fakeTransport) byKind(kind Kind) []recordedDirective {
	var out []recordedDirective
	for _, d := range f.directives {
		if d.Directive.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

func newDispatcherFixture() (*registry.Registry, *rooms.Table, *fakeTransport, *Dispatcher) {
	reg := registry.New()
	table := rooms.NewTable()
	transport := &fakeTransport{}
	dispatcher := NewDispatcher(reg, table, transport, nil, nil, nil)
	return reg, table, transport, dispatcher
}

func TestDispatchEmitsStartForNewlyVisibleEntity(t *testing.T) {
	reg, table, transport, dispatcher := newDispatcherFixture()
	entityID := reg.Spawn(registry.WithPayload(2), registry.WithLabel("Replicated entity"))
	reg.SetTarget(entityID, registry.ReplicationTarget{
		Scope:     registry.ScopeAll,
		Relevance: registry.RelevanceInterestManaged,
	})
	table.AddClient("room-a", "client-a")
	table.AddEntity("room-a", entityID)

	stats := dispatcher.Dispatch(context.Background(), 1, []string{"client-a"})
	if stats.Starts != 1 || stats.Updates != 0 || stats.Stops != 0 {
		t.Fatalf("expected 1 start, got %+v", stats)
	}

	starts := transport.byKind(DirectiveStart)
	if len(starts) != 1 {
		t.Fatalf("expected 1 start directive, got %d", len(starts))
	}
	directive := starts[0].Directive
	if directive.EntityID != entityID {
		t.Fatalf("expected start for %s, got %s", entityID, directive.EntityID)
	}
	payload, ok := directive.Components[registry.KindPayload].(registry.Payload)
	if !ok || payload.Value != 2 {
		t.Fatalf("expected payload component in start directive, got %v", directive.Components)
	}

	// A second pass with no changes is silent.
	transport.directives = nil
	stats = dispatcher.Dispatch(context.Background(), 2, []string{"client-a"})
	if stats.Starts+stats.Updates+stats.Stops != 0 {
		t.Fatalf("expected quiescent pass, got %+v", stats)
	}
}

func TestDispatchEmitsUpdateWhenVersionAdvances(t *testing.T) {
	reg, table, transport, dispatcher := newDispatcherFixture()
	entityID := reg.Spawn(registry.WithPayload(2))
	reg.SetTarget(entityID, registry.ReplicationTarget{
		Scope:     registry.ScopeAll,
		Relevance: registry.RelevanceInterestManaged,
	})
	table.AddClient("room-a", "client-a")
	table.AddEntity("room-a", entityID)

	dispatcher.Dispatch(context.Background(), 1, []string{"client-a"})
	transport.directives = nil

	reg.SetPayload(entityID, 9)
	stats := dispatcher.Dispatch(context.Background(), 2, []string{"client-a"})
	if stats.Updates != 1 {
		t.Fatalf("expected 1 update, got %+v", stats)
	}
	updates := transport.byKind(DirectiveUpdate)
	payload := updates[0].Directive.Components[registry.KindPayload].(registry.Payload)
	if payload.Value != 9 {
		t.Fatalf("expected updated payload 9, got %d", payload.Value)
	}
}

func TestDispatchEmitsStopWhenEntityLeavesRooms(t *testing.T) {
	reg, table, transport, dispatcher := newDispatcherFixture()
	entityID := reg.Spawn(registry.WithPayload(2))
	reg.SetTarget(entityID, registry.ReplicationTarget{
		Scope:     registry.ScopeAll,
		Relevance: registry.RelevanceInterestManaged,
	})
	table.AddClient("room-a", "client-a")
	table.AddEntity("room-a", entityID)

	dispatcher.Dispatch(context.Background(), 1, []string{"client-a"})
	transport.directives = nil

	table.RemoveEntity("room-a", entityID)
	stats := dispatcher.Dispatch(context.Background(), 2, []string{"client-a"})
	if stats.Stops != 1 {
		t.Fatalf("expected 1 stop, got %+v", stats)
	}
	stops := transport.byKind(DirectiveStop)
	if len(stops) != 1 || stops[0].Directive.EntityID != entityID {
		t.Fatalf("expected stop for %s, got %v", entityID, stops)
	}
}

func TestBroadcastRelevanceReachesAllClientsWithoutRooms(t *testing.T) {
	reg, _, transport, dispatcher := newDispatcherFixture()
	entityID := reg.Spawn(registry.WithPayload(1))
	reg.SetTarget(entityID, registry.ReplicationTarget{
		Scope:     registry.ScopeAll,
		Relevance: registry.RelevanceBroadcast,
	})

	stats := dispatcher.Dispatch(context.Background(), 1, []string{"client-a", "client-b"})
	if stats.Starts != 2 {
		t.Fatalf("expected broadcast start to both clients, got %+v", stats)
	}
	if starts := transport.byKind(DirectiveStart); len(starts) != 2 {
		t.Fatalf("expected 2 start directives, got %v", starts)
	}
}

func TestExplicitClientScopeFiltersRecipients(t *testing.T) {
	reg, _, transport, dispatcher := newDispatcherFixture()
	entityID := reg.Spawn(registry.WithPayload(1))
	reg.SetTarget(entityID, registry.ReplicationTarget{
		Scope:     registry.ScopeClients,
		Clients:   []string{"client-b"},
		Relevance: registry.RelevanceBroadcast,
	})

	dispatcher.Dispatch(context.Background(), 1, []string{"client-a", "client-b"})
	starts := transport.byKind(DirectiveStart)
	if len(starts) != 1 || starts[0].ClientID != "client-b" {
		t.Fatalf("expected start only for client-b, got %v", starts)
	}
}

func TestStaleRoomEntriesAreIgnored(t *testing.T) {
	_, table, transport, dispatcher := newDispatcherFixture()
	table.AddClient("room-a", "client-a")
	table.AddEntity("room-a", "entity-ghost")

	stats := dispatcher.Dispatch(context.Background(), 1, []string{"client-a"})
	if stats.Starts != 0 || len(transport.directives) != 0 {
		t.Fatalf("stale room references must be benign, got %+v", stats)
	}
}

func TestDeliveryFailureIsContained(t *testing.T) {
	reg, table, transport, dispatcher := newDispatcherFixture()
	transport.failFor = map[string]error{"client-a": errors.New("socket gone")}

	entityID := reg.Spawn(registry.WithPayload(2))
	reg.SetTarget(entityID, registry.ReplicationTarget{
		Scope:     registry.ScopeAll,
		Relevance: registry.RelevanceInterestManaged,
	})
	table.AddClient("room-a", "client-a")
	table.AddEntity("room-a", entityID)
	table.AddClient("room-b", "client-b")
	table.AddEntity("room-b", entityID)

	stats := dispatcher.Dispatch(context.Background(), 1, []string{"client-a", "client-b"})
	if stats.Failures != 1 {
		t.Fatalf("expected 1 failure, got %+v", stats)
	}
	if stats.Starts != 1 {
		t.Fatalf("healthy client must still receive its start, got %+v", stats)
	}

	// The failed start is retried on the next pass.
	transport.failFor = nil
	transport.directives = nil
	stats = dispatcher.Dispatch(context.Background(), 2, []string{"client-a", "client-b"})
	if stats.Starts != 1 {
		t.Fatalf("expected retry start for client-a, got %+v", stats)
	}
	if starts := transport.byKind(DirectiveStart); len(starts) != 1 || starts[0].ClientID != "client-a" {
		t.Fatalf("expected retry aimed at client-a, got %v", starts)
	}
}

func TestForgetDropsBookkeepingWithoutStops(t *testing.T) {
	reg, table, transport, dispatcher := newDispatcherFixture()
	entityID := reg.Spawn(registry.WithPayload(2))
	reg.SetTarget(entityID, registry.ReplicationTarget{
		Scope:     registry.ScopeAll,
		Relevance: registry.RelevanceInterestManaged,
	})
	table.AddClient("room-a", "client-a")
	table.AddEntity("room-a", entityID)

	dispatcher.Dispatch(context.Background(), 1, []string{"client-a"})
	if got := dispatcher.VisibleTo("client-a"); len(got) != 1 {
		t.Fatalf("expected bookkeeping for client-a, got %v", got)
	}

	transport.directives = nil
	dispatcher.Forget("client-a")
	if dispatcher.VisibleTo("client-a") != nil {
		t.Fatalf("expected bookkeeping dropped")
	}
	if len(transport.directives) != 0 {
		t.Fatalf("Forget must not emit directives, got %v", transport.directives)
	}
}

func TestResolverThenDispatchScenario(t *testing.T) {
	reg, table, transport, dispatcher := newDispatcherFixture()
	resolver := interest.NewResolver(reg, table, nil, nil)

	entityID := reg.Spawn(registry.WithPayload(2))
	resolver.ResolveConnect(context.Background(), interest.PolicyActive, 1, "client-a")
	dispatcher.Dispatch(context.Background(), 1, []string{"client-a"})

	resolver.ResolveConnect(context.Background(), interest.PolicyActive, 2, "client-b")
	transport.directives = nil
	stats := dispatcher.Dispatch(context.Background(), 2, []string{"client-a", "client-b"})

	// client-b newly sees the entity; client-a's view is already current.
	startsForB := 0
	for _, d := range transport.byKind(DirectiveStart) {
		if d.ClientID == "client-b" && d.Directive.EntityID == entityID {
			startsForB++
		}
	}
	if startsForB != 1 {
		t.Fatalf("expected client-b start for %s, stats %+v", entityID, stats)
	}
	for _, clientID := range []string{"client-a", "client-b"} {
		visible := dispatcher.VisibleTo(clientID)
		if len(visible) != 1 || visible[0] != entityID {
			t.Fatalf("expected %s visible to %s, got %v", entityID, clientID, visible)
		}
	}
}

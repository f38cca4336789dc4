package replication

import "lobbysim/server/internal/registry"

// Kind identifies a replication directive.
type Kind string

const (
	// DirectiveStart tells the transport an entity entered a client's
	// visible set; it carries the full component bundle.
	DirectiveStart Kind = "start"
	// DirectiveUpdate carries changed component state for an already
	// visible entity.
	DirectiveUpdate Kind = "update"
	// DirectiveStop tells the transport an entity left a client's visible
	// set.
	DirectiveStop Kind = "stop"
)

// Channel requirements declared toward the transport. The transport owns the
// wire protocol; the core only states what it needs per directive stream.
const (
	ChannelOrdering    = "ordered"
	ChannelReliability = "reliable"
	ChannelDirection   = "server-to-client"
)

// Directive instructs the transport to start, stop, or update replication of
// one entity to one client.
type Directive struct {
	Kind       Kind                `json:"kind"`
	EntityID   registry.EntityID   `json:"entityId"`
	Version    uint64              `json:"version,omitempty"`
	Components map[string]any      `json:"components,omitempty"`
}

// Transport delivers directives to a client. Implementations own framing,
// reliability, and ordering; delivery failures are reported but never abort
// a dispatch pass.
type Transport interface {
	Deliver(clientID string, directive Directive) error
}

// TransportFunc adapts a function into the Transport interface.
type TransportFunc func(clientID string, directive Directive) error

func (f TransportFunc) Deliver(clientID string, directive Directive) error {
	if f == nil {
		return nil
	}
	return f(clientID, directive)
}

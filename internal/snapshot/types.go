package snapshot

import (
	"encoding/json"
	"fmt"

	"lobbysim/server/internal/registry"
)

// DecodeFunc turns a serialized component value back into its live form.
type DecodeFunc func(raw json.RawMessage) (any, error)

// TypeRegistry is the side-table resolving component-kind names to decoders.
// Kinds must be registered before serialization or deserialization is
// attempted; an unregistered kind aborts the single snapshot operation.
type TypeRegistry struct {
	order    []string
	decoders map[string]DecodeFunc
}

func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{decoders: make(map[string]DecodeFunc)}
}

// Register adds a component kind. Registering the same kind twice is an
// error; decoder identity cannot be compared, so silent replacement would
// hide wiring mistakes.
func (t *TypeRegistry) Register(kind string, decode DecodeFunc) error {
	if kind == "" || decode == nil {
		return fmt.Errorf("snapshot: invalid registration for kind %q", kind)
	}
	if _, exists := t.decoders[kind]; exists {
		return fmt.Errorf("snapshot: kind %q already registered", kind)
	}
	t.order = append(t.order, kind)
	t.decoders[kind] = decode
	return nil
}

// Kinds returns registered kinds in registration order.
func (t *TypeRegistry) Kinds() []string {
	return append([]string(nil), t.order...)
}

func (t *TypeRegistry) registered(kind string) bool {
	_, ok := t.decoders[kind]
	return ok
}

func (t *TypeRegistry) decode(kind string, raw json.RawMessage) (any, error) {
	decoder, ok := t.decoders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnregisteredKind, kind)
	}
	return decoder(raw)
}

// DefaultTypes registers the core component kinds.
func DefaultTypes() *TypeRegistry {
	types := NewTypeRegistry()
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(types.Register(registry.KindPayload, decodeInto[registry.Payload]))
	must(types.Register(registry.KindCarrier, decodeInto[registry.Carrier]))
	must(types.Register(registry.KindLabel, decodeInto[registry.Label]))
	must(types.Register(registry.KindChildPayload, decodeInto[registry.Payload]))
	return types
}

func decodeInto[T any](raw json.RawMessage) (any, error) {
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return value, nil
}

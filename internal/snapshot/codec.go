// Package snapshot serializes a selected subset of the entity registry into a
// self-describing textual format and restores it at startup. Snapshots are
// built from isolated copies of entity state, never the live registry, so the
// durable write can run off the tick loop.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/iancoleman/orderedmap"

	"lobbysim/server/internal/registry"
)

// FormatVersion tags the snapshot document layout.
const FormatVersion = 1

var (
	// ErrUnregisteredKind reports a component kind with no type-registry
	// entry; the snapshot operation is aborted, the server is not.
	ErrUnregisteredKind = errors.New("snapshot: component kind not registered")
	// ErrMalformed reports a snapshot document that could not be decoded.
	ErrMalformed = errors.New("snapshot: malformed document")
)

// Component is one serialized component inside a bundle.
type Component struct {
	Kind  string
	Value any
}

// Bundle is the ordered component list for one entity. Bundles carry no
// entity identifier; instantiation mints fresh IDs.
type Bundle []Component

// Snapshot is an ordered sequence of component bundles, self-contained and
// independent of any live registry state. It is never mutated after Build.
type Snapshot struct {
	Bundles []Bundle
}

// Empty reports whether the snapshot holds no bundles.
func (s Snapshot) Empty() bool { return len(s.Bundles) == 0 }

// Codec encodes and decodes snapshots against a type registry.
type Codec struct {
	types *TypeRegistry
}

func NewCodec(types *TypeRegistry) *Codec {
	if types == nil {
		types = DefaultTypes()
	}
	return &Codec{types: types}
}

// Build assembles a snapshot from isolated entity views. It is pure: the
// views are value copies and live state is never touched.
func (c *Codec) Build(views []registry.View) Snapshot {
	bundles := make([]Bundle, 0, len(views))
	for _, view := range views {
		bundle := make(Bundle, 0, 4)
		if view.Payload != nil {
			bundle = append(bundle, Component{Kind: registry.KindPayload, Value: *view.Payload})
		}
		if view.Carrier != nil {
			bundle = append(bundle, Component{Kind: registry.KindCarrier, Value: *view.Carrier})
		}
		if view.Label != nil {
			bundle = append(bundle, Component{Kind: registry.KindLabel, Value: *view.Label})
		}
		if view.ChildPayload != nil {
			bundle = append(bundle, Component{Kind: registry.KindChildPayload, Value: *view.ChildPayload})
		}
		if len(bundle) > 0 {
			bundles = append(bundles, bundle)
		}
	}
	return Snapshot{Bundles: bundles}
}

type document struct {
	Version int                      `json:"version"`
	Bundles []*orderedmap.OrderedMap `json:"bundles"`
}

// Encode serializes a snapshot deterministically: bundle order is preserved
// and component keys retain their bundle order. Every kind must be registered
// or encoding fails.
func (c *Codec) Encode(snap Snapshot) ([]byte, error) {
	doc := document{Version: FormatVersion, Bundles: make([]*orderedmap.OrderedMap, 0, len(snap.Bundles))}
	for i, bundle := range snap.Bundles {
		entry := orderedmap.New()
		for _, component := range bundle {
			if !c.types.registered(component.Kind) {
				return nil, fmt.Errorf("bundle %d: %w: %s", i, ErrUnregisteredKind, component.Kind)
			}
			entry.Set(component.Kind, component.Value)
		}
		doc.Bundles = append(doc.Bundles, entry)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses a snapshot document, resolving each component kind through
// the type registry.
func (c *Codec) Decode(data []byte) (Snapshot, error) {
	var raw struct {
		Version int               `json:"version"`
		Bundles []json.RawMessage `json:"bundles"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.Version != FormatVersion {
		return Snapshot{}, fmt.Errorf("%w: unsupported version %d", ErrMalformed, raw.Version)
	}

	snap := Snapshot{Bundles: make([]Bundle, 0, len(raw.Bundles))}
	for i, rawBundle := range raw.Bundles {
		ordered := orderedmap.New()
		if err := json.Unmarshal(rawBundle, ordered); err != nil {
			return Snapshot{}, fmt.Errorf("%w: bundle %d: %v", ErrMalformed, i, err)
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(rawBundle, &fields); err != nil {
			return Snapshot{}, fmt.Errorf("%w: bundle %d: %v", ErrMalformed, i, err)
		}
		bundle := make(Bundle, 0, len(fields))
		for _, kind := range ordered.Keys() {
			value, err := c.types.decode(kind, fields[kind])
			if err != nil {
				return Snapshot{}, fmt.Errorf("bundle %d: %w", i, err)
			}
			bundle = append(bundle, Component{Kind: kind, Value: value})
		}
		snap.Bundles = append(snap.Bundles, bundle)
	}
	return snap, nil
}

// Persist writes encoded snapshot bytes to the location, creating parent
// directories. The file handle is released on every exit path.
func Persist(data []byte, location string) (err error) {
	if dir := filepath.Dir(location); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("snapshot: create dir: %w", err)
		}
	}
	file, err := os.Create(location)
	if err != nil {
		return fmt.Errorf("snapshot: create %s: %w", location, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("snapshot: close %s: %w", location, cerr)
		}
	}()
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", location, err)
	}
	return nil
}

// Load reads and decodes a snapshot from the location. A missing file is not
// an error: the server starts with an empty registry on first run.
func (c *Codec) Load(location string) (Snapshot, bool, error) {
	data, err := os.ReadFile(location)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("snapshot: read %s: %w", location, err)
	}
	snap, err := c.Decode(data)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// Instantiate creates live entities from the snapshot's bundles and returns
// their freshly minted IDs.
func Instantiate(reg *registry.Registry, snap Snapshot) []registry.EntityID {
	ids := make([]registry.EntityID, 0, len(snap.Bundles))
	for _, bundle := range snap.Bundles {
		opts := make([]registry.SpawnOption, 0, len(bundle))
		var child *registry.Payload
		for _, component := range bundle {
			switch component.Kind {
			case registry.KindPayload:
				if payload, ok := component.Value.(registry.Payload); ok {
					opts = append(opts, registry.WithPayload(payload.Value))
				}
			case registry.KindCarrier:
				if carrier, ok := component.Value.(registry.Carrier); ok {
					opts = append(opts, registry.WithCarrier(carrier.ClientID))
				}
			case registry.KindLabel:
				if label, ok := component.Value.(registry.Label); ok {
					opts = append(opts, registry.WithLabel(label.Name))
				}
			case registry.KindChildPayload:
				if payload, ok := component.Value.(registry.Payload); ok {
					copied := payload
					child = &copied
				}
			}
		}
		id := reg.Spawn(opts...)
		if child != nil {
			reg.AttachChildPayload(id, child.Value)
		}
		ids = append(ids, id)
	}
	return ids
}

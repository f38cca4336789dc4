package snapshot

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

// schemaDocument models the snapshot wire layout for schema reflection.
type schemaDocument struct {
	Version int              `json:"version" jsonschema:"title=Format version,description=Snapshot document layout version"`
	Bundles []map[string]any `json:"bundles" jsonschema:"title=Component bundles,description=Ordered list of component bundles keyed by registered component kind"`
}

// SchemaJSON produces a machine-readable JSON schema for the snapshot
// document, for validation and editor tooling.
func SchemaJSON() ([]byte, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}

	schema := reflector.ReflectFromType(reflect.TypeOf(schemaDocument{}))
	if schema == nil {
		return nil, fmt.Errorf("snapshot: failed to reflect schema")
	}
	schema.Title = "Entity Snapshot"
	schema.Description = "Self-describing textual snapshot of replicable entity state."

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshal schema: %w", err)
	}
	return append(data, '\n'), nil
}

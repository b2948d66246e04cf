package pipeline

import (
	"fmt"
	"sync"

	"github.com/playmesh-dev/playmesh/go/internal/state"
)

// FieldSpec is one shallow payload constraint: the field must exist (when
// required) and hold the declared kind.
type FieldSpec struct {
	Name     string
	Kind     state.Kind
	Required bool
}

// PayloadSchema is the structural shape expected for one action type. Checks
// are shallow: shape only, never business rules.
type PayloadSchema struct {
	Fields []FieldSpec
}

// SchemaRegistry holds per-action-type payload schemas. Action types without
// a registered schema pass validation; the rule-evaluation boundary stays
// authoritative for anything deeper than shape.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]PayloadSchema
}

// NewSchemaRegistry creates an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]PayloadSchema)}
}

// Register sets the schema for an action type.
func (r *SchemaRegistry) Register(actionType string, schema PayloadSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[actionType] = schema
}

// Validate checks the payload shape against the schema registered for the
// action type, if any.
func (r *SchemaRegistry) Validate(actionType string, payload state.Value) error {
	r.mu.RLock()
	schema, ok := r.schemas[actionType]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	if payload.Kind() != state.KindMap {
		return fmt.Errorf("payload for %q must be a map, got %s", actionType, payload.Kind())
	}
	fields := payload.MapVal()
	for _, spec := range schema.Fields {
		v, present := fields[spec.Name]
		if !present {
			if spec.Required {
				return fmt.Errorf("payload for %q missing required field %q", actionType, spec.Name)
			}
			continue
		}
		if v.Kind() != spec.Kind {
			return fmt.Errorf("payload field %q must be %s, got %s", spec.Name, spec.Kind, v.Kind())
		}
	}
	return nil
}

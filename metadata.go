package rop

import (
	"fmt"
	"time"
)

// Converter translates a field value to and from its column representation.
// Assign one to a FieldMapping when the Go type does not match what the
// database driver can bind or scan directly.
type Converter interface {
	// ToColumn converts the in-memory field value to a bindable column value.
	ToColumn(v any) (any, error)
	// FromColumn converts a scanned column value back to the field value.
	FromColumn(v any) (any, error)
}

// FieldMapping describes one persisted scalar field of an entity type.
// Get and Set are explicit accessors so the engine never reflects over
// entity structs; build them by hand or with the Access helpers.
type FieldMapping struct {
	// Name is the logical field name, the key used in snapshots and change sets.
	Name string
	// Column is the database column the field maps to.
	Column string
	// Converter translates between field and column values. Optional.
	Converter Converter
	// Comparer overrides semantic equality for this field. Optional; change
	// detection uses ValuesEqual when nil.
	Comparer func(old, new any) bool
	// Get reads the field value from the entity.
	Get func(entity Entity) any
	// Set writes the field value on the entity.
	Set func(entity Entity, v any)
}

// AssociationMapping describes a reference between two entity types. Only the
// owning side carries a foreign key column; the inverse side is informational
// and used by cascade traversal.
type AssociationMapping struct {
	// Name is the logical association name, the key used in snapshots and
	// change sets for the owning side's foreign key.
	Name string
	// Column is the foreign key column. Owning to-one side only.
	Column string
	// Target is the entity type name the association points to.
	Target string
	// OwningSide marks the side whose table holds the foreign key.
	OwningSide bool
	// ToMany marks a collection-valued association.
	ToMany bool
	// Nullable reports whether the foreign key column accepts NULL. Nullable
	// edges are where the flush orchestrator breaks reference cycles.
	Nullable bool
	// Get reads the referenced entity. To-one associations only; returns nil
	// when the reference is unset.
	Get func(entity Entity) Entity
	// GetAll reads the referenced entities. To-many associations only.
	GetAll func(entity Entity) []Entity
	// Set writes the referenced entity. To-one associations only.
	Set func(entity Entity, related Entity)
}

// EntityMapping is the full persistence metadata for one entity type: table,
// identifier strategy, scalar fields and associations.
type EntityMapping struct {
	// TypeName is the unique entity type name, matching Entity.EntityTypeName.
	TypeName string
	// Table is the database table rows of this type live in.
	Table string
	// IDField is the logical name of the identifier field.
	IDField string
	// IDColumn is the primary key column.
	IDColumn string
	// IDGeneration selects engine-assigned UUIDs or store-assigned keys.
	IDGeneration IDGeneration
	// GetID reads the identifier from the entity.
	GetID func(entity Entity) any
	// SetID writes the identifier on the entity.
	SetID func(entity Entity, id any)
	// New allocates a blank instance, used when materializing loaded rows.
	New func() Entity
	// Fields are the persisted scalar fields, excluding the identifier.
	Fields []FieldMapping
	// Associations are the references to other entity types.
	Associations []AssociationMapping
}

// Field returns the scalar field mapping by logical name.
func (m *EntityMapping) Field(name string) (*FieldMapping, bool) {
	for i := range m.Fields {
		if m.Fields[i].Name == name {
			return &m.Fields[i], true
		}
	}
	return nil, false
}

// Association returns the association mapping by logical name.
func (m *EntityMapping) Association(name string) (*AssociationMapping, bool) {
	for i := range m.Associations {
		if m.Associations[i].Name == name {
			return &m.Associations[i], true
		}
	}
	return nil, false
}

// OwningToOne returns the associations whose foreign key lives in this
// mapping's table, in declaration order.
func (m *EntityMapping) OwningToOne() []AssociationMapping {
	var out []AssociationMapping
	for _, a := range m.Associations {
		if a.OwningSide && !a.ToMany {
			out = append(out, a)
		}
	}
	return out
}

// FieldValue reads a scalar field by logical name.
func (m *EntityMapping) FieldValue(entity Entity, name string) (any, error) {
	f, ok := m.Field(name)
	if !ok {
		return nil, fmt.Errorf("entity type %s has no field %s", m.TypeName, name)
	}
	return f.Get(entity), nil
}

// SetFieldValue writes a scalar field by logical name.
func (m *EntityMapping) SetFieldValue(entity Entity, name string, v any) error {
	f, ok := m.Field(name)
	if !ok {
		return fmt.Errorf("entity type %s has no field %s", m.TypeName, name)
	}
	f.Set(entity, v)
	return nil
}

// IdentifierToColumn converts an identifier value to its bindable column form.
// UUID identifiers are stored as their canonical text.
func (m *EntityMapping) IdentifierToColumn(id any) any {
	if u, ok := id.(UUID); ok {
		return u.String()
	}
	return id
}

// IdentifierFromColumn converts a scanned primary key column back to the
// identifier value the entity carries.
func (m *EntityMapping) IdentifierFromColumn(v any) (any, error) {
	if m.IDGeneration == PreGenerated {
		switch s := v.(type) {
		case string:
			return ParseUUID(s)
		case []byte:
			return ParseUUID(string(s))
		case UUID:
			return s, nil
		}
		return nil, fmt.Errorf("entity type %s: cannot read %T as UUID identifier", m.TypeName, v)
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	}
	return nil, fmt.Errorf("entity type %s: cannot read %T as store assigned identifier", m.TypeName, v)
}

// IdentifierIsZero reports whether the identifier has not been assigned yet.
func IdentifierIsZero(id any) bool {
	switch v := id.(type) {
	case nil:
		return true
	case UUID:
		return v.IsNil()
	case int64:
		return v == 0
	case int:
		return v == 0
	case string:
		return v == ""
	}
	return false
}

// MetadataProvider resolves entity type names to their persistence metadata.
// MappingRegistry is the standard implementation; a custom provider can source
// mappings elsewhere, e.g. generated code.
type MetadataProvider interface {
	// Mapping returns the metadata for the entity type name, or an error when
	// the type is not registered.
	Mapping(typeName string) (*EntityMapping, error)
}

// Access builds the Get/Set accessor pair for a scalar field from a typed
// projection to the field. T is the concrete entity type, V the field type.
//
//	get, set := rop.Access(func(t *Task) *string { return &t.Title })
func Access[T Entity, V any](ref func(T) *V) (func(Entity) any, func(Entity, any)) {
	get := func(entity Entity) any {
		return *ref(entity.(T))
	}
	set := func(entity Entity, v any) {
		p := ref(entity.(T))
		if v == nil {
			var zero V
			*p = zero
			return
		}
		*p = v.(V)
	}
	return get, set
}

// AccessNullable builds accessors for a pointer-typed field representing a
// nullable column. A nil pointer reads as a nil column value and writing nil
// clears the field.
func AccessNullable[T Entity, V any](ref func(T) **V) (func(Entity) any, func(Entity, any)) {
	get := func(entity Entity) any {
		p := *ref(entity.(T))
		if p == nil {
			return nil
		}
		return *p
	}
	set := func(entity Entity, v any) {
		if v == nil {
			*ref(entity.(T)) = nil
			return
		}
		val := v.(V)
		*ref(entity.(T)) = &val
	}
	return get, set
}

// AccessRef builds the Get/Set accessor pair for a to-one association field.
// R is the concrete related entity type. A nil reference reads as untyped nil
// so callers never see a typed nil wrapped in the Entity interface.
func AccessRef[T Entity, R interface {
	comparable
	Entity
}](ref func(T) *R) (func(Entity) Entity, func(Entity, Entity)) {
	get := func(entity Entity) Entity {
		r := *ref(entity.(T))
		var zero R
		if r == zero {
			return nil
		}
		return r
	}
	set := func(entity Entity, related Entity) {
		p := ref(entity.(T))
		if related == nil {
			var zero R
			*p = zero
			return
		}
		*p = related.(R)
	}
	return get, set
}

// AccessList builds the GetAll accessor for a to-many association field.
// Nil elements are skipped.
func AccessList[T Entity, R interface {
	comparable
	Entity
}](ref func(T) *[]R) func(Entity) []Entity {
	return func(entity Entity) []Entity {
		src := *ref(entity.(T))
		out := make([]Entity, 0, len(src))
		var zero R
		for _, r := range src {
			if r == zero {
				continue
			}
			out = append(out, r)
		}
		return out
	}
}

// TimeTextConverter stores time.Time fields as RFC 3339 text columns. Both
// SQLite and PostgreSQL text columns round-trip through it without driver
// specific time handling.
type TimeTextConverter struct{}

// ToColumn formats the time as RFC 3339 with nanoseconds.
func (TimeTextConverter) ToColumn(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	t, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("time converter: cannot format %T", v)
	}
	return t.Format(time.RFC3339Nano), nil
}

// FromColumn parses the column text back into a time.Time.
func (TimeTextConverter) FromColumn(v any) (any, error) {
	switch s := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return s, nil
	case string:
		return time.Parse(time.RFC3339Nano, s)
	case []byte:
		return time.Parse(time.RFC3339Nano, string(s))
	}
	return nil, fmt.Errorf("time converter: cannot parse %T", v)
}

package common

import (
	"fmt"

	"github.com/sharedcode/rop"
)

// takeSnapshot captures the entity's persisted state right after a load or a
// successful write. Scalar fields are stored by value and owning to-one
// references by the identifier of the referenced entity, so later comparisons
// never chase object graphs. A referenced entity that has no identifier yet
// snapshots as nil; the flush orchestrator patches the entry once the
// identifier exists.
func takeSnapshot(provider rop.MetadataProvider, m *rop.EntityMapping, entity rop.Entity) (map[string]any, error) {
	snap := make(map[string]any, len(m.Fields)+len(m.Associations))
	for _, f := range m.Fields {
		snap[f.Name] = cloneValue(f.Get(entity))
	}
	for _, a := range m.OwningToOne() {
		cur, err := currentReference(provider, a, entity)
		if err != nil {
			return nil, err
		}
		if _, pending := cur.(rop.Entity); pending {
			cur = nil
		}
		snap[a.Name] = cur
	}
	return snap, nil
}

// computeChangeSet compares the entity's current state against its snapshot
// and returns the changed fields. Scalars compare with the field's comparer,
// defaulting to semantic equality; owning to-one references compare by
// referenced identifier. An empty result means no UPDATE is needed.
func computeChangeSet(provider rop.MetadataProvider, m *rop.EntityMapping, rec *trackedEntity) (rop.ChangeSet, error) {
	cs := rop.ChangeSet{}
	for _, f := range m.Fields {
		old := rec.snapshot[f.Name]
		cur := f.Get(rec.entity)
		equal := rop.ValuesEqual
		if f.Comparer != nil {
			equal = f.Comparer
		}
		if !equal(old, cur) {
			cs[f.Name] = rop.FieldChange{Old: old, New: cur}
		}
	}
	for _, a := range m.OwningToOne() {
		old := rec.snapshot[a.Name]
		cur, err := currentReference(provider, a, rec.entity)
		if err != nil {
			return nil, err
		}
		if _, pending := cur.(rop.Entity); pending {
			// Re-pointed at an entity that has no identifier yet. Always a
			// change; the identifier resolves when the update executes.
			cs[a.Name] = rop.FieldChange{Old: old, New: cur}
			continue
		}
		if !rop.ValuesEqual(old, cur) {
			cs[a.Name] = rop.FieldChange{Old: old, New: cur}
		}
	}
	return cs, nil
}

// currentReference reads a to-one association and reduces it to a comparable
// value: nil when unset, the referenced identifier when known, or the
// referenced entity itself while it has no identifier.
func currentReference(provider rop.MetadataProvider, a rop.AssociationMapping, entity rop.Entity) (any, error) {
	r := a.Get(entity)
	if r == nil {
		return nil, nil
	}
	tm, err := provider.Mapping(a.Target)
	if err != nil {
		return nil, err
	}
	id := tm.GetID(r)
	if rop.IdentifierIsZero(id) {
		return r, nil
	}
	return id, nil
}

// resolveReference reads a to-one association strictly for statement binding:
// nil when unset, the referenced identifier otherwise. A reference to an
// entity that still has no identifier is an error; by the time statements are
// bound every referenced pending insert has already executed.
func resolveReference(provider rop.MetadataProvider, a rop.AssociationMapping, m *rop.EntityMapping, entity rop.Entity) (any, error) {
	r := a.Get(entity)
	if r == nil {
		return nil, nil
	}
	tm, err := provider.Mapping(a.Target)
	if err != nil {
		return nil, err
	}
	id := tm.GetID(r)
	if rop.IdentifierIsZero(id) {
		return nil, rop.Error{
			Code:     rop.EntityNotManaged,
			Err:      fmt.Errorf("association %s of %s references a %s with no identifier; persist it before flushing", a.Name, m.TypeName, a.Target),
			UserData: r,
		}
	}
	return id, nil
}

// cloneValue copies mutable values before they enter a snapshot, so caller
// side mutation cannot silently rewrite history. Only byte slices need the
// treatment among the supported column types.
func cloneValue(v any) any {
	if b, ok := v.([]byte); ok {
		c := make([]byte, len(b))
		copy(c, b)
		return c
	}
	return v
}

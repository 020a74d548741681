package rop

import "time"

// EntityState describes where an object sits in its persistence lifecycle.
// Transitions are driven by the unit of work: Persist, Remove, Detach, Find
// and Flush each move entities between states.
type EntityState int

const (
	// StateNew is an instantiated entity not yet known to any unit of work.
	StateNew EntityState = iota
	// StateManaged is an entity tracked by a unit of work and destined to be
	// synchronized with the database on flush.
	StateManaged
	// StateRemoved is a managed entity scheduled for deletion at the next flush.
	StateRemoved
	// StateDetached is an entity that has a database identity but is no longer
	// tracked; changes to it are not observed.
	StateDetached
)

// String returns the symbolic name of the entity state.
func (s EntityState) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateManaged:
		return "Managed"
	case StateRemoved:
		return "Removed"
	case StateDetached:
		return "Detached"
	}
	return "Unknown"
}

// IDGeneration selects how an entity type obtains its identifier.
type IDGeneration int

const (
	// PreGenerated identifiers are assigned by the engine (a new UUID) before
	// the insert statement runs.
	PreGenerated IDGeneration = iota
	// StoreAssigned identifiers are generated by the database on insert, e.g.
	// an auto-increment column, and read back as part of executing the insert.
	StoreAssigned
)

// Entity is implemented by every object the engine can track. The type name it
// returns keys the metadata lookup and the identity map, so it has to be stable
// and unique across the registered entity types.
type Entity interface {
	EntityTypeName() string
}

// FieldChange records one field's transition inside a change set. Old is the
// snapshot value from the last synchronization, New the current in-memory value.
// For association fields both sides hold the referenced entity's identifier.
type FieldChange struct {
	Old any
	New any
}

// ChangeSet maps field names to their detected changes. An empty change set
// means the entity matches its snapshot and no UPDATE will be issued.
type ChangeSet map[string]FieldChange

// FlushStats summarizes one flush for metrics consumers.
type FlushStats struct {
	Inserts  int
	Updates  int
	Deletes  int
	Duration time.Duration
}

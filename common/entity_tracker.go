package common

import (
	"sort"

	"github.com/sharedcode/rop"
)

type actionType int

const (
	noAction actionType = iota
	insertAction
	deleteAction
)

// Sample use-case logic table:
// Current		Call		Outcome
// _			Persist		ForInsert (New -> Managed)
// _			Find		Managed (snapshot taken from the row)
// ForInsert	Persist		ForInsert
// ForInsert	Remove		_ (insert canceled, entity back to New)
// Managed		Persist		Managed (no-op)
// Managed		Remove		ForDelete
// ForDelete	Persist		Managed (deletion revoked)
// ForDelete	Remove		ForDelete
// any			Detach		_ (record dropped, entity Detached)

// trackedEntity is the per-object bookkeeping of a unit of work: lifecycle
// state, the scheduled write, the snapshot updates are computed against, and
// the scheduling sequence used for deterministic flush ordering.
type trackedEntity struct {
	entity   rop.Entity
	state    rop.EntityState
	action   actionType
	snapshot map[string]any
	seq      int
}

// entityTracker holds the tracked records of one unit of work, keyed by object
// identity.
type entityTracker struct {
	provider rop.MetadataProvider
	records  map[rop.Entity]*trackedEntity
	seq      int
}

func newEntityTracker(provider rop.MetadataProvider) *entityTracker {
	return &entityTracker{
		provider: provider,
		records:  make(map[rop.Entity]*trackedEntity, 16),
	}
}

// track registers a record for the entity, assigning the next scheduling
// sequence. Tracking an already tracked entity returns the existing record.
func (t *entityTracker) track(entity rop.Entity, state rop.EntityState, action actionType) *trackedEntity {
	if rec, ok := t.records[entity]; ok {
		return rec
	}
	t.seq++
	rec := &trackedEntity{
		entity: entity,
		state:  state,
		action: action,
		seq:    t.seq,
	}
	t.records[entity] = rec
	return rec
}

func (t *entityTracker) record(entity rop.Entity) (*trackedEntity, bool) {
	rec, ok := t.records[entity]
	return rec, ok
}

func (t *entityTracker) forget(entity rop.Entity) {
	delete(t.records, entity)
}

// all returns every record in scheduling order.
func (t *entityTracker) all() []*trackedEntity {
	out := make([]*trackedEntity, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// scheduled returns the records carrying the given pending action, in
// scheduling order.
func (t *entityTracker) scheduled(action actionType) []*trackedEntity {
	var out []*trackedEntity
	for _, rec := range t.records {
		if rec.action == action {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// clone returns an independent copy for a nested unit of work. Records and
// snapshots are copied; the entity objects themselves are shared, so both
// units observe the same in-memory state.
func (t *entityTracker) clone() *entityTracker {
	c := &entityTracker{
		provider: t.provider,
		records:  make(map[rop.Entity]*trackedEntity, len(t.records)),
		seq:      t.seq,
	}
	for e, rec := range t.records {
		cp := *rec
		if rec.snapshot != nil {
			cp.snapshot = make(map[string]any, len(rec.snapshot))
			for k, v := range rec.snapshot {
				cp.snapshot[k] = v
			}
		}
		c.records[e] = &cp
	}
	return c
}

// adopt replaces this tracker's content with the child's view. Used when a
// nested unit commits.
func (t *entityTracker) adopt(child *entityTracker) {
	t.records = child.records
	t.seq = child.seq
}

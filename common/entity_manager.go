// Package common implements the persistence engine: the entity manager, its
// stacked units of work, change detection and the flush orchestration. The
// rop root package carries the contracts this engine runs on; database
// backends live in insqlite and inpg.
package common

import (
	"context"
	"fmt"
	log "log/slog"

	"github.com/sharedcode/rop"
)

// EntityManager is the facade of the engine. It tracks entity objects in a
// stack of units of work over one database connection: Persist, Remove and
// Detach schedule state transitions, Find loads rows into managed objects,
// and Flush writes the pending work in dependency order. Open pushes a nested
// unit backed by a database savepoint; Commit and Rollback close it keeping
// or discarding its writes.
//
// An EntityManager and its units of work are confined to a single goroutine,
// same as the database session underneath. Run concurrent work through
// separate managers on separate connections; only the metadata provider is
// shared safely.
type EntityManager struct {
	conn     rop.Connection
	provider rop.MetadataProvider
	metrics  rop.MetricsRecorder
	units    []*UnitOfWork
	active   *UnitOfWork
}

// NewEntityManager returns a manager with one root unit of work open and
// active. The caller keeps ownership of the connection.
func NewEntityManager(conn rop.Connection, provider rop.MetadataProvider) *EntityManager {
	root := newUnitOfWork(provider, nil)
	return &EntityManager{
		conn:     conn,
		provider: provider,
		metrics:  rop.NoopMetrics{},
		units:    []*UnitOfWork{root},
		active:   root,
	}
}

// SetMetricsRecorder wires an observability backend. Nil is ignored.
func (em *EntityManager) SetMetricsRecorder(m rop.MetricsRecorder) {
	if m != nil {
		em.metrics = m
	}
}

// Connection returns the underlying connection, e.g. for transaction control.
func (em *EntityManager) Connection() rop.Connection {
	return em.conn
}

// Active returns the unit of work operations currently apply to.
func (em *EntityManager) Active() *UnitOfWork {
	return em.active
}

// Persist schedules the entity and everything reachable from it for
// insertion. Persisting an already managed entity is a no-op; persisting a
// removed one revokes the deletion. No database work happens until Flush.
func (em *EntityManager) Persist(entity rop.Entity) error {
	return em.active.persist(em.provider, entity)
}

// Remove schedules deletion of a managed entity at the next flush. Removing
// an entity whose insert is still pending just cancels the insert.
func (em *EntityManager) Remove(entity rop.Entity) error {
	return em.active.remove(entity)
}

// Detach stops tracking the entity. Pending work on it is discarded and
// further changes to the object are not observed.
func (em *EntityManager) Detach(entity rop.Entity) {
	em.active.detach(entity)
}

// Contains reports whether the active unit of work tracks the entity.
func (em *EntityManager) Contains(entity rop.Entity) bool {
	return em.active.contains(entity)
}

// ManagedEntities returns the entities managed by the active unit of work in
// scheduling order.
func (em *EntityManager) ManagedEntities() []rop.Entity {
	return em.active.managedEntities()
}

// EntityState reports the entity's lifecycle state as seen by the active unit
// of work: tracked entities answer from their record, everything else is New
// until it carries an identifier and Detached after.
func (em *EntityManager) EntityState(entity rop.Entity) (rop.EntityState, error) {
	if rec, ok := em.active.tracker.record(entity); ok {
		return rec.state, nil
	}
	m, err := em.provider.Mapping(entity.EntityTypeName())
	if err != nil {
		return rop.StateNew, err
	}
	if rop.IdentifierIsZero(m.GetID(entity)) {
		return rop.StateNew, nil
	}
	return rop.StateDetached, nil
}

// ChangeSet computes the entity's current difference against its snapshot.
// Diagnostic companion to Flush; an empty result means no update would be
// written.
func (em *EntityManager) ChangeSet(entity rop.Entity) (rop.ChangeSet, error) {
	rec, ok := em.active.tracker.record(entity)
	if !ok || rec.snapshot == nil {
		return nil, rop.Error{
			Code:     rop.EntityNotManaged,
			Err:      fmt.Errorf("no snapshot for %s in this unit of work", entity.EntityTypeName()),
			UserData: entity,
		}
	}
	m, err := em.provider.Mapping(entity.EntityTypeName())
	if err != nil {
		return nil, err
	}
	return computeChangeSet(em.provider, m, rec)
}

// Find returns the managed entity for the identifier, loading the row when
// the identity map has no object for it yet. To-one references materialize
// eagerly and recursively, with the identity map keeping reference cycles
// finite. found is false when no row exists.
func (em *EntityManager) Find(ctx context.Context, typeName string, id any) (rop.Entity, bool, error) {
	m, err := em.provider.Mapping(typeName)
	if err != nil {
		return nil, false, err
	}
	if rop.IdentifierIsZero(id) {
		return nil, false, fmt.Errorf("find %s: identifier is not set", typeName)
	}
	key, err := m.IdentifierFromColumn(id)
	if err != nil {
		return nil, false, err
	}
	if e, ok := em.active.identity.lookup(typeName, key); ok {
		return e, true, nil
	}
	return em.loadEntity(ctx, m, key)
}

// Refresh overwrites the managed entity's fields from its current row and
// renews the snapshot, dropping unflushed in-memory changes.
func (em *EntityManager) Refresh(ctx context.Context, entity rop.Entity) error {
	rec, ok := em.active.tracker.record(entity)
	if !ok || rec.state != rop.StateManaged {
		return rop.Error{
			Code:     rop.EntityNotManaged,
			Err:      fmt.Errorf("cannot refresh %s: not managed by this unit of work", entity.EntityTypeName()),
			UserData: entity,
		}
	}
	m, err := em.provider.Mapping(entity.EntityTypeName())
	if err != nil {
		return err
	}
	id := m.GetID(entity)
	values, found, err := em.conn.QueryRow(ctx, selectByIDStatement(m), m.IdentifierToColumn(id))
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("refresh %s(%v): row no longer exists", m.TypeName, id)
	}
	if err := em.populate(ctx, m, entity, values); err != nil {
		return err
	}
	snap, err := takeSnapshot(em.provider, m, entity)
	if err != nil {
		return err
	}
	rec.snapshot = snap
	return nil
}

// loadEntity materializes a row into a new managed object. The object is
// registered in the identity map before its references resolve, so cyclic
// rows load without recursing forever.
func (em *EntityManager) loadEntity(ctx context.Context, m *rop.EntityMapping, id any) (rop.Entity, bool, error) {
	values, found, err := em.conn.QueryRow(ctx, selectByIDStatement(m), m.IdentifierToColumn(id))
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	entity := m.New()
	m.SetID(entity, id)
	if err := em.active.identity.register(m.TypeName, id, entity, false); err != nil {
		return nil, false, err
	}
	rec := em.active.tracker.track(entity, rop.StateManaged, noAction)
	if err := em.populate(ctx, m, entity, values); err != nil {
		em.active.identity.forget(entity)
		em.active.tracker.forget(entity)
		return nil, false, err
	}
	snap, err := takeSnapshot(em.provider, m, entity)
	if err != nil {
		return nil, false, err
	}
	rec.snapshot = snap
	return entity, true, nil
}

// populate writes a row's values onto the entity following the canonical
// select order: identifier first, then scalar fields, then owning to-one
// foreign keys, whose targets load recursively.
func (em *EntityManager) populate(ctx context.Context, m *rop.EntityMapping, entity rop.Entity, values []any) error {
	owning := m.OwningToOne()
	if want := 1 + len(m.Fields) + len(owning); len(values) != want {
		return fmt.Errorf("row for %s has %d columns, want %d", m.TypeName, len(values), want)
	}
	i := 1
	for _, f := range m.Fields {
		v := values[i]
		i++
		if f.Converter != nil {
			var err error
			if v, err = f.Converter.FromColumn(v); err != nil {
				return fmt.Errorf("field %s of %s: %w", f.Name, m.TypeName, err)
			}
		}
		f.Set(entity, v)
	}
	for _, a := range owning {
		v := values[i]
		i++
		if v == nil {
			a.Set(entity, nil)
			continue
		}
		tm, err := em.provider.Mapping(a.Target)
		if err != nil {
			return err
		}
		rid, err := tm.IdentifierFromColumn(v)
		if err != nil {
			return err
		}
		related, found, err := em.Find(ctx, a.Target, rid)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("row for %s references missing %s(%v)", m.TypeName, a.Target, rid)
		}
		a.Set(entity, related)
	}
	return nil
}

// Open pushes a nested unit of work and makes it active. The unit starts from
// a copy of the parent's identity map and tracked records; its database
// writes sit behind a savepoint created lazily at its first flush inside a
// transaction.
func (em *EntityManager) Open() *UnitOfWork {
	u := newUnitOfWork(em.provider, em.active)
	em.units = append(em.units, u)
	em.active = u
	log.Debug("unit of work opened", "uow", u.id.String(), "depth", len(em.units))
	return u
}

// SetActive points subsequent operations at another unit on the stack.
// Flushing an outer unit while an inner one is open writes after the inner
// savepoint, so a later rollback of the inner unit reverts those writes too.
func (em *EntityManager) SetActive(u *UnitOfWork) error {
	for _, candidate := range em.units {
		if candidate == u {
			em.active = u
			return nil
		}
	}
	return rop.Error{
		Code: rop.TransactionState,
		Err:  fmt.Errorf("unit of work is not on this manager's stack"),
	}
}

// Commit flushes the unit and keeps its writes: the savepoint is released and
// the unit's view of the world folds into its parent. Only the innermost,
// active unit can commit. Committing the root unit keeps it as the base with
// its identity map in place.
func (em *EntityManager) Commit(ctx context.Context, u *UnitOfWork) error {
	if err := em.requireInnermost(u); err != nil {
		return err
	}
	if err := em.Flush(ctx); err != nil {
		return err
	}
	if u.savepointCreated {
		if err := em.conn.ReleaseSavepoint(ctx, u.SavepointName()); err != nil {
			return err
		}
		u.savepointCreated = false
	}
	if len(em.units) > 1 {
		u.closed = true
		em.units = em.units[:len(em.units)-1]
		parent := em.units[len(em.units)-1]
		parent.identity.adopt(u.identity)
		parent.tracker.adopt(u.tracker)
		em.active = parent
	} else {
		u.wroteOutsideTransaction = false
	}
	em.metrics.RecordUnitCommit()
	log.Debug("unit of work committed", "uow", u.id.String(), "depth", len(em.units))
	return nil
}

// Rollback discards the unit: pending in-memory changes are dropped and, when
// the unit flushed inside a transaction, the database rolls back to its
// savepoint. A unit that wrote outside a transaction cannot roll back and
// fails with TransactionState. Rolling back the root unit resets it to an
// empty base.
func (em *EntityManager) Rollback(ctx context.Context, u *UnitOfWork) error {
	if err := em.requireInnermost(u); err != nil {
		return err
	}
	if u.wroteOutsideTransaction {
		return rop.Error{
			Code: rop.TransactionState,
			Err:  fmt.Errorf("unit of work %s wrote outside a transaction; those writes were autocommitted", u.id.String()),
		}
	}
	if u.savepointCreated {
		if err := em.conn.RollbackToSavepoint(ctx, u.SavepointName()); err != nil {
			return err
		}
		if err := em.conn.ReleaseSavepoint(ctx, u.SavepointName()); err != nil {
			return err
		}
		u.savepointCreated = false
	}
	u.closed = true
	if len(em.units) > 1 {
		em.units = em.units[:len(em.units)-1]
		em.active = em.units[len(em.units)-1]
	} else {
		root := newUnitOfWork(em.provider, nil)
		em.units[0] = root
		em.active = root
	}
	em.metrics.RecordUnitRollback()
	log.Debug("unit of work rolled back", "uow", u.id.String(), "depth", len(em.units))
	return nil
}

func (em *EntityManager) requireInnermost(u *UnitOfWork) error {
	if u == nil || u.closed {
		return rop.Error{
			Code: rop.TransactionState,
			Err:  fmt.Errorf("unit of work is closed"),
		}
	}
	if em.units[len(em.units)-1] != u {
		return rop.Error{
			Code: rop.TransactionState,
			Err:  fmt.Errorf("unit of work %s is not the innermost; commit or roll back nested units first", u.id.String()),
		}
	}
	if em.active != u {
		return rop.Error{
			Code: rop.TransactionState,
			Err:  fmt.Errorf("unit of work %s is not active", u.id.String()),
		}
	}
	return nil
}

package common

import (
	"fmt"

	"github.com/sharedcode/rop"
)

// UnitOfWork is one layer of tracked persistence work: an identity map, the
// tracked entity records, and savepoint bookkeeping. Units stack inside an
// entity manager; a nested unit starts from a copy of its parent's view and
// maps onto a database savepoint, so committing it folds its view into the
// parent while rolling it back discards both the view and the savepoint's
// writes.
//
// A UnitOfWork is created by EntityManager.Open and driven through the
// manager; it carries no database connection of its own.
type UnitOfWork struct {
	id       rop.UUID
	identity *identityMap
	tracker  *entityTracker
	// savepointCreated is set once the first flush with writes runs inside a
	// transaction; the savepoint is created lazily at that point.
	savepointCreated bool
	// wroteOutsideTransaction marks units that flushed without an active
	// transaction. Such writes are autocommitted and cannot be rolled back.
	wroteOutsideTransaction bool
	closed                  bool
}

func newUnitOfWork(provider rop.MetadataProvider, parent *UnitOfWork) *UnitOfWork {
	u := &UnitOfWork{id: rop.NewUUID()}
	if parent == nil {
		u.identity = newIdentityMap()
		u.tracker = newEntityTracker(provider)
		return u
	}
	u.identity = parent.identity.clone()
	u.tracker = parent.tracker.clone()
	return u
}

// ID returns the unit's unique id.
func (u *UnitOfWork) ID() rop.UUID {
	return u.id
}

// SavepointName returns the database savepoint name backing this unit.
func (u *UnitOfWork) SavepointName() string {
	return fmt.Sprintf("uow_%x", u.id[:])
}

// persist schedules the entity and everything reachable from it. New entities
// become managed with a pending insert, removed ones have their deletion
// revoked, managed ones are untouched. The cascade stops at entities that are
// already managed.
func (u *UnitOfWork) persist(provider rop.MetadataProvider, root rop.Entity) error {
	resolver := cascadeResolver{provider: provider}
	return resolver.expand(root, func(entity rop.Entity) (bool, error) {
		rec, ok := u.tracker.record(entity)
		if !ok {
			m, err := provider.Mapping(entity.EntityTypeName())
			if err != nil {
				return false, err
			}
			if !rop.IdentifierIsZero(m.GetID(entity)) {
				return false, rop.Error{
					Code:     rop.EntityNotManaged,
					Err:      fmt.Errorf("cannot persist detached %s(%v); load it through this unit of work instead", m.TypeName, m.GetID(entity)),
					UserData: entity,
				}
			}
			u.tracker.track(entity, rop.StateManaged, insertAction)
			return true, nil
		}
		if rec.state == rop.StateRemoved {
			rec.state = rop.StateManaged
			if rec.snapshot == nil {
				rec.action = insertAction
			} else {
				rec.action = noAction
			}
			return true, nil
		}
		// Already managed: walk associations only when this is the root of
		// the persist call, so new entities hung onto a managed graph are
		// still picked up.
		return entity == root, nil
	})
}

// remove schedules deletion of a managed entity. Removing an entity whose
// insert is still pending cancels the insert and reverts it to new.
func (u *UnitOfWork) remove(entity rop.Entity) error {
	rec, ok := u.tracker.record(entity)
	if !ok {
		return rop.Error{
			Code:     rop.EntityNotManaged,
			Err:      fmt.Errorf("cannot remove %s: not managed by this unit of work", entity.EntityTypeName()),
			UserData: entity,
		}
	}
	if rec.action == insertAction {
		u.tracker.forget(entity)
		return nil
	}
	rec.state = rop.StateRemoved
	rec.action = deleteAction
	return nil
}

// detach drops the entity from tracking and the identity map. Pending work on
// it is discarded; the object itself is left as is.
func (u *UnitOfWork) detach(entity rop.Entity) {
	u.identity.forget(entity)
	u.tracker.forget(entity)
}

// contains reports whether the entity is tracked, managed or removed alike.
func (u *UnitOfWork) contains(entity rop.Entity) bool {
	_, ok := u.tracker.record(entity)
	return ok
}

// managedEntities returns the managed entities in scheduling order. Removed
// entities are excluded.
func (u *UnitOfWork) managedEntities() []rop.Entity {
	var out []rop.Entity
	for _, rec := range u.tracker.all() {
		if rec.state == rop.StateManaged {
			out = append(out, rec.entity)
		}
	}
	return out
}

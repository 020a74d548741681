package common

import (
	"context"
	"fmt"
	log "log/slog"
	"strings"
	"time"

	"github.com/sharedcode/rop"
)

// Flush order within one call:
//  1. Compute change sets and classify the scheduled work.
//  2. Create the unit's savepoint lazily, first write inside a transaction.
//  3. Inserts, topologically ordered so referenced rows exist before their
//     referrers, with nullable foreign keys deferred to break cycles.
//  4. Deferred foreign key updates from step 3.
//  5. Updates for entities whose change set is non-empty.
//  6. Deletes, referrers before referenced rows.
//
// The first failing statement aborts the flush; the caller decides whether to
// roll back the unit or the surrounding transaction.

// deferredReference is a foreign key column left NULL during the insert phase
// to break a reference cycle, patched by an UPDATE once the referenced row
// exists.
type deferredReference struct {
	rec   *trackedEntity
	assoc rop.AssociationMapping
}

// insertEdge records that one pending insert references another, through the
// named association.
type insertEdge struct {
	to    *trackedEntity
	assoc rop.AssociationMapping
}

// Flush synchronizes the active unit of work with the database. Scheduled
// inserts and deletes plus detected updates are written through the
// connection; in-memory state is updated as statements succeed, so entities
// inserted here come out managed with fresh snapshots and registered
// identities.
func (em *EntityManager) Flush(ctx context.Context) error {
	u := em.active
	inserts := u.tracker.scheduled(insertAction)
	deletes := u.tracker.scheduled(deleteAction)
	updates, changes, err := em.pendingUpdates(u)
	if err != nil {
		return err
	}
	if len(inserts) == 0 && len(updates) == 0 && len(deletes) == 0 {
		log.Debug("flush found nothing to write", "uow", u.id.String())
		return nil
	}
	start := time.Now()

	if em.conn.InTransaction() {
		if !u.savepointCreated {
			if err := em.conn.CreateSavepoint(ctx, u.SavepointName()); err != nil {
				return err
			}
			u.savepointCreated = true
		}
	} else {
		u.wroteOutsideTransaction = true
	}

	ordered, deferred, err := orderInserts(em.provider, inserts)
	if err != nil {
		return err
	}
	if err := em.executeInserts(ctx, u, ordered, deferred); err != nil {
		return err
	}
	if err := em.applyDeferredReferences(ctx, deferred); err != nil {
		return err
	}
	if err := em.executeUpdates(ctx, updates, changes); err != nil {
		return err
	}
	if err := em.executeDeletes(ctx, u, deletes); err != nil {
		return err
	}

	stats := rop.FlushStats{
		Inserts:  len(ordered),
		Updates:  len(updates),
		Deletes:  len(deletes),
		Duration: time.Since(start),
	}
	em.metrics.RecordFlush(stats)
	log.Debug("flush complete", "uow", u.id.String(), "inserts", stats.Inserts,
		"updates", stats.Updates, "deletes", stats.Deletes, "duration", stats.Duration.String())
	return nil
}

// pendingUpdates computes change sets for the managed entities that carry no
// scheduled action and returns the dirty ones in scheduling order.
func (em *EntityManager) pendingUpdates(u *UnitOfWork) ([]*trackedEntity, map[*trackedEntity]rop.ChangeSet, error) {
	var out []*trackedEntity
	changes := make(map[*trackedEntity]rop.ChangeSet)
	for _, rec := range u.tracker.all() {
		if rec.state != rop.StateManaged || rec.action != noAction || rec.snapshot == nil {
			continue
		}
		m, err := em.provider.Mapping(rec.entity.EntityTypeName())
		if err != nil {
			return nil, nil, err
		}
		cs, err := computeChangeSet(em.provider, m, rec)
		if err != nil {
			return nil, nil, err
		}
		if len(cs) == 0 {
			continue
		}
		out = append(out, rec)
		changes[rec] = cs
	}
	return out, changes, nil
}

// orderInserts arranges pending inserts so every referenced pending entity
// comes before its referrer, ties resolved by scheduling order. Reference
// cycles are broken at nullable foreign keys, reported back as deferred
// references; a cycle without any nullable edge has no valid order and fails
// with UnresolvableDependencyCycle.
func orderInserts(provider rop.MetadataProvider, pending []*trackedEntity) ([]*trackedEntity, []deferredReference, error) {
	index := make(map[rop.Entity]*trackedEntity, len(pending))
	for _, rec := range pending {
		index[rec.entity] = rec
	}
	edges := make(map[*trackedEntity][]insertEdge)
	for _, rec := range pending {
		m, err := provider.Mapping(rec.entity.EntityTypeName())
		if err != nil {
			return nil, nil, err
		}
		for _, a := range m.OwningToOne() {
			r := a.Get(rec.entity)
			if r == nil {
				continue
			}
			// Only references to other rows of this insert batch constrain
			// the order; everything else already exists.
			target, ok := index[r]
			if !ok {
				continue
			}
			edges[rec] = append(edges[rec], insertEdge{to: target, assoc: a})
		}
	}

	placed := make(map[*trackedEntity]bool, len(pending))
	order := make([]*trackedEntity, 0, len(pending))
	var deferred []deferredReference
	for len(order) < len(pending) {
		progressed := false
		for _, rec := range pending {
			if placed[rec] {
				continue
			}
			ready := true
			for _, e := range edges[rec] {
				if !placed[e.to] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			order = append(order, rec)
			placed[rec] = true
			progressed = true
		}
		if progressed {
			continue
		}
		// Every unplaced record waits on another: a cycle. Defer the first
		// nullable edge in scheduling order and try again.
		broke := false
		for _, rec := range pending {
			if placed[rec] || broke {
				continue
			}
			for i, e := range edges[rec] {
				if placed[e.to] || !e.assoc.Nullable {
					continue
				}
				deferred = append(deferred, deferredReference{rec: rec, assoc: e.assoc})
				edges[rec] = append(edges[rec][:i], edges[rec][i+1:]...)
				broke = true
				break
			}
		}
		if !broke {
			var members []string
			for _, rec := range pending {
				if !placed[rec] {
					members = append(members, rec.entity.EntityTypeName())
				}
			}
			return nil, nil, rop.Error{
				Code:     rop.UnresolvableDependencyCycle,
				Err:      fmt.Errorf("pending writes form a reference cycle with no nullable edge: %s", strings.Join(members, ", ")),
				UserData: members,
			}
		}
	}
	return order, deferred, nil
}

// executeInserts runs the ordered insert statements. Engine assigned
// identifiers are generated here when still unset; store assigned ones are
// read back from the insert. Each inserted entity is registered in the
// identity map and gets its first snapshot.
func (em *EntityManager) executeInserts(ctx context.Context, u *UnitOfWork, order []*trackedEntity, deferred []deferredReference) error {
	skip := make(map[*trackedEntity]map[string]bool, len(deferred))
	for _, d := range deferred {
		if skip[d.rec] == nil {
			skip[d.rec] = make(map[string]bool, 1)
		}
		skip[d.rec][d.assoc.Name] = true
	}
	for _, rec := range order {
		m, err := em.provider.Mapping(rec.entity.EntityTypeName())
		if err != nil {
			return err
		}
		id := m.GetID(rec.entity)
		if m.IDGeneration == rop.PreGenerated && rop.IdentifierIsZero(id) {
			id = rop.NewUUID()
			m.SetID(rec.entity, id)
		}
		params, err := em.insertParams(m, rec, skip[rec])
		if err != nil {
			return err
		}
		stmt := insertStatement(m, m.IDGeneration == rop.PreGenerated)
		if m.IDGeneration == rop.StoreAssigned {
			newID, err := em.conn.Insert(ctx, stmt, m.IDColumn, params...)
			if err != nil {
				return err
			}
			m.SetID(rec.entity, newID)
			id = newID
		} else {
			if _, err := em.conn.Execute(ctx, stmt, params...); err != nil {
				return err
			}
		}
		if err := u.identity.register(m.TypeName, id, rec.entity, false); err != nil {
			return err
		}
		snap, err := takeSnapshot(em.provider, m, rec.entity)
		if err != nil {
			return err
		}
		rec.snapshot = snap
		rec.action = noAction
	}
	return nil
}

// insertParams binds the insert values in the canonical column order of
// insertColumns. Foreign keys named in skip bind as NULL for deferral.
func (em *EntityManager) insertParams(m *rop.EntityMapping, rec *trackedEntity, skip map[string]bool) ([]any, error) {
	var params []any
	if m.IDGeneration == rop.PreGenerated {
		params = append(params, m.IdentifierToColumn(m.GetID(rec.entity)))
	}
	for _, f := range m.Fields {
		v := f.Get(rec.entity)
		if f.Converter != nil {
			var err error
			if v, err = f.Converter.ToColumn(v); err != nil {
				return nil, fmt.Errorf("field %s of %s: %w", f.Name, m.TypeName, err)
			}
		}
		params = append(params, v)
	}
	for _, a := range m.OwningToOne() {
		if skip[a.Name] {
			params = append(params, nil)
			continue
		}
		id, err := resolveReference(em.provider, a, m, rec.entity)
		if err != nil {
			return nil, err
		}
		if id == nil {
			params = append(params, nil)
			continue
		}
		tm, err := em.provider.Mapping(a.Target)
		if err != nil {
			return nil, err
		}
		params = append(params, tm.IdentifierToColumn(id))
	}
	return params, nil
}

// applyDeferredReferences patches the foreign keys left NULL by cycle
// breaking, now that every referenced row exists, and fixes the snapshots to
// match.
func (em *EntityManager) applyDeferredReferences(ctx context.Context, deferred []deferredReference) error {
	for _, d := range deferred {
		m, err := em.provider.Mapping(d.rec.entity.EntityTypeName())
		if err != nil {
			return err
		}
		id, err := resolveReference(em.provider, d.assoc, m, d.rec.entity)
		if err != nil {
			return err
		}
		tm, err := em.provider.Mapping(d.assoc.Target)
		if err != nil {
			return err
		}
		stmt := updateStatement(m, []string{d.assoc.Column})
		if _, err := em.conn.Execute(ctx, stmt, tm.IdentifierToColumn(id), m.IdentifierToColumn(m.GetID(d.rec.entity))); err != nil {
			return err
		}
		d.rec.snapshot[d.assoc.Name] = id
	}
	return nil
}

// executeUpdates writes one UPDATE per dirty entity covering exactly the
// changed columns, then renews the snapshot.
func (em *EntityManager) executeUpdates(ctx context.Context, updates []*trackedEntity, changes map[*trackedEntity]rop.ChangeSet) error {
	for _, rec := range updates {
		m, err := em.provider.Mapping(rec.entity.EntityTypeName())
		if err != nil {
			return err
		}
		cs := changes[rec]
		var cols []string
		var params []any
		for _, f := range m.Fields {
			if _, ok := cs[f.Name]; !ok {
				continue
			}
			v := f.Get(rec.entity)
			if f.Converter != nil {
				if v, err = f.Converter.ToColumn(v); err != nil {
					return fmt.Errorf("field %s of %s: %w", f.Name, m.TypeName, err)
				}
			}
			cols = append(cols, f.Column)
			params = append(params, v)
		}
		for _, a := range m.OwningToOne() {
			if _, ok := cs[a.Name]; !ok {
				continue
			}
			id, err := resolveReference(em.provider, a, m, rec.entity)
			if err != nil {
				return err
			}
			cols = append(cols, a.Column)
			if id == nil {
				params = append(params, nil)
				continue
			}
			tm, err := em.provider.Mapping(a.Target)
			if err != nil {
				return err
			}
			params = append(params, tm.IdentifierToColumn(id))
		}
		params = append(params, m.IdentifierToColumn(m.GetID(rec.entity)))
		n, err := em.conn.Execute(ctx, updateStatement(m, cols), params...)
		if err != nil {
			return err
		}
		if n == 0 {
			log.Warn("update matched no row", "type", m.TypeName, "id", fmt.Sprintf("%v", m.GetID(rec.entity)))
		}
		snap, err := takeSnapshot(em.provider, m, rec.entity)
		if err != nil {
			return err
		}
		rec.snapshot = snap
	}
	return nil
}

// executeDeletes removes the scheduled rows referrers first, the reverse of
// insert ordering. Cycles among the deleted rows are broken by clearing the
// nullable foreign keys up front. Deleted entities leave the identity map and
// the tracker, which detaches them.
func (em *EntityManager) executeDeletes(ctx context.Context, u *UnitOfWork, deletes []*trackedEntity) error {
	ordered, deferred, err := orderInserts(em.provider, deletes)
	if err != nil {
		return err
	}
	for _, d := range deferred {
		m, err := em.provider.Mapping(d.rec.entity.EntityTypeName())
		if err != nil {
			return err
		}
		stmt := updateStatement(m, []string{d.assoc.Column})
		if _, err := em.conn.Execute(ctx, stmt, nil, m.IdentifierToColumn(m.GetID(d.rec.entity))); err != nil {
			return err
		}
	}
	for i := len(ordered) - 1; i >= 0; i-- {
		rec := ordered[i]
		m, err := em.provider.Mapping(rec.entity.EntityTypeName())
		if err != nil {
			return err
		}
		n, err := em.conn.Execute(ctx, deleteStatement(m), m.IdentifierToColumn(m.GetID(rec.entity)))
		if err != nil {
			return err
		}
		if n == 0 {
			log.Warn("delete matched no row", "type", m.TypeName, "id", fmt.Sprintf("%v", m.GetID(rec.entity)))
		}
		u.identity.forget(rec.entity)
		u.tracker.forget(rec.entity)
	}
	return nil
}

package common

import (
	"fmt"

	"github.com/sharedcode/rop"
)

// identityKey addresses one database row in memory: entity type plus identifier.
type identityKey struct {
	typeName string
	id       any
}

// identityMap guarantees at most one in-memory object per database row within
// a unit of work. Lookups by key return the exact object previously
// registered, so object identity (==) doubles as row identity while the unit
// is alive.
type identityMap struct {
	entities map[identityKey]rop.Entity
	// keys is the reverse index, letting detach and delete forget an entity
	// without recomputing its identifier.
	keys map[rop.Entity]identityKey
}

func newIdentityMap() *identityMap {
	return &identityMap{
		entities: make(map[identityKey]rop.Entity, 16),
		keys:     make(map[rop.Entity]identityKey, 16),
	}
}

// register binds an identifier to an entity object. Registering the same
// object again is a no-op. Registering a different object under a key already
// in use fails with DuplicateIdentity, unless replace is set, which evicts the
// old object, e.g. while refreshing.
func (im *identityMap) register(typeName string, id any, entity rop.Entity, replace bool) error {
	key := identityKey{typeName: typeName, id: id}
	existing, ok := im.entities[key]
	if ok && existing != entity {
		if !replace {
			return rop.Error{
				Code:     rop.DuplicateIdentity,
				Err:      fmt.Errorf("identity %s(%v) is already bound to a different object", typeName, id),
				UserData: existing,
			}
		}
		delete(im.keys, existing)
	}
	im.entities[key] = entity
	im.keys[entity] = key
	return nil
}

// lookup returns the registered object for the key, if any.
func (im *identityMap) lookup(typeName string, id any) (rop.Entity, bool) {
	e, ok := im.entities[identityKey{typeName: typeName, id: id}]
	return e, ok
}

// contains reports whether the entity object itself is registered.
func (im *identityMap) contains(entity rop.Entity) bool {
	_, ok := im.keys[entity]
	return ok
}

// forget drops the entity from the map. Unknown entities are ignored.
func (im *identityMap) forget(entity rop.Entity) {
	key, ok := im.keys[entity]
	if !ok {
		return
	}
	delete(im.entities, key)
	delete(im.keys, entity)
}

func (im *identityMap) size() int {
	return len(im.entities)
}

// clone returns an independent copy sharing the entity objects. Nested units
// of work start from a clone of the parent's map.
func (im *identityMap) clone() *identityMap {
	c := &identityMap{
		entities: make(map[identityKey]rop.Entity, len(im.entities)),
		keys:     make(map[rop.Entity]identityKey, len(im.keys)),
	}
	for k, e := range im.entities {
		c.entities[k] = e
	}
	for e, k := range im.keys {
		c.keys[e] = k
	}
	return c
}

// adopt replaces this map's content with the child's view. Used when a nested
// unit commits: the parent continues with everything the child saw.
func (im *identityMap) adopt(child *identityMap) {
	im.entities = child.entities
	im.keys = child.keys
}

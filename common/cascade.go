package common

import "github.com/sharedcode/rop"

// cascadeResolver walks an entity graph depth first so a single persist call
// covers every reachable related entity. A visited set keyed by object
// identity makes the traversal safe on cyclic graphs: each object is visited
// exactly once per expansion regardless of how many paths reach it.
type cascadeResolver struct {
	provider rop.MetadataProvider
}

// expand visits root and every entity reachable from it through to-one and
// to-many associations. The visit callback decides per entity whether the
// traversal descends into its associations; it returns false for entities
// that are already managed, which stops the walk at the boundary of known
// state.
func (c cascadeResolver) expand(root rop.Entity, visit func(entity rop.Entity) (bool, error)) error {
	visited := make(map[rop.Entity]struct{}, 8)
	var walk func(entity rop.Entity) error
	walk = func(entity rop.Entity) error {
		if _, ok := visited[entity]; ok {
			return nil
		}
		visited[entity] = struct{}{}
		descend, err := visit(entity)
		if err != nil {
			return err
		}
		if !descend {
			return nil
		}
		m, err := c.provider.Mapping(entity.EntityTypeName())
		if err != nil {
			return err
		}
		for _, a := range m.Associations {
			if a.ToMany {
				for _, r := range a.GetAll(entity) {
					if err := walk(r); err != nil {
						return err
					}
				}
				continue
			}
			if r := a.Get(entity); r != nil {
				if err := walk(r); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return walk(root)
}

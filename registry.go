package rop

import (
	"fmt"
	"sync"
)

// MappingRegistry is the standard MetadataProvider. Mappings are registered at
// startup and read concurrently afterwards by any number of entity managers.
type MappingRegistry struct {
	mu       sync.RWMutex
	mappings map[string]*EntityMapping
}

var _ MetadataProvider = (*MappingRegistry)(nil)

// NewMappingRegistry returns an empty registry.
func NewMappingRegistry() *MappingRegistry {
	return &MappingRegistry{
		mappings: make(map[string]*EntityMapping),
	}
}

// Register adds an entity mapping after validating its shape. Association
// targets are not resolved here because the target type may not be registered
// yet; call Validate once all types are in.
func (r *MappingRegistry) Register(m EntityMapping) error {
	if err := checkMapping(&m); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mappings[m.TypeName]; ok {
		return fmt.Errorf("entity type %s is already registered", m.TypeName)
	}
	r.mappings[m.TypeName] = &m
	return nil
}

// Mapping returns the metadata for the entity type name.
func (r *MappingRegistry) Mapping(typeName string) (*EntityMapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mappings[typeName]
	if !ok {
		return nil, fmt.Errorf("entity type %s is not registered", typeName)
	}
	return m, nil
}

// Validate cross checks the registered mappings: every association target has
// to resolve to a registered entity type.
func (r *MappingRegistry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.mappings {
		for _, a := range m.Associations {
			if _, ok := r.mappings[a.Target]; !ok {
				return fmt.Errorf("entity type %s association %s targets unregistered type %s", m.TypeName, a.Name, a.Target)
			}
		}
	}
	return nil
}

func checkMapping(m *EntityMapping) error {
	if m.TypeName == "" {
		return fmt.Errorf("mapping is missing a type name")
	}
	if m.Table == "" {
		return fmt.Errorf("mapping %s is missing a table", m.TypeName)
	}
	if m.IDField == "" || m.IDColumn == "" {
		return fmt.Errorf("mapping %s is missing the identifier field or column", m.TypeName)
	}
	if m.GetID == nil || m.SetID == nil {
		return fmt.Errorf("mapping %s is missing identifier accessors", m.TypeName)
	}
	if m.New == nil {
		return fmt.Errorf("mapping %s is missing the New constructor", m.TypeName)
	}
	names := map[string]bool{m.IDField: true}
	columns := map[string]bool{m.IDColumn: true}
	for _, f := range m.Fields {
		if f.Name == "" || f.Column == "" {
			return fmt.Errorf("mapping %s has a field without a name or column", m.TypeName)
		}
		if names[f.Name] {
			return fmt.Errorf("mapping %s declares field %s twice", m.TypeName, f.Name)
		}
		if columns[f.Column] {
			return fmt.Errorf("mapping %s declares column %s twice", m.TypeName, f.Column)
		}
		names[f.Name] = true
		columns[f.Column] = true
		if f.Get == nil || f.Set == nil {
			return fmt.Errorf("mapping %s field %s is missing accessors", m.TypeName, f.Name)
		}
	}
	for _, a := range m.Associations {
		if a.Name == "" || a.Target == "" {
			return fmt.Errorf("mapping %s has an association without a name or target", m.TypeName)
		}
		if names[a.Name] {
			return fmt.Errorf("mapping %s declares field %s twice", m.TypeName, a.Name)
		}
		names[a.Name] = true
		if a.ToMany {
			if a.OwningSide {
				return fmt.Errorf("mapping %s association %s: a to-many side cannot own the foreign key", m.TypeName, a.Name)
			}
			if a.GetAll == nil {
				return fmt.Errorf("mapping %s association %s is missing the GetAll accessor", m.TypeName, a.Name)
			}
			continue
		}
		if a.Get == nil {
			return fmt.Errorf("mapping %s association %s is missing the Get accessor", m.TypeName, a.Name)
		}
		if a.OwningSide {
			if a.Column == "" {
				return fmt.Errorf("mapping %s association %s is missing the foreign key column", m.TypeName, a.Name)
			}
			if columns[a.Column] {
				return fmt.Errorf("mapping %s declares column %s twice", m.TypeName, a.Column)
			}
			columns[a.Column] = true
			if a.Set == nil {
				return fmt.Errorf("mapping %s association %s is missing the Set accessor", m.TypeName, a.Name)
			}
		}
	}
	return nil
}

package common

import (
	"fmt"
	"strings"

	"github.com/sharedcode/rop"
)

// Statement builders emit `?` placeholders. Backends whose driver uses
// positional placeholders of another form, e.g. PostgreSQL's $1, rebind
// before executing.

// insertColumns returns the column list for an insert in canonical order:
// the identifier when the engine supplies it, then scalar fields, then owning
// to-one foreign keys, each in mapping declaration order. Parameter binding
// follows the same order.
func insertColumns(m *rop.EntityMapping, withID bool) []string {
	cols := make([]string, 0, 1+len(m.Fields)+len(m.Associations))
	if withID {
		cols = append(cols, m.IDColumn)
	}
	for _, f := range m.Fields {
		cols = append(cols, f.Column)
	}
	for _, a := range m.OwningToOne() {
		cols = append(cols, a.Column)
	}
	return cols
}

func insertStatement(m *rop.EntityMapping, withID bool) string {
	cols := insertColumns(m, withID)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", m.Table, strings.Join(cols, ", "), placeholders)
}

func updateStatement(m *rop.EntityMapping, setColumns []string) string {
	assignments := make([]string, len(setColumns))
	for i, c := range setColumns {
		assignments[i] = c + " = ?"
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", m.Table, strings.Join(assignments, ", "), m.IDColumn)
}

func deleteStatement(m *rop.EntityMapping) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = ?", m.Table, m.IDColumn)
}

// selectByIDStatement selects the identifier, scalar columns and owning
// to-one foreign keys in the same canonical order populate reads them back.
func selectByIDStatement(m *rop.EntityMapping) string {
	cols := make([]string, 0, 1+len(m.Fields)+len(m.Associations))
	cols = append(cols, m.IDColumn)
	for _, f := range m.Fields {
		cols = append(cols, f.Column)
	}
	for _, a := range m.OwningToOne() {
		cols = append(cols, a.Column)
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", strings.Join(cols, ", "), m.Table, m.IDColumn)
}

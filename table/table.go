// Package table holds table schemas and the append-only builders that render
// buffered rows as delimited text.
package table

import (
	"errors"
	"fmt"

	"github.com/chainexport/csvstore/types"
)

// Column is a named, typed column.
type Column struct {
	Name string
	Type types.Type
}

// Record is one row, keyed by column name. Keys of nullable columns may be
// omitted.
type Record map[string]interface{}

// Table is an immutable schema: a name and an ordered list of columns.
type Table struct {
	name    string
	columns []Column
}

// New validates and builds a table schema.
func New(name string, columns ...Column) (*Table, error) {
	if name == "" {
		return nil, errors.New("table name is empty")
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s has no columns", name)
	}
	seen := make(map[string]bool, len(columns))
	for i, c := range columns {
		if c.Name == "" {
			return nil, fmt.Errorf("table %s: column %d has no name", name, i)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("table %s: duplicate column %s", name, c.Name)
		}
		seen[c.Name] = true
	}
	cols := make([]Column, len(columns))
	copy(cols, columns)
	return &Table{name: name, columns: cols}, nil
}

// MustNew is like New but panics on error. Intended for package level table
// declarations.
func MustNew(name string, columns ...Column) *Table {
	t, err := New(name, columns...)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// Columns returns a copy of the columns in order.
func (t *Table) Columns() []Column {
	cols := make([]Column, len(t.columns))
	copy(cols, t.columns)
	return cols
}

// Column looks up a column by name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func (t *Table) headerRows() [][]string {
	names := make([]string, len(t.columns))
	typeNames := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
		typeNames[i] = c.Type.Name()
	}
	return [][]string{names, typeNames}
}

func (t *Table) fields(r Record) ([]string, error) {
	fields := make([]string, len(t.columns))
	for i, c := range t.columns {
		s, err := c.Type.Serialize(r[c.Name])
		if err != nil {
			return nil, fmt.Errorf("table %s: column %s: %w", t.name, c.Name, err)
		}
		fields[i] = s
	}
	return fields, nil
}

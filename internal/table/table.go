// Package table provides the tabular result produced by log readers:
// string-named columns over rows that are either indexed by a training
// step or unindexed.
package table

import (
	"fmt"
	"sort"
)

// Column is a named column of cells.
type Column struct {
	Name   string
	Kind   Kind
	Values []Value
}

// Table is a set of equally long columns. Indexed tables carry one
// strictly increasing step per row in Index.
//
// Fields are exported so a Table can be gob-encoded across a process
// boundary. Columns are held by pointer: derived tables returned by
// SortColumns share the underlying cell buffers instead of copying them.
type Table struct {
	Indexed bool
	Index   []int64
	Columns []*Column
}

// New returns an empty unindexed table.
func New() *Table {
	return &Table{}
}

// NewIndexed returns an empty step-indexed table.
func NewIndexed() *Table {
	return &Table{Indexed: true}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	if t.Indexed {
		return len(t.Index)
	}
	if len(t.Columns) == 0 {
		return 0
	}
	return len(t.Columns[0].Values)
}

// Empty reports whether the table has no rows.
func (t *Table) Empty() bool {
	return t.Len() == 0
}

// ColumnNames returns column names in table order.
func (t *Table) ColumnNames() []string {
	if t == nil {
		return nil
	}
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the column with the given name.
func (t *Table) Column(name string) (*Column, bool) {
	if t == nil {
		return nil, false
	}
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// AddColumn appends a column. Its length must match the table's row count
// unless the table has no columns yet (unindexed tables).
func (t *Table) AddColumn(c *Column) error {
	if _, exists := t.Column(c.Name); exists {
		return fmt.Errorf("duplicate column %q", c.Name)
	}
	if (t.Indexed || len(t.Columns) > 0) && len(c.Values) != t.Len() {
		return fmt.Errorf("column %q has %d rows, table has %d", c.Name, len(c.Values), t.Len())
	}
	t.Columns = append(t.Columns, c)
	return nil
}

// row returns the row position of step in an indexed table.
func (t *Table) row(step int64) (int, bool) {
	i := sort.Search(len(t.Index), func(i int) bool { return t.Index[i] >= step })
	if i < len(t.Index) && t.Index[i] == step {
		return i, true
	}
	return i, false
}

// Cell returns the value at (tag, step) of an indexed table.
func (t *Table) Cell(tag string, step int64) (Value, bool) {
	if t == nil || !t.Indexed {
		return Value{}, false
	}
	c, ok := t.Column(tag)
	if !ok {
		return Value{}, false
	}
	i, ok := t.row(step)
	if !ok {
		return Value{}, false
	}
	return c.Values[i], true
}

// Row returns the cells of row i in column order.
func (t *Table) Row(i int) []Value {
	out := make([]Value, len(t.Columns))
	for j, c := range t.Columns {
		out[j] = c.Values[i]
	}
	return out
}

// SortColumns returns a table whose columns are ordered lexicographically
// by name. Column buffers are shared with t.
func (t *Table) SortColumns() *Table {
	cols := make([]*Column, len(t.Columns))
	copy(cols, t.Columns)
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })
	return &Table{Indexed: t.Indexed, Index: t.Index, Columns: cols}
}

// FillNA returns a copy of t where missing cells are replaced by the zero
// value of their column's kind.
func (t *Table) FillNA() *Table {
	out := &Table{Indexed: t.Indexed, Index: t.Index, Columns: make([]*Column, len(t.Columns))}
	for i, c := range t.Columns {
		vals := make([]Value, len(c.Values))
		z := zero(c.Kind)
		for j, v := range c.Values {
			if v.IsNull() {
				v = z
			}
			vals[j] = v
		}
		kind := c.Kind
		if kind == KindNull {
			kind = z.Kind
		}
		out.Columns[i] = &Column{Name: c.Name, Kind: kind, Values: vals}
	}
	return out
}

// Tail returns the last n rows of t. Cell buffers are shared.
func (t *Table) Tail(n int) *Table {
	total := t.Len()
	if n < 0 || n >= total {
		return t
	}
	start := total - n
	out := &Table{Indexed: t.Indexed, Columns: make([]*Column, len(t.Columns))}
	if t.Indexed {
		out.Index = t.Index[start:]
	}
	for i, c := range t.Columns {
		out.Columns[i] = &Column{Name: c.Name, Kind: c.Kind, Values: c.Values[start:]}
	}
	return out
}

// Equal reports whether two tables have the same index, column order and
// cells.
func (t *Table) Equal(o *Table) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.Indexed != o.Indexed || t.Len() != o.Len() || len(t.Columns) != len(o.Columns) {
		return false
	}
	for i := range t.Index {
		if t.Index[i] != o.Index[i] {
			return false
		}
	}
	for i, c := range t.Columns {
		oc := o.Columns[i]
		if c.Name != oc.Name || len(c.Values) != len(oc.Values) {
			return false
		}
		for j := range c.Values {
			if c.Values[j] != oc.Values[j] {
				return false
			}
		}
	}
	return true
}

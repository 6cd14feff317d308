package table

import "sort"

// Staging collects (tag, step, value) triples decoded from a batch of
// records before they are merged into an accumulated table. A later Put
// for the same (tag, step) replaces the earlier one.
type Staging struct {
	cells map[string]map[int64]Value
	tags  []string
	steps map[int64]struct{}
}

// NewStaging returns an empty staging area.
func NewStaging() *Staging {
	return &Staging{
		cells: make(map[string]map[int64]Value),
		steps: make(map[int64]struct{}),
	}
}

// Put records a cell.
func (s *Staging) Put(tag string, step int64, v Value) {
	col, ok := s.cells[tag]
	if !ok {
		col = make(map[int64]Value)
		s.cells[tag] = col
		s.tags = append(s.tags, tag)
	}
	col[step] = v
	s.steps[step] = struct{}{}
}

// Len returns the number of distinct steps staged.
func (s *Staging) Len() int {
	return len(s.steps)
}

// Table materializes the staged cells as an indexed table. Columns appear
// in first-seen order; cells never written are null.
func (s *Staging) Table() *Table {
	index := make([]int64, 0, len(s.steps))
	for step := range s.steps {
		index = append(index, step)
	}
	sort.Slice(index, func(i, j int) bool { return index[i] < index[j] })

	t := &Table{Indexed: true, Index: index, Columns: make([]*Column, 0, len(s.tags))}
	for _, tag := range s.tags {
		cells := s.cells[tag]
		vals := make([]Value, len(index))
		kind := KindNull
		for i, step := range index {
			if v, ok := cells[step]; ok {
				vals[i] = v
				if kind == KindNull {
					kind = v.Kind
				}
			}
		}
		t.Columns = append(t.Columns, &Column{Name: tag, Kind: kind, Values: vals})
	}
	return t
}

// Merge combines two indexed tables cell by cell. For every (tag, step)
// where newer holds a non-null value, that value is used; otherwise the
// value from older survives. The result's index is the sorted union of
// both indexes and its columns are older's columns followed by any new
// ones from newer.
//
// Either argument may be nil. When newer contributes no rows older is
// returned unchanged.
func Merge(newer, older *Table) *Table {
	if newer.Empty() {
		if older == nil {
			return NewIndexed()
		}
		return older
	}
	if older.Empty() && len(older.columnsOrNil()) == 0 {
		return newer
	}

	index := unionIndex(older.Index, newer.Index)
	oldPos := positions(index, older.Index)
	newPos := positions(index, newer.Index)

	out := &Table{Indexed: true, Index: index}
	seen := make(map[string]bool, len(older.Columns)+len(newer.Columns))
	names := make([]string, 0, len(older.Columns)+len(newer.Columns))
	for _, c := range older.Columns {
		seen[c.Name] = true
		names = append(names, c.Name)
	}
	for _, c := range newer.Columns {
		if !seen[c.Name] {
			seen[c.Name] = true
			names = append(names, c.Name)
		}
	}

	for _, name := range names {
		vals := make([]Value, len(index))
		kind := KindNull
		if oc, ok := older.Column(name); ok {
			for i, p := range oldPos {
				vals[p] = oc.Values[i]
			}
			kind = oc.Kind
		}
		if nc, ok := newer.Column(name); ok {
			for i, p := range newPos {
				if v := nc.Values[i]; !v.IsNull() {
					vals[p] = v
				}
			}
			if nc.Kind != KindNull {
				kind = nc.Kind
			}
		}
		out.Columns = append(out.Columns, &Column{Name: name, Kind: kind, Values: vals})
	}
	return out
}

func (t *Table) columnsOrNil() []*Column {
	if t == nil {
		return nil
	}
	return t.Columns
}

// unionIndex merges two sorted step slices into a sorted slice without
// duplicates.
func unionIndex(a, b []int64) []int64 {
	out := make([]int64, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i] < b[j]):
			out = append(out, a[i])
			i++
		case i >= len(a) || b[j] < a[i]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// positions maps each step of sub to its row in the sorted superset index.
func positions(index, sub []int64) []int {
	pos := make([]int, len(sub))
	k := 0
	for i, step := range sub {
		for index[k] != step {
			k++
		}
		pos[i] = k
	}
	return pos
}

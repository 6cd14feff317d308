package table

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSortColumns(t *testing.T) {
	s := NewStaging()
	s.Put("z_metric", 1, Float(1))
	s.Put("a_metric", 1, Float(2))
	tbl := s.Table()
	require.Equal(t, []string{"z_metric", "a_metric"}, tbl.ColumnNames())

	sorted := tbl.SortColumns()
	require.Equal(t, []string{"a_metric", "z_metric"}, sorted.ColumnNames())
	// Buffers are shared, not copied.
	require.Same(t, tbl.Columns[1], sorted.Columns[0])
}

func TestFillNA(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.AddColumn(&Column{Name: "a", Kind: KindInt, Values: []Value{Int(1), Null()}}))
	require.NoError(t, tbl.AddColumn(&Column{Name: "b", Kind: KindFloat, Values: []Value{Null(), Float(2.5)}}))
	require.NoError(t, tbl.AddColumn(&Column{Name: "c", Kind: KindNull, Values: []Value{Null(), Null()}}))

	got := tbl.FillNA()
	require.Equal(t, []Value{Int(1), Int(0)}, got.Columns[0].Values)
	require.Equal(t, []Value{Float(0), Float(2.5)}, got.Columns[1].Values)
	require.Equal(t, KindFloat, got.Columns[2].Kind)

	// Original left untouched.
	require.True(t, tbl.Columns[0].Values[1].IsNull())
}

func TestAddColumn_LengthMismatch(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.AddColumn(&Column{Name: "a", Values: []Value{Int(1)}}))
	require.Error(t, tbl.AddColumn(&Column{Name: "b", Values: []Value{Int(1), Int(2)}}))
	require.Error(t, tbl.AddColumn(&Column{Name: "a", Values: []Value{Int(1)}}))
}

func TestTail(t *testing.T) {
	s := NewStaging()
	for i := int64(0); i < 5; i++ {
		s.Put("x", i, Int(i))
	}
	tbl := s.Table()
	tail := tbl.Tail(2)
	require.Equal(t, []int64{3, 4}, tail.Index)
	require.Equal(t, 2, tail.Len())
	require.Same(t, tbl, tbl.Tail(10))
}

func TestGobRoundTripKeepsIndexedFlag(t *testing.T) {
	tbl := NewIndexed()

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(tbl))
	var got Table
	require.NoError(t, gob.NewDecoder(&buf).Decode(&got))
	require.True(t, got.Indexed)
	require.Equal(t, 0, got.Len())
}

func TestValueString(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Null(), "NaN"},
		{Int(-3), "-3"},
		{Float(0.5), "0.5"},
		{Bool(true), "true"},
		{String("hi"), "hi"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.v.String())
	}
}

package table

import (
	"math"
	"strconv"
)

// Kind identifies the type held by a Value or, for a Column, the type its
// non-null cells were inferred as.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return "null"
	}
}

// Value is a single table cell. The zero Value is null.
type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	Bool  bool
	Str   string
}

// Null returns a missing cell.
func Null() Value { return Value{} }

// Int returns an integer cell.
func Int(v int64) Value { return Value{Kind: KindInt, Int: v} }

// Float returns a floating point cell.
func Float(v float64) Value { return Value{Kind: KindFloat, Float: v} }

// Bool returns a boolean cell.
func Bool(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// String returns a string cell.
func String(v string) Value { return Value{Kind: KindString, Str: v} }

// IsNull reports whether the cell is missing.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// AsFloat converts numeric and boolean cells to float64. Strings and nulls
// report false.
func (v Value) AsFloat() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	case KindBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	default:
		return math.NaN(), false
	}
}

// Interface returns the cell as a plain Go value (nil for null).
func (v Value) Interface() any {
	switch v.Kind {
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindBool:
		return v.Bool
	case KindString:
		return v.Str
	default:
		return nil
	}
}

// String formats the cell for display. Nulls render as "NaN".
func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindString:
		return v.Str
	default:
		return "NaN"
	}
}

// zero returns the fill value used for missing cells of kind k.
func zero(k Kind) Value {
	switch k {
	case KindInt:
		return Int(0)
	case KindBool:
		return Bool(false)
	case KindString:
		return String("0")
	default:
		return Float(0)
	}
}

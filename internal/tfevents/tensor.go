package tfevents

import (
	"encoding/binary"
	"maps"
	"math"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"
)

// DataType mirrors tensorflow.DataType for the numeric types a scalar
// summary can carry.
type DataType int32

const (
	DTFloat    DataType = 1
	DTDouble   DataType = 2
	DTInt32    DataType = 3
	DTUint8    DataType = 4
	DTInt16    DataType = 5
	DTInt8     DataType = 6
	DTInt64    DataType = 9
	DTBool     DataType = 10
	DTBfloat16 DataType = 14
	DTUint16   DataType = 17
	DTHalf     DataType = 19
	DTUint32   DataType = 22
	DTUint64   DataType = 23
)

// size returns the element width in bytes, or 0 for unsupported types.
func (d DataType) size() int {
	switch d {
	case DTUint8, DTInt8, DTBool:
		return 1
	case DTInt16, DTUint16, DTHalf, DTBfloat16:
		return 2
	case DTFloat, DTInt32, DTUint32:
		return 4
	case DTDouble, DTInt64, DTUint64:
		return 8
	default:
		return 0
	}
}

// Tensor is the subset of tensorflow.TensorProto needed to read a scalar.
type Tensor struct {
	DType     DataType
	Content   []byte
	FloatVal  []float32
	DoubleVal []float64
	IntVal    []int32
	Int64Val  []int64
	HalfVal   []int32
	BoolVal   []bool
}

const (
	tensorDType     = 1
	tensorContent   = 4
	tensorFloatVal  = 5
	tensorDoubleVal = 6
	tensorIntVal    = 7
	tensorInt64Val  = 10
	tensorBoolVal   = 11
	tensorHalfVal   = 13
)

// Scalar returns the first element of the tensor as float64. The packed
// tensor_content buffer is preferred; typed value fields are the fallback.
func (t *Tensor) Scalar() (float64, bool) {
	if sz := t.DType.size(); sz > 0 && len(t.Content) >= sz {
		return decodeElement(t.DType, t.Content[:sz]), true
	}
	switch {
	case len(t.FloatVal) > 0:
		return float64(t.FloatVal[0]), true
	case len(t.DoubleVal) > 0:
		return t.DoubleVal[0], true
	case len(t.Int64Val) > 0:
		return float64(t.Int64Val[0]), true
	case len(t.IntVal) > 0:
		return float64(t.IntVal[0]), true
	case len(t.HalfVal) > 0:
		if t.DType == DTBfloat16 {
			return float64(bfloat16(uint16(t.HalfVal[0]))), true
		}
		return float64(float16(uint16(t.HalfVal[0]))), true
	case len(t.BoolVal) > 0:
		if t.BoolVal[0] {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func decodeElement(d DataType, b []byte) float64 {
	le := binary.LittleEndian
	switch d {
	case DTFloat:
		return float64(math.Float32frombits(le.Uint32(b)))
	case DTDouble:
		return math.Float64frombits(le.Uint64(b))
	case DTInt32:
		return float64(int32(le.Uint32(b)))
	case DTInt64:
		return float64(int64(le.Uint64(b)))
	case DTUint32:
		return float64(le.Uint32(b))
	case DTUint64:
		return float64(le.Uint64(b))
	case DTInt16:
		return float64(int16(le.Uint16(b)))
	case DTUint16:
		return float64(le.Uint16(b))
	case DTInt8:
		return float64(int8(b[0]))
	case DTUint8:
		return float64(b[0])
	case DTBool:
		if b[0] != 0 {
			return 1
		}
		return 0
	case DTHalf:
		return float64(float16(le.Uint16(b)))
	case DTBfloat16:
		return float64(bfloat16(le.Uint16(b)))
	}
	return math.NaN()
}

// float16 converts IEEE 754 half precision bits to float32.
func float16(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h & 0x3ff)
	switch exp {
	case 0:
		if frac == 0 {
			return math.Float32frombits(sign)
		}
		// Subnormal: value = frac * 2^-24.
		f := float32(frac) / (1 << 24)
		if sign != 0 {
			return -f
		}
		return f
	case 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | frac<<13)
	}
	return math.Float32frombits(sign | (exp+112)<<23 | frac<<13)
}

func bfloat16(h uint16) float32 {
	return math.Float32frombits(uint32(h) << 16)
}

func unmarshalTensor(b []byte) (*Tensor, error) {
	t := &Tensor{}
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case tensorDType:
			if typ == protowire.VarintType {
				x, _ := protowire.ConsumeVarint(v)
				t.DType = DataType(x)
			}
		case tensorContent:
			if typ == protowire.BytesType {
				s, _ := protowire.ConsumeBytes(v)
				t.Content = append([]byte(nil), s...)
			}
		case tensorFloatVal:
			return repeated(typ, v, protowire.Fixed32Type, func(x uint64) {
				t.FloatVal = append(t.FloatVal, math.Float32frombits(uint32(x)))
			})
		case tensorDoubleVal:
			return repeated(typ, v, protowire.Fixed64Type, func(x uint64) {
				t.DoubleVal = append(t.DoubleVal, math.Float64frombits(x))
			})
		case tensorIntVal:
			return repeated(typ, v, protowire.VarintType, func(x uint64) {
				t.IntVal = append(t.IntVal, int32(x))
			})
		case tensorInt64Val:
			return repeated(typ, v, protowire.VarintType, func(x uint64) {
				t.Int64Val = append(t.Int64Val, int64(x))
			})
		case tensorHalfVal:
			return repeated(typ, v, protowire.VarintType, func(x uint64) {
				t.HalfVal = append(t.HalfVal, int32(x))
			})
		case tensorBoolVal:
			return repeated(typ, v, protowire.VarintType, func(x uint64) {
				t.BoolVal = append(t.BoolVal, x != 0)
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// repeated decodes a repeated scalar field in either packed or unpacked
// encoding.
func repeated(typ protowire.Type, v []byte, elem protowire.Type, add func(uint64)) error {
	if typ == elem {
		x, n := consumeScalar(elem, v)
		if n < 0 {
			return protowire.ParseError(n)
		}
		add(x)
		return nil
	}
	if typ != protowire.BytesType {
		return nil
	}
	packed, n := protowire.ConsumeBytes(v)
	if n < 0 {
		return protowire.ParseError(n)
	}
	for len(packed) > 0 {
		x, n := consumeScalar(elem, packed)
		if n < 0 {
			return protowire.ParseError(n)
		}
		add(x)
		packed = packed[n:]
	}
	return nil
}

func consumeScalar(typ protowire.Type, b []byte) (uint64, int) {
	switch typ {
	case protowire.Fixed32Type:
		x, n := protowire.ConsumeFixed32(b)
		return uint64(x), n
	case protowire.Fixed64Type:
		return protowire.ConsumeFixed64(b)
	default:
		return protowire.ConsumeVarint(b)
	}
}

func (t *Tensor) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, tensorDType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.DType))
	if len(t.Content) > 0 {
		b = protowire.AppendTag(b, tensorContent, protowire.BytesType)
		b = protowire.AppendBytes(b, t.Content)
	}
	if len(t.FloatVal) > 0 {
		var packed []byte
		for _, f := range t.FloatVal {
			packed = protowire.AppendFixed32(packed, math.Float32bits(f))
		}
		b = protowire.AppendTag(b, tensorFloatVal, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	if len(t.DoubleVal) > 0 {
		var packed []byte
		for _, f := range t.DoubleVal {
			packed = protowire.AppendFixed64(packed, math.Float64bits(f))
		}
		b = protowire.AppendTag(b, tensorDoubleVal, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	return b
}

// DoubleTensor returns a scalar DT_DOUBLE tensor stored in tensor_content.
func DoubleTensor(v float64) *Tensor {
	return &Tensor{DType: DTDouble, Content: binary.LittleEndian.AppendUint64(nil, math.Float64bits(v))}
}

// FloatValTensor returns a scalar DT_FLOAT tensor stored in float_val, the
// encoding tf.summary.scalar uses for rank-0 tensors.
func FloatValTensor(v float32) *Tensor {
	return &Tensor{DType: DTFloat, FloatVal: []float32{v}}
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
